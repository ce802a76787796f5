package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
)

func decodeConsensusKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return key, ErrInvalidConsensusKey
	}
	copy(key[:], raw)
	return key, nil
}

// SetWhitelistValidatorBody is the JSON request body for
// POST /api/admin/validators/whitelist.
type SetWhitelistValidatorBody struct {
	ConsensusKey string `json:"consensusKey"`
	Whitelisted  bool   `json:"whitelisted"`
}

// SetWhitelistValidator handles POST /api/admin/validators/whitelist.
func SetWhitelistValidator(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SetWhitelistValidatorBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
		key, err := decodeConsensusKey(body.ConsensusKey)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if err := b.SetWhitelistValidator(r.Context(), key, body.Whitelisted); err != nil {
			writeInternalError(w, "failed to update whitelist", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// PunishValidatorBody is the JSON request body for POST /api/admin/validators/punish.
type PunishValidatorBody struct {
	ConsensusKey string `json:"consensusKey"`
	Punished     bool   `json:"punished"`
}

// PunishValidator handles POST /api/admin/validators/punish.
func PunishValidator(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body PunishValidatorBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
		key, err := decodeConsensusKey(body.ConsensusKey)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if err := b.PunishValidator(r.Context(), key, body.Punished); err != nil {
			writeInternalError(w, "failed to update punished status", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// SetSignatoryKeyBody is the JSON request body for POST /api/signatory-key.
type SetSignatoryKeyBody struct {
	ConsensusKey string `json:"consensusKey"`
	Xpub         string `json:"xpub"`
}

// SetSignatoryKey handles POST /api/signatory-key.
func SetSignatoryKey(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SetSignatoryKeyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
		key, err := decodeConsensusKey(body.ConsensusKey)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		xpub, err := signatory.ParseXpub(body.Xpub)
		if err != nil {
			writeBadRequest(w, "invalid xpub: "+err.Error())
			return
		}
		if err := b.SetSignatoryKey(r.Context(), key, xpub); err != nil {
			writeBadRequest(w, "signatory key rejected: "+err.Error())
			return
		}
		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// UpdateCheckpointConfigBody mirrors bridge.CheckpointConfigUpdate's
// settable fields over JSON; nil/omitted fields leave the current value
// untouched. Durations are expressed in seconds.
type UpdateCheckpointConfigBody struct {
	MinCheckpointIntervalSecs *int64  `json:"minCheckpointIntervalSecs"`
	MaxCheckpointIntervalSecs *int64  `json:"maxCheckpointIntervalSecs"`
	MinFeeRate                *uint64 `json:"minFeeRate"`
	MaxFeeRate                *uint64 `json:"maxFeeRate"`
	MaxInputs                 *int    `json:"maxInputs"`
	MaxOutputs                *int    `json:"maxOutputs"`
}

// UpdateCheckpointConfig handles PUT /api/admin/config/checkpoint.
func UpdateCheckpointConfig(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body UpdateCheckpointConfigBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		update := bridge.CheckpointConfigUpdate{
			MinFeeRate: body.MinFeeRate,
			MaxFeeRate: body.MaxFeeRate,
			MaxInputs:  body.MaxInputs,
			MaxOutputs: body.MaxOutputs,
		}
		if body.MinCheckpointIntervalSecs != nil {
			d := secsToDuration(*body.MinCheckpointIntervalSecs)
			update.MinCheckpointInterval = &d
		}
		if body.MaxCheckpointIntervalSecs != nil {
			d := secsToDuration(*body.MaxCheckpointIntervalSecs)
			update.MaxCheckpointInterval = &d
		}

		b.UpdateCheckpointConfig(r.Context(), update)
		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// UpdateBitcoinConfigBody mirrors bridge.BitcoinConfigUpdate's settable
// fields over JSON.
type UpdateBitcoinConfigBody struct {
	MinConfirmations           *uint32 `json:"minConfirmations"`
	MinCheckpointConfirmations *uint32 `json:"minCheckpointConfirmations"`
	CapacityLimitSats          *uint64 `json:"capacityLimitSats"`
	MaxWithdrawalScriptLen     *int    `json:"maxWithdrawalScriptLen"`
}

// UpdateBitcoinConfig handles PUT /api/admin/config/bitcoin.
func UpdateBitcoinConfig(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body UpdateBitcoinConfigBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		b.UpdateBitcoinConfig(r.Context(), bridge.BitcoinConfigUpdate{
			MinConfirmations:           body.MinConfirmations,
			MinCheckpointConfirmations: body.MinCheckpointConfirmations,
			CapacityLimitSats:          body.CapacityLimitSats,
			MaxWithdrawalScriptLen:     body.MaxWithdrawalScriptLen,
		})
		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}
