// Package handlers implements the bridge façade's HTTP surface: one file
// per concern.
package handlers

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
)

// rawTxHex serializes a fully-signed checkpoint transaction to broadcast
// hex. Returns "" for a transaction that isn't fully signed yet — there's
// nothing a relayer could broadcast.
func rawTxHex(tx *checkpointtx.BitcoinTx) string {
	if !tx.Signed() {
		return ""
	}
	wireTx, err := tx.ApplyWitnesses()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := wireTx.Serialize(&buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf.Bytes())
}

// CheckpointView is the JSON projection of a checkpoint returned to API
// clients: status plus the fields a relayer or dashboard needs, not the
// full internal input/output structure.
type CheckpointView struct {
	Index      uint32 `json:"index"`
	Status     string `json:"status"`
	TxID       string `json:"txid,omitempty"`
	RawTxHex   string `json:"rawTxHex,omitempty"`
	NumInputs  int    `json:"numInputs"`
	NumOutputs int    `json:"numOutputs"`
}

// GetCheckpoint handles GET /api/checkpoints/{index}.
func GetCheckpoint(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := parseIndex(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		cp, err := b.CheckpointByIndex(r.Context(), index)
		if err != nil {
			writeInternalError(w, "failed to fetch checkpoint", err)
			return
		}

		tx := cp.Tx()
		view := CheckpointView{
			Index:      index,
			Status:     cp.Status.String(),
			NumInputs:  len(tx.Inputs),
			NumOutputs: len(tx.Outputs),
		}
		view.TxID = tx.TxID().String()
		if cp.Status == checkpoint.StatusComplete {
			view.RawTxHex = rawTxHex(tx)
		}

		api.WriteData(w, http.StatusOK, view)
	}
}

// GetBuildingIndex handles GET /api/checkpoints/building.
func GetBuildingIndex(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := b.BuildingIndex(r.Context())
		if err != nil {
			writeInternalError(w, "failed to fetch building index", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]uint32{"index": idx})
	}
}

// GetConfirmedIndex handles GET /api/checkpoints/confirmed.
func GetConfirmedIndex(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := b.ConfirmedIndex(r.Context())
		if err != nil {
			writeInternalError(w, "failed to fetch confirmed index", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]*uint32{"index": idx})
	}
}

// ListCompletedCheckpoints handles GET /api/checkpoints/completed?limit=N.
func ListCompletedCheckpoints(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}

		txs, err := b.CompletedCheckpointTxs(r.Context(), limit)
		if err != nil {
			writeInternalError(w, "failed to fetch completed checkpoints", err)
			return
		}

		views := make([]map[string]interface{}, 0, len(txs))
		for _, tx := range txs {
			views = append(views, map[string]interface{}{
				"txid":       tx.TxID().String(),
				"rawTxHex":   rawTxHex(tx),
				"numInputs":  len(tx.Inputs),
				"numOutputs": len(tx.Outputs),
			})
		}
		api.WriteData(w, http.StatusOK, views)
	}
}

// GetValueLocked handles GET /api/value-locked.
func GetValueLocked(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sats, err := b.ValueLocked(r.Context())
		if err != nil {
			writeInternalError(w, "failed to compute value locked", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]uint64{"sats": sats})
	}
}

// GetChangeRates handles GET /api/change-rates?interval=N.
func GetChangeRates(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("interval")
		if q == "" {
			writeBadRequest(w, "interval query parameter (seconds) is required")
			return
		}
		interval, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid interval: "+err.Error())
			return
		}

		rates, err := b.ChangeRates(r.Context(), interval)
		if err != nil {
			writeInternalError(w, "failed to compute change rates", err)
			return
		}
		api.WriteData(w, http.StatusOK, rates)
	}
}

func parseIndex(r *http.Request) (uint32, error) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(idx), nil
}
