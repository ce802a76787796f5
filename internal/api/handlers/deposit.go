package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
)

// RelayDepositBody is the JSON request body for POST /api/deposits/relay.
type RelayDepositBody struct {
	BtcTxHex    string          `json:"btcTxHex"`
	BtcHeight   uint32          `json:"btcHeight"`
	BtcProof    string          `json:"btcProof"`
	Vout        uint32          `json:"vout"`
	SigsetIndex uint32          `json:"sigsetIndex"`
	Dest        checkpoint.Dest `json:"dest"`
}

// RelayDeposit handles POST /api/deposits/relay, the relayer-facing entry
// point for crediting a confirmed Bitcoin deposit.
func RelayDeposit(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body RelayDepositBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		rawTx, err := hex.DecodeString(body.BtcTxHex)
		if err != nil {
			writeBadRequest(w, "invalid btcTxHex: "+err.Error())
			return
		}
		proof, err := hex.DecodeString(body.BtcProof)
		if err != nil {
			writeBadRequest(w, "invalid btcProof: "+err.Error())
			return
		}

		req := bridge.RelayDepositRequest{
			BtcTx:       rawTx,
			BtcHeight:   body.BtcHeight,
			BtcProof:    proof,
			Vout:        body.Vout,
			SigsetIndex: body.SigsetIndex,
			Dest:        body.Dest,
			Now:         uint64(time.Now().Unix()),
		}

		if err := b.RelayDeposit(r.Context(), req); err != nil {
			writeBadRequest(w, "deposit rejected: "+err.Error())
			return
		}

		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// WithdrawToBitcoinBody is the JSON request body for POST /api/withdraw.
type WithdrawToBitcoinBody struct {
	ScriptPubkeyHex string `json:"scriptPubkeyHex"`
	BurnedAmount    uint64 `json:"burnedAmount"`
}

// WithdrawToBitcoin handles POST /api/withdraw.
func WithdrawToBitcoin(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body WithdrawToBitcoinBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		scriptPubkey, err := hex.DecodeString(body.ScriptPubkeyHex)
		if err != nil {
			writeBadRequest(w, "invalid scriptPubkeyHex: "+err.Error())
			return
		}

		if err := b.WithdrawToBitcoin(r.Context(), scriptPubkey, body.BurnedAmount); err != nil {
			writeBadRequest(w, "withdrawal rejected: "+err.Error())
			return
		}

		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}
