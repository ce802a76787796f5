package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// SigningTxs handles GET /api/checkpoints/{index}/to-sign?xpub=...: a
// validator's signer polls this to learn which sighashes it still needs
// to sign for the given checkpoint.
func SigningTxs(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := parseIndex(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		xpub, err := signatory.ParseXpub(r.URL.Query().Get("xpub"))
		if err != nil {
			writeBadRequest(w, "invalid xpub: "+err.Error())
			return
		}

		toSign, err := b.SigningTxsAtCheckpointIndex(r.Context(), xpub, index)
		if err != nil {
			writeInternalError(w, "failed to compute signing work", err)
			return
		}
		api.WriteData(w, http.StatusOK, toSign)
	}
}

// SubmitCheckpointSignatureBody is the JSON request body for
// POST /api/checkpoints/{index}/sign.
type SubmitCheckpointSignatureBody struct {
	Xpub      string          `json:"xpub"`
	Sigs      []threshold.Sig `json:"sigs"`
	BtcHeight uint32          `json:"btcHeight"`
}

// SubmitCheckpointSignature handles POST /api/checkpoints/{index}/sign,
// and broadcasts a signature_received event once applied.
func SubmitCheckpointSignature(b *bridge.Bitcoin, hub *api.ProgressHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := parseIndex(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		var body SubmitCheckpointSignatureBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		xpub, err := signatory.ParseXpub(body.Xpub)
		if err != nil {
			writeBadRequest(w, "invalid xpub: "+err.Error())
			return
		}

		if err := b.SubmitCheckpointSignature(r.Context(), xpub, body.Sigs, index, body.BtcHeight); err != nil {
			writeBadRequest(w, "signature rejected: "+err.Error())
			return
		}

		cp, err := b.CheckpointByIndex(r.Context(), index)
		done := err == nil && cp.Signed()
		hub.Broadcast(api.Event{
			Type: "signature_received",
			Data: api.SignatureReceivedData{Index: index, ConsensusKey: body.Xpub, Done: done},
		})

		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true, "done": done})
	}
}

// SubmitRecoverySignatureBody is the JSON request body for
// POST /api/recovery/sign.
type SubmitRecoverySignatureBody struct {
	Xpub string          `json:"xpub"`
	Sigs []threshold.Sig `json:"sigs"`
}

// SubmitRecoverySignature handles POST /api/recovery/sign.
func SubmitRecoverySignature(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SubmitRecoverySignatureBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		xpub, err := signatory.ParseXpub(body.Xpub)
		if err != nil {
			writeBadRequest(w, "invalid xpub: "+err.Error())
			return
		}

		if err := b.SubmitRecoverySignature(r.Context(), xpub, body.Sigs); err != nil {
			writeBadRequest(w, "signature rejected: "+err.Error())
			return
		}

		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// ListSignedRecoveryTxs handles GET /api/recovery/signed.
func ListSignedRecoveryTxs(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txs, err := b.SignedRecoveryTxs(r.Context())
		if err != nil {
			writeInternalError(w, "failed to list signed recovery txs", err)
			return
		}

		views := make([]map[string]interface{}, 0, len(txs))
		for _, tx := range txs {
			views = append(views, map[string]interface{}{
				"txid":       tx.TxID().String(),
				"numInputs":  len(tx.Inputs),
				"numOutputs": len(tx.Outputs),
			})
		}
		api.WriteData(w, http.StatusOK, views)
	}
}
