package handlers

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
)

// RelayCheckpointBody is the JSON request body for POST /api/checkpoints/relay.
type RelayCheckpointBody struct {
	BtcHeight uint32 `json:"btcHeight"`
	BtcProof  string `json:"btcProof"`
	Index     uint32 `json:"index"`
}

// RelayCheckpoint handles POST /api/checkpoints/relay, and
// broadcasts a checkpoint_confirmed event on success so dashboards don't
// need to poll.
func RelayCheckpoint(b *bridge.Bitcoin, hub *api.ProgressHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body RelayCheckpointBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}

		proof, err := hex.DecodeString(body.BtcProof)
		if err != nil {
			writeBadRequest(w, "invalid btcProof: "+err.Error())
			return
		}

		if err := b.RelayCheckpoint(r.Context(), body.BtcHeight, proof, body.Index); err != nil {
			writeBadRequest(w, "checkpoint relay rejected: "+err.Error())
			return
		}

		hub.Broadcast(api.Event{
			Type: "checkpoint_confirmed",
			Data: api.CheckpointConfirmedData{Index: body.Index, BtcHeight: body.BtcHeight},
		})

		api.WriteData(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// TakePending handles POST /api/checkpoints/take-pending: it drains
// confirmed checkpoints' pending credits and returns them to the caller
// (cmd/relayer polls it); the handler itself mints nothing.
func TakePending(b *bridge.Bitcoin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toMint, preview, err := b.TakePending(r.Context())
		if err != nil {
			writeInternalError(w, "failed to take pending credits", err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]interface{}{
			"toMint":  toMint,
			"preview": preview,
		})
	}
}
