package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/config"
)

// ProgressSSE handles GET /api/events — a Server-Sent Events stream of
// checkpoint lifecycle events (checkpoint_advanced, signature_received,
// checkpoint_confirmed) for relayers and dashboards that'd rather not poll.
func ProgressSSE(hub *api.ProgressHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeBadRequest(w, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		slog.Info("sse client connected", "remoteAddr", r.RemoteAddr, "totalClients", hub.ClientCount())
		defer slog.Info("sse client disconnected", "remoteAddr", r.RemoteAddr)

		keepAlive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(event.Data)
				if err != nil {
					slog.Error("failed to marshal sse event data", "type", event.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
				flusher.Flush()

			case <-keepAlive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
