package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

// Event is a server-sent event broadcast to connected API clients.
type Event struct {
	Type string      `json:"type"` // "checkpoint_advanced", "signature_received", "checkpoint_confirmed"
	Data interface{} `json:"data"`
}

// CheckpointAdvancedData is the payload for checkpoint_advanced events,
// emitted whenever a Building checkpoint advances into Signing.
type CheckpointAdvancedData struct {
	Index     uint32 `json:"index"`
	TxID      string `json:"txid"`
	FeeRate   uint64 `json:"feeRate"`
	NumInputs int    `json:"numInputs"`
}

// SignatureReceivedData is the payload for signature_received events.
type SignatureReceivedData struct {
	Index        uint32 `json:"index"`
	ConsensusKey string `json:"consensusKey"`
	Done         bool   `json:"done"`
}

// CheckpointConfirmedData is the payload for checkpoint_confirmed events,
// emitted once RelayCheckpoint verifies a checkpoint transaction's SPV
// inclusion proof.
type CheckpointConfirmedData struct {
	Index     uint32 `json:"index"`
	BtcHeight uint32 `json:"btcHeight"`
}

// ProgressHub fans out checkpoint lifecycle events to connected SSE
// clients.
type ProgressHub struct {
	clients map[chan Event]struct{}
	mu      sync.RWMutex
}

// NewProgressHub creates an empty event hub.
func NewProgressHub() *ProgressHub {
	slog.Info("progress hub created")
	return &ProgressHub{clients: make(map[chan Event]struct{})}
}

// Run blocks until ctx is cancelled, then closes every subscriber channel.
func (h *ProgressHub) Run(ctx context.Context) {
	slog.Info("progress hub running")
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
	slog.Info("progress hub stopped", "reason", ctx.Err())
}

// Subscribe registers a new client and returns its event channel.
func (h *ProgressHub) Subscribe() chan Event {
	ch := make(chan Event, config.SSEHubChannelBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("SSE client subscribed", "totalClients", n)
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *ProgressHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("SSE client unsubscribed", "totalClients", n)
}

// Broadcast fans an event out to every connected client, dropping it for
// any client whose channel is full rather than blocking.
func (h *ProgressHub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE event dropped for slow client", "eventType", event.Type)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
