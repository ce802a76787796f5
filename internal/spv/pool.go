package spv

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Pool round-robins across multiple Esplora-compatible Clients: a
// call against an endpoint whose circuit breaker has tripped is skipped
// without waiting on it, and a live call that errors moves on to the next
// endpoint rather than failing the whole request.
type Pool struct {
	clients []*Client
	current atomic.Int32
}

// NewPool binds a Pool to a fixed set of Esplora endpoints.
func NewPool(clients ...*Client) *Pool {
	return &Pool{clients: clients}
}

func (p *Pool) nextIndex() int {
	idx := p.current.Add(1)
	return int(idx-1) % len(p.clients)
}

// HeaderHeight returns the first successful endpoint's answer.
func (p *Pool) HeaderHeight(ctx context.Context) (uint32, error) {
	start := p.nextIndex()
	var lastErr error
	for i := 0; i < len(p.clients); i++ {
		c := p.clients[(start+i)%len(p.clients)]
		height, err := c.HeaderHeight(ctx)
		if err == nil {
			return height, nil
		}
		lastErr = err
		slog.Warn("esplora header height failed, trying next endpoint", "error", err)
	}
	return 0, joinPoolError(lastErr)
}

// Network returns the first successful endpoint's answer.
func (p *Pool) Network(ctx context.Context) (string, error) {
	start := p.nextIndex()
	var lastErr error
	for i := 0; i < len(p.clients); i++ {
		c := p.clients[(start+i)%len(p.clients)]
		network, err := c.Network(ctx)
		if err == nil {
			return network, nil
		}
		lastErr = err
	}
	return "", joinPoolError(lastErr)
}

// VerifyTxWithProof tries each endpoint in turn until one confirms the
// proof, so that a single unhealthy explorer cannot block a valid deposit
// or checkpoint relay.
func (p *Pool) VerifyTxWithProof(ctx context.Context, btcTx []byte, btcHeight uint32, proof []byte) error {
	start := p.nextIndex()
	var lastErr error
	for i := 0; i < len(p.clients); i++ {
		c := p.clients[(start+i)%len(p.clients)]
		err := c.VerifyTxWithProof(ctx, btcTx, btcHeight, proof)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMerkleProofInvalid) {
			return err
		}
		lastErr = err
		slog.Warn("esplora proof verification failed, trying next endpoint", "error", err)
	}
	return joinPoolError(lastErr)
}

func joinPoolError(lastErr error) error {
	if lastErr == nil {
		return ErrAllProvidersDown
	}
	return lastErr
}
