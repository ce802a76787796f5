// Package relay is the off-chain relayer toolkit: it watches Bitcoin for
// confirmed deposits and checkpoint/recovery broadcasts, feeding the
// Bridge façade's RelayDeposit/RelayCheckpoint entry points the way an
// external relayer process would (the dispatcher and SPV light client are
// the bridge's own collaborators; this package is the thing that actually
// calls them from outside the core).
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCircuitThreshold = 3
	defaultCircuitCooldown  = 30 * time.Second
)

// provider pairs one Esplora-compatible base URL with its own rate limiter
// and circuit breaker.
type provider struct {
	baseURL string
	limiter *rate.Limiter
	breaker *circuitBreaker
}

// Pool round-robins HTTP calls across a fixed set of Esplora-compatible
// providers, skipping any whose circuit breaker has tripped.
type Pool struct {
	client    *http.Client
	providers []*provider
	next      atomic.Int32
}

// NewPool builds a Pool from a set of base URLs, each rate limited to rps
// requests/second.
func NewPool(client *http.Client, urls []string, rps int) *Pool {
	providers := make([]*provider, 0, len(urls))
	for _, u := range urls {
		providers = append(providers, &provider{
			baseURL: u,
			limiter: rate.NewLimiter(rate.Limit(rps), 1),
			breaker: newCircuitBreaker(defaultCircuitThreshold, defaultCircuitCooldown),
		})
	}
	return &Pool{client: client, providers: providers}
}

// permanentError marks a failure that no amount of provider failover can
// fix (a rejected/invalid transaction), distinguishing it from a transient
// provider outage that should fail over to the next endpoint.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops failing over and returns it immediately.
func Permanent(err error) error { return &permanentError{err: err} }

// Do calls attempt against each provider in round-robin order until one
// returns a nil error, a permanentError, or every provider is exhausted.
func (p *Pool) Do(ctx context.Context, attempt func(ctx context.Context, client *http.Client, baseURL string) error) error {
	if len(p.providers) == 0 {
		return ErrAllProvidersDown
	}

	start := int(p.next.Add(1)-1) % len(p.providers)
	var lastErr error

	for i := 0; i < len(p.providers); i++ {
		pr := p.providers[(start+i)%len(p.providers)]

		if !pr.breaker.Allow() {
			continue
		}
		if err := pr.limiter.Wait(ctx); err != nil {
			return err
		}

		err := attempt(ctx, p.client, pr.baseURL)
		if err == nil {
			pr.breaker.RecordSuccess()
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		pr.breaker.RecordFailure()
		lastErr = err
	}

	if lastErr == nil {
		return ErrAllProvidersDown
	}
	return lastErr
}
