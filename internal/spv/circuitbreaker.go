package spv

import (
	"sync"
	"time"
)

// circuitState enumerates the breaker's states, kept as a single-field
// const block rather than shared config constants since this package has
// no other consumer of them.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker guards one Esplora endpoint against cascading failures:
// closed passes every call, a run of consecutiveFails trips it
// open, and after cooldown a single half-open probe decides whether to
// close again or re-open.
type circuitBreaker struct {
	mu              sync.Mutex
	state           circuitState
	consecutiveFails int
	threshold       int
	cooldown        time.Duration
	lastFailure     time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{state: circuitClosed, threshold: threshold, cooldown: cooldown}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.state = circuitOpen
	}
}
