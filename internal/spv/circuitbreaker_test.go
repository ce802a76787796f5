package spv

import (
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedAllowsRequests(t *testing.T) {
	cb := newCircuitBreaker(3, 100*time.Millisecond)

	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("expected Allow() = true in closed state, iteration %d", i)
		}
	}
	if cb.state != circuitClosed {
		t.Errorf("expected closed, got %v", cb.state)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.state != circuitClosed {
		t.Errorf("expected closed after 2 failures, got %v", cb.state)
	}

	cb.RecordFailure()
	if cb.state != circuitOpen {
		t.Errorf("expected open after 3 failures, got %v", cb.state)
	}
}

func TestCircuitBreaker_OpenBlocksRequests(t *testing.T) {
	cb := newCircuitBreaker(1, time.Hour)

	cb.RecordFailure()
	if cb.Allow() {
		t.Error("expected Allow() = false when circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Error("expected Allow() = true after cooldown (half-open)")
	}
	if cb.state != circuitHalfOpen {
		t.Errorf("expected half-open, got %v", cb.state)
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := newCircuitBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()

	if cb.state != circuitClosed {
		t.Errorf("expected closed after half-open success, got %v", cb.state)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.state != circuitOpen {
		t.Errorf("expected open after half-open failure, got %v", cb.state)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := newCircuitBreaker(100, 50*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cb.Allow()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cb.RecordSuccess()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cb.RecordFailure()
		}
	}()
	wg.Wait()
}
