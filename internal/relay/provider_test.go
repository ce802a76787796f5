package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPool_RoundRobin(t *testing.T) {
	var calls1, calls2 int
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls1++ }))
	defer server1.Close()
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls2++ }))
	defer server2.Close()

	pool := NewPool(http.DefaultClient, []string{server1.URL, server2.URL}, 100)

	for i := 0; i < 4; i++ {
		err := pool.Do(context.Background(), func(ctx context.Context, client *http.Client, baseURL string) error {
			resp, err := client.Get(baseURL)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return nil
		})
		if err != nil {
			t.Fatalf("Do() call %d error = %v", i, err)
		}
	}

	if calls1 != 2 || calls2 != 2 {
		t.Errorf("expected 2 calls each, got server1=%d server2=%d", calls1, calls2)
	}
}

func TestPool_FailsOverOnTransientError(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	pool := NewPool(http.DefaultClient, []string{bad.URL, good.URL}, 100)

	var sawGood bool
	err := pool.Do(context.Background(), func(ctx context.Context, client *http.Client, baseURL string) error {
		resp, err := client.Get(baseURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return ErrBadTransaction
		}
		sawGood = baseURL == good.URL
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !sawGood {
		t.Error("expected Do to fail over to the working provider")
	}
}

func TestPool_PermanentErrorStopsFailover(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer server.Close()

	pool := NewPool(http.DefaultClient, []string{server.URL, server.URL}, 100)

	err := pool.Do(context.Background(), func(ctx context.Context, client *http.Client, baseURL string) error {
		return Permanent(ErrBadTransaction)
	})
	if err != ErrBadTransaction {
		t.Fatalf("Do() error = %v, want ErrBadTransaction", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent error, got %d", calls)
	}
}

func TestPool_AllProvidersDown(t *testing.T) {
	bad1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad1.Close()
	bad2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad2.Close()

	pool := NewPool(http.DefaultClient, []string{bad1.URL, bad2.URL}, 100)

	err := pool.Do(context.Background(), func(ctx context.Context, client *http.Client, baseURL string) error {
		resp, err := client.Get(baseURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return ErrBadTransaction
	})
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestPool_NoProviders(t *testing.T) {
	pool := NewPool(http.DefaultClient, nil, 100)
	err := pool.Do(context.Background(), func(ctx context.Context, client *http.Client, baseURL string) error {
		return nil
	})
	if err != ErrAllProvidersDown {
		t.Fatalf("Do() error = %v, want ErrAllProvidersDown", err)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(2, 0)
	if !cb.Allow() {
		t.Fatal("expected breaker to start closed")
	}
	cb.RecordFailure()
	if !cb.Allow() {
		t.Fatal("expected breaker to stay closed below threshold")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("expected breaker to open at threshold")
	}
}

func TestCircuitBreaker_RecoversAfterSuccess(t *testing.T) {
	cb := newCircuitBreaker(1, 0)
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("expected breaker open after one failure at threshold 1")
	}
	// cooldown is zero, so the next Allow() transitions to half-open.
	if !cb.Allow() {
		t.Fatal("expected breaker half-open after cooldown elapses")
	}
	cb.RecordSuccess()
	if !cb.Allow() {
		t.Fatal("expected breaker closed after success")
	}
}
