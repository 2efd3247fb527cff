package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(time.Minute),
		WithBreakerClock(func() time.Time { return now }),
	)

	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after 1 failure = %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state after 2 failures = %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	now = now.Add(time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state after reset timeout = %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after half-open success = %v", cb.State())
	}
}

func TestWithCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	calls := 0
	h := WithCircuitBreaker(cb, "extract")(func(ctx context.Context, p []byte) ([]byte, error) {
		calls++
		return nil, errors.New("upstream 503")
	})

	h(context.Background(), nil)
	_, err := h(context.Background(), nil)

	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Service != "extract" {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}
}

func TestWithTimeout_ReturnsCallTimeout(t *testing.T) {
	h := WithTimeout("scrape", 10*time.Millisecond)(func(ctx context.Context, p []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := h(context.Background(), nil)

	var to *ErrCallTimeout
	if !errors.As(err, &to) || to.Service != "scrape" {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}
}
