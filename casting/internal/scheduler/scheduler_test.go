package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_ImmediateThenTicks(t *testing.T) {
	// WHAT: The first run happens at start, then once per interval.
	// WHY: serve mode must not wait a full interval after a restart.
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(func(ctx context.Context) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	}, Config{Interval: 10 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want >= 3", calls.Load())
	}
}

func TestRun_SkipInitial(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s := New(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, Config{Interval: time.Hour, SkipInitial: true}, nil)

	s.Run(ctx)
	if calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", calls.Load())
	}
}

func TestRun_ErrorDoesNotStop(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return errors.New("missing credentials")
	}, Config{Interval: 5 * time.Millisecond}, nil)

	s.Run(ctx)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestConfigDefaults(t *testing.T) {
	s := New(func(context.Context) error { return nil }, Config{}, nil)
	if s.config.Interval != time.Hour {
		t.Fatalf("interval = %v", s.config.Interval)
	}
}
