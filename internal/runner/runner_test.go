package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func TestRunner_Run_TriggersRunOnceOnTicks(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 3)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	if !waitForCalls(runCalls, 3, time.Second) {
		t.Fatalf("expected initial run plus two ticks")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_StopsOnContextCancel(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error { return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_RejectsZeroPollInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
}

func TestRunner_Run_ImmediateFirstRun(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// Should receive immediate first run without any tick
	if !waitForCalls(runCalls, 1, time.Second) {
		t.Fatalf("expected immediate first run")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func TestRunner_Run_BacksOffAfterFailedCycle(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time)}
	runCalls := make(chan struct{}, 4)

	var mu sync.Mutex
	var waits []time.Duration
	failures := 4

	r := New(zerolog.Nop(), time.Minute,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithFailureBackoff(30*time.Second),
		WithWaitFunc(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			waits = append(waits, d)
			mu.Unlock()
			return nil
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return errors.New("health check fan-out failed")
			}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	if !waitForCalls(runCalls, 5, time.Second) {
		t.Fatalf("expected four failed attempts and one success")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(waits) != 4 {
		t.Fatalf("expected 4 waits, got %v", waits)
	}
	for i, d := range waits {
		if d != 30*time.Second {
			t.Fatalf("wait %d = %s, want a fixed 30s: %v", i, d, waits)
		}
	}
}

func TestRunner_Run_StopsBackoffOnCancel(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time)}

	r := New(zerolog.Nop(), time.Minute,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithFailureBackoff(time.Hour),
		WithRunOnce(func(context.Context) error {
			return errors.New("always fails")
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop while backing off")
	}
}

func TestRunner_RunOnce_DetachesCancellation(t *testing.T) {
	var sawErr error
	r := New(zerolog.Nop(), time.Second,
		WithRunOnce(func(ctx context.Context) error {
			sawErr = ctx.Err()
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawErr != nil {
		t.Fatalf("expected cycle context to ignore cancellation, got %v", sawErr)
	}
}

func TestRunner_RunOnce_WrapsCycleError(t *testing.T) {
	cause := errors.New("state save failed")
	r := New(zerolog.Nop(), time.Second,
		WithRunOnce(func(context.Context) error { return cause }),
	)

	err := r.RunOnce(context.Background())

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %T", err)
	}
	if cycleErr.Started.IsZero() || !errors.Is(err, cause) {
		t.Fatalf("unexpected cycle error: %v", err)
	}
	if !strings.Contains(err.Error(), "state save failed") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}
}

func TestRunner_RunOnce_NilOnSuccess(t *testing.T) {
	r := New(zerolog.Nop(), time.Second,
		WithRunOnce(func(context.Context) error { return nil }),
	)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}
