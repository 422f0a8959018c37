package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("connection refused")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(maxFailures, reset, nil)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state after 2 failures = %s", cb.State())
	}
	// a success in between resets the count
	_ = cb.Execute(ctx, ok)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail)
	}
	if cb.State() != StateClosed {
		t.Fatalf("failures are counted consecutively, state = %s", cb.State())
	}
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker let a call through: %v", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	*now = now.Add(31 * time.Second)

	// only one probe at a time
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state after good probe = %s", cb.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(2, 10*time.Second)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	*now = now.Add(11 * time.Second)

	if err := cb.Execute(ctx, fail); !errors.Is(err, errDown) {
		t.Fatalf("probe = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("reopened breaker = %v", err)
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, tripsBreaker)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return &APIError{StatusCode: 400} })
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	if cb.State() != StateClosed {
		t.Fatalf("client errors opened the breaker")
	}
	_ = cb.Execute(ctx, func(context.Context) error { return &APIError{StatusCode: 503} })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s after 503", cb.State())
	}
}
