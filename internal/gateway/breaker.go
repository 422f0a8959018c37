package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var ErrCircuitOpen = errors.New("payment gateway circuit breaker is open")

// CircuitBreaker stops calling a failing gateway for resetTimeout after maxFailures
// consecutive failures, then lets a single probe through.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	isFailure    func(error) bool
	now          func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, isFailure func(error) bool) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		isFailure:    isFailure,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn unless the circuit is open. The lock is not held while fn runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}
	if err != nil && cb.isFailure(err) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}
	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
