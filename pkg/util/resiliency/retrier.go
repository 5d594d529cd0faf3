// Package resiliency provides retry and circuit-breaking wrappers for
// fallible calls, used by the executor to ride out transient component
// failures (a flaky source connection, a rate-limited processor) without
// failing the whole artifact on the first error.
package resiliency

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"
)

// Retrier wraps an arbitrary context-carrying call with exponential
// backoff and jitter, gated by a CircuitBreaker so a persistently failing
// dependency stops being retried until its reset timeout elapses.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	breaker    *CircuitBreaker
}

// NewRetrier creates a Retrier with maxRetries attempts beyond the first,
// backing off from baseDelay, gated by breaker.
func NewRetrier(maxRetries int, baseDelay time.Duration, breaker *CircuitBreaker) *Retrier {
	return &Retrier{maxRetries: maxRetries, baseDelay: baseDelay, breaker: breaker}
}

// Do invokes fn, retrying on error up to maxRetries times with exponential
// backoff and jitter between attempts. It returns immediately, without
// invoking fn, if the circuit breaker is open.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.breaker.Allow() {
		return fmt.Errorf("circuit breaker open for %s", r.breaker.name)
	}

	var err error
	for i := 0; i <= r.maxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			r.breaker.Success()
			return nil
		}

		if i == r.maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(i))) * r.baseDelay
		jitter := time.Duration(0)
		if n, jerr := rand.Int(rand.Reader, big.NewInt(int64(r.baseDelay/2+1))); jerr == nil {
			jitter = time.Duration(n.Int64())
		}

		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			r.breaker.Failure()
			return ctx.Err()
		}
	}

	r.breaker.Failure()
	return err
}

// CircuitBreaker implements a simple state machine for failure detection:
// CLOSED allows calls, OPEN rejects them until resetTimeout elapses, at
// which point one call is allowed through as HALF_OPEN to probe recovery.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
}

// NewCircuitBreaker creates a breaker named name that opens after threshold
// consecutive failures and attempts recovery after timeout.
func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

// Allow reports whether a call should be attempted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

// Success records a successful call, closing the breaker if it was probing.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = "CLOSED"
	cb.failureCount = 0
}

// Failure records a failed call, opening the breaker once threshold is reached.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}
