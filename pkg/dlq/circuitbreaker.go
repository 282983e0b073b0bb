/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dlq

import (
	"sync"
	"time"
)

// CircuitState is one of a CircuitBreaker's three states.
type CircuitState int

const (
	CircuitStateClosed CircuitState = iota
	CircuitStateOpen
	CircuitStateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitStateOpen:
		return "open"
	case CircuitStateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// minEvaluationCalls is the smallest sample size the breaker requires
// before a failure rate is trusted enough to open the circuit; a single
// unlucky call must not trip it.
const minEvaluationCalls = 5

// CircuitBreaker wraps the DLQ's retry-callback invocations with a
// failure-rate based breaker: distinct from the gobreaker instance
// guarding the advisory persistence layer, it gives the slow/failing-
// callback watchdog an independent health signal for the callback itself.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold float64
	resetTimeout     time.Duration

	state      CircuitState
	failures   int64
	totalCalls int64
	openedAt   time.Time
}

// NewCircuitBreaker constructs a breaker named name that opens once at
// least minEvaluationCalls have been observed and the failure rate reaches
// failureThreshold (a fraction in [0,1]), and attempts a half-open probe
// resetTimeout after opening.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitStateClosed,
	}
}

// Call invokes fn if the breaker permits it, recording the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return &ErrCircuitOpen{Name: cb.name}
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalCalls++

	if err != nil {
		cb.failures++
		wasHalfOpen := cb.state == CircuitStateHalfOpen
		rate := float64(cb.failures) / float64(cb.totalCalls)
		if wasHalfOpen || (cb.totalCalls >= minEvaluationCalls && rate >= cb.failureThreshold) {
			cb.state = CircuitStateOpen
			cb.openedAt = time.Now()
		}
		return err
	}

	if cb.state == CircuitStateHalfOpen {
		// Recovery: restart the evaluation window.
		cb.failures = 0
		cb.totalCalls = 0
	}
	cb.state = CircuitStateClosed
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitStateOpen:
		if time.Since(cb.openedAt) >= cb.resetTimeout {
			cb.state = CircuitStateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetName() string {
	return cb.name
}

func (cb *CircuitBreaker) GetFailureThreshold() float64 {
	return cb.failureThreshold
}

func (cb *CircuitBreaker) GetResetTimeout() time.Duration {
	return cb.resetTimeout
}

// GetFailures returns the number of failed calls in the current
// evaluation window.
func (cb *CircuitBreaker) GetFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// GetFailureRate returns the fraction of calls in the current evaluation
// window that failed.
func (cb *CircuitBreaker) GetFailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.totalCalls == 0 {
		return 0
	}
	return float64(cb.failures) / float64(cb.totalCalls)
}

// ErrCircuitOpen is returned by Call when the breaker is open.
type ErrCircuitOpen struct {
	Name string
}

func (e *ErrCircuitOpen) Error() string {
	return "circuit breaker is open: " + e.Name
}
