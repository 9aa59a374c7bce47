// Package breakers wraps sony/gobreaker with the trip policy used around the
// persistence layer: trip fast on consecutive failures, or on a sustained
// error rate once enough calls have been observed.
package breakers

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker guards a dependency with a circuit breaker.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// New creates a breaker with the standard trip policy.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.25
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Do runs fn through the breaker. When the circuit is open fn is not called
// and gobreaker.ErrOpenState comes back immediately.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

// Open reports whether the circuit is currently rejecting calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == cb.StateOpen
}
