package transport

import (
	"sync/atomic"

	"github.com/agentstation/riskmap/pkg/constants"
)

// Breaker counts consecutive permission-denied responses. Once the count
// reaches the threshold every writer sharing the breaker must stop.
// A Breaker is safe for concurrent use.
type Breaker struct {
	consecutive atomic.Int64
	threshold   int64
}

// NewBreaker returns a breaker that trips after threshold consecutive 403s.
// A non-positive threshold uses constants.AbortThreshold.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = constants.AbortThreshold
	}
	return &Breaker{threshold: int64(threshold)}
}

// RecordForbidden counts a 403 and returns the new consecutive count.
func (b *Breaker) RecordForbidden() int {
	return int(b.consecutive.Add(1))
}

// RecordSuccess resets the counter after a successful response.
func (b *Breaker) RecordSuccess() {
	b.consecutive.Store(0)
}

// Reset clears the counter.
func (b *Breaker) Reset() {
	b.consecutive.Store(0)
}

// Consecutive returns the current consecutive 403 count.
func (b *Breaker) Consecutive() int {
	return int(b.consecutive.Load())
}

// Threshold returns the trip threshold.
func (b *Breaker) Threshold() int {
	return int(b.threshold)
}

// ShouldAbort reports whether the threshold has been reached.
func (b *Breaker) ShouldAbort() bool {
	return b.consecutive.Load() >= b.threshold
}
