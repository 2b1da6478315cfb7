package core

import (
	"fmt"
	"sync/atomic"
)

// ModelLimiter caps the number of model calls in one run. Branches of a
// parallel agent share the limiter of their run.
type ModelLimiter struct {
	limit int64
	calls atomic.Int64
}

// NewModelLimiter creates a limiter. limit <= 0 means unlimited.
func NewModelLimiter(limit int) *ModelLimiter {
	return &ModelLimiter{limit: int64(limit)}
}

// Increment records a call. It returns ErrModelLimit for every call past
// the limit.
func (ml *ModelLimiter) Increment() error {
	if n := ml.calls.Add(1); ml.limit > 0 && n > ml.limit {
		return fmt.Errorf("%w: %d calls allowed", ErrModelLimit, ml.limit)
	}
	return nil
}

// Count returns the number of calls made so far, including rejected ones.
func (ml *ModelLimiter) Count() int { return int(ml.calls.Load()) }

// Remaining returns the calls left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	if ml.limit <= 0 {
		return -1
	}
	return int(max(ml.limit-ml.calls.Load(), 0))
}
