// Package sequence allocates SMPP sequence numbers and tracks requests
// awaiting a response.
package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MaxSequence is the largest sequence number handed out by Counter.
const MaxSequence uint32 = 0x7FFFFFFF

// Source hands out sequence numbers. Implementations must be safe for
// concurrent use since one source is shared by every session of a client.
type Source interface {
	Next(ctx context.Context) (uint32, error)
}

// Counter is an in-process Source. Values start at the offset, advance by
// the step and wrap from MaxSequence back to the offset. Gateways sharing one
// carrier account give each instance its own offset and the same step so
// their numbers never collide.
type Counter struct {
	last   atomic.Uint32
	offset uint32
	step   uint32
}

// Compile-time check
var _ Source = (*Counter)(nil)

// NewCounter returns a counter issuing 1, 2, 3...
func NewCounter() *Counter {
	return &Counter{offset: 1, step: 1}
}

// NewStepCounter returns a counter issuing offset, offset+step...
// The step may not be smaller than the offset.
func NewStepCounter(offset, step uint32) (*Counter, error) {
	switch {
	case offset < 1:
		return nil, fmt.Errorf("sequence offset %d may not be less than 1", offset)
	case step < 1:
		return nil, fmt.Errorf("sequence step %d may not be less than 1", step)
	case step < offset:
		return nil, fmt.Errorf("sequence step %d may not be less than offset %d", step, offset)
	case offset > MaxSequence:
		return nil, fmt.Errorf("sequence offset %d above maximum", offset)
	}
	return &Counter{offset: offset, step: step}, nil
}

// Next never fails.
func (c *Counter) Next(_ context.Context) (uint32, error) {
	for {
		cur := c.last.Load()
		next := c.offset
		if cur != 0 && uint64(cur)+uint64(c.step) <= uint64(MaxSequence) {
			next = cur + c.step
		}
		if c.last.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}

// Reset makes the next value the offset again.
func (c *Counter) Reset() {
	c.last.Store(0)
}

// Last returns the most recently issued value, 0 if none.
func (c *Counter) Last() uint32 {
	return c.last.Load()
}
