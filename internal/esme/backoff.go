package esme

import "time"

// Reconnect delay defaults.
const (
	DefaultInitialDelay = 30 * time.Second
	DefaultMaxDelay     = 45 * time.Second
)

// Backoff schedules reconnect attempts. The first delay is InitialDelay and
// each following one is the previous times Factor, kept within
// [MinInterval, MaxDelay]. It is not safe for concurrent use.
type Backoff struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MinInterval  time.Duration // defaults to InitialDelay

	current time.Duration
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	initial := b.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = max(DefaultMaxDelay, initial)
	}
	minInterval := b.MinInterval
	if minInterval <= 0 {
		minInterval = initial
	}

	if b.current == 0 {
		b.current = initial
	} else {
		b.current = time.Duration(float64(b.current) * factor)
	}
	b.current = min(b.current, maxDelay)
	b.current = max(b.current, minInterval)
	return b.current
}

// Reset starts the schedule again from InitialDelay.
func (b *Backoff) Reset() {
	b.current = 0
}
