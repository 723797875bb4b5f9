package dispatch

import (
	"log/slog"
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	FailureThreshold int           // consecutive carrier-side failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Timeout          time.Duration // time spent open before trying again
	VolumeThreshold  int           // minimum responses seen before opening
}

// Breaker stops submissions while the carrier keeps answering with
// throttling or queue-full errors.
type Breaker struct {
	mu              sync.Mutex
	cfg             BreakerConfig
	now             func() time.Time
	state           BreakerState
	failures        int
	successes       int
	responses       int
	lastStateChange time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.VolumeThreshold == 0 {
		cfg.VolumeThreshold = 10
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.lastStateChange = b.now()
	slog.Info("Dispatch breaker state change",
		slog.String("from_state", from.String()),
		slog.String("to_state", to.String()))
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a submission may go out now. An open breaker turns
// half-open once its timeout has passed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.lastStateChange) < b.cfg.Timeout {
			return false
		}
		b.setState(BreakerHalfOpen)
	}
	return true
}

// RetryAfter returns how long an open breaker stays open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	return max(b.cfg.Timeout-b.now().Sub(b.lastStateChange), 0)
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses++
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(BreakerClosed)
		}
	case BreakerClosed:
		b.failures = 0
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses++
	switch b.state {
	case BreakerHalfOpen:
		b.setState(BreakerOpen)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold && b.responses >= b.cfg.VolumeThreshold {
			b.setState(BreakerOpen)
		}
	}
}
