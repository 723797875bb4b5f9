package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/pdu"
)

func TestBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Minute, VolumeThreshold: 3})
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Fatal("opened below the volume threshold")
	}
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != BreakerOpen || b.Allow() {
		t.Fatalf("state = %s, want open and refusing", b.State())
	}
	if got := b.RetryAfter(); got != time.Minute {
		t.Errorf("RetryAfter = %v", got)
	}

	now = now.Add(time.Minute)
	if !b.Allow() || b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s after timeout, want half-open", b.State())
	}
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatal("half-open failure did not reopen")
	}

	now = now.Add(time.Minute)
	b.Allow()
	b.Success()
	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestDispatcherHoldsWhileThrottled(t *testing.T) {
	in := make(chan bus.OutboundMessage, 2)
	var d *Dispatcher
	s := &fakeSender{}
	d = New(s, in,
		WithMaxAttempts(1),
		WithFailureFunc(func(context.Context, bus.OutboundMessage, string) {}),
		WithBreaker(BreakerConfig{FailureThreshold: 1, VolumeThreshold: 1, Timeout: time.Hour}))
	s.result = func(_ int, _ bus.OutboundMessage, seqs []uint32) error {
		d.OnSubmitAck(context.Background(), bus.SubmitAck{Sequence: seqs[0], Status: pdu.StatusThrottled})
		return nil
	}
	d.Resume()
	start(t, d)

	in <- bus.OutboundMessage{ID: "1"}
	in <- bus.OutboundMessage{ID: "2"}
	eventually(t, "breaker open", func() bool { return d.breaker.State() == BreakerOpen })
	time.Sleep(20 * time.Millisecond)
	if s.count() != 1 {
		t.Errorf("sent %d messages while the breaker was open", s.count())
	}
}
