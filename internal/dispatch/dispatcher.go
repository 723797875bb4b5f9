// Package dispatch drains the outbound message queue into an SMPP client.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/esme"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/pkg/errormapper"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second

	retryQueueSize = 256
	maxOrphans     = 1024
)

// Sender submits a message and returns the sequence number of every PDU
// written for it. *esme.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) ([]uint32, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg bus.OutboundMessage) ([]uint32, error)

func (f SenderFunc) Send(ctx context.Context, msg bus.OutboundMessage) ([]uint32, error) {
	return f(ctx, msg)
}

// FailureFunc is told about messages that will not be submitted again.
type FailureFunc func(ctx context.Context, msg bus.OutboundMessage, code string)

type item struct {
	msg      bus.OutboundMessage
	attempts int
}

// Dispatcher submits outbound messages while the client is bound and holds
// them while it is not. Retryable failures reported in submit responses are
// queued again after a delay.
type Dispatcher struct {
	sender      Sender
	in          <-chan bus.OutboundMessage
	retries     chan item
	maxAttempts int
	retryDelay  time.Duration
	onFailure   FailureFunc
	breaker     *Breaker

	mu       sync.Mutex
	paused   bool
	ready    chan struct{}            // closed while running
	inflight map[uint32]*item         // nil for parts of a split message
	orphans  map[uint32]bus.SubmitAck // acks that beat Send back
}

type Option func(*Dispatcher)

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

func WithFailureFunc(fn FailureFunc) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(d *Dispatcher) { d.breaker = NewBreaker(cfg) }
}

// New returns a paused dispatcher reading from in. Call Resume once the
// client is bound.
func New(sender Sender, in <-chan bus.OutboundMessage, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		in:          in,
		retries:     make(chan item, retryQueueSize),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		paused:      true,
		ready:       make(chan struct{}),
		inflight:    make(map[uint32]*item),
		orphans:     make(map[uint32]bus.SubmitAck),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxAttempts < 1 {
		d.maxAttempts = 1
	}
	if d.onFailure == nil {
		d.onFailure = logFailure
	}
	if d.breaker == nil {
		d.breaker = NewBreaker(BreakerConfig{})
	}
	return d
}

func logFailure(ctx context.Context, msg bus.OutboundMessage, code string) {
	slog.ErrorContext(ctx, "Outbound message failed",
		slog.String("to", msg.To),
		slog.String("error_code", code))
}

// Pause stops submitting until Resume is called.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		d.paused = true
		d.ready = make(chan struct{})
	}
}

// Resume starts submitting again.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		d.paused = false
		close(d.ready)
	}
}

// Paused reports whether submitting is on hold.
func (d *Dispatcher) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// waitReady blocks while paused or while the breaker is open.
func (d *Dispatcher) waitReady(ctx context.Context) error {
	for {
		d.mu.Lock()
		ready := d.ready
		d.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		if d.breaker.Allow() {
			return nil
		}
		wait := d.breaker.RetryAfter()
		slog.WarnContext(ctx, "Carrier is throttling, holding submissions", slog.Duration("retry_after", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run submits messages until ctx is done or the input channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx = logging.ContextWithWorker(ctx, "dispatcher")
	slog.InfoContext(ctx, "Dispatcher starting")
	var held *item

	for {
		if err := d.waitReady(ctx); err != nil {
			slog.InfoContext(ctx, "Dispatcher stopping")
			return nil
		}

		var it item
		if held != nil {
			it, held = *held, nil
		} else {
			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "Dispatcher stopping")
				return nil
			case it = <-d.retries:
			case msg, ok := <-d.in:
				if !ok {
					slog.InfoContext(ctx, "Outbound queue closed, dispatcher stopping")
					return nil
				}
				it = item{msg: msg}
			}
		}

		if !d.dispatch(ctx, it) {
			held = &it
			d.Pause()
		}
	}
}

// dispatch sends one message. It returns false when the message must be
// held until the client is bound again.
func (d *Dispatcher) dispatch(ctx context.Context, it item) bool {
	ctx = logging.ContextWithMessageID(ctx, it.msg.ID)
	seqs, err := d.sender.Send(ctx, it.msg)
	if err != nil && len(seqs) > 0 {
		// Parts sent before the failure still get responses.
		d.register(seqs, nil)
	}
	if errors.Is(err, esme.ErrNotBound) || errors.Is(err, esme.ErrConnectionLost) {
		slog.WarnContext(ctx, "Client not bound, holding message", slog.Any("error", err))
		return false
	}
	if err != nil {
		d.onFailure(ctx, it.msg, errormapper.MapError(err))
		return true
	}

	it.attempts++
	slog.DebugContext(ctx, "Message submitted", slog.Int("parts", len(seqs)), slog.Int("attempt", it.attempts))

	// Parts of a split message are not retried on their own; their entries
	// only absorb the responses.
	var track *item
	if len(seqs) == 1 {
		track = &it
	}
	early := d.register(seqs, track)
	if track != nil {
		for _, ack := range early {
			d.settle(ctx, it, ack)
		}
	}
	return true
}

// register maps seqs to track in the in-flight table and returns the
// responses that arrived before it did.
func (d *Dispatcher) register(seqs []uint32, track *item) []bus.SubmitAck {
	var early []bus.SubmitAck
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, seq := range seqs {
		if ack, ok := d.orphans[seq]; ok {
			delete(d.orphans, seq)
			early = append(early, ack)
			continue
		}
		d.inflight[seq] = track
	}
	return early
}

// settle decides what happens to a message once its submit response or
// failure is known.
func (d *Dispatcher) settle(ctx context.Context, it item, ack bus.SubmitAck) {
	if ack.OK() {
		d.breaker.Success()
		return
	}
	code := errormapper.MapStatus(ack.Status)
	if ack.Err != nil {
		code = errormapper.MapError(ack.Err)
	}
	if code == errormapper.ErrorCodeThrottled || code == errormapper.ErrorCodeQueueFull {
		d.breaker.Failure()
	}
	if !errormapper.Retryable(code) || it.attempts >= d.maxAttempts {
		d.onFailure(ctx, it.msg, code)
		return
	}
	slog.InfoContext(ctx, "Retrying message",
		slog.String("error_code", code),
		slog.Int("attempt", it.attempts),
		slog.Duration("delay", d.retryDelay))
	time.AfterFunc(d.retryDelay, func() {
		select {
		case d.retries <- it:
		default:
			d.onFailure(ctx, it.msg, errormapper.ErrorCodeQueueFull)
		}
	})
}

// OnSubmitAck correlates a submit response with the message it answers.
func (d *Dispatcher) OnSubmitAck(ctx context.Context, ack bus.SubmitAck) {
	d.mu.Lock()
	it, ok := d.inflight[ack.Sequence]
	if ok {
		delete(d.inflight, ack.Sequence)
	} else {
		if len(d.orphans) >= maxOrphans {
			clear(d.orphans)
		}
		d.orphans[ack.Sequence] = ack
	}
	d.mu.Unlock()
	if it != nil {
		d.settle(logging.ContextWithMessageID(ctx, it.msg.ID), *it, ack)
	}
}

// Handler wraps next so that submit responses also reach the dispatcher.
func (d *Dispatcher) Handler(next esme.Handler) esme.Handler {
	return &handler{Handler: next, d: d}
}

type handler struct {
	esme.Handler
	d *Dispatcher
}

func (h *handler) OnSubmitAck(ctx context.Context, ack bus.SubmitAck) {
	h.d.OnSubmitAck(ctx, ack)
	h.Handler.OnSubmitAck(ctx, ack)
}
