// Package esme implements the client side of an SMPP v3.4 connection: the
// bind state machine, request/response correlation, inbound message
// handling and the reconnecting Client.
package esme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/dlr"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/multipart"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/internal/sequence"
	"github.com/thrillee/smppengine/pkg/codes"
)

// Session states
const (
	StateClosed   = codes.StateClosed
	StateOpen     = codes.StateOpen
	StateBoundTX  = codes.StateBoundTX
	StateBoundRX  = codes.StateBoundRX
	StateBoundTRX = codes.StateBoundTRX
)

const (
	eventOpen     = "open"
	eventBoundTX  = "bound_tx"
	eventBoundRX  = "bound_rx"
	eventBoundTRX = "bound_trx"
	eventClose    = "close"
)

var boundEvents = map[pdu.CommandID]string{
	pdu.CommandBindTransmitterResp: eventBoundTX,
	pdu.CommandBindReceiverResp:    eventBoundRX,
	pdu.CommandBindTransceiverResp: eventBoundTRX,
}

// Session is one SMPP connection. It is created per transport connection
// and is not reused once closed.
type Session struct {
	cfg      Config
	conn     io.ReadWriteCloser
	seq      sequence.Source
	handler  Handler
	matcher  *dlr.Matcher
	reasm    *multipart.Reassembler
	pending  *sequence.Pending
	state    *fsm.FSM
	onBound  func(*Session)
	onClosed func(*Session, error)
	now      func() time.Time

	id     string
	ctx    context.Context // log attributes; cancelled by Close
	cancel context.CancelFunc

	frames  pdu.FrameBuffer // owned by the reading goroutine
	writeMu sync.Mutex

	mu        sync.Mutex
	bindTimer *time.Timer
	closeErr  error

	opened    atomic.Bool
	keepAlive atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithMatcher sets the delivery report matcher. The default pattern is used
// otherwise.
func WithMatcher(m *dlr.Matcher) SessionOption {
	return func(s *Session) { s.matcher = m }
}

// WithReassembler shares a reassembler between sessions so a concatenated
// message split across a reconnect still completes.
func WithReassembler(r *multipart.Reassembler) SessionOption {
	return func(s *Session) { s.reasm = r }
}

// WithBoundHook is called once the bind is acknowledged.
func WithBoundHook(fn func(*Session)) SessionOption {
	return func(s *Session) { s.onBound = fn }
}

// WithClosedHook is called exactly once when the session closes.
func WithClosedHook(fn func(*Session, error)) SessionOption {
	return func(s *Session) { s.onClosed = fn }
}

// NewSession wraps conn. Nothing is sent until Open.
func NewSession(ctx context.Context, conn io.ReadWriteCloser, cfg Config, seq sequence.Source, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		cfg:     cfg.withDefaults(),
		conn:    conn,
		seq:     seq,
		handler: handler,
		pending: sequence.NewPending(),
		now:     time.Now,
		id:      uuid.NewString(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.matcher == nil {
		s.matcher = dlr.MustMatcher("")
	}
	if s.reasm == nil {
		s.reasm = multipart.NewReassembler(0)
	}

	ctx = logging.ContextWithSystemID(ctx, s.cfg.SystemID)
	ctx = logging.ContextWithConnID(ctx, s.id)
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.state = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: eventOpen, Src: []string{StateClosed}, Dst: StateOpen},
			{Name: eventBoundTX, Src: []string{StateOpen}, Dst: StateBoundTX},
			{Name: eventBoundRX, Src: []string{StateOpen}, Dst: StateBoundRX},
			{Name: eventBoundTRX, Src: []string{StateOpen}, Dst: StateBoundTRX},
			{Name: eventClose, Src: []string{StateOpen, StateBoundTX, StateBoundRX, StateBoundTRX}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				slog.InfoContext(ctx, "Session state changed", slog.String("from", e.Src), slog.String("to", e.Dst))
			},
			"enter_" + StateBoundTX:  s.enterBound,
			"enter_" + StateBoundRX:  s.enterBound,
			"enter_" + StateBoundTRX: s.enterBound,
		},
	)
	return s
}

// ID identifies the connection in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state name.
func (s *Session) State() string { return s.state.Current() }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the close reason, nil while open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Pending returns the number of requests awaiting a response.
func (s *Session) Pending() int { return s.pending.Len() }

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) inState(states ...string) bool {
	cur := s.state.Current()
	for _, st := range states {
		if cur == st {
			return true
		}
	}
	return false
}

// eventCtx keeps state transitions going through while the session context
// is being cancelled.
func (s *Session) eventCtx() context.Context {
	return context.WithoutCancel(s.ctx)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open moves CLOSED → OPEN and sends the configured bind. The bind timer
// closes the session if no successful bind_resp arrives in time.
func (s *Session) Open(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if !s.opened.CompareAndSwap(false, true) {
		return errors.New("session already opened")
	}
	id, err := bindCommand(s.cfg.BindType)
	if err != nil {
		return err
	}
	if err := s.state.Event(s.eventCtx(), eventOpen); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	s.mu.Lock()
	s.bindTimer = time.AfterFunc(s.cfg.BindTimeout, func() {
		slog.WarnContext(s.ctx, "Bind not acknowledged in time", slog.Duration("timeout", s.cfg.BindTimeout))
		s.Close(ErrBindTimeout)
	})
	s.mu.Unlock()

	if s.cfg.RequestTimeout > 0 {
		go s.expireLoop()
	}

	p := pdu.New(id, 0)
	p.Body = &pdu.Bind{
		SystemID:         s.cfg.SystemID,
		Password:         s.cfg.Password,
		SystemType:       s.cfg.SystemType,
		InterfaceVersion: InterfaceVersion34,
		AddrTON:          s.cfg.AddrTON,
		AddrNPI:          s.cfg.AddrNPI,
		AddressRange:     s.cfg.AddressRange,
	}
	if _, err := s.send(ctx, p); err != nil {
		s.Close(err)
		return err
	}
	slog.InfoContext(s.ctx, "Bind sent", slog.String("command", id.String()))
	return nil
}

// Serve reads from the connection until it fails or ctx is done, feeding
// every chunk to HandleData. It returns the close reason.
func (s *Session) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close(ctx.Err())
		case <-s.done:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if herr := s.HandleData(buf[:n]); herr != nil {
				return herr
			}
		}
		if s.isClosed() {
			return s.Err()
		}
		if err != nil {
			reason := fmt.Errorf("%w: %v", ErrConnectionLost, err)
			s.Close(reason)
			return s.Err()
		}
	}
}

// HandleData consumes a chunk of the inbound stream and processes every
// complete PDU in arrival order. A framing error closes the session and is
// returned. It must not be called concurrently.
func (s *Session) HandleData(data []byte) error {
	_, _ = s.frames.Write(data)
	for !s.isClosed() {
		frame, ok, err := s.frames.Next()
		if err != nil {
			slog.ErrorContext(s.ctx, "Dropping connection on framing error", slog.Any("error", err))
			s.Close(err)
			return err
		}
		if !ok {
			return nil
		}
		p, err := pdu.Decode(frame)
		if err != nil {
			slog.ErrorContext(s.ctx, "Dropping connection on undecodable PDU", slog.Any("error", err))
			s.Close(err)
			return err
		}
		s.dispatch(p)
	}
	return nil
}

// Close moves the session to CLOSED, closes the connection and fails every
// pending request with ErrConnectionLost. Only the first call has an effect.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = reason
		if s.closeErr == nil {
			s.closeErr = ErrSessionClosed
		}
		if s.bindTimer != nil {
			s.bindTimer.Stop()
		}
		s.mu.Unlock()

		close(s.done)
		s.cancel()
		if err := s.conn.Close(); err != nil {
			slog.DebugContext(s.eventCtx(), "Error closing connection", slog.Any("error", err))
		}
		if s.opened.Load() {
			if err := s.state.Event(s.eventCtx(), eventClose); err != nil {
				slog.DebugContext(s.eventCtx(), "Close transition", slog.Any("error", err))
			}
		}

		ctx := s.eventCtx()
		failed := 0
		for _, e := range s.pending.FailAll() {
			if acked(e.CommandID) {
				s.handler.OnSubmitAck(ctx, bus.SubmitAck{Sequence: e.Sequence, CommandID: e.CommandID, Err: ErrConnectionLost})
				failed++
			}
		}
		slog.InfoContext(ctx, "Session closed", slog.Any("reason", s.closeErr), slog.Int("failed_requests", failed))

		if s.onClosed != nil {
			s.onClosed(s, s.closeErr)
		}
	})
}

func (s *Session) enterBound(_ context.Context, _ *fsm.Event) {
	s.startKeepAlive()
	if s.onBound != nil {
		s.onBound(s)
	}
}

func (s *Session) stopBindTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindTimer != nil {
		s.bindTimer.Stop()
	}
}

// startKeepAlive sends enquire_link every Config.EnquireLink until close.
func (s *Session) startKeepAlive() {
	if !s.keepAlive.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.EnquireLink)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if _, err := s.EnquireLink(s.ctx); err != nil && !s.isClosed() {
					slog.WarnContext(s.ctx, "Keep-alive enquire_link failed", slog.Any("error", err))
				}
			}
		}
	}()
}

func (s *Session) expireLoop() {
	interval := max(s.cfg.RequestTimeout/2, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.expire(s.now())
		}
	}
}

// expire reports requests sent more than RequestTimeout before now.
func (s *Session) expire(now time.Time) {
	for _, e := range s.pending.Expire(now.Add(-s.cfg.RequestTimeout)) {
		ctx := logging.ContextWithPDUInfo(s.ctx, e.CommandID.String(), e.Sequence)
		slog.WarnContext(ctx, "Request timed out", slog.Duration("timeout", s.cfg.RequestTimeout))
		if acked(e.CommandID) {
			s.handler.OnSubmitAck(ctx, bus.SubmitAck{Sequence: e.Sequence, CommandID: e.CommandID, Err: ErrResponseTimeout})
		}
	}
}

// acked reports whether the handler hears about the outcome of a request.
func acked(id pdu.CommandID) bool {
	switch id {
	case pdu.CommandSubmitSM, pdu.CommandSubmitMulti, pdu.CommandQuerySM:
		return true
	}
	return false
}

// =============================================================================
// Writing
// =============================================================================

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// send allocates a sequence number for a request, registers it as pending
// and writes it.
func (s *Session) send(ctx context.Context, p *pdu.PDU) (uint32, error) {
	seq, err := s.seq.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence number: %w", err)
	}
	p.Sequence = seq
	if err := s.pending.Register(sequence.Entry{Sequence: seq, CommandID: p.CommandID, SentAt: s.now()}); err != nil {
		return 0, fmt.Errorf("register %s %d: %w", p.CommandID, seq, err)
	}
	if err := s.write(ctx, p); err != nil {
		s.pending.Resolve(seq)
		s.closeOnWriteError(err)
		return 0, err
	}
	return seq, nil
}

// request is send guarded by a state check. Nothing is written outside the
// allowed states.
func (s *Session) request(ctx context.Context, p *pdu.PDU, allowed ...string) (uint32, error) {
	if !s.inState(allowed...) {
		return 0, ErrNotBound
	}
	return s.send(ctx, p)
}

func (s *Session) reply(ctx context.Context, req *pdu.PDU, status pdu.Status) {
	if err := s.write(ctx, req.Response(status)); err != nil {
		slog.WarnContext(ctx, "Failed to write response", slog.Any("error", err))
		s.closeOnWriteError(err)
	}
}

// closeOnWriteError drops the connection after a transport failure. Callers
// resolve their own pending entry first so it is reported once.
func (s *Session) closeOnWriteError(err error) {
	if errors.Is(err, ErrConnectionLost) {
		s.Close(err)
	}
}

// write encodes and writes one PDU. Transport errors wrap ErrConnectionLost.
func (s *Session) write(ctx context.Context, p *pdu.PDU) error {
	b, err := pdu.Encode(p)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.CommandID, err)
	}

	err = func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if s.isClosed() {
			return ErrSessionClosed
		}
		if d, ok := s.conn.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
		}
		_, err := s.conn.Write(b)
		return err
	}()
	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConnectionLost, p.CommandID, err)
	}
	slog.DebugContext(logging.ContextWithPDUInfo(ctx, p.CommandID.String(), p.Sequence), "Sent PDU",
		slog.Int("length", len(b)), slog.String("status", p.Status.String()))
	return nil
}
