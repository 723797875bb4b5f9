package esme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/dlr"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/multipart"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/internal/sequence"
	"github.com/thrillee/smppengine/pkg/codes"
	"github.com/thrillee/smppengine/pkg/segmenter"
	"github.com/thrillee/smppengine/pkg/textcodec"
)

// Dialer opens the transport connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client keeps one carrier account connected: it dials, binds, serves the
// session and reconnects after losing it. A fresh Session is built for every
// connection; the sequence source and the reassembler outlive them.
type Client struct {
	addr    string
	cfg     Config
	seq     sequence.Source
	handler Handler
	matcher *dlr.Matcher
	reasm   *multipart.Reassembler
	seg     segmenter.Segmenter
	dialer  Dialer
	backoff Backoff

	resetSequence bool
	onConnect     func(*Session)
	onDisconnect  func(error)

	status  atomic.Value // codes.Status*
	mu      sync.RWMutex
	session *Session // bound session, nil otherwise
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithDialer replaces the default 10s-timeout TCP dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithBackoff sets the reconnect schedule.
func WithBackoff(b Backoff) ClientOption {
	return func(c *Client) { c.backoff = b }
}

// WithOnConnect is called each time a session binds.
func WithOnConnect(fn func(*Session)) ClientOption {
	return func(c *Client) { c.onConnect = fn }
}

// WithOnDisconnect is called each time a bound session is lost.
func WithOnDisconnect(fn func(error)) ClientOption {
	return func(c *Client) { c.onDisconnect = fn }
}

// WithResetSequence restarts an in-process counter on every connection
// instead of carrying numbering across reconnects.
func WithResetSequence() ClientOption {
	return func(c *Client) { c.resetSequence = true }
}

// WithClientMatcher sets the delivery report matcher used by every session.
func WithClientMatcher(m *dlr.Matcher) ClientOption {
	return func(c *Client) { c.matcher = m }
}

// WithClientReassembler sets the reassembler shared by every session.
func WithClientReassembler(r *multipart.Reassembler) ClientOption {
	return func(c *Client) { c.reasm = r }
}

// WithSegmenter replaces the text segmenter used by Send.
func WithSegmenter(s segmenter.Segmenter) ClientOption {
	return func(c *Client) { c.seg = s }
}

// NewClient validates cfg and returns a client for the SMSC at addr.
func NewClient(addr string, cfg Config, seq sequence.Source, handler Handler, opts ...ClientOption) (*Client, error) {
	if addr == "" {
		return nil, errors.New("smsc address is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smpp config: %w", err)
	}
	if seq == nil {
		seq = sequence.NewCounter()
	}
	c := &Client{
		addr:    addr,
		cfg:     cfg.withDefaults(),
		seq:     seq,
		handler: handler,
		dialer:  &net.Dialer{Timeout: 10 * time.Second},
		seg:     segmenter.NewDefaultSegmenter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.matcher == nil {
		c.matcher = dlr.MustMatcher("")
	}
	if c.reasm == nil {
		c.reasm = multipart.NewReassembler(multipart.DefaultTTL)
	}
	c.status.Store(codes.StatusDisconnected)
	return c, nil
}

// Status returns one of the codes.Status* values.
func (c *Client) Status() string {
	return c.status.Load().(string)
}

// Session returns the bound session, or nil while disconnected.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Reassembler returns the reassembler shared by the sessions, for sweeping.
func (c *Client) Reassembler() *multipart.Reassembler {
	return c.reasm
}

// Run connects and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ctx = logging.ContextWithSystemID(ctx, c.cfg.SystemID)
	ctx = logging.ContextWithRemoteAddr(ctx, c.addr)
	defer c.status.Store(codes.StatusStopped)

	for {
		bound, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "SMPP client stopping")
			return nil
		}
		if bound {
			c.backoff.Reset()
		}

		delay := c.backoff.Next()
		c.status.Store(codes.StatusWaiting)
		slog.WarnContext(ctx, "SMPP connection lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("retry_delay", delay))

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "SMPP client stopping")
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce serves a single connection and reports whether it ever bound.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	c.status.Store(codes.StatusConnecting)
	slog.InfoContext(ctx, "Connecting to SMSC")
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.status.Store(codes.StatusDisconnected)
		return false, fmt.Errorf("dial %s: %w", c.addr, err)
	}

	if c.resetSequence {
		if r, ok := c.seq.(interface{ Reset() }); ok {
			r.Reset()
		}
	}

	var bound atomic.Bool
	s := NewSession(ctx, conn, c.cfg, c.seq, c.handler,
		WithMatcher(c.matcher),
		WithReassembler(c.reasm),
		WithBoundHook(func(s *Session) {
			bound.Store(true)
			c.bound(ctx, s)
		}),
		WithClosedHook(func(s *Session, reason error) {
			c.closed(ctx, s, bound.Load(), reason)
		}),
	)

	c.status.Store(codes.StatusBinding)
	if err := s.Open(ctx); err != nil {
		return false, err
	}
	err = s.Serve(ctx)
	return bound.Load(), err
}

func (c *Client) bound(ctx context.Context, s *Session) {
	c.mu.Lock()
	// closed may already have run for s.
	if s.isClosed() {
		c.mu.Unlock()
		return
	}
	c.session = s
	c.mu.Unlock()
	c.status.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP session bound", slog.String("state", s.State()))
	if c.onConnect != nil {
		c.onConnect(s)
	}
}

func (c *Client) closed(ctx context.Context, s *Session, wasBound bool, reason error) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	c.status.Store(codes.StatusDisconnected)
	if wasBound && c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}

// Shutdown unbinds the current session and waits for the connection to
// close, or for ctx to expire. Run must be stopped through its context.
func (c *Client) Shutdown(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	if _, err := s.Unbind(ctx); err != nil {
		s.Close(ErrUnbound)
		return nil
	}
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		s.Close(ctx.Err())
		return ctx.Err()
	}
}

// =============================================================================
// Outbound
// =============================================================================

// outboundCodings maps encodings to the data_coding they are sent with.
var outboundCodings = map[string]byte{
	textcodec.GSM0338: 0,
	"ascii":           1,
	"latin1":          3,
	textcodec.UCS2:    8,
}

// Send encodes msg and submits it on the bound session, splitting long
// text. It returns the sequence number of every submit_sm, or ErrNotBound
// while disconnected.
func (c *Client) Send(ctx context.Context, msg bus.OutboundMessage) ([]uint32, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrNotBound
	}
	ctx = logging.ContextWithMessageID(ctx, msg.ID)

	segments := []string{msg.Content}
	enc := msg.Encoding
	if enc == "" {
		var ucs2 bool
		var err error
		segments, ucs2, err = c.seg.GetSegments(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("segment message: %w", err)
		}
		enc = textcodec.GSM0338
		if ucs2 {
			enc = textcodec.UCS2
		}
	}

	r, err := c.envelope(msg, enc)
	if err != nil {
		return nil, err
	}

	if msg.Type == codes.MessageTypeUSSD || len(segments) == 1 || c.cfg.SplitMode == codes.SplitNone {
		r.Message, err = textcodec.Encode(msg.Content, enc, c.cfg.ErrorPolicy)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		if msg.Type == codes.MessageTypeUSSD {
			seq, err := s.SubmitSM(ctx, r)
			if err != nil {
				return nil, err
			}
			return []uint32{seq}, nil
		}
		return s.SubmitLong(ctx, r)
	}

	parts := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		b, err := textcodec.Encode(seg, enc, c.cfg.ErrorPolicy)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		parts = append(parts, b)
	}
	slog.DebugContext(ctx, "Submitting multipart message", slog.Int("parts", len(parts)), slog.String("encoding", enc))
	return s.SubmitParts(ctx, r, parts)
}

// envelope builds the submit parameters of msg without the message body.
func (c *Client) envelope(msg bus.OutboundMessage, enc string) (SubmitRequest, error) {
	r := SubmitRequest{Source: msg.From, Destination: msg.To}
	if dc, ok := outboundCodings[enc]; ok {
		r.DataCoding = &dc
	} else {
		for dc, name := range c.cfg.DataCodingOverrides {
			if name == enc {
				r.DataCoding = &dc
				break
			}
		}
	}
	if msg.RequestDLR {
		rd := byte(1)
		r.RegisteredDelivery = &rd
	}
	if msg.Type == codes.MessageTypeUSSD {
		info, err := sessionInfo(msg.SessionInfo)
		if err != nil {
			return r, err
		}
		if msg.SessionEvent == codes.SessionClose {
			info++
		}
		r.Options = pdu.Options{}
		r.Options.SetUint8(pdu.TagUssdServiceOp, ussdUSSRRequest)
		r.Options.SetUint16(pdu.TagItsSessionInfo, info)
	}
	return r, nil
}

// sessionInfo parses the hex session info echoed from an inbound USSD
// message. The low bit is cleared; it is set again to end the session.
func sessionInfo(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid ussd session info %q: %w", s, err)
	}
	return uint16(v) &^ 1, nil
}
