// Package smsc is a small SMSC simulator for development and tests. It
// accepts binds, answers submissions with generated message ids, sends
// delivery receipts when asked for them and can push mobile-originated
// messages to bound receivers.
package smsc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	gpdu "github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/internal/sequence"
)

// Config for the simulator.
type Config struct {
	Addr        string
	SystemID    string        // returned in bind responses
	Password    string        // empty accepts any password
	ReportDelay time.Duration // delay before a requested delivery receipt
	IdleTimeout time.Duration // 0 disables the read deadline
	Echo        bool          // send every single-part submission back as a deliver_sm
}

// Submission is one accepted submit_sm or submit_multi.
type Submission struct {
	MessageID    string
	SystemID     string
	Source       string
	Destinations []string
	DataCoding   byte
	ShortMessage []byte
	RequestDLR   bool
	TotalParts   int // from a UDH concatenation header, 1 otherwise
	ReceivedAt   time.Time
}

// client is one accepted connection.
type client struct {
	id       string
	conn     net.Conn
	writer   *bufio.Writer
	writeMu  sync.Mutex
	systemID string
	bind     pdu.CommandID
	boundAt  time.Time
}

func (c *client) receives() bool {
	return c.bind == pdu.CommandBindReceiver || c.bind == pdu.CommandBindTransceiver
}

// Server is the simulator.
type Server struct {
	cfg      Config
	seq      *sequence.Counter
	now      func() time.Time
	listener net.Listener

	mu          sync.RWMutex
	clients     map[string]*client
	submissions []Submission
	onSubmit    func(Submission)

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer returns an unstarted simulator.
func NewServer(cfg Config) *Server {
	if cfg.SystemID == "" {
		cfg.SystemID = "smsc"
	}
	return &Server{
		cfg:      cfg,
		seq:      sequence.NewCounter(),
		now:      time.Now,
		clients:  make(map[string]*client),
		shutdown: make(chan struct{}),
	}
}

// OnSubmit registers a callback run for every accepted submission.
func (s *Server) OnSubmit(fn func(Submission)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubmit = fn
}

// ListenAndServe listens on Config.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("Starting SMSC simulator", slog.String("address", s.cfg.Addr))
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				slog.Info("SMSC listener closed")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("Failed to accept connection", slog.Any("error", err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		c := &client{id: uuid.NewString(), conn: conn, writer: bufio.NewWriter(conn)}
		ctx := logging.ContextWithRemoteAddr(context.Background(), conn.RemoteAddr().String())
		ctx = logging.ContextWithConnID(ctx, c.id)
		slog.InfoContext(ctx, "Accepted SMPP connection")

		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleSession(ctx, c)
	}
}

// Addr returns the listening address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Submissions returns a copy of everything accepted so far.
func (s *Server) Submissions() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Submission(nil), s.submissions...)
}

// Bound returns the number of bound connections.
func (s *Server) Bound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clients {
		if c.systemID != "" {
			n++
		}
	}
	return n
}

// Shutdown stops accepting, closes every connection and waits for the
// connection handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, c := range s.clients {
			_ = c.conn.Close()
		}
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.InfoContext(ctx, "SMSC simulator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DropConnections closes every client connection without an unbind, as a
// network failure would.
func (s *Server) DropConnections() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// handleSession reads and answers PDUs for one connection.
func (s *Server) handleSession(ctx context.Context, c *client) {
	defer func() {
		s.removeClient(c.id)
		_ = c.conn.Close()
		slog.InfoContext(ctx, "Closed SMPP connection")
		s.wg.Done()
	}()

	r := bufio.NewReader(c.conn)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		frame, err := readFrame(r)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				slog.InfoContext(ctx, "Connection closed by peer")
			case errors.As(err, &netErr) && netErr.Timeout():
				slog.InfoContext(ctx, "Connection idle, closing")
			default:
				slog.WarnContext(ctx, "Error reading PDU", slog.Any("error", err))
			}
			return
		}
		if !s.handleFrame(ctx, c, frame) {
			return
		}
	}
}

// readFrame reads one length-prefixed PDU.
func readFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, pdu.HeaderLength)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	h, err := pdu.ParseHeader(hdr)
	if err != nil {
		return nil, err
	}
	if h.Length < pdu.HeaderLength || h.Length > pdu.MaxPDULength {
		return nil, &pdu.FramingError{Reason: fmt.Sprintf("declared length %d out of range", h.Length)}
	}
	frame := make([]byte, h.Length)
	copy(frame, hdr)
	if _, err := io.ReadFull(r, frame[pdu.HeaderLength:]); err != nil {
		return nil, fmt.Errorf("read PDU body (%d octets): %w", h.Length-pdu.HeaderLength, err)
	}
	return frame, nil
}

// handleFrame answers one PDU and reports whether to keep reading.
func (s *Server) handleFrame(ctx context.Context, c *client, frame []byte) bool {
	hdr, _ := pdu.ParseHeader(frame)
	logCtx := logging.ContextWithPDUInfo(ctx, hdr.CommandID.String(), hdr.Sequence)
	if c.systemID != "" {
		logCtx = logging.ContextWithSystemID(logCtx, c.systemID)
	}

	if c.systemID == "" && !hdr.CommandID.IsBind() {
		slog.WarnContext(logCtx, "Command before bind")
		s.writeStatus(logCtx, c, hdr, pdu.StatusInvBndSts)
		return true
	}

	switch hdr.CommandID {
	case pdu.CommandBindTransceiver, pdu.CommandBindReceiver, pdu.CommandBindTransmitter:
		if c.systemID != "" {
			s.writeStatus(logCtx, c, hdr, pdu.StatusAlyBnd)
			return true
		}
		s.handleBind(logCtx, c, frame)
	case pdu.CommandSubmitSM:
		s.handleSubmitSM(logCtx, c, hdr, frame)
	case pdu.CommandSubmitMulti:
		s.handleSubmitMulti(logCtx, c, frame)
	case pdu.CommandQuerySM:
		s.handleQuerySM(logCtx, c, frame)
	case pdu.CommandEnquireLink:
		s.writeStatus(logCtx, c, hdr, pdu.StatusOK)
	case pdu.CommandUnbind:
		slog.InfoContext(logCtx, "Unbind requested")
		s.writeStatus(logCtx, c, hdr, pdu.StatusOK)
		return false
	case pdu.CommandDeliverSMResp, pdu.CommandEnquireLinkResp, pdu.CommandGenericNack:
		slog.DebugContext(logCtx, "Response received", slog.String("status", hdr.Status.String()))
	default:
		slog.WarnContext(logCtx, "Unsupported command")
		nack := pdu.New(pdu.CommandGenericNack, hdr.Sequence)
		nack.Status = pdu.StatusInvCmdID
		s.writePDU(logCtx, c, nack)
	}
	return true
}

func (s *Server) handleBind(ctx context.Context, c *client, frame []byte) {
	req, err := pdu.Decode(frame)
	if err != nil {
		slog.WarnContext(ctx, "Bind failed: malformed PDU", slog.Any("error", err))
		hdr, _ := pdu.ParseHeader(frame)
		s.writeStatus(ctx, c, hdr, pdu.StatusBindFailed)
		return
	}
	bind := req.Body.(*pdu.Bind)
	ctx = logging.ContextWithSystemID(ctx, bind.SystemID)

	status := pdu.StatusOK
	switch {
	case bind.SystemID == "":
		status = pdu.StatusInvSysID
	case s.cfg.Password != "" && bind.Password != s.cfg.Password:
		status = pdu.StatusInvPasswd
	}
	if status != pdu.StatusOK {
		slog.WarnContext(ctx, "Bind rejected", slog.String("status", status.String()))
		s.writePDU(ctx, c, req.Response(status))
		return
	}

	s.mu.Lock()
	c.systemID = bind.SystemID
	c.bind = req.CommandID
	c.boundAt = s.now()
	s.mu.Unlock()

	resp := req.Response(pdu.StatusOK)
	resp.Body = &pdu.BindResp{SystemID: s.cfg.SystemID}
	if err := s.writePDU(ctx, c, resp); err == nil {
		slog.InfoContext(ctx, "Bind successful", slog.String("bind", req.CommandID.String()))
	}
}

// handleSubmitSM parses the request with gosmpp and answers with a
// generated message id.
func (s *Server) handleSubmitSM(ctx context.Context, c *client, hdr pdu.Header, frame []byte) {
	parsed, err := gpdu.Parse(bytes.NewReader(frame))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse submit_sm", slog.Any("error", err))
		s.writeStatus(ctx, c, hdr, pdu.StatusInvMsgLen)
		return
	}
	submitSM, ok := parsed.(*gpdu.SubmitSM)
	if !ok {
		s.writeStatus(ctx, c, hdr, pdu.StatusInvCmdID)
		return
	}

	// The raw octets are kept as sent; the codec of the engine decodes them.
	req, err := pdu.Decode(frame)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decode submit_sm", slog.Any("error", err))
		s.writeStatus(ctx, c, hdr, pdu.StatusInvMsgLen)
		return
	}
	body := req.Body.(*pdu.SubmitSM)
	sm := body.ShortMessage
	if payload, ok := req.Options.Get(pdu.TagMessagePayload); ok {
		sm = payload
	}

	sub := Submission{
		MessageID:    uuid.NewString(),
		SystemID:     c.systemID,
		Source:       submitSM.SourceAddr.Address(),
		Destinations: []string{submitSM.DestAddr.Address()},
		DataCoding:   body.DataCoding,
		ShortMessage: sm,
		RequestDLR:   submitSM.RegisteredDelivery&0x01 != 0,
		TotalParts:   1,
		ReceivedAt:   s.now(),
	}
	if udh := submitSM.Message.UDH(); udh != nil {
		if total, _, _, found := udh.GetConcatInfo(); found {
			sub.TotalParts = int(total)
		}
	}
	if total, ok := req.Options.Uint8(pdu.TagSarTotalSegments); ok {
		sub.TotalParts = int(total)
	}

	resp := submitSM.GetResponse().(*gpdu.SubmitSMResp)
	resp.MessageID = sub.MessageID
	buf := gpdu.NewBuffer(nil)
	resp.Marshal(buf)
	if err := s.writeRaw(ctx, c, buf.Bytes()); err != nil {
		return
	}
	slog.InfoContext(logging.ContextWithMessageID(ctx, sub.MessageID), "submit_sm accepted",
		slog.String("destination", sub.Destinations[0]),
		slog.Int("octets", len(sm)))
	s.accept(ctx, c, sub)
}

func (s *Server) handleSubmitMulti(ctx context.Context, c *client, frame []byte) {
	req, err := pdu.Decode(frame)
	if err != nil {
		hdr, _ := pdu.ParseHeader(frame)
		s.writeStatus(ctx, c, hdr, pdu.StatusInvMsgLen)
		return
	}
	body := req.Body.(*pdu.SubmitMulti)
	sub := Submission{
		MessageID:    uuid.NewString(),
		SystemID:     c.systemID,
		Source:       body.SourceAddr,
		DataCoding:   body.DataCoding,
		ShortMessage: body.ShortMessage,
		RequestDLR:   body.RegisteredDelivery&0x01 != 0,
		TotalParts:   1,
		ReceivedAt:   s.now(),
	}
	var unsuccessful []pdu.UnsuccessfulSME
	for _, d := range body.Destinations {
		switch {
		case d.Flag == pdu.DestDistributionList:
			sub.Destinations = append(sub.Destinations, "dl:"+d.DistributionList)
		case d.Address == "":
			unsuccessful = append(unsuccessful, pdu.UnsuccessfulSME{TON: d.TON, NPI: d.NPI, Status: pdu.StatusInvDstAddr})
		default:
			sub.Destinations = append(sub.Destinations, d.Address)
		}
	}

	resp := req.Response(pdu.StatusOK)
	resp.Body = &pdu.SubmitMultiResp{MessageID: sub.MessageID, Unsuccessful: unsuccessful}
	if err := s.writePDU(ctx, c, resp); err != nil {
		return
	}
	s.accept(ctx, c, sub)
}

// handleQuerySM reports every message it accepted as delivered.
func (s *Server) handleQuerySM(ctx context.Context, c *client, frame []byte) {
	req, err := pdu.Decode(frame)
	if err != nil {
		hdr, _ := pdu.ParseHeader(frame)
		s.writeStatus(ctx, c, hdr, pdu.StatusQueryFail)
		return
	}
	q := req.Body.(*pdu.QuerySM)
	if _, ok := s.lookup(q.MessageID); !ok {
		s.writePDU(ctx, c, req.Response(pdu.StatusInvMsgID))
		return
	}
	resp := req.Response(pdu.StatusOK)
	resp.Body = &pdu.QuerySMResp{
		MessageID:    q.MessageID,
		FinalDate:    smppTime(s.now()),
		MessageState: 2,
	}
	s.writePDU(ctx, c, resp)
}

func (s *Server) lookup(messageID string) (Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.MessageID == messageID {
			return sub, true
		}
	}
	return Submission{}, false
}

func (s *Server) accept(ctx context.Context, c *client, sub Submission) {
	s.mu.Lock()
	s.submissions = append(s.submissions, sub)
	fn := s.onSubmit
	s.mu.Unlock()
	if fn != nil {
		fn(sub)
	}
	if sub.RequestDLR {
		s.scheduleReport(ctx, c, sub)
	}
	if s.cfg.Echo && sub.TotalParts == 1 {
		s.echo(ctx, sub)
	}
}

func (s *Server) writeStatus(ctx context.Context, c *client, req pdu.Header, status pdu.Status) {
	id := req.CommandID.Response()
	if !req.CommandID.Known() {
		id = pdu.CommandGenericNack
	}
	resp := pdu.New(id, req.Sequence)
	resp.Status = status
	s.writePDU(ctx, c, resp)
}

func (s *Server) writePDU(ctx context.Context, c *client, p *pdu.PDU) error {
	b, err := pdu.Encode(p)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode PDU", slog.Any("error", err))
		return err
	}
	return s.writeRaw(ctx, c, b)
}

func (s *Server) writeRaw(ctx context.Context, c *client, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.writer.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to write PDU", slog.Any("error", err))
	}
	return err
}
