package esme

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/internal/sequence"
	"github.com/thrillee/smppengine/pkg/codes"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	writeErr error
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) sent(t *testing.T) []*pdu.PDU {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*pdu.PDU, 0, len(c.writes))
	for _, b := range c.writes {
		p, err := pdu.Decode(b)
		if err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func (c *fakeConn) last(t *testing.T) *pdu.PDU {
	t.Helper()
	all := c.sent(t)
	if len(all) == 0 {
		t.Fatal("nothing written")
	}
	return all[len(all)-1]
}

type recorder struct {
	conn *fakeConn

	mu       sync.Mutex
	inbound  []bus.InboundMessage
	acks     []bus.SubmitAck
	reports  []bus.DeliveryReport
	writesAt []int // writes on conn when OnInbound ran
}

func (r *recorder) OnInbound(_ context.Context, msg bus.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = append(r.inbound, msg)
	if r.conn != nil {
		r.writesAt = append(r.writesAt, r.conn.count())
	}
}

func (r *recorder) OnSubmitAck(_ context.Context, ack bus.SubmitAck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
}

func (r *recorder) OnDeliveryReport(_ context.Context, dr bus.DeliveryReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, dr)
}

func testConfig() Config {
	return Config{
		SystemID: "esme",
		Password: "secret",
		Submit: SubmitDefaults{
			ServiceType: "CMT",
			DestAddrTON: 1,
			DestAddrNPI: 1,
		},
	}
}

func newTestSession(t *testing.T, cfg Config, opts ...SessionOption) (*Session, *fakeConn, *recorder) {
	t.Helper()
	conn := &fakeConn{}
	rec := &recorder{conn: conn}
	s := NewSession(context.Background(), conn, cfg, sequence.NewCounter(), rec, opts...)
	t.Cleanup(func() { s.Close(nil) })
	return s, conn, rec
}

func feed(t *testing.T, s *Session, p *pdu.PDU) {
	t.Helper()
	b, err := pdu.Encode(p)
	if err != nil {
		t.Fatalf("encode %s: %v", p.CommandID, err)
	}
	if err := s.HandleData(b); err != nil {
		t.Fatalf("HandleData(%s): %v", p.CommandID, err)
	}
}

// bind opens s and answers its bind with ESME_ROK.
func bind(t *testing.T, s *Session, conn *fakeConn) {
	t.Helper()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	req := conn.last(t)
	if !req.CommandID.IsBind() {
		t.Fatalf("first PDU = %s, want a bind", req.CommandID)
	}
	feed(t, s, req.Response(pdu.StatusOK))
}

func deliverSM(seq uint32, from string, sm []byte, opts pdu.Options) *pdu.PDU {
	p := pdu.New(pdu.CommandDeliverSM, seq)
	p.Body = &pdu.DeliverSM{Message: pdu.Message{SourceAddr: from, DestinationAddr: "1234", ShortMessage: sm}}
	p.Options = opts
	return p
}

func TestBindTransitions(t *testing.T) {
	tests := []struct {
		bindType string
		request  pdu.CommandID
		state    string
	}{
		{"", pdu.CommandBindTransceiver, StateBoundTRX},
		{codes.BindTransmitter, pdu.CommandBindTransmitter, StateBoundTX},
		{codes.BindReceiver, pdu.CommandBindReceiver, StateBoundRX},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			cfg := testConfig()
			cfg.BindType = tt.bindType
			bound := 0
			s, conn, _ := newTestSession(t, cfg, WithBoundHook(func(*Session) { bound++ }))

			if got := s.State(); got != StateClosed {
				t.Fatalf("initial state = %s", got)
			}
			if err := s.Open(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := s.State(); got != StateOpen {
				t.Fatalf("state after Open = %s", got)
			}
			req := conn.last(t)
			if req.CommandID != tt.request || req.Sequence != 1 {
				t.Fatalf("sent %s seq %d, want %s seq 1", req.CommandID, req.Sequence, tt.request)
			}
			body := req.Body.(*pdu.Bind)
			if body.SystemID != "esme" || body.Password != "secret" || body.InterfaceVersion != InterfaceVersion34 {
				t.Errorf("bind body = %+v", body)
			}

			feed(t, s, req.Response(pdu.StatusOK))
			if got := s.State(); got != tt.state {
				t.Errorf("state = %s, want %s", got, tt.state)
			}
			if !s.keepAlive.Load() {
				t.Error("keep-alive not started")
			}
			if bound != 1 {
				t.Errorf("bound hook ran %d times", bound)
			}
		})
	}
}

func TestOpenTwice(t *testing.T) {
	s, _, _ := newTestSession(t, testConfig())
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(context.Background()); err == nil {
		t.Fatal("second Open succeeded")
	}
}

func TestBindRejectedClosesSession(t *testing.T) {
	var closedWith error
	s, conn, _ := newTestSession(t, testConfig(), WithClosedHook(func(_ *Session, err error) { closedWith = err }))
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	feed(t, s, conn.last(t).Response(pdu.StatusInvPasswd))

	if got := s.State(); got != StateClosed {
		t.Errorf("state = %s, want CLOSED", got)
	}
	var be *BindError
	if !errors.As(closedWith, &be) || be.Status != pdu.StatusInvPasswd {
		t.Errorf("closed with %v, want BindError(ESME_RINVPASWD)", closedWith)
	}
	if !conn.closed {
		t.Error("connection left open")
	}
}

func TestBindTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BindTimeout = 20 * time.Millisecond
	s, _, _ := newTestSession(t, cfg)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after bind timeout")
	}
	if !errors.Is(s.Err(), ErrBindTimeout) {
		t.Errorf("Err() = %v, want ErrBindTimeout", s.Err())
	}
}

func TestSubmitRequiresTransmitState(t *testing.T) {
	tests := []struct {
		name     string
		bindType string
		open     bool
		bound    bool
	}{
		{"closed", "", false, false},
		{"open", "", true, false},
		{"bound_rx", codes.BindReceiver, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BindType = tt.bindType
			s, conn, _ := newTestSession(t, cfg)
			if tt.bound {
				bind(t, s, conn)
			} else if tt.open {
				if err := s.Open(context.Background()); err != nil {
					t.Fatal(err)
				}
			}
			before := conn.count()

			seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "27820000000", Message: []byte("hi")})
			if seq != 0 || !errors.Is(err, ErrNotBound) {
				t.Errorf("SubmitSM = (%d, %v), want (0, ErrNotBound)", seq, err)
			}
			seq, err = s.SubmitMulti(context.Background(), MultiRequest{Destinations: []MultiDestination{ToAddress("1")}})
			if seq != 0 || !errors.Is(err, ErrNotBound) {
				t.Errorf("SubmitMulti = (%d, %v), want (0, ErrNotBound)", seq, err)
			}
			if conn.count() != before {
				t.Errorf("wrote %d PDUs while not bound for transmit", conn.count()-before)
			}
		})
	}
}

func TestEnquireLinkAllowedInBoundRX(t *testing.T) {
	cfg := testConfig()
	cfg.BindType = codes.BindReceiver
	s, conn, _ := newTestSession(t, cfg)
	bind(t, s, conn)

	seq, err := s.EnquireLink(context.Background())
	if err != nil || seq == 0 {
		t.Fatalf("EnquireLink = (%d, %v)", seq, err)
	}
	if got := conn.last(t).CommandID; got != pdu.CommandEnquireLink {
		t.Errorf("sent %s", got)
	}
	feed(t, s, pdu.New(pdu.CommandEnquireLinkResp, seq))
	if s.Pending() != 0 {
		t.Errorf("pending = %d after enquire_link_resp", s.Pending())
	}
}

func TestSubmitSequenceAndAck(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)

	var seqs []uint32
	for i := 0; i < 3; i++ {
		seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "27820000000", Message: []byte("hi")})
		if err != nil {
			t.Fatal(err)
		}
		seqs = append(seqs, seq)
	}
	if seqs[0] != 2 || seqs[1] != 3 || seqs[2] != 4 {
		t.Fatalf("sequence numbers = %v, want [2 3 4]", seqs)
	}
	if s.Pending() != 3 {
		t.Fatalf("pending = %d", s.Pending())
	}

	ok := pdu.New(pdu.CommandSubmitSMResp, 3)
	ok.Body = &pdu.MessageIDResp{MessageID: "m-3"}
	feed(t, s, ok)
	rejected := pdu.New(pdu.CommandSubmitSMResp, 2)
	rejected.Status = pdu.StatusThrottled
	feed(t, s, rejected)

	if len(rec.acks) != 2 {
		t.Fatalf("acks = %+v", rec.acks)
	}
	if a := rec.acks[0]; a.Sequence != 3 || !a.OK() || a.MessageID != "m-3" || a.CommandID != pdu.CommandSubmitSM {
		t.Errorf("first ack = %+v", a)
	}
	if a := rec.acks[1]; a.Sequence != 2 || a.OK() || a.Status != pdu.StatusThrottled {
		t.Errorf("second ack = %+v", a)
	}
	if s.Pending() != 1 {
		t.Errorf("pending = %d, want 1", s.Pending())
	}
}

func TestCloseFailsPending(t *testing.T) {
	closed := 0
	s, conn, rec := newTestSession(t, testConfig(), WithClosedHook(func(*Session, error) { closed++ }))
	bind(t, s, conn)
	for i := 0; i < 2; i++ {
		if _, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1", Message: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.EnquireLink(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Close(errors.New("peer reset"))
	s.Close(nil)

	if s.State() != StateClosed {
		t.Errorf("state = %s", s.State())
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d after close", s.Pending())
	}
	if len(rec.acks) != 2 {
		t.Fatalf("acks = %+v, want one per submit", rec.acks)
	}
	for i, a := range rec.acks {
		if a.Sequence != uint32(i+2) || !errors.Is(a.Err, ErrConnectionLost) {
			t.Errorf("ack %d = %+v", i, a)
		}
	}
	if closed != 1 {
		t.Errorf("closed hook ran %d times", closed)
	}
	if _, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1"}); !errors.Is(err, ErrNotBound) {
		t.Errorf("submit after close: %v", err)
	}
}

func TestWriteErrorClosesSession(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1", Message: []byte("x")})
	if seq != 0 || !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("SubmitSM = (%d, %v)", seq, err)
	}
	if !errors.Is(s.Err(), ErrConnectionLost) {
		t.Errorf("Err() = %v", s.Err())
	}
	if len(rec.acks) != 0 {
		t.Errorf("the failed submit was also acked: %+v", rec.acks)
	}
}

func TestRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = time.Minute
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, conn, rec := newTestSession(t, cfg)
	s.now = func() time.Time { return t0 }
	bind(t, s, conn)

	seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1", Message: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	s.expire(t0.Add(30 * time.Second))
	if len(rec.acks) != 0 {
		t.Fatalf("expired early: %+v", rec.acks)
	}
	s.expire(t0.Add(2 * time.Minute))
	if len(rec.acks) != 1 || rec.acks[0].Sequence != seq || !errors.Is(rec.acks[0].Err, ErrResponseTimeout) {
		t.Fatalf("acks = %+v", rec.acks)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d", s.Pending())
	}
}

func TestMergedSubmitParameters(t *testing.T) {
	s, conn, _ := newTestSession(t, testConfig())
	bind(t, s, conn)

	ton := byte(5)
	rd := byte(1)
	_, err := s.SubmitSM(context.Background(), SubmitRequest{
		Source:             "MyBrand",
		Destination:        "27820000000",
		Message:            []byte("hello"),
		SourceAddrTON:      &ton,
		RegisteredDelivery: &rd,
	})
	if err != nil {
		t.Fatal(err)
	}
	p := conn.last(t)
	m := p.Body.(*pdu.SubmitSM).Message
	if m.ServiceType != "CMT" || m.DestAddrTON != 1 || m.DestAddrNPI != 1 {
		t.Errorf("bind defaults not applied: %+v", m)
	}
	if m.SourceAddrTON != 5 || m.RegisteredDelivery != 1 || m.SourceAddr != "MyBrand" {
		t.Errorf("overrides not applied: %+v", m)
	}
	if string(m.ShortMessage) != "hello" {
		t.Errorf("short_message = %q", m.ShortMessage)
	}
}

func TestSubmitMultiDestinations(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)

	seq, err := s.SubmitMulti(context.Background(), MultiRequest{
		SubmitRequest: SubmitRequest{Message: []byte("hi all")},
		Destinations: []MultiDestination{
			ToList("staff"),
			{Address: "555", TON: ptr[byte](2), NPI: ptr[byte](9)},
			ToAddress("27820000001"),
			{Address: "556", NPI: ptr[byte](0)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	body := conn.last(t).Body.(*pdu.SubmitMulti)
	want := []pdu.Destination{
		{Flag: pdu.DestDistributionList, DistributionList: "staff"},
		{Flag: pdu.DestSMEAddress, TON: 2, NPI: 9, Address: "555"},
		{Flag: pdu.DestSMEAddress, TON: 1, NPI: 1, Address: "27820000001"},
		{Flag: pdu.DestSMEAddress, TON: 1, NPI: 0, Address: "556"},
	}
	if len(body.Destinations) != len(want) {
		t.Fatalf("destinations = %+v", body.Destinations)
	}
	for i := range want {
		if body.Destinations[i] != want[i] {
			t.Errorf("destination %d = %+v, want %+v", i, body.Destinations[i], want[i])
		}
	}

	resp := pdu.New(pdu.CommandSubmitMultiResp, seq)
	resp.Body = &pdu.SubmitMultiResp{
		MessageID:    "multi-1",
		Unsuccessful: []pdu.UnsuccessfulSME{{TON: 1, NPI: 1, Address: "27820000001", Status: pdu.StatusInvDstAddr}},
	}
	feed(t, s, resp)
	if len(rec.acks) != 1 {
		t.Fatalf("acks = %+v", rec.acks)
	}
	a := rec.acks[0]
	if a.CommandID != pdu.CommandSubmitMulti || a.MessageID != "multi-1" || len(a.Unsuccessful) != 1 {
		t.Errorf("ack = %+v", a)
	}
}

func TestSubmitMultiDestinationDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Submit.DestAddrTON = 1
	cfg.Submit.DestAddrNPI = 1
	s, conn, _ := newTestSession(t, cfg)
	bind(t, s, conn)

	// The request-level TON wins over the bind default; NPI falls through.
	if _, err := s.SubmitMulti(context.Background(), MultiRequest{
		SubmitRequest: SubmitRequest{Message: []byte("x"), DestAddrTON: ptr[byte](5)},
		Destinations:  []MultiDestination{ToAddress("555")},
	}); err != nil {
		t.Fatal(err)
	}
	d := conn.last(t).Body.(*pdu.SubmitMulti).Destinations[0]
	if d.TON != 5 || d.NPI != 1 || d.Address != "555" {
		t.Errorf("destination = %+v, want ton=5 npi=1", d)
	}

	if _, err := s.SubmitMulti(context.Background(), MultiRequest{
		SubmitRequest: SubmitRequest{Message: []byte("x")},
		Destinations:  []MultiDestination{{Address: "555"}},
	}); err != nil {
		t.Fatal(err)
	}
	d = conn.last(t).Body.(*pdu.SubmitMulti).Destinations[0]
	if d.TON != 1 || d.NPI != 1 {
		t.Errorf("destination = %+v, want the bind defaults", d)
	}
}

func TestLongMessages(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 300)

	t.Run("rejected without message_payload", func(t *testing.T) {
		s, conn, _ := newTestSession(t, testConfig())
		bind(t, s, conn)
		seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1", Message: long})
		if seq != 0 || !errors.Is(err, ErrMessageTooLong) {
			t.Errorf("SubmitSM = (%d, %v)", seq, err)
		}
	})

	t.Run("message_payload", func(t *testing.T) {
		cfg := testConfig()
		cfg.SendLongMessages = true
		cfg.SplitMode = codes.SplitNone
		s, conn, _ := newTestSession(t, cfg)
		bind(t, s, conn)
		seqs, err := s.SubmitLong(context.Background(), SubmitRequest{Destination: "1", Message: long})
		if err != nil || len(seqs) != 1 {
			t.Fatalf("SubmitLong = (%v, %v)", seqs, err)
		}
		p := conn.last(t)
		if sm := p.Body.(*pdu.SubmitSM).ShortMessage; len(sm) != 0 {
			t.Errorf("short_message has %d octets", len(sm))
		}
		if v, _ := p.Options.Get(pdu.TagMessagePayload); !bytes.Equal(v, long) {
			t.Errorf("message_payload has %d octets", len(v))
		}
	})

	t.Run("sar", func(t *testing.T) {
		s, conn, _ := newTestSession(t, testConfig())
		bind(t, s, conn)
		seqs, err := s.SubmitLong(context.Background(), SubmitRequest{Destination: "1", Message: long})
		if err != nil || len(seqs) != 3 {
			t.Fatalf("SubmitLong = (%v, %v)", seqs, err)
		}
		parts := conn.sent(t)[1:]
		var ref uint16
		var joined []byte
		for i, p := range parts {
			r, _ := p.Options.Uint16(pdu.TagSarMsgRefNum)
			total, _ := p.Options.Uint8(pdu.TagSarTotalSegments)
			n, _ := p.Options.Uint8(pdu.TagSarSegmentSeqnum)
			if i == 0 {
				ref = r
			}
			if r != ref || r == 0 || total != 3 || int(n) != i+1 {
				t.Errorf("part %d: ref=%d total=%d seq=%d", i, r, total, n)
			}
			joined = append(joined, p.Body.(*pdu.SubmitSM).ShortMessage...)
		}
		if !bytes.Equal(joined, long) {
			t.Error("parts do not join to the original message")
		}
	})

	t.Run("udh", func(t *testing.T) {
		cfg := testConfig()
		cfg.SplitMode = codes.SplitUDH
		s, conn, _ := newTestSession(t, cfg)
		bind(t, s, conn)
		if _, err := s.SubmitLong(context.Background(), SubmitRequest{Destination: "1", Message: long}); err != nil {
			t.Fatal(err)
		}
		parts := conn.sent(t)[1:]
		if len(parts) != 3 {
			t.Fatalf("sent %d parts", len(parts))
		}
		ref := parts[0].Body.(*pdu.SubmitSM).ShortMessage[3]
		for i, p := range parts {
			m := p.Body.(*pdu.SubmitSM).Message
			if m.ESMClass&esmClassUDHI == 0 {
				t.Errorf("part %d: esm_class = 0x%02X", i, m.ESMClass)
			}
			want := []byte{0x05, 0x00, 0x03, ref, 3, byte(i + 1)}
			if !bytes.HasPrefix(m.ShortMessage, want) {
				t.Errorf("part %d header = % X", i, m.ShortMessage[:6])
			}
		}
	})
}

func TestDeliverSMAckedFirst(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	before := conn.count()

	feed(t, s, deliverSM(77, "27820000000", []byte("Hello"), nil))

	resp := conn.last(t)
	if resp.CommandID != pdu.CommandDeliverSMResp || resp.Sequence != 77 || resp.Status != pdu.StatusOK {
		t.Fatalf("reply = %s seq %d %s", resp.CommandID, resp.Sequence, resp.Status)
	}
	if len(rec.inbound) != 1 {
		t.Fatalf("inbound = %+v", rec.inbound)
	}
	msg := rec.inbound[0]
	if msg.Content != "Hello" || msg.From != "27820000000" || msg.Type != codes.MessageTypeSMS || msg.MessageID == "" {
		t.Errorf("inbound = %+v", msg)
	}
	if rec.writesAt[0] != before+1 {
		t.Errorf("handler ran before deliver_sm_resp was written")
	}
}

func TestDeliverSMWrongState(t *testing.T) {
	cfg := testConfig()
	cfg.BindType = codes.BindTransmitter
	s, conn, rec := newTestSession(t, cfg)
	bind(t, s, conn)

	feed(t, s, deliverSM(9, "1", []byte("x"), nil))
	resp := conn.last(t)
	if resp.CommandID != pdu.CommandDeliverSMResp || resp.Status != pdu.StatusInvBndSts {
		t.Errorf("reply = %s %s", resp.CommandID, resp.Status)
	}
	if len(rec.inbound) != 0 {
		t.Errorf("message processed in BOUND_TX: %+v", rec.inbound)
	}
}

func TestDeliverSMDecoding(t *testing.T) {
	tests := []struct {
		name       string
		dataCoding byte
		sm         []byte
		want       string
	}{
		{"gsm", 0, []byte{0x48, 0x69, 0x1B, 0x65}, "Hi€"},
		{"ucs2", 8, []byte{0x04, 0x1F, 0x04, 0x40}, "Пр"},
		{"latin1", 3, []byte{0x63, 0x61, 0x66, 0xE9}, "café"},
		{"invalid gsm replaced", 0, []byte{0x41, 0x1B, 0x90}, "A?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, conn, rec := newTestSession(t, testConfig())
			bind(t, s, conn)
			p := deliverSM(5, "1", tt.sm, nil)
			p.Body.(*pdu.DeliverSM).DataCoding = tt.dataCoding
			feed(t, s, p)
			if len(rec.inbound) != 1 || rec.inbound[0].Content != tt.want {
				t.Errorf("inbound = %+v, want %q", rec.inbound, tt.want)
			}
		})
	}
}

func TestDeliverSMMessagePayload(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	var opts pdu.Options
	opts.Set(pdu.TagMessagePayload, []byte("from payload"))
	feed(t, s, deliverSM(5, "1", nil, opts))
	if len(rec.inbound) != 1 || rec.inbound[0].Content != "from payload" {
		t.Errorf("inbound = %+v", rec.inbound)
	}
}

func TestDeliverSMReassemblesOutOfOrder(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)

	parts := map[int]string{1: "ab", 2: "cd", 3: "ef", 4: "gh"}
	for i, n := range []int{3, 4, 2, 1} {
		sm := append([]byte{0x05, 0x00, 0x03, 0x2A, 4, byte(n)}, parts[n]...)
		feed(t, s, deliverSM(uint32(100+i), "27820000000", sm, nil))
		if i < 3 && len(rec.inbound) != 0 {
			t.Fatalf("emitted after %d parts", i+1)
		}
	}
	if conn.count() != 1+4 {
		t.Errorf("expected a deliver_sm_resp per part, wrote %d PDUs", conn.count())
	}
	if len(rec.inbound) != 1 {
		t.Fatalf("inbound = %+v", rec.inbound)
	}
	if msg := rec.inbound[0]; msg.Content != "abcdefgh" || msg.Parts != 4 {
		t.Errorf("reassembled = %+v", msg)
	}
}

func TestDeliverSMSarTLVParts(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	for n, text := range []string{"Hello ", "World"} {
		var opts pdu.Options
		opts.SetUint16(pdu.TagSarMsgRefNum, 513)
		opts.SetUint8(pdu.TagSarTotalSegments, 2)
		opts.SetUint8(pdu.TagSarSegmentSeqnum, uint8(n+1))
		feed(t, s, deliverSM(uint32(10+n), "1", []byte(text), opts))
	}
	if len(rec.inbound) != 1 || rec.inbound[0].Content != "Hello World" {
		t.Errorf("inbound = %+v", rec.inbound)
	}
}

func TestDeliverSMUSSD(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	var opts pdu.Options
	opts.SetUint8(pdu.TagUssdServiceOp, ussdPSSRIndication)
	opts.SetUint16(pdu.TagItsSessionInfo, 0x0A0C)
	feed(t, s, deliverSM(3, "27820000000", []byte("*123#"), opts))

	if len(rec.inbound) != 1 {
		t.Fatalf("inbound = %+v", rec.inbound)
	}
	msg := rec.inbound[0]
	if msg.Type != codes.MessageTypeUSSD || msg.SessionEvent != codes.SessionNew || msg.SessionInfo != "0a0c" || msg.Content != "*123#" {
		t.Errorf("ussd = %+v", msg)
	}
}

func TestUSSDSession(t *testing.T) {
	tests := []struct {
		op      byte
		info    *uint16
		event   string
		session string
	}{
		{ussdPSSRIndication, nil, codes.SessionNew, "0000"},
		{ussdUSSRRequest, ptr(uint16(0x0010)), codes.SessionResume, "0010"},
		{ussdUSSRConfirm, ptr(uint16(0x0010)), codes.SessionResume, "0010"},
		{ussdPSSRResponse, ptr(uint16(0x0010)), codes.SessionClose, "0010"},
		{ussdUSSRConfirm, ptr(uint16(0x1235)), codes.SessionClose, "1234"},
		{0x20, nil, codes.SessionClose, "0000"},
	}
	for _, tt := range tests {
		var opts pdu.Options
		if tt.info != nil {
			opts.SetUint16(pdu.TagItsSessionInfo, *tt.info)
		}
		event, info := ussdSession(tt.op, opts)
		if event != tt.event || info != tt.session {
			t.Errorf("ussdSession(0x%02X, %v) = (%q, %q), want (%q, %q)", tt.op, tt.info, event, info, tt.event, tt.session)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestDeliveryReports(t *testing.T) {
	t.Run("tlv", func(t *testing.T) {
		s, conn, rec := newTestSession(t, testConfig())
		bind(t, s, conn)
		var opts pdu.Options
		opts.SetCString(pdu.TagReceiptedMessageID, "abc123")
		opts.SetUint8(pdu.TagMessageState, 2)
		p := deliverSM(4, "1", []byte("ignored"), opts)
		p.Body.(*pdu.DeliverSM).ESMClass = 0x04
		feed(t, s, p)

		if len(rec.inbound) != 0 || len(rec.reports) != 1 {
			t.Fatalf("inbound=%+v reports=%+v", rec.inbound, rec.reports)
		}
		dr := rec.reports[0]
		if dr.MessageID != "abc123" || dr.MessageState != "DELIVERED" || dr.Status != codes.DeliveryStatusDelivered {
			t.Errorf("report = %+v", dr)
		}
	})

	t.Run("text", func(t *testing.T) {
		s, conn, rec := newTestSession(t, testConfig())
		bind(t, s, conn)
		text := "id:0123456789 sub:001 dlvrd:000 submit date:1102231200 done date:1102231201 stat:UNDELIV err:001 text:Hello"
		feed(t, s, deliverSM(4, "1", []byte(text), nil))

		if len(rec.inbound) != 0 || len(rec.reports) != 1 {
			t.Fatalf("inbound=%+v reports=%+v", rec.inbound, rec.reports)
		}
		dr := rec.reports[0]
		if dr.MessageID != "0123456789" || dr.Status != codes.DeliveryStatusFailed || dr.Fields["err"] != "001" {
			t.Errorf("report = %+v", dr)
		}
	})

	t.Run("query_sm_resp", func(t *testing.T) {
		s, conn, rec := newTestSession(t, testConfig())
		bind(t, s, conn)
		seq, err := s.QuerySM(context.Background(), "m-9", "MyBrand")
		if err != nil {
			t.Fatal(err)
		}
		resp := pdu.New(pdu.CommandQuerySMResp, seq)
		resp.Body = &pdu.QuerySMResp{MessageID: "m-9", FinalDate: "240101120000000+", MessageState: 3, ErrorCode: 5}
		feed(t, s, resp)
		if len(rec.reports) != 1 {
			t.Fatalf("reports = %+v", rec.reports)
		}
		dr := rec.reports[0]
		if dr.MessageID != "m-9" || dr.Status != codes.DeliveryStatusFailed || dr.Fields["error_code"] != "5" {
			t.Errorf("report = %+v", dr)
		}
	})
}

func TestUnknownCommandGetsGenericNack(t *testing.T) {
	s, conn, _ := newTestSession(t, testConfig())
	bind(t, s, conn)
	p := pdu.New(pdu.CommandID(0x00000103), 55) // data_sm
	p.Body = &pdu.Raw{Data: []byte{0, 1, 1, 0}}
	feed(t, s, p)

	nack := conn.last(t)
	if nack.CommandID != pdu.CommandGenericNack || nack.Sequence != 55 || nack.Status != pdu.StatusInvCmdID {
		t.Errorf("reply = %s seq %d %s", nack.CommandID, nack.Sequence, nack.Status)
	}
	if s.State() != StateBoundTRX {
		t.Errorf("state = %s", s.State())
	}
}

func TestGenericNackFailsSubmit(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)
	seq, err := s.SubmitSM(context.Background(), SubmitRequest{Destination: "1", Message: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	nack := pdu.New(pdu.CommandGenericNack, seq)
	nack.Status = pdu.StatusInvCmdLen
	feed(t, s, nack)
	if len(rec.acks) != 1 || rec.acks[0].Status != pdu.StatusInvCmdLen || rec.acks[0].Sequence != seq {
		t.Errorf("acks = %+v", rec.acks)
	}
}

func TestEnquireLinkAnswered(t *testing.T) {
	s, conn, _ := newTestSession(t, testConfig())
	bind(t, s, conn)
	feed(t, s, pdu.New(pdu.CommandEnquireLink, 900))
	resp := conn.last(t)
	if resp.CommandID != pdu.CommandEnquireLinkResp || resp.Sequence != 900 {
		t.Errorf("reply = %s seq %d", resp.CommandID, resp.Sequence)
	}
}

func TestUnbind(t *testing.T) {
	t.Run("requested by smsc", func(t *testing.T) {
		s, conn, _ := newTestSession(t, testConfig())
		bind(t, s, conn)
		feed(t, s, pdu.New(pdu.CommandUnbind, 12))
		resp := conn.last(t)
		if resp.CommandID != pdu.CommandUnbindResp || resp.Sequence != 12 {
			t.Errorf("reply = %s seq %d", resp.CommandID, resp.Sequence)
		}
		if !errors.Is(s.Err(), ErrUnbound) || s.State() != StateClosed {
			t.Errorf("state=%s err=%v", s.State(), s.Err())
		}
	})

	t.Run("requested by us", func(t *testing.T) {
		s, conn, _ := newTestSession(t, testConfig())
		bind(t, s, conn)
		seq, err := s.Unbind(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if conn.last(t).CommandID != pdu.CommandUnbind {
			t.Fatalf("sent %s", conn.last(t).CommandID)
		}
		feed(t, s, pdu.New(pdu.CommandUnbindResp, seq))
		if !errors.Is(s.Err(), ErrUnbound) {
			t.Errorf("Err() = %v", s.Err())
		}
	})
}

func TestFramesProcessedInOrderAcrossChunks(t *testing.T) {
	s, conn, rec := newTestSession(t, testConfig())
	bind(t, s, conn)

	var stream []byte
	for i, text := range []string{"one", "two", "three"} {
		b, err := pdu.Encode(deliverSM(uint32(20+i), "1", []byte(text), nil))
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, b...)
	}
	for len(stream) > 0 {
		n := min(7, len(stream))
		if err := s.HandleData(stream[:n]); err != nil {
			t.Fatal(err)
		}
		stream = stream[n:]
	}
	if len(rec.inbound) != 3 {
		t.Fatalf("inbound = %+v", rec.inbound)
	}
	for i, want := range []string{"one", "two", "three"} {
		if rec.inbound[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, rec.inbound[i].Content, want)
		}
	}
}

func TestFramingErrorClosesSession(t *testing.T) {
	s, conn, _ := newTestSession(t, testConfig())
	bind(t, s, conn)
	bad := []byte{0, 0, 0, 8, 0, 0, 0, 0x15, 0, 0, 0, 0, 0, 0, 0, 1}
	err := s.HandleData(bad)
	var fe *pdu.FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("HandleData = %v, want FramingError", err)
	}
	if s.State() != StateClosed || !conn.closed {
		t.Errorf("state=%s closed=%v", s.State(), conn.closed)
	}
}
