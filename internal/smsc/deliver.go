package smsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/linxGnu/gosmpp/data"
	gpdu "github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/pkg/textcodec"
)

// esmClassReceipt marks a deliver_sm as an SMSC delivery receipt.
const esmClassReceipt = 0x04

// ErrNoReceiver is returned when no bound receiver matches the system id.
var ErrNoReceiver = errors.New("no bound receiver")

// ReceiptText formats a delivery receipt as in SMPP v3.4 appendix B.
func ReceiptText(messageID, stat string, submitted, done time.Time, text string) string {
	stat = strings.ToUpper(stat)
	if len(stat) > 7 {
		stat = stat[:7]
	}
	dlvrd := "000"
	if stat == "DELIVRD" {
		dlvrd = "001"
	}
	if r := []rune(text); len(r) > 20 {
		text = string(r[:20])
	}
	return fmt.Sprintf("id:%s sub:001 dlvrd:%s submit date:%s done date:%s stat:%s err:000 text:%s",
		messageID, dlvrd, submitted.UTC().Format("0601021504"), done.UTC().Format("0601021504"), stat, text)
}

func smppTime(t time.Time) string {
	return t.UTC().Format("060102150405") + "000+"
}

// receiverFor prefers the submitting connection and falls back to any
// receiver bound with the same system id.
func (s *Server) receiverFor(systemID string, prefer *client) *client {
	if prefer != nil && prefer.receives() {
		return prefer
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.systemID == systemID && c.receives() {
			return c
		}
	}
	return nil
}

func (s *Server) scheduleReport(ctx context.Context, c *client, sub Submission) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.ReportDelay)
		defer timer.Stop()
		select {
		case <-s.shutdown:
			return
		case <-timer.C:
		}

		ctx := logging.ContextWithMessageID(ctx, sub.MessageID)
		rc := s.receiverFor(sub.SystemID, c)
		if rc == nil {
			slog.WarnContext(ctx, "Dropping delivery receipt", slog.Any("error", ErrNoReceiver))
			return
		}
		preview, _ := textcodec.Decode(sub.ShortMessage, textcodec.GSM0338, textcodec.Replace)
		text := ReceiptText(sub.MessageID, "DELIVRD", sub.ReceivedAt, s.now(), preview)
		dest := ""
		if len(sub.Destinations) > 0 {
			dest = sub.Destinations[0]
		}
		if err := s.sendText(ctx, rc, dest, sub.Source, text, esmClassReceipt); err != nil {
			slog.WarnContext(ctx, "Failed to send delivery receipt", slog.Any("error", err))
			return
		}
		slog.InfoContext(ctx, "Delivery receipt sent")
	}()
}

// echo returns a submission to its sender as a mobile-originated message.
func (s *Server) echo(ctx context.Context, sub Submission) {
	enc := textcodec.GSM0338
	if sub.DataCoding == 8 {
		enc = textcodec.UCS2
	}
	text, _ := textcodec.Decode(sub.ShortMessage, enc, textcodec.Replace)
	for _, dest := range sub.Destinations {
		if err := s.DeliverText(ctx, sub.SystemID, dest, sub.Source, text); err != nil {
			slog.WarnContext(ctx, "Failed to echo message", slog.String("destination", dest), slog.Any("error", err))
		}
	}
}

// DeliverText pushes a mobile-originated text message to a receiver bound
// as systemID. GSM 03.38 is used when the text allows it, UCS2 otherwise.
func (s *Server) DeliverText(ctx context.Context, systemID, from, to, text string) error {
	c := s.receiverFor(systemID, nil)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoReceiver, systemID)
	}
	return s.sendText(ctx, c, from, to, text, 0)
}

// sendText builds the deliver_sm with gosmpp.
func (s *Server) sendText(ctx context.Context, c *client, from, to, text string, esmClass byte) error {
	p := gpdu.NewDeliverSM().(*gpdu.DeliverSM)

	src := gpdu.NewAddress()
	src.SetTon(1)
	src.SetNpi(1)
	if err := src.SetAddress(from); err != nil {
		return fmt.Errorf("invalid source address %q: %w", from, err)
	}
	p.SourceAddr = src

	dst := gpdu.NewAddress()
	dst.SetTon(1)
	dst.SetNpi(1)
	if err := dst.SetAddress(to); err != nil {
		return fmt.Errorf("invalid destination address %q: %w", to, err)
	}
	p.DestAddr = dst

	coding := data.GSM7BIT
	if !textcodec.IsGSM(text) {
		coding = data.UCS2
	}
	if err := p.Message.SetMessageWithEncoding(text, coding); err != nil {
		return fmt.Errorf("set message (data_coding %d): %w", coding.DataCoding(), err)
	}
	p.EsmClass = esmClass
	p.RegisteredDelivery = 0

	seq, err := s.seq.Next(ctx)
	if err != nil {
		return err
	}
	p.SequenceNumber = int32(seq)

	buf := gpdu.NewBuffer(nil)
	p.Marshal(buf)
	return s.writeRaw(logging.ContextWithPDUInfo(ctx, pdu.CommandDeliverSM.String(), seq), c, buf.Bytes())
}

// Deliver pushes a deliver_sm built by the caller, for messages gosmpp's
// text helpers cannot express such as USSD or pre-split parts. The
// sequence number is assigned here.
func (s *Server) Deliver(ctx context.Context, systemID string, msg pdu.Message, opts pdu.Options) error {
	c := s.receiverFor(systemID, nil)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoReceiver, systemID)
	}
	seq, err := s.seq.Next(ctx)
	if err != nil {
		return err
	}
	p := pdu.New(pdu.CommandDeliverSM, seq)
	p.Body = &pdu.DeliverSM{Message: msg}
	p.Options = opts
	return s.writePDU(logging.ContextWithPDUInfo(ctx, p.CommandID.String(), seq), c, p)
}
