package esme

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/dlr"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/multipart"
	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/pkg/codes"
	"github.com/thrillee/smppengine/pkg/textcodec"
)

// USSD service operations (ussd_service_op TLV).
const (
	ussdPSSRIndication = 0x01
	ussdUSSRRequest    = 0x02
	ussdPSSRResponse   = 0x11
	ussdUSSRConfirm    = 0x12
)

// dispatch handles one decoded PDU. It runs on the reading goroutine.
func (s *Session) dispatch(p *pdu.PDU) {
	ctx := logging.ContextWithPDUInfo(s.ctx, p.CommandID.String(), p.Sequence)
	slog.DebugContext(ctx, "Received PDU", slog.String("status", p.Status.String()))

	switch p.CommandID {
	case pdu.CommandBindTransmitterResp, pdu.CommandBindReceiverResp, pdu.CommandBindTransceiverResp:
		s.handleBindResp(ctx, p)
	case pdu.CommandSubmitSMResp, pdu.CommandSubmitMultiResp:
		s.handleSubmitResp(ctx, p)
	case pdu.CommandQuerySMResp:
		s.handleQueryResp(ctx, p)
	case pdu.CommandDeliverSM:
		s.handleDeliverSM(ctx, p)
	case pdu.CommandEnquireLink:
		s.reply(ctx, p, pdu.StatusOK)
	case pdu.CommandEnquireLinkResp:
		s.pending.Resolve(p.Sequence)
	case pdu.CommandUnbind:
		slog.InfoContext(ctx, "SMSC requested unbind")
		s.reply(ctx, p, pdu.StatusOK)
		s.Close(ErrUnbound)
	case pdu.CommandUnbindResp:
		s.pending.Resolve(p.Sequence)
		s.Close(ErrUnbound)
	case pdu.CommandGenericNack:
		s.handleGenericNack(ctx, p)
	default:
		if p.CommandID.IsResponse() {
			s.pending.Resolve(p.Sequence)
			slog.WarnContext(ctx, "Ignoring unexpected response")
			return
		}
		slog.WarnContext(ctx, "Rejecting unsupported command")
		nack := pdu.New(pdu.CommandGenericNack, p.Sequence)
		nack.Status = pdu.StatusInvCmdID
		if err := s.write(ctx, nack); err != nil {
			slog.WarnContext(ctx, "Failed to write generic_nack", slog.Any("error", err))
			s.closeOnWriteError(err)
		}
	}
}

func (s *Session) handleBindResp(ctx context.Context, p *pdu.PDU) {
	s.pending.Resolve(p.Sequence)
	if !s.inState(StateOpen) {
		slog.WarnContext(ctx, "Ignoring bind response outside OPEN", slog.String("state", s.State()))
		return
	}
	if !p.Status.OK() {
		slog.ErrorContext(ctx, "Bind rejected", slog.String("status", p.Status.String()))
		s.Close(&BindError{Status: p.Status})
		return
	}
	s.stopBindTimer()

	attrs := []any{}
	if body, ok := p.Body.(*pdu.BindResp); ok {
		attrs = append(attrs, slog.String("smsc_system_id", body.SystemID))
	}
	slog.InfoContext(ctx, "Bind acknowledged", attrs...)

	if err := s.state.Event(s.eventCtx(), boundEvents[p.CommandID]); err != nil {
		slog.ErrorContext(ctx, "Bind transition failed", slog.Any("error", err))
		s.Close(err)
	}
}

func (s *Session) handleSubmitResp(ctx context.Context, p *pdu.PDU) {
	req := pdu.CommandSubmitSM
	if p.CommandID == pdu.CommandSubmitMultiResp {
		req = pdu.CommandSubmitMulti
	}
	if _, ok := s.pending.Resolve(p.Sequence); !ok {
		slog.WarnContext(ctx, "Response for unknown sequence number")
	}

	ack := bus.SubmitAck{Sequence: p.Sequence, CommandID: req, Status: p.Status}
	switch body := p.Body.(type) {
	case *pdu.MessageIDResp:
		ack.MessageID = body.MessageID
	case *pdu.SubmitMultiResp:
		ack.MessageID = body.MessageID
		ack.Unsuccessful = body.Unsuccessful
	}
	s.handler.OnSubmitAck(ctx, ack)
}

func (s *Session) handleQueryResp(ctx context.Context, p *pdu.PDU) {
	s.pending.Resolve(p.Sequence)
	body, ok := p.Body.(*pdu.QuerySMResp)
	if !p.Status.OK() || !ok {
		s.handler.OnSubmitAck(ctx, bus.SubmitAck{Sequence: p.Sequence, CommandID: pdu.CommandQuerySM, Status: p.Status})
		return
	}
	r := s.matcher.MatchState(body.MessageID, body.MessageState)
	r.Fields = map[string]string{
		"final_date": body.FinalDate,
		"error_code": strconv.Itoa(int(body.ErrorCode)),
	}
	s.deliveryReport(ctx, r)
}

func (s *Session) handleGenericNack(ctx context.Context, p *pdu.PDU) {
	e, ok := s.pending.Resolve(p.Sequence)
	slog.WarnContext(ctx, "Received generic_nack", slog.String("status", p.Status.String()), slog.Bool("matched", ok))
	if !ok {
		return
	}
	switch {
	case acked(e.CommandID):
		s.handler.OnSubmitAck(ctx, bus.SubmitAck{Sequence: p.Sequence, CommandID: e.CommandID, Status: p.Status})
	case e.CommandID.IsBind():
		s.Close(&BindError{Status: p.Status})
	}
}

// handleDeliverSM acknowledges first, then recognises, in order, a TLV
// delivery report, USSD, a concatenated part and a text delivery report
// before publishing the message.
func (s *Session) handleDeliverSM(ctx context.Context, p *pdu.PDU) {
	if !s.inState(StateBoundRX, StateBoundTRX) {
		slog.WarnContext(ctx, "deliver_sm in wrong state", slog.String("state", s.State()))
		s.reply(ctx, p, pdu.StatusInvBndSts)
		return
	}
	s.reply(ctx, p, pdu.StatusOK)

	body, ok := p.Body.(*pdu.DeliverSM)
	if !ok {
		return
	}
	if r, ok := s.matcher.MatchOptions(p.Options); ok {
		s.deliveryReport(ctx, r)
		return
	}

	sm := body.ShortMessage
	if payload, ok := p.Options.Get(pdu.TagMessagePayload); ok {
		sm = payload
	}

	msg := bus.InboundMessage{
		From:       body.SourceAddr,
		To:         body.DestinationAddr,
		Type:       codes.MessageTypeSMS,
		DataCoding: body.DataCoding,
		Parts:      1,
		ReceivedAt: s.now(),
	}
	if op, ok := p.Options.Uint8(pdu.TagUssdServiceOp); ok {
		msg.Type = codes.MessageTypeUSSD
		msg.SessionEvent, msg.SessionInfo = ussdSession(op, p.Options)
	}

	if part, ok := multipart.Detect(sm, p.Options); ok {
		whole, done := s.reasm.Add(multipart.Fragment{
			Source:      body.SourceAddr,
			Destination: body.DestinationAddr,
			DataCoding:  body.DataCoding,
			Part:        part,
		})
		if !done {
			slog.DebugContext(ctx, "Stored message part",
				slog.String("kind", string(part.Kind)),
				slog.Int("ref", int(part.Reference)),
				slog.Int("part", part.Number),
				slog.Int("total", part.Total))
			return
		}
		sm = whole.Payload
		msg.DataCoding = whole.DataCoding
		msg.Parts = whole.Parts
	}

	text, err := s.decode(sm, msg.DataCoding)
	if err != nil {
		slog.ErrorContext(ctx, "Dropping undecodable message", slog.Int("data_coding", int(msg.DataCoding)), slog.Any("error", err))
		return
	}
	if r, ok := s.matcher.MatchText(text); ok {
		s.deliveryReport(ctx, r)
		return
	}

	msg.Content = text
	msg.MessageID = uuid.NewString()
	s.handler.OnInbound(logging.ContextWithMessageID(ctx, msg.MessageID), msg)
}

// decode applies the configured policy. Under the strict policy a message
// that fails to decode is retried with replacement so it is not lost.
func (s *Session) decode(data []byte, dataCoding byte) (string, error) {
	enc := s.cfg.encodingFor(dataCoding)
	text, err := textcodec.Decode(data, enc, s.cfg.ErrorPolicy)
	if err == nil || s.cfg.ErrorPolicy != textcodec.Strict {
		return text, err
	}
	slog.WarnContext(s.ctx, "Decoding with replacement", slog.String("encoding", enc), slog.Any("error", err))
	return textcodec.Decode(data, enc, textcodec.Replace)
}

func (s *Session) deliveryReport(ctx context.Context, r dlr.Report) {
	s.handler.OnDeliveryReport(ctx, bus.DeliveryReport{
		MessageID:    r.ReceiptedMessageID,
		MessageState: r.MessageState,
		Status:       r.Status,
		Fields:       r.Fields,
		ReceivedAt:   s.now(),
	})
}

// ussdSession maps ussd_service_op and its_session_info to a session event
// and the opaque session info echoed back in replies. The low bit of
// its_session_info ends the session.
func ussdSession(op byte, opts pdu.Options) (event, info string) {
	switch op {
	case ussdPSSRIndication:
		event = codes.SessionNew
	case ussdUSSRRequest, ussdUSSRConfirm:
		event = codes.SessionResume
	case ussdPSSRResponse:
		event = codes.SessionClose
	default:
		event = codes.SessionClose
	}
	v, ok := opts.Uint16(pdu.TagItsSessionInfo)
	if !ok {
		return event, "0000"
	}
	if v&1 == 1 {
		event = codes.SessionClose
	}
	return event, fmt.Sprintf("%04x", v&0xfffe)
}
