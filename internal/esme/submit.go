package esme

import (
	"context"
	"fmt"

	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/pkg/codes"
	"github.com/thrillee/smppengine/pkg/segmenter"
	"github.com/thrillee/smppengine/pkg/smpphelper"
)

// esmClassUDHI flags a short message that starts with a user data header.
const esmClassUDHI = 0x40

// SubmitRequest is one submit_sm. Nil pointer fields take the value from
// Config.Submit.
type SubmitRequest struct {
	Source      string
	Destination string
	Message     []byte // already encoded for DataCoding

	ServiceType          *string
	SourceAddrTON        *byte
	SourceAddrNPI        *byte
	DestAddrTON          *byte
	DestAddrNPI          *byte
	ESMClass             *byte
	ProtocolID           *byte
	PriorityFlag         *byte
	ScheduleDeliveryTime *string
	ValidityPeriod       *string
	RegisteredDelivery   *byte
	ReplaceIfPresent     *byte
	DataCoding           *byte
	SMDefaultMsgID       *byte

	Options pdu.Options
}

// MultiDestination is one entry of a submit_multi destination list: an SME
// address, or a distribution list when DistributionList is set. Unset
// TON/NPI fall back to the request, then to the bind defaults.
type MultiDestination struct {
	Address          string
	TON              *byte
	NPI              *byte
	DistributionList string
}

// ToAddress is a destination using the default TON/NPI.
func ToAddress(addr string) MultiDestination {
	return MultiDestination{Address: addr}
}

// ToList is a distribution list destination.
func ToList(name string) MultiDestination {
	return MultiDestination{DistributionList: name}
}

// MultiRequest is one submit_multi. Destinations go on the wire in the
// order given.
type MultiRequest struct {
	SubmitRequest
	Destinations []MultiDestination
}

func or[T any](v *T, def T) T {
	if v != nil {
		return *v
	}
	return def
}

// mergeSubmit overlays a request on the bind defaults.
func mergeSubmit(d SubmitDefaults, r SubmitRequest) pdu.Message {
	return pdu.Message{
		ServiceType:          or(r.ServiceType, d.ServiceType),
		SourceAddrTON:        or(r.SourceAddrTON, d.SourceAddrTON),
		SourceAddrNPI:        or(r.SourceAddrNPI, d.SourceAddrNPI),
		SourceAddr:           r.Source,
		DestAddrTON:          or(r.DestAddrTON, d.DestAddrTON),
		DestAddrNPI:          or(r.DestAddrNPI, d.DestAddrNPI),
		DestinationAddr:      r.Destination,
		ESMClass:             or(r.ESMClass, d.ESMClass),
		ProtocolID:           or(r.ProtocolID, d.ProtocolID),
		PriorityFlag:         or(r.PriorityFlag, d.PriorityFlag),
		ScheduleDeliveryTime: or(r.ScheduleDeliveryTime, d.ScheduleDeliveryTime),
		ValidityPeriod:       or(r.ValidityPeriod, d.ValidityPeriod),
		RegisteredDelivery:   or(r.RegisteredDelivery, d.RegisteredDelivery),
		ReplaceIfPresent:     or(r.ReplaceIfPresent, d.ReplaceIfPresent),
		DataCoding:           or(r.DataCoding, d.DataCoding),
		SMDefaultMsgID:       or(r.SMDefaultMsgID, d.SMDefaultMsgID),
		ShortMessage:         r.Message,
	}
}

func cloneOptions(o pdu.Options) pdu.Options {
	if len(o) == 0 {
		return nil
	}
	c := make(pdu.Options, len(o))
	for tag, v := range o {
		c[tag] = append([]byte(nil), v...)
	}
	return c
}

// SubmitSM sends one submit_sm and returns its sequence number. It returns
// (0, ErrNotBound) unless the session is BOUND_TX or BOUND_TRX. Messages
// longer than 254 octets go into message_payload when SendLongMessages is
// set and are rejected otherwise.
func (s *Session) SubmitSM(ctx context.Context, r SubmitRequest) (uint32, error) {
	if !s.inState(StateBoundTX, StateBoundTRX) {
		return 0, ErrNotBound
	}
	msg := mergeSubmit(s.cfg.Submit, r)
	opts := cloneOptions(r.Options)
	if len(msg.ShortMessage) > pdu.MaxShortMessage {
		if !s.cfg.SendLongMessages {
			return 0, fmt.Errorf("%w: %d octets", ErrMessageTooLong, len(msg.ShortMessage))
		}
		opts.Set(pdu.TagMessagePayload, msg.ShortMessage)
		msg.ShortMessage = nil
	}
	p := pdu.New(pdu.CommandSubmitSM, 0)
	p.Body = &pdu.SubmitSM{Message: msg}
	p.Options = opts
	return s.request(ctx, p, StateBoundTX, StateBoundTRX)
}

// SubmitLong sends r as one submit_sm when it fits in 140 octets, and
// otherwise as 130-octet parts concatenated by SAR options or by a UDH,
// following Config.SplitMode. It returns the sequence number of every part
// sent; on error the parts already sent are returned with it.
func (s *Session) SubmitLong(ctx context.Context, r SubmitRequest) ([]uint32, error) {
	if len(r.Message) <= segmenter.MaxSingleOctets || s.cfg.SplitMode == codes.SplitNone {
		seq, err := s.SubmitSM(ctx, r)
		if err != nil {
			return nil, err
		}
		return []uint32{seq}, nil
	}
	return s.SubmitParts(ctx, r, segmenter.SplitOctets(r.Message, segmenter.MultipartOctets))
}

// SubmitParts sends each part as a submit_sm carrying r's envelope, tied
// together with a random reference according to Config.SplitMode.
func (s *Session) SubmitParts(ctx context.Context, r SubmitRequest, parts [][]byte) ([]uint32, error) {
	if !s.inState(StateBoundTX, StateBoundTRX) {
		return nil, ErrNotBound
	}
	if len(parts) == 1 || s.cfg.SplitMode == codes.SplitNone {
		var seqs []uint32
		for _, p := range parts {
			part := r
			part.Message = p
			seq, err := s.SubmitSM(ctx, part)
			if err != nil {
				return seqs, err
			}
			seqs = append(seqs, seq)
		}
		return seqs, nil
	}
	if len(parts) > 255 {
		return nil, fmt.Errorf("%w: %d parts", ErrMessageTooLong, len(parts))
	}

	ref := smpphelper.NewReference()
	total := uint8(len(parts))
	seqs := make([]uint32, 0, len(parts))
	for i, p := range parts {
		part := r
		part.Options = cloneOptions(r.Options)
		switch s.cfg.SplitMode {
		case codes.SplitUDH:
			esm := or(r.ESMClass, s.cfg.Submit.ESMClass) | esmClassUDHI
			part.ESMClass = &esm
			part.Message = append(smpphelper.EncodeConcatenatedUDH(ref, total, uint8(i+1)), p...)
		default:
			smpphelper.SetSAR(&part.Options, uint16(ref), total, uint8(i+1))
			part.Message = p
		}
		seq, err := s.SubmitSM(ctx, part)
		if err != nil {
			return seqs, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// SubmitMulti sends one submit_multi to every destination of r.
func (s *Session) SubmitMulti(ctx context.Context, r MultiRequest) (uint32, error) {
	if !s.inState(StateBoundTX, StateBoundTRX) {
		return 0, ErrNotBound
	}
	msg := mergeSubmit(s.cfg.Submit, r.SubmitRequest)

	dests := make([]pdu.Destination, 0, len(r.Destinations))
	for _, d := range r.Destinations {
		if d.DistributionList != "" {
			dests = append(dests, pdu.Destination{Flag: pdu.DestDistributionList, DistributionList: d.DistributionList})
			continue
		}
		dests = append(dests, pdu.Destination{
			Flag:    pdu.DestSMEAddress,
			TON:     or(d.TON, msg.DestAddrTON),
			NPI:     or(d.NPI, msg.DestAddrNPI),
			Address: d.Address,
		})
	}

	p := pdu.New(pdu.CommandSubmitMulti, 0)
	p.Body = &pdu.SubmitMulti{
		ServiceType:          msg.ServiceType,
		SourceAddrTON:        msg.SourceAddrTON,
		SourceAddrNPI:        msg.SourceAddrNPI,
		SourceAddr:           msg.SourceAddr,
		Destinations:         dests,
		ESMClass:             msg.ESMClass,
		ProtocolID:           msg.ProtocolID,
		PriorityFlag:         msg.PriorityFlag,
		ScheduleDeliveryTime: msg.ScheduleDeliveryTime,
		ValidityPeriod:       msg.ValidityPeriod,
		RegisteredDelivery:   msg.RegisteredDelivery,
		ReplaceIfPresent:     msg.ReplaceIfPresent,
		DataCoding:           msg.DataCoding,
		SMDefaultMsgID:       msg.SMDefaultMsgID,
		ShortMessage:         msg.ShortMessage,
	}
	p.Options = cloneOptions(r.Options)
	return s.request(ctx, p, StateBoundTX, StateBoundTRX)
}

// QuerySM asks for the state of a previously submitted message. The answer
// arrives as a delivery report.
func (s *Session) QuerySM(ctx context.Context, messageID, source string) (uint32, error) {
	p := pdu.New(pdu.CommandQuerySM, 0)
	p.Body = &pdu.QuerySM{
		MessageID:     messageID,
		SourceAddrTON: s.cfg.Submit.SourceAddrTON,
		SourceAddrNPI: s.cfg.Submit.SourceAddrNPI,
		SourceAddr:    source,
	}
	return s.request(ctx, p, StateBoundTX, StateBoundTRX)
}

// EnquireLink sends enquire_link in any bound state.
func (s *Session) EnquireLink(ctx context.Context) (uint32, error) {
	return s.request(ctx, pdu.New(pdu.CommandEnquireLink, 0), StateBoundTX, StateBoundRX, StateBoundTRX)
}

// Unbind asks the SMSC to end the session. The connection closes when
// unbind_resp arrives.
func (s *Session) Unbind(ctx context.Context) (uint32, error) {
	return s.request(ctx, pdu.New(pdu.CommandUnbind, 0), StateBoundTX, StateBoundRX, StateBoundTRX)
}
