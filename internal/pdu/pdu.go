// Package pdu encodes and decodes SMPP v3.4 protocol data units.
//
// The codec is pure: Decode takes exactly one frame and Encode produces one
// length-prefixed frame. Splitting a byte stream into frames is done by
// FrameBuffer.
package pdu

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the size of the fixed PDU header.
	HeaderLength = 16

	// MaxPDULength bounds the declared length accepted from the wire.
	MaxPDULength = 64 * 1024
)

// FramingError reports a malformed length prefix or a truncated frame.
// The connection that produced it should be dropped.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "smpp framing: " + e.Reason
}

// Header is the fixed 16 byte PDU header.
type Header struct {
	Length    uint32
	CommandID CommandID
	Status    Status
	Sequence  uint32
}

// PDU is one decoded SMPP message.
type PDU struct {
	CommandID CommandID
	Status    Status
	Sequence  uint32
	Body      Body
	Options   Options
}

// New returns a PDU for id with an empty body of the matching type.
func New(id CommandID, seq uint32) *PDU {
	return &PDU{CommandID: id, Sequence: seq, Body: newBody(id)}
}

// Response builds the response PDU to p with the same sequence number.
func (p *PDU) Response(status Status) *PDU {
	resp := New(p.CommandID.Response(), p.Sequence)
	resp.Status = status
	return resp
}

// ParseHeader reads the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, &FramingError{Reason: fmt.Sprintf("header needs %d octets, have %d", HeaderLength, len(b))}
	}
	return Header{
		Length:    binary.BigEndian.Uint32(b[0:4]),
		CommandID: CommandID(binary.BigEndian.Uint32(b[4:8])),
		Status:    Status(binary.BigEndian.Uint32(b[8:12])),
		Sequence:  binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Decode parses one complete frame. The declared length must be at least
// the header size and must not exceed len(b).
func Decode(b []byte) (*PDU, error) {
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if hdr.Length < HeaderLength {
		return nil, &FramingError{Reason: fmt.Sprintf("declared length %d below header size", hdr.Length)}
	}
	if int(hdr.Length) > len(b) {
		return nil, &FramingError{Reason: fmt.Sprintf("declared length %d exceeds buffer of %d octets", hdr.Length, len(b))}
	}

	p := &PDU{
		CommandID: hdr.CommandID,
		Status:    hdr.Status,
		Sequence:  hdr.Sequence,
		Body:      newBody(hdr.CommandID),
	}

	body := b[HeaderLength:hdr.Length]
	// Error responses are frequently sent header-only.
	if len(body) == 0 && hdr.CommandID.IsResponse() {
		return p, nil
	}

	r := &reader{buf: body}
	p.Body.unmarshal(r)
	if acceptsOptions(hdr.CommandID) {
		p.Options = r.options()
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// Encode serialises p. The length prefix always equals the returned size.
func Encode(p *PDU) ([]byte, error) {
	body := p.Body
	if body == nil {
		body = newBody(p.CommandID)
	}

	w := &writer{}
	w.buf.Write(make([]byte, HeaderLength))
	body.marshal(w)
	if w.err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.CommandID, w.err)
	}
	for _, tag := range p.Options.tags() {
		v := p.Options[tag]
		if len(v) > 0xFFFF {
			return nil, fmt.Errorf("encode %s: tlv 0x%04X too long (%d octets)", p.CommandID, uint16(tag), len(v))
		}
		var tl [4]byte
		binary.BigEndian.PutUint16(tl[0:2], uint16(tag))
		binary.BigEndian.PutUint16(tl[2:4], uint16(len(v)))
		w.buf.Write(tl[:])
		w.buf.Write(v)
	}

	out := w.buf.Bytes()
	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	binary.BigEndian.PutUint32(out[4:8], uint32(p.CommandID))
	binary.BigEndian.PutUint32(out[8:12], uint32(p.Status))
	binary.BigEndian.PutUint32(out[12:16], p.Sequence)
	return out, nil
}
