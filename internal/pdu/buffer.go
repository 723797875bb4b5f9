package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// C-octet string limits from SMPP v3.4 section 4, NUL terminator included.
const (
	maxSystemID     = 16
	maxPassword     = 9
	maxSystemType   = 13
	maxAddressRange = 41
	maxServiceType  = 6
	maxAddr         = 21
	maxTime         = 17
	maxMessageID    = 65
	maxDLName       = 21

	// MaxShortMessage is the largest sm_length allowed in submit_sm/deliver_sm.
	MaxShortMessage = 254
)

// writer appends body fields. The first error sticks.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) byte1(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// cstring writes s followed by NUL; max counts the terminator.
func (w *writer) cstring(field, s string, max int) {
	if w.err != nil {
		return
	}
	if len(s)+1 > max {
		w.err = fmt.Errorf("%s exceeds %d octets: %q", field, max-1, s)
		return
	}
	if bytes.IndexByte([]byte(s), 0x00) >= 0 {
		w.err = fmt.Errorf("%s contains NUL", field)
		return
	}
	w.buf.WriteString(s)
	w.buf.WriteByte(0x00)
}

// shortMessage writes sm_length followed by the octets.
func (w *writer) shortMessage(sm []byte) {
	if w.err != nil {
		return
	}
	if len(sm) > MaxShortMessage {
		w.err = fmt.Errorf("short_message is %d octets, limit %d", len(sm), MaxShortMessage)
		return
	}
	w.buf.WriteByte(byte(len(sm)))
	w.buf.Write(sm)
}

// reader consumes body fields. Failures are reported as a FramingError.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &FramingError{Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) byte1(field string) byte {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 1 {
		r.fail("truncated before %s", field)
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) uint16(field string) uint16 {
	b := r.octets(field, 2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32(field string) uint32 {
	b := r.octets(field, 4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// octets returns a copy of the next n bytes, or nil when n is zero.
func (r *reader) octets(field string, n int) []byte {
	if r.err != nil || n == 0 {
		return nil
	}
	if r.remaining() < n {
		r.fail("truncated %s: need %d octets, have %d", field, n, r.remaining())
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out
}

// cstring reads a NUL-terminated string. Carriers overrun the documented
// maxima often enough that decode only requires the terminator.
func (r *reader) cstring(field string) string {
	if r.err != nil {
		return ""
	}
	idx := bytes.IndexByte(r.buf[r.off:], 0x00)
	if idx == -1 {
		r.fail("%s is not NUL terminated", field)
		return ""
	}
	s := string(r.buf[r.off : r.off+idx])
	r.off += idx + 1
	return s
}

func (r *reader) shortMessage() []byte {
	n := r.byte1("sm_length")
	return r.octets("short_message", int(n))
}

// options parses the TLVs that follow the mandatory parameters.
func (r *reader) options() Options {
	var opts Options
	for r.err == nil && r.remaining() > 0 {
		if r.remaining() < 4 {
			r.fail("truncated TLV header: %d octets left", r.remaining())
			return nil
		}
		tag := Tag(r.uint16("tlv tag"))
		length := int(r.uint16("tlv length"))
		value := r.octets(fmt.Sprintf("tlv 0x%04X", uint16(tag)), length)
		if r.err != nil {
			return nil
		}
		if value == nil {
			value = []byte{}
		}
		opts.Set(tag, value)
	}
	return opts
}
