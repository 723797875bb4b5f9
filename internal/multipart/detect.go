// Package multipart detects concatenated SMS fragments and reassembles them
// into whole messages.
package multipart

import (
	"encoding/binary"

	"github.com/thrillee/smppengine/internal/pdu"
)

// Kind names the wire convention a fragment was marked with.
type Kind string

const (
	KindSarTLV Kind = "sar_tlv" // sar_* optional parameters
	KindSar    Kind = "sar"     // 00 03 ref total part
	KindCSM    Kind = "csm"     // UDH 05 00 03 ref total part
	KindCSM16  Kind = "csm16"   // UDH 06 00 04 ref ref total part
)

// Part is one detected fragment.
type Part struct {
	Kind      Kind
	Reference uint16
	Total     int
	Number    int
	Payload   []byte
}

// Detect inspects a short message and its optional parameters. The checks
// run in priority order since the later header forms are looser.
func Detect(shortMessage []byte, opts pdu.Options) (Part, bool) {
	if p, ok := detectSarTLV(shortMessage, opts); ok {
		return p, true
	}

	sm := shortMessage
	switch {
	case len(sm) >= 5 && sm[0] == 0x00 && sm[1] == 0x03:
		return valid(Part{
			Kind:      KindSar,
			Reference: uint16(sm[2]),
			Total:     int(sm[3]),
			Number:    int(sm[4]),
			Payload:   sm[5:],
		})
	case len(sm) >= 6 && sm[0] == 0x05 && sm[1] == 0x00 && sm[2] == 0x03:
		return valid(Part{
			Kind:      KindCSM,
			Reference: uint16(sm[3]),
			Total:     int(sm[4]),
			Number:    int(sm[5]),
			Payload:   sm[6:],
		})
	case len(sm) >= 7 && sm[0] == 0x06 && sm[1] == 0x00 && sm[2] == 0x04:
		return valid(Part{
			Kind:      KindCSM16,
			Reference: binary.BigEndian.Uint16(sm[3:5]),
			Total:     int(sm[5]),
			Number:    int(sm[6]),
			Payload:   sm[7:],
		})
	}
	return Part{}, false
}

func detectSarTLV(sm []byte, opts pdu.Options) (Part, bool) {
	ref, ok := opts.Uint16(pdu.TagSarMsgRefNum)
	if !ok {
		return Part{}, false
	}
	total, ok := opts.Uint8(pdu.TagSarTotalSegments)
	if !ok {
		return Part{}, false
	}
	seq, ok := opts.Uint8(pdu.TagSarSegmentSeqnum)
	if !ok {
		return Part{}, false
	}
	return valid(Part{
		Kind:      KindSarTLV,
		Reference: ref,
		Total:     int(total),
		Number:    int(seq),
		Payload:   sm,
	})
}

func valid(p Part) (Part, bool) {
	if p.Total < 1 || p.Number < 1 || p.Number > p.Total {
		return Part{}, false
	}
	if p.Payload == nil {
		p.Payload = []byte{}
	}
	return p, true
}
