package smpphelper

import (
	"math/rand/v2"

	"github.com/thrillee/smppengine/internal/pdu"
)

// NewReference returns a concatenation reference in 1..255.
func NewReference() uint8 {
	return uint8(rand.IntN(255) + 1)
}

// EncodeConcatenatedUDH creates the UDH byte slice for multipart messages:
// one concatenation element with an 8-bit reference.
func EncodeConcatenatedUDH(ref, totalSegments, sequenceNum uint8) []byte {
	return []byte{0x05, 0x00, 0x03, ref, totalSegments, sequenceNum}
}

// SetSAR stores the three SAR options of one part.
func SetSAR(opts *pdu.Options, ref uint16, totalSegments, sequenceNum uint8) {
	opts.SetUint16(pdu.TagSarMsgRefNum, ref)
	opts.SetUint8(pdu.TagSarTotalSegments, totalSegments)
	opts.SetUint8(pdu.TagSarSegmentSeqnum, sequenceNum)
}
