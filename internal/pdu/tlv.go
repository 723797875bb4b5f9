package pdu

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Tag is the 16-bit tag of an optional (TLV) parameter.
type Tag uint16

// Optional parameter tags used by the engine.
const (
	TagDestAddrSubunit        Tag = 0x0005
	TagReceiptedMessageID     Tag = 0x001E
	TagUserMessageReference   Tag = 0x0204
	TagSourcePort             Tag = 0x020A
	TagDestinationPort        Tag = 0x020B
	TagSarMsgRefNum           Tag = 0x020C
	TagLanguageIndicator      Tag = 0x020D
	TagSarTotalSegments       Tag = 0x020E
	TagSarSegmentSeqnum       Tag = 0x020F
	TagScInterfaceVersion     Tag = 0x0210
	TagNetworkErrorCode       Tag = 0x0423
	TagMessagePayload         Tag = 0x0424
	TagDeliveryFailureReason  Tag = 0x0425
	TagMessageState           Tag = 0x0427
	TagUssdServiceOp          Tag = 0x0501
	TagItsSessionInfo         Tag = 0x1383
	TagMoreMessagesToSend     Tag = 0x0426
	TagPrivacyIndicator       Tag = 0x0201
	TagCallbackNum            Tag = 0x0381
	TagSourceSubaddress       Tag = 0x0202
	TagDestSubaddress         Tag = 0x0203
	TagDisplayTime            Tag = 0x1201
	TagSmsSignal              Tag = 0x1203
	TagMsValidity             Tag = 0x1204
	TagAlertOnMessageDelivery Tag = 0x130C
	TagItsReplyType           Tag = 0x1380
)

// Options holds the optional parameters of a PDU keyed by tag.
// A nil Options is valid and empty.
type Options map[Tag][]byte

// Get returns the raw value for tag.
func (o Options) Get(tag Tag) ([]byte, bool) {
	v, ok := o[tag]
	return v, ok
}

// Has reports whether tag is present.
func (o Options) Has(tag Tag) bool {
	_, ok := o[tag]
	return ok
}

// Uint8 returns a one octet integer TLV.
func (o Options) Uint8(tag Tag) (uint8, bool) {
	v, ok := o[tag]
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// Uint16 returns a two octet big-endian integer TLV.
func (o Options) Uint16(tag Tag) (uint16, bool) {
	v, ok := o[tag]
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

// CString returns a TLV value with any trailing NUL removed.
func (o Options) CString(tag Tag) (string, bool) {
	v, ok := o[tag]
	if !ok {
		return "", false
	}
	if i := bytes.IndexByte(v, 0x00); i >= 0 {
		v = v[:i]
	}
	return string(v), true
}

// Set stores a raw value, allocating the map if needed.
func (o *Options) Set(tag Tag, value []byte) {
	if *o == nil {
		*o = make(Options)
	}
	(*o)[tag] = value
}

// SetUint8 stores a one octet integer TLV.
func (o *Options) SetUint8(tag Tag, v uint8) {
	o.Set(tag, []byte{v})
}

// SetUint16 stores a two octet integer TLV.
func (o *Options) SetUint16(tag Tag, v uint16) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	o.Set(tag, b)
}

// SetCString stores a NUL-terminated string TLV.
func (o *Options) SetCString(tag Tag, s string) {
	o.Set(tag, append([]byte(s), 0x00))
}

// tags returns the present tags in ascending order so encoding is deterministic.
func (o Options) tags() []Tag {
	tags := make([]Tag, 0, len(o))
	for t := range o {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
