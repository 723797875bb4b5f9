package pdu

import (
	"encoding/binary"
	"fmt"
)

// FrameBuffer accumulates stream chunks and slices off whole frames in
// arrival order. It is not safe for concurrent use; a session owns one.
type FrameBuffer struct {
	buf []byte
}

// Write appends a chunk read from the transport.
func (f *FrameBuffer) Write(chunk []byte) (int, error) {
	f.buf = append(f.buf, chunk...)
	return len(chunk), nil
}

// Len returns the number of buffered bytes not yet framed.
func (f *FrameBuffer) Len() int {
	return len(f.buf)
}

// Next returns the next complete frame. ok is false while fewer bytes than a
// full frame are buffered. A declared length outside [16, MaxPDULength] is a
// FramingError and leaves the buffer unusable.
func (f *FrameBuffer) Next() (frame []byte, ok bool, err error) {
	if len(f.buf) < HeaderLength {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(f.buf[0:4])
	if length < HeaderLength || length > MaxPDULength {
		return nil, false, &FramingError{Reason: fmt.Sprintf("declared length %d out of range", length)}
	}
	if uint32(len(f.buf)) < length {
		return nil, false, nil
	}
	frame = make([]byte, length)
	copy(frame, f.buf[:length])
	f.buf = f.buf[length:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frame, true, nil
}

// Reset discards buffered bytes.
func (f *FrameBuffer) Reset() {
	f.buf = nil
}
