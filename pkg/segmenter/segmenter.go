package segmenter

import (
	"log/slog"
	"unicode/utf8"

	"github.com/thrillee/smppengine/pkg/textcodec"
)

const (
	// MaxSingleOctets is the payload of one short message.
	MaxSingleOctets = 140
	// MultipartOctets is the payload per part of a split message. The
	// difference leaves room for a concatenation header.
	MultipartOctets = 130
)

// Segmenter defines the interface for splitting messages.
type Segmenter interface {
	// GetSegments splits a message, returning segments and indicating if UCS2 encoding is needed.
	GetSegments(message string) (segments []string, requiresUCS2 bool, err error)
}

// DefaultSegmenter splits text on character boundaries so that no GSM
// escape sequence or UTF-16 surrogate pair straddles two parts.
type DefaultSegmenter struct {
	single int
	multi  int
}

// NewDefaultSegmenter uses MaxSingleOctets and MultipartOctets.
func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{single: MaxSingleOctets, multi: MultipartOctets}
}

// octets is the encoded size of r: GSM 03.38 unpacked, or UCS2.
func octets(r rune, ucs2 bool) int {
	if !ucs2 {
		return textcodec.GSMLength(string(r))
	}
	if r > 0xFFFF {
		return 4
	}
	return 2
}

// GetSegments implements Segmenter. Text outside the GSM 03.38 alphabet
// requires UCS2.
func (s *DefaultSegmenter) GetSegments(message string) ([]string, bool, error) {
	requiresUCS2 := !textcodec.IsGSM(message)

	total := 0
	for _, r := range message {
		total += octets(r, requiresUCS2)
	}
	if total <= s.single {
		return []string{message}, requiresUCS2, nil
	}

	var (
		segments []string
		start    int
		size     int
	)
	for i, r := range message {
		n := octets(r, requiresUCS2)
		if size+n > s.multi {
			segments = append(segments, message[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(message) {
		segments = append(segments, message[start:])
	}

	slog.Debug("Segmented message",
		slog.Int("segments", len(segments)),
		slog.Bool("ucs2", requiresUCS2),
		slog.Int("octets", total),
		slog.Int("runes", utf8.RuneCountInString(message)))
	return segments, requiresUCS2, nil
}

// SplitOctets cuts already encoded data into chunks of at most size octets.
func SplitOctets(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// Compile-time check
var _ Segmenter = (*DefaultSegmenter)(nil)
