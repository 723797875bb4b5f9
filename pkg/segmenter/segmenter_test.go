package segmenter

import (
	"strings"
	"testing"
)

func TestGetSegments(t *testing.T) {
	s := NewDefaultSegmenter()

	tests := []struct {
		name     string
		message  string
		segments int
		ucs2     bool
	}{
		{"empty", "", 1, false},
		{"single gsm", strings.Repeat("a", 140), 1, false},
		{"two gsm parts", strings.Repeat("a", 141), 2, false},
		{"escapes count double", strings.Repeat("€", 71), 2, false},
		{"single ucs2", strings.Repeat("ж", 70), 1, true},
		{"ucs2 split", strings.Repeat("ж", 71), 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, ucs2, err := s.GetSegments(tt.message)
			if err != nil {
				t.Fatal(err)
			}
			if len(segs) != tt.segments || ucs2 != tt.ucs2 {
				t.Errorf("got %d segments ucs2=%v", len(segs), ucs2)
			}
			if strings.Join(segs, "") != tt.message {
				t.Error("segments do not rebuild the message")
			}
		})
	}
}

func TestGetSegmentsKeepsSurrogatePairs(t *testing.T) {
	// 64 two-octet runes then emoji: the emoji would straddle octet 130.
	msg := strings.Repeat("ж", 64) + "😀" + strings.Repeat("ж", 10)
	segs, _, _ := NewDefaultSegmenter().GetSegments(msg)
	if len(segs) != 2 {
		t.Fatalf("got %d segments", len(segs))
	}
	if segs[0] != strings.Repeat("ж", 64) {
		t.Errorf("first segment %q", segs[0])
	}
}

func TestSplitOctets(t *testing.T) {
	data := make([]byte, 300)
	chunks := SplitOctets(data, MultipartOctets)
	if len(chunks) != 3 || len(chunks[0]) != 130 || len(chunks[2]) != 40 {
		t.Errorf("unexpected chunk sizes")
	}
	if got := SplitOctets(data[:10], MultipartOctets); len(got) != 1 {
		t.Errorf("short input split into %d", len(got))
	}
}
