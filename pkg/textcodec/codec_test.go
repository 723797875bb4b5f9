package textcodec

import (
	"bytes"
	"errors"
	"testing"
)

func TestGSMEncodeScenarios(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"HÜLK", []byte{72, 94, 76, 75}},
		{"foo €", []byte{102, 111, 111, 32, 27, 101}},
		{"@£$", []byte{0x00, 0x01, 0x02}},
		{"[~]", []byte{27, 0x3C, 27, 0x3D, 27, 0x3E}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Encode(tt.text, GSM0338, Strict)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode(%q) = %v, want %v", tt.text, got, tt.want)
			}
			back, err := Decode(got, GSM0338, Strict)
			if err != nil {
				t.Fatal(err)
			}
			if back != tt.text {
				t.Errorf("Decode = %q, want %q", back, tt.text)
			}
		})
	}
}

func TestGSMRoundTripWholeAlphabet(t *testing.T) {
	var alphabet []rune
	for i, r := range gsmBasic {
		if i != gsmEscape {
			alphabet = append(alphabet, r)
		}
	}
	for _, r := range gsmExtension {
		alphabet = append(alphabet, r)
	}
	text := string(alphabet)

	raw, err := Encode(text, GSM0338, Strict)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw, GSM0338, Strict)
	if err != nil {
		t.Fatal(err)
	}
	if got != text {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", got, text)
	}
	if !IsGSM(text) {
		t.Error("IsGSM rejected the alphabet")
	}
}

func TestGSMEncodePolicies(t *testing.T) {
	tests := []struct {
		policy Policy
		want   []byte
	}{
		{Ignore, []byte{'a', 'b'}},
		{Replace, []byte{'a', '?', 'b'}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			got, err := Encode("a你b", GSM0338, tt.policy)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	_, err := Encode("a你b", GSM0338, Strict)
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
	if encErr.Position != 1 || encErr.Rune != '你' {
		t.Errorf("unexpected error detail %+v", encErr)
	}
}

func TestGSMDecodePolicies(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		policy Policy
		want   string
	}{
		{"bad escape replaced once", []byte{'a', 0x1B, 0x80, 'b'}, Replace, "a?b"},
		{"bad escape ignored", []byte{'a', 0x1B, 0x80, 'b'}, Ignore, "ab"},
		{"unmapped extension is filler", []byte{'a', 0x1B, 0x41, 'b'}, Replace, "a`b"},
		{"unmapped extension under strict", []byte{'a', 0x1B, 0x01}, Strict, "a`"},
		{"high byte replaced", []byte{'a', 0x80}, Replace, "a?"},
		{"trailing escape replaced", []byte{'a', 0x1B}, Replace, "a?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data, GSM0338, tt.policy)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	_, err := Decode([]byte{'a', 0x1B, 0x9F}, GSM0338, Strict)
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decErr.Position != 2 || decErr.Byte != 0x9F {
		t.Errorf("unexpected error detail %+v", decErr)
	}

	// § holds slot 0x5F, so the backtick has no encoding.
	if _, err := Encode("`", GSM0338, Strict); err == nil {
		t.Error("expected backtick to be unencodable")
	}
	raw, err := Encode("§", GSM0338, Strict)
	if err != nil || !bytes.Equal(raw, []byte{0x5F}) {
		t.Errorf("Encode(§) = % x, %v", raw, err)
	}
}

func TestUCS2(t *testing.T) {
	raw, err := Encode("Hi €😀", UCS2, Strict)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 'H', 0x00, 'i', 0x00, ' ', 0x20, 0xAC, 0xD8, 0x3D, 0xDE, 0x00}
	if !bytes.Equal(raw, want) {
		t.Fatalf("got % x, want % x", raw, want)
	}
	got, err := Decode(raw, "UCS-2", Strict)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hi €😀" {
		t.Errorf("got %q", got)
	}

	if _, err := Decode([]byte{0x00, 'a', 0x00}, UCS2, Strict); err == nil {
		t.Error("odd length accepted under strict")
	}
	if got, _ := Decode([]byte{0x00, 'a', 0xDC, 0x00}, UCS2, Replace); got != "a?" {
		t.Errorf("lone surrogate: got %q", got)
	}
}

func TestIANAEncodings(t *testing.T) {
	raw, err := Encode("café", "latin1", Strict)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{'c', 'a', 'f', 0xE9}) {
		t.Errorf("latin1 got % x", raw)
	}
	if got, _ := Decode(raw, "ISO-8859-1", Strict); got != "café" {
		t.Errorf("latin1 decode %q", got)
	}

	if _, err := Encode("café", "ascii", Strict); err == nil {
		t.Error("ascii accepted é under strict")
	}
	if got, _ := Encode("café", "ascii", Replace); !bytes.Equal(got, []byte("caf?")) {
		t.Errorf("ascii replace got %q", got)
	}
	if got, _ := Decode([]byte{'o', 'k', 0xFF}, "ascii", Ignore); got != "ok" {
		t.Errorf("ascii ignore got %q", got)
	}

	if got, _ := Decode([]byte("plain"), "", Strict); got != "plain" {
		t.Errorf("default encoding got %q", got)
	}
	if _, err := Encode("x", "no-such-charset", Strict); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	var usage *UsageError
	if _, err := EncodeValue([]byte("bytes"), GSM0338, Strict); !errors.As(err, &usage) {
		t.Errorf("EncodeValue([]byte) = %v", err)
	}
	if _, err := DecodeValue("text", GSM0338, Strict); !errors.As(err, &usage) {
		t.Errorf("DecodeValue(string) = %v", err)
	}
	if _, err := EncodeValue(42, GSM0338, Strict); !errors.As(err, &usage) {
		t.Errorf("EncodeValue(int) = %v", err)
	}
	if got, err := DecodeValue([]byte{72, 94}, GSM0338, Strict); err != nil || got != "HÜ" {
		t.Errorf("DecodeValue = %q, %v", got, err)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Strict, "REPLACE": Replace, " ignore ": Ignore} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("lenient"); err == nil {
		t.Error("unknown policy accepted")
	}
}

func TestGSMLength(t *testing.T) {
	if got := GSMLength("a€"); got != 3 {
		t.Errorf("GSMLength = %d", got)
	}
}
