// Package textcodec converts between unicode text and the byte encodings
// used in SMS payloads: the GSM 03.38 default alphabet, UCS2 and any
// encoding known to the IANA registry.
package textcodec

import (
	"errors"
	"fmt"
	"strings"
)

// Policy selects how unencodable or undecodable units are handled.
type Policy string

const (
	Strict  Policy = "strict"  // return an error at the offending position
	Ignore  Policy = "ignore"  // drop the unit
	Replace Policy = "replace" // substitute '?'
)

// Encoding names with custom implementations.
const (
	GSM0338 = "gsm0338"
	UCS2    = "ucs2"
	// DefaultEncoding is used when no encoding name is given.
	DefaultEncoding = "utf-8"
)

const replacement = '?'

// ErrUnknownEncoding is returned when an encoding name cannot be resolved.
var ErrUnknownEncoding = errors.New("unknown encoding")

// UsageError is returned when encode or decode receive the wrong input type.
type UsageError struct {
	Op   string
	Type string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("textcodec: %s does not accept %s", e.Op, e.Type)
}

// EncodeError reports a character that cannot be represented under Strict.
type EncodeError struct {
	Encoding string
	Position int // index of the rune in the input
	Rune     rune
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("textcodec: %s cannot encode %q at position %d", e.Encoding, e.Rune, e.Position)
}

// DecodeError reports an undecodable byte under Strict.
type DecodeError struct {
	Encoding string
	Position int // byte offset in the input
	Byte     byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("textcodec: %s cannot decode byte 0x%02x at position %d", e.Encoding, e.Byte, e.Position)
}

// codec is implemented by every supported encoding.
type codec interface {
	encode(text string, policy Policy) ([]byte, error)
	decode(data []byte, policy Policy) (string, error)
}

// Encode converts text to bytes in the named encoding.
func Encode(text, encoding string, policy Policy) ([]byte, error) {
	c, err := lookup(encoding)
	if err != nil {
		return nil, err
	}
	return c.encode(text, normalise(policy))
}

// Decode converts bytes in the named encoding to text.
func Decode(data []byte, encoding string, policy Policy) (string, error) {
	c, err := lookup(encoding)
	if err != nil {
		return "", err
	}
	return c.decode(data, normalise(policy))
}

// EncodeValue is Encode for loosely typed callers. Anything other than a
// string or rune slice is a UsageError.
func EncodeValue(v any, encoding string, policy Policy) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return Encode(t, encoding, policy)
	case []rune:
		return Encode(string(t), encoding, policy)
	default:
		return nil, &UsageError{Op: "encode", Type: fmt.Sprintf("%T", v)}
	}
}

// DecodeValue is Decode for loosely typed callers. Anything other than a
// byte slice is a UsageError.
func DecodeValue(v any, encoding string, policy Policy) (string, error) {
	b, ok := v.([]byte)
	if !ok {
		return "", &UsageError{Op: "decode", Type: fmt.Sprintf("%T", v)}
	}
	return Decode(b, encoding, policy)
}

// Supported reports whether the encoding name resolves.
func Supported(encoding string) bool {
	_, err := lookup(encoding)
	return err == nil
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Strict, Ignore, Replace:
		return p, nil
	case "":
		return Strict, nil
	default:
		return "", fmt.Errorf("textcodec: unknown error policy %q", s)
	}
}

func normalise(p Policy) Policy {
	if p == "" {
		return Strict
	}
	return p
}

func lookup(encoding string) (codec, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	switch name {
	case "":
		name = DefaultEncoding
	case GSM0338, "gsm", "gsm03.38", "gsm-03.38", "gsm7":
		return gsmCodec{}, nil
	case UCS2, "ucs-2", "utf-16be", "utf16be":
		return ucs2Codec{}, nil
	}
	return lookupIANA(name)
}
