package textcodec

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// aliases covers common spellings the IANA registry does not list.
var aliases = map[string]string{
	"ascii":   "us-ascii",
	"latin-1": "latin1",
	"utf8":    "utf-8",
}

func lookupIANA(name string) (codec, error) {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if name == "utf-8" {
		return utf8Codec{}, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return xtextCodec{name: name, enc: enc}, nil
}

// utf8Codec passes text through, applying the policy to invalid sequences.
type utf8Codec struct{}

func (utf8Codec) encode(text string, _ Policy) ([]byte, error) {
	return []byte(text), nil
}

func (utf8Codec) decode(data []byte, policy Policy) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	var sb strings.Builder
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			switch policy {
			case Ignore:
			case Replace:
				sb.WriteRune(replacement)
			default:
				return "", &DecodeError{Encoding: "utf-8", Position: i, Byte: data[i]}
			}
		} else {
			sb.WriteRune(r)
		}
		i += size
	}
	return sb.String(), nil
}

// ucs2Codec treats UCS2 as big-endian UTF-16, which also covers
// characters outside the BMP via surrogate pairs.
type ucs2Codec struct{}

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

func (ucs2Codec) encode(text string, _ Policy) ([]byte, error) {
	return utf16BE.NewEncoder().Bytes([]byte(text))
}

func (ucs2Codec) decode(data []byte, policy Policy) (string, error) {
	var sb strings.Builder
	bad := func(at int) error {
		switch policy {
		case Ignore:
		case Replace:
			sb.WriteRune(replacement)
		default:
			return &DecodeError{Encoding: UCS2, Position: at, Byte: data[at]}
		}
		return nil
	}

	for i := 0; i < len(data); i += 2 {
		if i+1 >= len(data) {
			if err := bad(i); err != nil {
				return "", err
			}
			break
		}
		u := rune(data[i])<<8 | rune(data[i+1])
		switch {
		case utf16.IsSurrogate(u):
			if u < 0xDC00 && i+3 < len(data) {
				lo := rune(data[i+2])<<8 | rune(data[i+3])
				if r := utf16.DecodeRune(u, lo); r != utf8.RuneError {
					sb.WriteRune(r)
					i += 2
					continue
				}
			}
			if err := bad(i); err != nil {
				return "", err
			}
		default:
			sb.WriteRune(u)
		}
	}
	return sb.String(), nil
}

// xtextCodec adapts an x/text encoding. Single-byte encodings are decoded a
// byte at a time so errors carry exact positions.
type xtextCodec struct {
	name string
	enc  encoding.Encoding
}

func (c xtextCodec) singleByte() bool {
	_, ok := c.enc.(*charmap.Charmap)
	return ok || c.name == "us-ascii"
}

func (c xtextCodec) encode(text string, policy Policy) ([]byte, error) {
	e := c.enc.NewEncoder()
	out := make([]byte, 0, len(text))
	pos := 0
	for _, r := range text {
		b, err := e.Bytes([]byte(string(r)))
		if err == nil && r != utf8.RuneError {
			out = append(out, b...)
		} else {
			switch policy {
			case Ignore:
			case Replace:
				out = append(out, replacement)
			default:
				return nil, &EncodeError{Encoding: c.name, Position: pos, Rune: r}
			}
		}
		pos++
	}
	return out, nil
}

func (c xtextCodec) decode(data []byte, policy Policy) (string, error) {
	d := c.enc.NewDecoder()
	var sb strings.Builder

	if c.singleByte() {
		for i, b := range data {
			s, err := d.Bytes([]byte{b})
			r, _ := utf8.DecodeRune(s)
			if err == nil && len(s) > 0 && r != utf8.RuneError {
				sb.Write(s)
				continue
			}
			switch policy {
			case Ignore:
			case Replace:
				sb.WriteRune(replacement)
			default:
				return "", &DecodeError{Encoding: c.name, Position: i, Byte: b}
			}
		}
		return sb.String(), nil
	}

	decoded, err := d.Bytes(data)
	if err != nil {
		if policy == Strict {
			return "", fmt.Errorf("textcodec: %s: %w", c.name, err)
		}
		decoded = nil
	}
	for i, r := range string(decoded) {
		if r != utf8.RuneError {
			sb.WriteRune(r)
			continue
		}
		switch policy {
		case Ignore:
		case Replace:
			sb.WriteRune(replacement)
		default:
			return "", &DecodeError{Encoding: c.name, Position: i}
		}
	}
	return sb.String(), nil
}
