package textcodec

import "strings"

const gsmEscape = 0x1B

// gsmBasic is the GSM 03.38 default alphabet indexed by septet value.
// Slot 0x1B is the escape to the extension table and never encodes a rune.
var gsmBasic = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'Ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', 0, 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// gsmExtensionFiller decodes the extension slots gsmExtension leaves unset.
const gsmExtensionFiller = '`'

// gsmExtension maps the index following an escape to its rune.
var gsmExtension = map[byte]rune{
	0x0A: '\f',
	0x14: '^',
	0x28: '{',
	0x29: '}',
	0x2F: '\\',
	0x3C: '[',
	0x3D: '~',
	0x3E: ']',
	0x40: '|',
	0x65: '€',
}

var (
	gsmBasicIndex     = make(map[rune]byte, 127)
	gsmExtensionIndex = make(map[rune]byte, len(gsmExtension))
)

func init() {
	for i, r := range gsmBasic {
		if i == gsmEscape {
			continue
		}
		gsmBasicIndex[r] = byte(i)
	}
	for i, r := range gsmExtension {
		gsmExtensionIndex[r] = i
	}
}

// gsmCodec implements the unpacked GSM 03.38 default alphabet: one septet per
// octet, extension characters as escape + index.
type gsmCodec struct{}

func (gsmCodec) encode(text string, policy Policy) ([]byte, error) {
	out := make([]byte, 0, len(text))
	pos := 0
	for _, r := range text {
		if b, ok := gsmBasicIndex[r]; ok {
			out = append(out, b)
		} else if b, ok := gsmExtensionIndex[r]; ok {
			out = append(out, gsmEscape, b)
		} else {
			switch policy {
			case Ignore:
			case Replace:
				out = append(out, gsmBasicIndex[replacement])
			default:
				return nil, &EncodeError{Encoding: GSM0338, Position: pos, Rune: r}
			}
		}
		pos++
	}
	return out, nil
}

func (gsmCodec) decode(data []byte, policy Policy) (string, error) {
	var sb strings.Builder
	sb.Grow(len(data))

	// bad applies the policy to n undecodable bytes, the last at position at.
	bad := func(at, n int) error {
		switch policy {
		case Ignore:
		case Replace:
			for i := 0; i < n; i++ {
				sb.WriteRune(replacement)
			}
		default:
			return &DecodeError{Encoding: GSM0338, Position: at, Byte: data[at]}
		}
		return nil
	}

	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b == gsmEscape:
			if i+1 >= len(data) {
				if err := bad(i, 1); err != nil {
					return "", err
				}
				continue
			}
			i++
			if data[i] >= 0x80 {
				if err := bad(i, 1); err != nil {
					return "", err
				}
			} else if r, ok := gsmExtension[data[i]]; ok {
				sb.WriteRune(r)
			} else {
				sb.WriteRune(gsmExtensionFiller)
			}
		case b >= 0x80:
			if err := bad(i, 1); err != nil {
				return "", err
			}
		default:
			sb.WriteRune(gsmBasic[b])
		}
	}
	return sb.String(), nil
}

// IsGSM reports whether every character of text is in the GSM basic or
// extension table.
func IsGSM(text string) bool {
	for _, r := range text {
		if _, ok := gsmBasicIndex[r]; ok {
			continue
		}
		if _, ok := gsmExtensionIndex[r]; !ok {
			return false
		}
	}
	return true
}

// GSMLength returns the number of septets text occupies, counting extension
// characters twice. Characters outside the alphabet count once.
func GSMLength(text string) int {
	n := 0
	for _, r := range text {
		n++
		if _, ok := gsmExtensionIndex[r]; ok {
			n++
		}
	}
	return n
}
