package qkv

import (
	"bytes"
	"fmt"
	"math"
)

// Key type tags. Tag order defines the cross-type ordering:
// number < string < bytes < tuple.
const (
	tagNumber byte = 0x10
	tagString byte = 0x20
	tagBytes  byte = 0x30
	tagTuple  byte = 0x40

	keyTerm byte = 0x00
)

// CompareKeys returns the canonical ordering of two keys: -1, 0 or +1.
// Valid keys are numbers (all integer and float types compare on one
// number line), strings, byte strings, and []any tuples of those.
func CompareKeys(a, b any) (int, error) {
	ar, err := encodeKey(nil, a)
	if err != nil {
		return 0, err
	}
	br, err := encodeKey(nil, b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ar, br), nil
}

// encodeKey appends an order-preserving, prefix-free encoding of key to buf.
// bytes.Compare over two encodings agrees with CompareKeys over the keys.
func encodeKey(buf []byte, key any) ([]byte, error) {
	switch v := key.(type) {
	case string:
		return appendEscaped(append(buf, tagString), []byte(v)), nil
	case []byte:
		return appendEscaped(append(buf, tagBytes), v), nil
	case []any:
		buf = append(buf, tagTuple)
		var err error
		for _, el := range v {
			buf, err = encodeKey(buf, el)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, keyTerm), nil
	default:
		f, ok := numberOf(key)
		if !ok {
			return nil, fmt.Errorf("qkv: unsupported key type %T", key)
		}
		if math.IsNaN(f) {
			return nil, fmt.Errorf("qkv: NaN is not a valid key")
		}
		return appendOrderedFloat(append(buf, tagNumber), f), nil
	}
}

// decodeKey decodes one key from raw, returning the key and the remaining
// bytes. Numbers decode as float64.
func decodeKey(raw []byte) (any, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("qkv: empty key")
	}
	tag, rest := raw[0], raw[1:]
	switch tag {
	case tagNumber:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("qkv: truncated number key")
		}
		return orderedFloat(rest[:8]), rest[8:], nil
	case tagString:
		b, rest, err := takeEscaped(rest)
		if err != nil {
			return nil, nil, err
		}
		return string(b), rest, nil
	case tagBytes:
		b, rest, err := takeEscaped(rest)
		if err != nil {
			return nil, nil, err
		}
		return b, rest, nil
	case tagTuple:
		var els []any
		for {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("qkv: unterminated tuple key")
			}
			if rest[0] == keyTerm {
				return els, rest[1:], nil
			}
			var el any
			var err error
			el, rest, err = decodeKey(rest)
			if err != nil {
				return nil, nil, err
			}
			els = append(els, el)
		}
	default:
		return nil, nil, fmt.Errorf("qkv: invalid key tag 0x%02x", tag)
	}
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// appendOrderedFloat appends the 8-byte big-endian image of f adjusted so
// that byte ordering matches numeric ordering: positive values get the sign
// bit set, negative values are fully inverted.
func appendOrderedFloat(buf []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return append(buf,
		byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

func orderedFloat(b []byte) float64 {
	bits := uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// appendEscaped writes data with 0x00 escaped as 0x00 0xFF, terminated by a
// plain 0x00. The terminator sorts below every content byte, which makes
// the encoding prefix-free and keeps prefix ordering ("ab" < "abc").
func appendEscaped(buf, data []byte) []byte {
	for _, b := range data {
		if b == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, keyTerm)
}

func takeEscaped(raw []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b != 0x00 {
			out = append(out, b)
			continue
		}
		if i+1 < len(raw) && raw[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, raw[i+1:], nil
	}
	return nil, nil, fmt.Errorf("qkv: unterminated key")
}
