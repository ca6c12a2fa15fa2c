// Package canon implements the canonical, deterministic encoding used to
// hash blocks, transactions, and result objects: map keys sorted
// lexicographically, integers written as plain decimals, fixed-point values
// tagged explicitly, and UTF-8 strings — so that two independent encoders
// produce byte-identical output for the same logical value.
package canon

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Fixed is a fixed-point decimal value, carried as its canonical decimal
// text (e.g. "12.340000"). It is tagged {__fixed__: "<value>"} in the
// canonical encoding so it is never confused with a plain integer.
type Fixed string

// Map is an ordered collection encoded with lexicographically sorted keys.
// Values may be nil, bool, string, int64, uint64, Fixed, Map, or List.
type Map map[string]any

// List is an ordered sequence of canonical values.
type List []any

const (
	tagNil    byte = 'n'
	tagTrue   byte = 'T'
	tagFalse  byte = 'F'
	tagString byte = 's'
	tagInt    byte = 'i'
	tagUint   byte = 'u'
	tagFixed  byte = 'f'
	tagMap    byte = 'm'
	tagList   byte = 'l'
)

// Encode produces the canonical byte representation of v.
func Encode(v any) ([]byte, error) {
	var buf []byte
	buf, err := encodeInto(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Hash returns SHA3-256 of the canonical encoding of v.
func Hash(v any) ([32]byte, error) {
	data, err := Encode(v)
	if err != nil {
		return [32]byte{}, err
	}
	return HashBytes(data), nil
}

// HashBytes returns SHA3-256 of raw bytes (used when the caller has already
// concatenated canonical pieces, e.g. the tx_result hash over
// tx_result+hlc+rewards).
func HashBytes(data []byte) [32]byte {
	return sha3.Sum256(data)
}

func encodeInto(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if t {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case string:
		return appendLenPrefixed(buf, tagString, []byte(t)), nil
	case int:
		return appendLenPrefixed(buf, tagInt, []byte(fmt.Sprintf("%d", t))), nil
	case int64:
		return appendLenPrefixed(buf, tagInt, []byte(fmt.Sprintf("%d", t))), nil
	case uint64:
		return appendLenPrefixed(buf, tagUint, []byte(fmt.Sprintf("%d", t))), nil
	case Fixed:
		return appendLenPrefixed(buf, tagFixed, []byte(t)), nil
	case Map:
		return encodeMap(buf, t)
	case map[string]any:
		return encodeMap(buf, Map(t))
	case List:
		return encodeList(buf, t)
	case []any:
		return encodeList(buf, List(t))
	default:
		return nil, fmt.Errorf("canon: unsupported type %T", v)
	}
}

func encodeMap(buf []byte, m Map) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, tagMap)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(keys)))
	buf = append(buf, countBuf[:]...)
	for _, k := range keys {
		buf = appendLenPrefixed(buf, tagString, []byte(k))
		var err error
		buf, err = encodeInto(buf, m[k])
		if err != nil {
			return nil, fmt.Errorf("canon: key %q: %w", k, err)
		}
	}
	return buf, nil
}

func encodeList(buf []byte, l List) ([]byte, error) {
	buf = append(buf, tagList)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(l)))
	buf = append(buf, countBuf[:]...)
	for i, item := range l {
		var err error
		buf, err = encodeInto(buf, item)
		if err != nil {
			return nil, fmt.Errorf("canon: index %d: %w", i, err)
		}
	}
	return buf, nil
}

func appendLenPrefixed(buf []byte, tag byte, raw []byte) []byte {
	buf = append(buf, tag)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, raw...)
}

// Decode parses a canonical byte representation back into the generic value
// tree (Map, List, string, int64, uint64, Fixed, bool, or nil).
func Decode(data []byte) (any, error) {
	v, rest, err := decodeOne(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("canon: %d trailing bytes after decode", len(rest))
	}
	return v, nil
}

func decodeOne(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("canon: unexpected end of input")
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case tagNil:
		return nil, rest, nil
	case tagTrue:
		return true, rest, nil
	case tagFalse:
		return false, rest, nil
	case tagString:
		raw, rest, err := readLenPrefixed(rest)
		return string(raw), rest, err
	case tagInt:
		raw, rest, err := readLenPrefixed(rest)
		if err != nil {
			return nil, nil, err
		}
		var n int64
		if _, err := fmt.Sscanf(string(raw), "%d", &n); err != nil {
			return nil, nil, fmt.Errorf("canon: decode int %q: %w", raw, err)
		}
		return n, rest, nil
	case tagUint:
		raw, rest, err := readLenPrefixed(rest)
		if err != nil {
			return nil, nil, err
		}
		var n uint64
		if _, err := fmt.Sscanf(string(raw), "%d", &n); err != nil {
			return nil, nil, fmt.Errorf("canon: decode uint %q: %w", raw, err)
		}
		return n, rest, nil
	case tagFixed:
		raw, rest, err := readLenPrefixed(rest)
		return Fixed(raw), rest, err
	case tagMap:
		return decodeMap(rest)
	case tagList:
		return decodeList(rest)
	default:
		return nil, nil, fmt.Errorf("canon: unknown tag %q", tag)
	}
}

func readLenPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("canon: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("canon: truncated value: want %d have %d", n, len(data))
	}
	return data[:n], data[n:], nil
}

func decodeMap(data []byte) (any, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("canon: truncated map count")
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	m := make(Map, count)
	for i := uint32(0); i < count; i++ {
		if len(data) == 0 || data[0] != tagString {
			return nil, nil, fmt.Errorf("canon: map key %d: expected string tag", i)
		}
		keyRaw, rest, err := readLenPrefixed(data[1:])
		if err != nil {
			return nil, nil, fmt.Errorf("canon: map key %d: %w", i, err)
		}
		data = rest
		var val any
		val, data, err = decodeOne(data)
		if err != nil {
			return nil, nil, fmt.Errorf("canon: map value %d: %w", i, err)
		}
		m[string(keyRaw)] = val
	}
	return m, data, nil
}

func decodeList(data []byte) (any, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("canon: truncated list count")
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	l := make(List, count)
	for i := uint32(0); i < count; i++ {
		var val any
		var err error
		val, data, err = decodeOne(data)
		if err != nil {
			return nil, nil, fmt.Errorf("canon: list item %d: %w", i, err)
		}
		l[i] = val
	}
	return l, data, nil
}
