package canon

import (
	"bytes"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []any{
		nil,
		true,
		false,
		"hello",
		int64(-42),
		uint64(42),
		Fixed("12.340000"),
		Map{"b": int64(2), "a": int64(1)},
		List{int64(1), "two", Map{"x": true}},
		Map{
			"payload": Map{
				"contract": "token",
				"kwargs":   Map{"amount": uint64(100)},
				"nonce":    uint64(5),
			},
			"metadata": Map{"signature": "deadbeef"},
		},
	}
	for i, c := range cases {
		data, err := Encode(c)
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if !reflect.DeepEqual(normalize(c), normalize(decoded)) {
			t.Fatalf("case %d: round trip mismatch: got %#v want %#v", i, decoded, c)
		}
	}
}

// normalize converts bare map[string]any/[]any into Map/List so comparisons
// between literal test inputs and decoded output line up.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalize(Map(t))
	case Map:
		out := make(Map, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		return normalize(List(t))
	case List:
		out := make(List, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func TestMapKeysSorted(t *testing.T) {
	a, err := Encode(Map{"b": int64(1), "a": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(Map{"a": int64(2), "b": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encodings of the same map with different insertion order must match")
	}
}

func TestHashStable(t *testing.T) {
	v := Map{"x": uint64(1), "y": List{int64(1), int64(2)}}
	h1, err := Hash(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(v)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("hash must be stable across calls")
	}
}

func TestFixedDistinctFromString(t *testing.T) {
	a, _ := Encode(Fixed("1"))
	b, _ := Encode("1")
	if bytes.Equal(a, b) {
		t.Fatal("Fixed and string encodings must not collide")
	}
}

func TestUnsupportedType(t *testing.T) {
	type weird struct{}
	if _, err := Encode(weird{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
