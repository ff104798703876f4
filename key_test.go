package qkv

import (
	"bytes"
	"testing"
)

func TestKeyOrdering(t *testing.T) {
	// Ascending per the canonical ordering: numbers, then strings, then
	// byte arrays, then tuples, each ordered within its type.
	ordered := []any{
		-1e18,
		-5.5,
		-1,
		0,
		0.5,
		1,
		42,
		uint16(43),
		1e18,
		"",
		"a",
		"ab",
		"abc",
		"b",
		"b\x00c",
		[]byte{},
		[]byte{0x00},
		[]byte{0x00, 0x01},
		[]byte{0x01},
		[]any{},
		[]any{1.0},
		[]any{1.0, "a"},
		[]any{1.0, "a", "b"},
		[]any{2.0},
		[]any{"a"},
	}

	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]

		cmp, err := CompareKeys(a, b)
		if err != nil {
			t.Fatalf("CompareKeys(%v, %v): %v", a, b, err)
		}
		if cmp >= 0 {
			t.Errorf("CompareKeys(%v, %v) = %d, wanted < 0", a, b, cmp)
		}
		cmp, err = CompareKeys(b, a)
		if err != nil {
			t.Fatalf("CompareKeys(%v, %v): %v", b, a, err)
		}
		if cmp <= 0 {
			t.Errorf("CompareKeys(%v, %v) = %d, wanted > 0", b, a, cmp)
		}

		// Encoded byte order must agree with CompareKeys.
		ea, err := encodeKey(nil, a)
		if err != nil {
			t.Fatalf("encodeKey(%v): %v", a, err)
		}
		eb, err := encodeKey(nil, b)
		if err != nil {
			t.Fatalf("encodeKey(%v): %v", b, err)
		}
		if bytes.Compare(ea, eb) >= 0 {
			t.Errorf("enc(%v) >= enc(%v), wanted <", a, b)
		}
	}
}

func TestKeySelfCompare(t *testing.T) {
	for _, k := range []any{0, -7, 3.25, "x", []byte{1, 2}, []any{1.0, "a"}} {
		cmp, err := CompareKeys(k, k)
		if err != nil || cmp != 0 {
			t.Errorf("CompareKeys(%v, %v) = %d, %v, wanted 0, nil", k, k, cmp, err)
		}
	}
}

func TestKeyNumericCrossTypes(t *testing.T) {
	// Different Go numeric types with the same value are the same key.
	cmp, err := CompareKeys(int32(7), 7.0)
	if err != nil || cmp != 0 {
		t.Fatalf("CompareKeys(int32(7), 7.0) = %d, %v, wanted 0, nil", cmp, err)
	}
	cmp, err = CompareKeys(uint64(9), int8(9))
	if err != nil || cmp != 0 {
		t.Fatalf("CompareKeys(uint64(9), int8(9)) = %d, %v, wanted 0, nil", cmp, err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{42, 42.0},
		{-3.5, -3.5},
		{0, 0.0},
		{"hello", "hello"},
		{"a\x00b", "a\x00b"},
		{"", ""},
		{[]byte{0x00, 0xFF, 0x00}, []byte{0x00, 0xFF, 0x00}},
		{[]any{1, "a"}, []any{1.0, "a"}},
		{[]any{[]any{1}, "b"}, []any{[]any{1.0}, "b"}},
	}
	for _, c := range cases {
		enc, err := encodeKey(nil, c.in)
		if err != nil {
			t.Fatalf("encodeKey(%v): %v", c.in, err)
		}
		got, rest, err := decodeKey(enc)
		if err != nil {
			t.Fatalf("decodeKey(enc(%v)): %v", c.in, err)
		}
		if len(rest) != 0 {
			t.Fatalf("decodeKey(enc(%v)) left %d trailing bytes", c.in, len(rest))
		}
		deepEqual(t, got, c.want)
	}
}

func TestKeyRejectsUnusableValues(t *testing.T) {
	for _, k := range []any{nil, true, map[string]any{}, []any{nil}} {
		if _, err := encodeKey(nil, k); err == nil {
			t.Errorf("encodeKey(%v) succeeded, wanted error", k)
		}
	}
	if _, err := CompareKeys("a", nil); err == nil {
		t.Errorf("CompareKeys with nil succeeded, wanted error")
	}
}

func TestKeyStringPrefixFreedom(t *testing.T) {
	// The terminator keeps "ab" below "ab\x00..." style extensions and
	// below any longer string sharing the prefix.
	ab := must(encodeKey(nil, "ab"))
	abc := must(encodeKey(nil, "abc"))
	abNul := must(encodeKey(nil, "ab\x00"))
	if !(bytes.Compare(ab, abNul) < 0 && bytes.Compare(abNul, abc) < 0) {
		t.Fatalf("wanted enc(ab) < enc(ab\\x00) < enc(abc)")
	}
	if bytes.HasPrefix(abc, ab) {
		t.Fatalf("enc(abc) must not extend enc(ab)")
	}
}
