package qkv

import (
	"testing"
)

func scanRaw(t *testing.T, buck storageBucket, rr rawRange) []string {
	t.Helper()
	var got []string
	cur := rr.newCursor(buck.Cursor())
	for cur.Next() {
		got = append(got, string(cur.v))
	}
	return got
}

func TestRawRangeCursorBounds(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))
	k1 := must(encodeKey(nil, 1))
	k2 := must(encodeKey(nil, 2))
	k3 := must(encodeKey(nil, 3))
	k4 := must(encodeKey(nil, 4))
	mustPut(t, buck, k1, []byte("a"))
	mustPut(t, buck, k2, []byte("b"))
	mustPut(t, buck, k3, []byte("c"))
	mustPut(t, buck, k4, []byte("d"))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := nonNil(rtx.Bucket("b", ""))

	o := func(name string, rr rawRange, want ...string) {
		t.Helper()
		got := scanRaw(t, rbuck, rr)
		if len(got) != len(want) {
			t.Fatalf("%s: got %v, wanted %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v, wanted %v", name, got, want)
			}
		}
	}

	o("unbounded", rawRange{}, "a", "b", "c", "d")
	o("unbounded reverse", rawRange{reverse: true}, "d", "c", "b", "a")

	o("lower inc", rawRange{lower: k2, lowerInc: true}, "b", "c", "d")
	o("lower exc", rawRange{lower: k2}, "c", "d")
	o("upper inc", rawRange{upper: k3, upperInc: true}, "a", "b", "c")
	o("upper exc", rawRange{upper: k3}, "a", "b")

	o("lower inc reverse", rawRange{lower: k2, lowerInc: true, reverse: true}, "d", "c", "b")
	o("lower exc reverse", rawRange{lower: k2, reverse: true}, "d", "c")
	o("upper inc reverse", rawRange{upper: k3, upperInc: true, reverse: true}, "c", "b", "a")
	o("upper exc reverse", rawRange{upper: k3, reverse: true}, "b", "a")

	o("bound", rawRange{lower: k1, lowerInc: true, upper: k4}, "a", "b", "c")
	o("bound reverse", rawRange{lower: k1, upper: k4, upperInc: true, reverse: true}, "d", "c", "b")

	o("empty", rawRange{lower: k4, upper: k1, lowerInc: true, upperInc: true})
}

func TestRawRangeCursorIndexPrefixFlags(t *testing.T) {
	// Non-unique index entries extend the derived key with the encoded
	// primary key. The prefix flags decide whether such extensions fall
	// inside a bound at the bare derived key.
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))

	dA := must(encodeKey(nil, "alice"))
	dB := must(encodeKey(nil, "bob"))
	pk1 := must(encodeKey(nil, 1))
	pk2 := must(encodeKey(nil, 2))
	mustPut(t, buck, append(append([]byte(nil), dA...), pk1...), []byte("a1"))
	mustPut(t, buck, append(append([]byte(nil), dA...), pk2...), []byte("a2"))
	mustPut(t, buck, append(append([]byte(nil), dB...), pk1...), []byte("b1"))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := nonNil(rtx.Bucket("b", ""))

	// gt "alice": entries extending enc(alice) are excluded.
	got := scanRaw(t, rbuck, rawRange{lower: dA, lowerPfxExcl: true})
	deepEqual(t, got, []string{"b1"})

	// gte "alice": all of them.
	got = scanRaw(t, rbuck, rawRange{lower: dA, lowerInc: true})
	deepEqual(t, got, []string{"a1", "a2", "b1"})

	// lte "alice": entries extending enc(alice) are included.
	got = scanRaw(t, rbuck, rawRange{upper: dA, upperInc: true, upperPfxInc: true})
	deepEqual(t, got, []string{"a1", "a2"})

	// lt "alice": none of them.
	got = scanRaw(t, rbuck, rawRange{upper: dA})
	deepEqual(t, got, []string(nil))

	// lte "alice" reverse starts at the last extension.
	got = scanRaw(t, rbuck, rawRange{upper: dA, upperInc: true, upperPfxInc: true, reverse: true})
	deepEqual(t, got, []string{"a2", "a1"})
}

func TestExtendsKeyEscapedNul(t *testing.T) {
	// enc("ab\x00") shares the bytes of enc("ab") but is a longer key, not
	// an index entry extending it.
	ab := must(encodeKey(nil, "ab"))
	abNul := must(encodeKey(nil, "ab\x00"))
	pk := must(encodeKey(nil, 1))
	entry := append(append([]byte(nil), ab...), pk...)

	if !extendsKey(entry, ab) {
		t.Errorf("index entry must extend its derived key")
	}
	if extendsKey(abNul, ab) {
		t.Errorf("enc(ab NUL) must not count as an extension of enc(ab)")
	}
}

func TestRawRangeCursorAdvanceBy(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))
	for i := 0; i < 10; i++ {
		mustPut(t, buck, must(encodeKey(nil, i)), []byte{byte('0' + i)})
	}
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := nonNil(rtx.Bucket("b", ""))

	cur := rawRange{}.newCursor(rbuck.Cursor())
	if !cur.Next() {
		t.Fatalf("Next at start failed")
	}
	if !cur.AdvanceBy(5) || cur.v[0] != '5' {
		t.Fatalf("AdvanceBy(5) landed on %q, wanted 5", cur.v)
	}
	if !cur.Next() || cur.v[0] != '6' {
		t.Fatalf("Next after jump landed on %q, wanted 6", cur.v)
	}
	if cur.AdvanceBy(10) {
		t.Fatalf("AdvanceBy past the end reported a position")
	}

	// A jump that lands past the range bound ends the scan.
	cur = rawRange{upper: must(encodeKey(nil, 4))}.newCursor(rbuck.Cursor())
	if !cur.Next() {
		t.Fatalf("Next at start failed")
	}
	if cur.AdvanceBy(7) {
		t.Fatalf("AdvanceBy past the upper bound reported a position")
	}

	// Reverse jumps retreat.
	cur = rawRange{reverse: true}.newCursor(rbuck.Cursor())
	if !cur.Next() || cur.v[0] != '9' {
		t.Fatalf("reverse start landed on %q, wanted 9", cur.v)
	}
	if !cur.AdvanceBy(3) || cur.v[0] != '6' {
		t.Fatalf("reverse AdvanceBy(3) landed on %q, wanted 6", cur.v)
	}
}
