package qkv

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
)

const debugLogRawScans = false

// rawRange defines a half-open, closed or unbounded range of encoded keys.
// The prefix flags handle index buckets, where an entry key extends the
// derived key with the encoded primary key: lowerPfxExcl drops entries that
// merely extend an exclusive lower bound, upperPfxInc keeps entries that
// extend an inclusive upper bound.
type rawRange struct {
	lower, upper       []byte
	lowerInc, upperInc bool
	lowerPfxExcl       bool
	upperPfxInc        bool
	reverse            bool
}

func (r *rawRange) belowLower(k []byte) bool {
	if r.lower == nil {
		return false
	}
	switch cmp := bytes.Compare(k, r.lower); {
	case cmp < 0:
		return true
	case cmp == 0:
		return !r.lowerInc
	default:
		return r.lowerPfxExcl && extendsKey(k, r.lower)
	}
}

func (r *rawRange) aboveUpper(k []byte) bool {
	if r.upper == nil {
		return false
	}
	switch cmp := bytes.Compare(k, r.upper); {
	case cmp > 0:
		return !(r.upperPfxInc && extendsKey(k, r.upper))
	case cmp == 0:
		return !r.upperInc
	default:
		return false
	}
}

// extendsKey reports whether k is the encoded key pfx followed by more
// encoded keys. The appended part always starts with a type tag, which
// tells an index entry apart from a longer key that merely shares the
// bytes of pfx (an escaped NUL continues with 0xFF, never a tag).
func extendsKey(k, pfx []byte) bool {
	return bytes.HasPrefix(k, pfx) && len(k) > len(pfx) && k[len(pfx)] != 0xFF
}

func (r *rawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.reverse {
		switch {
		case r.upper == nil:
			k, v = bcur.Last()
		case r.upperPfxInc:
			k, v = bcur.SeekLast(r.upper)
		default:
			k, v = bcur.Seek(r.upper)
			if k == nil {
				k, v = bcur.Last()
			}
		}
		for k != nil && r.aboveUpper(k) {
			k, v = bcur.Prev()
		}
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "range start (reverse)", hexAttr("upper", r.upper), hexAttr("key", k))
		}
		if k == nil || r.belowLower(k) {
			return nil, nil
		}
	} else {
		if r.lower != nil {
			k, v = bcur.Seek(r.lower)
		} else {
			k, v = bcur.First()
		}
		for k != nil && r.belowLower(k) {
			k, v = bcur.Next()
		}
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "range start", hexAttr("lower", r.lower), hexAttr("key", k))
		}
		if k == nil || r.aboveUpper(k) {
			return nil, nil
		}
	}
	return k, v
}

func (r *rawRange) next(bcur storageCursor) ([]byte, []byte) {
	var k, v []byte
	if r.reverse {
		k, v = bcur.Prev()
		if k == nil || r.belowLower(k) {
			return nil, nil
		}
	} else {
		k, v = bcur.Next()
		if k == nil || r.aboveUpper(k) {
			return nil, nil
		}
	}
	return k, v
}

type rawRangeCursor struct {
	rang   rawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (rang rawRange) newCursor(bcur storageCursor) *rawRangeCursor {
	return &rawRangeCursor{rang: rang, bcur: bcur, logger: slog.Default()}
}

func (c *rawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

// AdvanceBy jumps n positions in traversal direction as a single bulk move,
// then re-checks the range bound at the landing position. The cursor must
// already be positioned.
func (c *rawRangeCursor) AdvanceBy(n int) bool {
	var k, v []byte
	if c.rang.reverse {
		k, v = c.bcur.Retreat(n)
		if k == nil || c.rang.belowLower(k) {
			c.k, c.v = nil, nil
			return false
		}
	} else {
		k, v = c.bcur.Advance(n)
		if k == nil || c.rang.aboveUpper(k) {
			c.k, c.v = nil, nil
			return false
		}
	}
	c.k, c.v = k, v
	return true
}

// reseek restores the underlying cursor position after the bucket was
// mutated at the current key (Bolt invalidates cursors on writes).
func (c *rawRangeCursor) reseek() {
	if c.k != nil {
		c.bcur.Seek(c.k)
	}
}

// rangeCursor is the single traversal the executor drives: a positioned
// iterator over a collection or one of its indexes, yielding primary keys
// and raw documents, with write-through for mutating queries.
type rangeCursor interface {
	Next() bool
	AdvanceBy(n int) bool
	RawKey() []byte
	Key() (any, error)
	DocRaw() ([]byte, error)
	Update(raw []byte) error
}

type collectionCursor struct {
	rr   *rawRangeCursor
	data storageBucket
}

func (c *collectionCursor) Next() bool              { return c.rr.Next() }
func (c *collectionCursor) AdvanceBy(n int) bool    { return c.rr.AdvanceBy(n) }
func (c *collectionCursor) RawKey() []byte          { return c.rr.k }
func (c *collectionCursor) DocRaw() ([]byte, error) { return c.rr.v, nil }

func (c *collectionCursor) Key() (any, error) {
	key, rest, err := decodeKey(c.rr.k)
	if err == nil && len(rest) != 0 {
		err = fmt.Errorf("qkv: trailing bytes after key")
	}
	return key, err
}

func (c *collectionCursor) Update(raw []byte) error {
	if err := c.data.Put(c.rr.k, raw); err != nil {
		return err
	}
	c.rr.reseek()
	c.rr.v = c.data.Get(c.rr.k)
	return nil
}

type indexCursor struct {
	rr          *rawRangeCursor
	idx         *IndexDef
	data        storageBucket
	distinct    bool
	prevDerived []byte
}

func (c *indexCursor) derived() []byte {
	if c.idx.IsUnique {
		return c.rr.k
	}
	return c.rr.k[:len(c.rr.k)-len(c.rr.v)]
}

func (c *indexCursor) Next() bool {
	for c.rr.Next() {
		d := c.derived()
		if c.distinct && c.prevDerived != nil && bytes.Equal(d, c.prevDerived) {
			continue
		}
		c.prevDerived = slices.Clone(d)
		return true
	}
	return false
}

func (c *indexCursor) AdvanceBy(n int) bool {
	if !c.distinct {
		if !c.rr.AdvanceBy(n) {
			return false
		}
		c.prevDerived = slices.Clone(c.derived())
		return true
	}
	// Bulk positions are not meaningful across collapsed duplicate keys;
	// step the distinct cursor instead.
	for ; n > 0; n-- {
		if !c.Next() {
			return false
		}
	}
	return true
}

func (c *indexCursor) RawKey() []byte { return c.rr.v }

func (c *indexCursor) Key() (any, error) {
	key, rest, err := decodeKey(c.rr.v)
	if err == nil && len(rest) != 0 {
		err = fmt.Errorf("qkv: trailing bytes after key")
	}
	return key, err
}

func (c *indexCursor) DocRaw() ([]byte, error) {
	raw := c.data.Get(c.rr.v)
	if raw == nil {
		return nil, fmt.Errorf("qkv: index %s entry points at a missing record", c.idx.Name)
	}
	return raw, nil
}

// Update writes through to the data bucket; the index bucket under the
// cursor is left untouched here, derived-key maintenance is the executor's
// job at the end of the traversal.
func (c *indexCursor) Update(raw []byte) error {
	return c.data.Put(c.rr.v, raw)
}

func openRangeCursor(tx storageTx, store string, col *CollectionDef, idx *IndexDef, rng Range, reverse, distinct bool) (rangeCursor, error) {
	data := tx.Bucket(col.Name, dataBucketName)
	if data == nil {
		return nil, storeErrf(store, col.Name, nil, nil, "collection bucket missing")
	}
	rr, err := rng.rawRange(idx != nil, reverse)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return &collectionCursor{rr: rr.newCursor(data.Cursor()), data: data}, nil
	}
	ibuck := tx.Bucket(col.Name, indexBucketName(idx.Name))
	if ibuck == nil {
		return nil, storeErrf(store, col.Name, nil, nil, "index bucket %s missing", idx.Name)
	}
	return &indexCursor{
		rr:       rr.newCursor(ibuck.Cursor()),
		idx:      idx,
		data:     data,
		distinct: distinct,
	}, nil
}

// rawRange translates a canonical Range into encoded-key bounds. forIndex
// engages the prefix flags that account for primary keys appended to
// non-unique index entries.
func (r Range) rawRange(forIndex, reverse bool) (rawRange, error) {
	rr := rawRange{reverse: reverse}
	if r.Kind == RangeUnbounded {
		return rr, nil
	}
	if r.Kind == RangeEquals || r.Kind == RangeLower || r.Kind == RangeBound {
		enc, err := encodeKey(nil, r.Lower)
		if err != nil {
			return rr, err
		}
		rr.lower = enc
		rr.lowerInc = r.LowerInc
		rr.lowerPfxExcl = forIndex && !r.LowerInc
	}
	if r.Kind == RangeEquals || r.Kind == RangeUpper || r.Kind == RangeBound {
		enc, err := encodeKey(nil, r.Upper)
		if err != nil {
			return rr, err
		}
		rr.upper = enc
		rr.upperInc = r.UpperInc
		rr.upperPfxInc = forIndex && r.UpperInc
	}
	return rr, nil
}

// countRange counts the keys a range admits without decoding any values.
// An unbounded count short-circuits to the bucket's native key count.
func countRange(tx storageTx, store string, col *CollectionDef, idx *IndexDef, rng Range) (int, error) {
	bucketSub := dataBucketName
	if idx != nil {
		bucketSub = indexBucketName(idx.Name)
	}
	buck := tx.Bucket(col.Name, bucketSub)
	if buck == nil {
		return 0, storeErrf(store, col.Name, nil, nil, "bucket %s missing", bucketSub)
	}
	if rng.Kind == RangeUnbounded {
		return buck.KeyCount(), nil
	}
	rr, err := rng.rawRange(idx != nil, false)
	if err != nil {
		return 0, err
	}
	cur := rr.newCursor(buck.Cursor())
	var n int
	for cur.Next() {
		n++
	}
	return n, nil
}
