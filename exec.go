package qkv

import (
	"reflect"
	"slices"
	"sort"
)

// pendingIndexFix records one modified document whose index entries must be
// rewritten once the traversal cursor is done with the bucket.
type pendingIndexFix struct {
	pkEnc    []byte
	old, new Document
}

// Execute runs the traversal and returns the collected items: documents,
// keys after Keys, or mapped values after Map. A modifying query rewrites
// matched records inside the same transaction, so a failed write rolls the
// whole batch back.
func (q *Query) Execute() ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := q.sess.guard(); err != nil {
		return nil, err
	}
	st := q.sess.store
	st.met.scans.Inc()

	var items []any
	err := st.tx(q.modify != nil, func(tx storageTx) error {
		cur, err := openRangeCursor(tx, st.name, q.col, q.idx, q.rng, q.reverse, q.distinct)
		if err != nil {
			return err
		}

		var pending []pendingIndexFix
		counter := 0
		ok := cur.Next()
		if ok && q.skip > 0 {
			ok = cur.AdvanceBy(q.skip)
			counter = q.skip
		}
		for ; ok; ok = cur.Next() {
			if q.take >= 0 && counter >= q.skip+q.take {
				break
			}

			var item any
			var raw []byte
			if q.keysOnly {
				item, err = cur.Key()
				if err != nil {
					return storeErrf(st.name, q.col.Name, nil, err, "corrupted key")
				}
			} else {
				raw, err = cur.DocRaw()
				if err != nil {
					return err
				}
				doc, err := decodeDoc(raw)
				if err != nil {
					return storeErrf(st.name, q.col.Name, nil, err, "corrupted record")
				}
				item = doc
			}

			if !q.matches(item) {
				continue
			}
			counter++

			if q.modify != nil {
				doc := item.(Document)
				// Re-decode for the pre-image: the live document shares
				// nested maps with what applyModify is about to change.
				old, err := decodeDoc(raw)
				if err != nil {
					return storeErrf(st.name, q.col.Name, nil, err, "corrupted record")
				}
				if err := q.applyModify(doc); err != nil {
					return err
				}
				enc, err := encodeDoc(doc)
				if err != nil {
					return storeErrf(st.name, q.col.Name, nil, err, "encode record")
				}
				if err := cur.Update(enc); err != nil {
					return err
				}
				st.met.writes.Inc()
				pending = append(pending, pendingIndexFix{
					pkEnc: slices.Clone(cur.RawKey()),
					old:   old,
					new:   doc,
				})
			}

			if q.mapper != nil {
				item = q.mapper(item)
			}
			items = append(items, item)
		}

		// Index maintenance happens after the traversal so cursor positions
		// stay valid while the loop runs.
		for _, p := range pending {
			if err := deleteIndexEntries(tx, st.name, q.col, p.old, p.pkEnc); err != nil {
				return err
			}
			if err := putIndexEntries(tx, st.name, q.col, p.new, p.pkEnc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Count returns the number of keys the query's range admits. It counts
// positions, not filter matches: filters, skip and limit do not apply, and
// it cannot follow Keys or Modify.
func (q *Query) Count() (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	if q.state != stInitial {
		return 0, storeErrf(q.sess.store.name, q.col.Name, nil, nil, "Count is not available after Keys or Modify")
	}
	if err := q.sess.guard(); err != nil {
		return 0, err
	}
	st := q.sess.store
	var n int
	err := st.tx(false, func(tx storageTx) error {
		st.met.reads.Inc()
		var err error
		n, err = countRange(tx, st.name, q.col, q.idx, q.rng)
		return err
	})
	return n, err
}

func (q *Query) matches(item any) bool {
	for _, f := range q.filters {
		if f.fn != nil {
			if !f.fn(item) {
				return false
			}
			continue
		}
		doc, ok := item.(Document)
		if !ok {
			return false
		}
		v, ok := getPath(doc, f.field)
		if !ok || !looseEqual(v, f.value) {
			return false
		}
	}
	return true
}

// applyModify rewrites the document per the rule, fields in sorted order so
// repeated runs behave the same. The primary-key field must not change.
func (q *Query) applyModify(doc Document) error {
	keyField := q.col.keyField()
	oldKey, _ := getPath(doc, keyField)

	fields := make([]string, 0, len(q.modify))
	for f := range q.modify {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		v := q.modify[f]
		if fn, ok := v.(func(Document) any); ok {
			v = fn(doc)
		}
		if err := setPath(doc, f, v); err != nil {
			return storeErrf(q.sess.store.name, q.col.Name, nil, err, "modify %s", f)
		}
	}

	if newKey, _ := getPath(doc, keyField); !looseEqual(oldKey, newKey) {
		return storeErrf(q.sess.store.name, q.col.Name, oldKey, nil, "modify must not change the primary key")
	}
	return nil
}

// looseEqual compares values under the key ordering when both sides are
// orderable, so an int filter matches the float64 a document round-trips
// into; everything else falls back to deep equality.
func looseEqual(a, b any) bool {
	if keysEqual(a, b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}
