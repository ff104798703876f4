package qkv

import (
	"math"
	"sync/atomic"
)

// Session is a handle over an open store. Multiple sessions opened for the
// same (name, version) share one physical connection, so closing any of
// them closes the connection for all.
type Session struct {
	store  *Store
	closed atomic.Bool
}

func newSession(st *Store) *Session {
	return &Session{store: st}
}

func (s *Session) Name() string { return s.store.name }

func (s *Session) Version() int { return s.store.version }

// Collections returns the declared collection names in sorted order.
func (s *Session) Collections() []string { return s.store.schema.collectionNames() }

// OnClose registers f to run when the underlying connection closes.
func (s *Session) OnClose(f func()) { s.store.onClose(f) }

// OnVersionChange registers f to run when another caller requests this
// store at a different version while this connection is still live.
func (s *Session) OnVersionChange(f func(oldVersion, newVersion int)) {
	s.store.onVersionChange(f)
}

func (s *Session) guard() error {
	if s.closed.Load() || s.store.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// Close closes the session and the underlying connection.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return ErrSessionClosed
	}
	return s.store.close()
}

func (s *Session) collection(name string) (*CollectionDef, error) {
	col := s.store.schema.collection(name)
	if col == nil {
		return nil, storeErrf(s.store.name, name, nil, nil, "unknown collection")
	}
	return col, nil
}

// Add inserts records. A record whose resolved key is already present fails
// the whole call and nothing is stored. Returns the resolved keys in input
// order.
func (s *Session) Add(collection string, recs ...Record) ([]any, error) {
	return s.putRecords(collection, recs, false)
}

// Put inserts or replaces records. Returns the resolved keys in input
// order.
func (s *Session) Put(collection string, recs ...Record) ([]any, error) {
	return s.putRecords(collection, recs, true)
}

func (s *Session) putRecords(collection string, recs []Record, upsert bool) ([]any, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	keys := make([]any, 0, len(recs))
	err = s.store.tx(true, func(tx storageTx) error {
		data := tx.Bucket(col.Name, dataBucketName)
		if data == nil {
			return storeErrf(s.store.name, col.Name, nil, nil, "collection bucket missing")
		}
		for _, rec := range recs {
			doc := rec.Doc()
			if doc == nil {
				return storeErrf(s.store.name, col.Name, nil, nil, "nil document")
			}
			key, err := resolveKey(s.store.name, col, rec, data)
			if err != nil {
				return err
			}
			if err := setPath(doc, col.keyField(), key); err != nil {
				return storeErrf(s.store.name, col.Name, key, err, "key write-back")
			}
			pkEnc, err := encodeKey(nil, key)
			if err != nil {
				return storeErrf(s.store.name, col.Name, key, err, "unusable key")
			}
			if old := data.Get(pkEnc); old != nil {
				if !upsert {
					return storeErrf(s.store.name, col.Name, key, ErrKeyExists, "add")
				}
				oldDoc, err := decodeDoc(old)
				if err != nil {
					return storeErrf(s.store.name, col.Name, key, err, "corrupted record")
				}
				if err := deleteIndexEntries(tx, s.store.name, col, oldDoc, pkEnc); err != nil {
					return err
				}
			}
			if err := putIndexEntries(tx, s.store.name, col, doc, pkEnc); err != nil {
				return err
			}
			raw, err := encodeDoc(doc)
			if err != nil {
				return storeErrf(s.store.name, col.Name, key, err, "encode record")
			}
			if err := data.Put(pkEnc, raw); err != nil {
				return err
			}
			s.store.met.writes.Inc()
			if s.store.verbose {
				s.store.logf("qkv: PUT %s/%v", col.Name, key)
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// resolveKey picks the record's primary key: an explicit key wins, then the
// key path field, then the collection's generator. Explicit integral keys
// pull the generator forward so later generated keys never collide.
func resolveKey(store string, col *CollectionDef, rec Record, data storageBucket) (any, error) {
	key, keyed := rec.Key()
	if !keyed {
		if v, ok := getPath(rec.Doc(), col.keyField()); ok && v != nil {
			key = v
			keyed = true
		}
	}
	if !keyed {
		if !col.AutoIncrement {
			return nil, storeErrf(store, col.Name, nil, nil, "record has no key and the collection does not generate keys")
		}
		seq, err := data.NextSequence()
		if err != nil {
			return nil, err
		}
		return int64(seq), nil
	}
	if col.AutoIncrement {
		if f, ok := numberOf(key); ok && f > 0 && f == math.Trunc(f) && uint64(f) > data.Sequence() {
			if err := data.SetSequence(uint64(f)); err != nil {
				return nil, err
			}
		}
	}
	return key, nil
}

// Get returns the single record the key selects, or the first record of the
// range when key is a comparison object. Returns nil with no error when
// nothing matches.
func (s *Session) Get(collection string, key any) (Document, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	rng, err := TranslateRange(key)
	if err != nil {
		return nil, err
	}

	var doc Document
	err = s.store.tx(false, func(tx storageTx) error {
		s.store.met.reads.Inc()
		if rng.Kind == RangeEquals {
			data := tx.Bucket(col.Name, dataBucketName)
			if data == nil {
				return storeErrf(s.store.name, col.Name, nil, nil, "collection bucket missing")
			}
			pkEnc, err := encodeKey(nil, rng.Lower)
			if err != nil {
				return storeErrf(s.store.name, col.Name, rng.Lower, err, "unusable key")
			}
			raw := data.Get(pkEnc)
			if raw == nil {
				return nil
			}
			doc, err = decodeDoc(raw)
			return err
		}
		cur, err := openRangeCursor(tx, s.store.name, col, nil, rng, false, false)
		if err != nil {
			return err
		}
		if !cur.Next() {
			return nil
		}
		raw, err := cur.DocRaw()
		if err != nil {
			return err
		}
		doc, err = decodeDoc(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Count returns the number of records the key or range selects; a nil key
// counts the whole collection.
func (s *Session) Count(collection string, key any) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	rng, err := TranslateRange(key)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.store.tx(false, func(tx storageTx) error {
		s.store.met.reads.Inc()
		n, err = countRange(tx, s.store.name, col, nil, rng)
		return err
	})
	return n, err
}

// Delete removes the record under the key. Deleting an absent key is a
// no-op.
func (s *Session) Delete(collection string, key any) error {
	if err := s.guard(); err != nil {
		return err
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	pkEnc, err := encodeKey(nil, key)
	if err != nil {
		return storeErrf(s.store.name, col.Name, key, err, "unusable key")
	}
	return s.store.tx(true, func(tx storageTx) error {
		data := tx.Bucket(col.Name, dataBucketName)
		if data == nil {
			return storeErrf(s.store.name, col.Name, nil, nil, "collection bucket missing")
		}
		raw := data.Get(pkEnc)
		if raw == nil {
			return nil
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return storeErrf(s.store.name, col.Name, key, err, "corrupted record")
		}
		if err := deleteIndexEntries(tx, s.store.name, col, doc, pkEnc); err != nil {
			return err
		}
		if err := data.Delete(pkEnc); err != nil {
			return err
		}
		s.store.met.deletes.Inc()
		if s.store.verbose {
			s.store.logf("qkv: DEL %s/%v", col.Name, key)
		}
		return nil
	})
}

// Clear drops every record and index entry of the collection, keeping the
// key generator's position so cleared collections don't reissue old keys.
func (s *Session) Clear(collection string) error {
	if err := s.guard(); err != nil {
		return err
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	return s.store.tx(true, func(tx storageTx) error {
		data := tx.Bucket(col.Name, dataBucketName)
		if data == nil {
			return storeErrf(s.store.name, col.Name, nil, nil, "collection bucket missing")
		}
		seq := data.Sequence()
		for _, sub := range tx.SubBuckets(col.Name) {
			if err := tx.DeleteBucket(col.Name, sub); err != nil {
				return err
			}
		}
		data, err := tx.CreateBucket(col.Name, dataBucketName)
		if err != nil {
			return err
		}
		if err := data.SetSequence(seq); err != nil {
			return err
		}
		for _, idxName := range col.indexNames() {
			if _, err := tx.CreateBucket(col.Name, indexBucketName(idxName)); err != nil {
				return err
			}
		}
		s.store.met.deletes.Inc()
		if s.store.verbose {
			s.store.logf("qkv: CLEAR %s", col.Name)
		}
		return nil
	})
}

// Stats reports row counts and storage footprint for one collection.
func (s *Session) Stats(collection string) (CollectionStats, error) {
	if err := s.guard(); err != nil {
		return CollectionStats{}, err
	}
	col, err := s.collection(collection)
	if err != nil {
		return CollectionStats{}, err
	}
	var cs CollectionStats
	err = s.store.tx(false, func(tx storageTx) error {
		cs, err = collectionStats(tx, s.store.name, col)
		return err
	})
	return cs, err
}

// Query starts a query over the collection, or over one of its indexes when
// an index name is given.
func (s *Session) Query(collection string, index ...string) *Query {
	q := &Query{sess: s, take: -1}
	if err := s.guard(); err != nil {
		q.err = err
		return q
	}
	col, err := s.collection(collection)
	if err != nil {
		q.err = err
		return q
	}
	q.col = col
	if len(index) > 1 {
		q.err = storeErrf(s.store.name, collection, nil, nil, "at most one index per query")
		return q
	}
	if len(index) == 1 && index[0] != "" {
		q.idx = col.index(index[0])
		if q.idx == nil {
			q.err = storeErrf(s.store.name, collection, nil, nil, "unknown index %s", index[0])
		}
	}
	return q
}
