package qkv

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

const memBucketSep = "\x00"

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage implementation used
// for tests and in-memory stores.
func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	// Snapshot the entire store for transactional isolation (simplicity
	// over efficiency).
	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.clone()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[memBucketKey(name, sub)]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}

	// Ensure the root exists for nested buckets (Bolt compatibility).
	rootKey := memBucketKey(name, "")
	if tx.buckets[rootKey] == nil {
		tx.buckets[rootKey] = &memBucket{}
	}

	key := memBucketKey(name, sub)
	b := tx.buckets[key]
	if b == nil {
		b = &memBucket{}
		tx.buckets[key] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if sub == "" {
		if tx.buckets[memBucketKey(name, "")] == nil {
			return ErrBucketNotFound
		}
		prefix := name + memBucketSep
		for k := range tx.buckets {
			if strings.HasPrefix(k, prefix) {
				delete(tx.buckets, k)
			}
		}
		return nil
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	return nil
}

func (tx *memTx) RootBuckets() []string {
	var names []string
	for k := range tx.buckets {
		name, sub, _ := strings.Cut(k, memBucketSep)
		if sub == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (tx *memTx) SubBuckets(name string) []string {
	if tx.buckets[memBucketKey(name, "")] == nil {
		return nil
	}
	var names []string
	prefix := name + memBucketSep
	for k := range tx.buckets {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			names = append(names, k[len(prefix):])
		}
	}
	sort.Strings(names)
	return names
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucket struct {
	items []memKV // sorted by key
	seq   uint64
}

func (b *memBucket) clone() *memBucket {
	if b == nil {
		return nil
	}
	out := &memBucket{items: make([]memKV, len(b.items)), seq: b.seq}
	for i, kv := range b.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	return out
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) find(key []byte) (int, bool) {
	return sort.Find(len(b.b.items), func(i int) int {
		return bytes.Compare(key, b.b.items[i].key)
	})
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := b.find(key)
	if ok {
		b.b.items[i].value = value
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Cursor() storageCursor { return &memCursor{b: b.b, pos: -1} }

func (b memBucketHandle) KeyCount() int { return len(b.b.items) }

func (b memBucketHandle) NextSequence() (uint64, error) {
	if !b.tx.writable {
		return 0, fmt.Errorf("tx not writable")
	}
	b.b.seq++
	return b.b.seq, nil
}

func (b memBucketHandle) Sequence() uint64 { return b.b.seq }

func (b memBucketHandle) SetSequence(v uint64) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.b.seq = v
	return nil
}

func (b memBucketHandle) Stats() bucketStats {
	return bucketStats{KeyN: len(b.b.items)}
}

// memCursor walks the sorted item slice by position; Advance and Retreat
// are O(1) jumps.
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Last() ([]byte, []byte) {
	c.pos = len(c.b.items) - 1
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos = sort.Search(len(c.b.items), func(i int) bool {
		return bytes.Compare(c.b.items[i].key, seek) >= 0
	})
	return c.at()
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := append([]byte(nil), prefix...)
	if inc(limit) {
		c.pos = sort.Search(len(c.b.items), func(i int) bool {
			return bytes.Compare(c.b.items[i].key, limit) >= 0
		}) - 1
		return c.at()
	}
	c.pos = len(c.b.items) - 1
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < len(c.b.items) {
		c.pos++
	}
	return c.at()
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos >= 0 {
		c.pos--
	}
	return c.at()
}

func (c *memCursor) Advance(n int) ([]byte, []byte) {
	c.pos += n
	if c.pos > len(c.b.items) {
		c.pos = len(c.b.items)
	}
	return c.at()
}

func (c *memCursor) Retreat(n int) ([]byte, []byte) {
	c.pos -= n
	if c.pos < -1 {
		c.pos = -1
	}
	return c.at()
}

func (c *memCursor) Delete() error {
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return fmt.Errorf("cursor not positioned")
	}
	c.b.items = slices.Delete(c.b.items, c.pos, c.pos+1)
	c.pos--
	return nil
}
