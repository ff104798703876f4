package qkv

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket
// doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents the ordered key-value backend (Bolt, in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for
	// a nested bucket. Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist. For sub != "", it
	// must also ensure the root bucket exists.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket, or an entire root bucket with
	// all of its nested buckets when sub is empty.
	DeleteBucket(name, sub string) error

	// RootBuckets returns the names of all root buckets.
	RootBuckets() []string

	// SubBuckets returns the names of the buckets nested under a root
	// bucket, or nil if the root doesn't exist.
	SubBuckets(name string) []string

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() storageCursor

	// KeyCount returns the number of keys in the bucket.
	KeyCount() int

	// NextSequence returns the bucket's next auto-generated sequence value.
	NextSequence() (uint64, error)

	// Sequence returns the bucket's current sequence value.
	Sequence() uint64

	// SetSequence sets the bucket's sequence value.
	SetSequence(v uint64) error

	// Stats returns storage-specific bucket statistics. Backends that don't
	// track allocation sizes may return zero values except KeyN.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key carrying the given prefix, or to the
	// last key before the prefix range when no key carries it.
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Advance moves n positions forward in one operation. It is the bulk
	// counterpart of calling Next n times.
	Advance(n int) (key, value []byte)

	// Retreat moves n positions backward in one operation.
	Retreat(n int) (key, value []byte)

	// Delete deletes the current key-value pair.
	Delete() error
}
