package qkv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed is returned by every session operation attempted after
// Close, and by Close itself when the session is already closed.
var ErrSessionClosed = errors.New("qkv: session closed")

// ErrKeyExists is the cause wrapped into a StoreError when an insert or a
// unique index hits an already-occupied key.
var ErrKeyExists = errors.New("qkv: key already exists")

// ErrInvalidRangeKey is returned when a comparison object carries a single
// unrecognized key.
var ErrInvalidRangeKey = errors.New("qkv: invalid range key")

// ErrConflictingRangeKeys is returned when a comparison object carries a
// combination of keys that does not form a valid bound pair.
var ErrConflictingRangeKeys = errors.New("qkv: conflicting range keys")

// ErrNameCollision is returned when a declared collection name collides
// with a name reserved by the session layer. The session is closed.
var ErrNameCollision = errors.New("qkv: collection name collides with a reserved name")

// StoreError wraps a failure of an underlying store operation with enough
// context to name the store, collection and key involved.
type StoreError struct {
	Store      string
	Collection string
	Index      string
	Key        any
	Msg        string
	Err        error
}

func storeErrf(store, collection string, key any, err error, format string, args ...any) error {
	return &StoreError{
		Store:      store,
		Collection: collection,
		Key:        key,
		Msg:        fmt.Sprintf(format, args...),
		Err:        err,
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.Collection != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Collection)
	}
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		fmt.Fprintf(&buf, "/%v", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// BlockedError reports an open or delete that cannot proceed while another
// live connection holds the store at a conflicting version. It is
// recoverable: Released is closed when the blocking connection goes away,
// and Retry resumes the original request.
type BlockedError struct {
	Name        string
	HeldVersion int
	WantVersion int

	// Released is closed when the blocking connection closes.
	Released <-chan struct{}

	retry func() (*Session, error)
}

func (e *BlockedError) Error() string {
	if e.WantVersion == 0 {
		return fmt.Sprintf("qkv: delete of %q blocked by a live connection at version %d", e.Name, e.HeldVersion)
	}
	return fmt.Sprintf("qkv: open of %q at version %d blocked by a live connection at version %d", e.Name, e.WantVersion, e.HeldVersion)
}

// Retry waits for the blocking connection to release the store and then
// resumes the original request. For a blocked DeleteStore the returned
// session is nil.
func (e *BlockedError) Retry() (*Session, error) {
	<-e.Released
	return e.retry()
}
