package qkv

import (
	"log"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Store is one physical connection to a named, versioned store. A Store is
// shared by every Session opened for the same (name, version) registry key;
// closing any of those sessions closes the Store and evicts it.
type Store struct {
	name    string
	version int
	schema  *Schema
	stg     storage
	path    string

	// In-memory storages outlive the connection so that a reopened store
	// sees its data again; Bolt files are closed with the connection.
	closeStorage bool

	reg *Registry
	key storeKey

	logf    func(format string, args ...any)
	verbose bool

	closed   atomic.Bool
	closedCh chan struct{}

	met *storeMetrics

	handlerMu             sync.Mutex
	closeHandlers         []func()
	versionChangeHandlers []func(oldVersion, newVersion int)
}

func (st *Store) Name() string { return st.name }

func (st *Store) Version() int { return st.version }

// MetricsSet exposes the store's operation counters for scraping.
func (st *Store) MetricsSet() *metrics.Set { return st.met.set }

// tx runs f inside one storage transaction. Writable transactions commit on
// a nil result and roll back otherwise; read-only transactions always roll
// back. Transaction completion, not cursor exhaustion, finalizes the
// operation: the result is only returned once Commit has reported.
func (st *Store) tx(writable bool, f func(tx storageTx) error) error {
	if st.closed.Load() {
		return ErrSessionClosed
	}
	stx, err := st.stg.BeginTx(writable)
	if err != nil {
		return storeErrf(st.name, "", nil, err, "begin tx")
	}
	if !writable {
		defer stx.Rollback()
		return f(stx)
	}
	if err := f(stx); err != nil {
		stx.Rollback()
		st.met.aborts.Inc()
		return err
	}
	if err := stx.Commit(); err != nil {
		st.met.aborts.Inc()
		return storeErrf(st.name, "", nil, err, "commit")
	}
	st.met.commits.Inc()
	return nil
}

func (st *Store) close() error {
	if !st.closed.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	st.reg.evict(st)
	close(st.closedCh)

	st.handlerMu.Lock()
	handlers := st.closeHandlers
	st.closeHandlers = nil
	st.handlerMu.Unlock()
	for _, f := range handlers {
		f()
	}

	if st.verbose {
		st.logf("qkv: closed %s@%d", st.name, st.version)
	}
	if st.closeStorage {
		if err := st.stg.Close(); err != nil {
			return storeErrf(st.name, "", nil, err, "close")
		}
	}
	return nil
}

func (st *Store) onClose(f func()) {
	st.handlerMu.Lock()
	defer st.handlerMu.Unlock()
	st.closeHandlers = append(st.closeHandlers, f)
}

func (st *Store) onVersionChange(f func(oldVersion, newVersion int)) {
	st.handlerMu.Lock()
	defer st.handlerMu.Unlock()
	st.versionChangeHandlers = append(st.versionChangeHandlers, f)
}

func (st *Store) fireVersionChange(oldVersion, newVersion int) {
	st.handlerMu.Lock()
	handlers := slices.Clone(st.versionChangeHandlers)
	st.handlerMu.Unlock()
	for _, f := range handlers {
		f(oldVersion, newVersion)
	}
}

func defaultLogf(format string, args ...any) {
	log.Printf(format, args...)
}
