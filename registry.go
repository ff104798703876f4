package qkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.etcd.io/bbolt"
)

type storeKey struct {
	name    string
	version int
}

// Registry is the table of live connections, keyed by (name, version).
// Opening the same key twice yields sessions sharing one physical
// connection; the registry never holds two entries for the same key.
// Entries are inserted by Open and evicted by close, never mutated
// mid-traversal.
type Registry struct {
	dir    string
	stores *xsync.MapOf[storeKey, *Store]

	// mu serializes the open/close/delete slow paths; cache hits stay
	// lock-free on the xsync map.
	mu        sync.Mutex
	memStores map[string]*memStorage
}

// NewRegistry creates a registry whose Bolt files live under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:       dir,
		stores:    xsync.NewMapOf[storeKey, *Store](),
		memStores: make(map[string]*memStorage),
	}
}

// Options configure an Open request.
type Options struct {
	// Name identifies the store. Required.
	Name string

	// Version is the requested schema version, >= 1. Defaults to 1.
	Version int

	// Schema declares the desired collections and indexes. Required when
	// the request upgrades the store past its current version; otherwise
	// the persisted schema snapshot is used when nil.
	Schema *Schema

	// Path overrides the Bolt file location (default: <dir>/<name>.db).
	Path string

	// InMemory backs the store with transient in-memory storage. The data
	// survives close/reopen within this registry until DeleteStore.
	InMemory bool

	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool
}

// Open returns a session over the store at the requested version. A cached
// connection for the same (name, version) is reused without touching the
// schema or the storage open routine. A first open at a version above the
// stored one runs schema reconciliation inside the upgrade transaction.
// If another live connection holds the store at a different version, Open
// fails with a resumable *BlockedError.
func (r *Registry) Open(opt Options) (*Session, error) {
	if opt.Name == "" {
		return nil, fmt.Errorf("qkv: store name is required")
	}
	if opt.Version == 0 {
		opt.Version = 1
	}
	if opt.Version < 1 {
		return nil, fmt.Errorf("qkv: invalid version %d", opt.Version)
	}
	if err := opt.Schema.validate(); err != nil {
		return nil, err
	}

	key := storeKey{opt.Name, opt.Version}
	if st, ok := r.stores.Load(key); ok && !st.closed.Load() {
		return newSession(st), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores.Load(key); ok && !st.closed.Load() {
		return newSession(st), nil
	}
	if holder := r.liveStoreLocked(opt.Name); holder != nil {
		holder.fireVersionChange(holder.version, opt.Version)
		return nil, &BlockedError{
			Name:        opt.Name,
			HeldVersion: holder.version,
			WantVersion: opt.Version,
			Released:    holder.closedCh,
			retry:       func() (*Session, error) { return r.Open(opt) },
		}
	}

	stg, path, closeStorage, err := r.openStorageLocked(opt)
	if err != nil {
		return nil, err
	}

	schema := opt.Schema
	fail := func(err error) (*Session, error) {
		if closeStorage {
			stg.Close()
		}
		return nil, err
	}

	stx, err := stg.BeginTx(true)
	if err != nil {
		return fail(storeErrf(opt.Name, "", nil, err, "begin upgrade tx"))
	}
	stored, storedSchema, err := readMeta(stx)
	if err != nil {
		stx.Rollback()
		return fail(err)
	}
	switch {
	case stored > opt.Version:
		stx.Rollback()
		return fail(storeErrf(opt.Name, "", nil, nil, "requested version %d is behind stored version %d", opt.Version, stored))

	case stored == opt.Version:
		stx.Rollback()
		if schema == nil {
			schema = storedSchema
		}

	default: // upgrade (including first open)
		if schema == nil {
			stx.Rollback()
			return fail(storeErrf(opt.Name, "", nil, nil, "upgrade from version %d to %d requires a schema", stored, opt.Version))
		}
		logf := opt.Logf
		if logf == nil {
			logf = defaultLogf
		}
		if err := reconcileSchema(stx, opt.Name, schema, logf, opt.Verbose); err != nil {
			stx.Rollback()
			return fail(err)
		}
		if err := writeMeta(stx, schema, opt.Version); err != nil {
			stx.Rollback()
			return fail(err)
		}
		if err := stx.Commit(); err != nil {
			return fail(storeErrf(opt.Name, "", nil, err, "commit upgrade"))
		}
	}
	if schema == nil {
		schema = NewSchema()
	}

	st := r.newStoreLocked(key, schema, stg, path, closeStorage, opt)
	return newSession(st), nil
}

// OpenCurrent opens an existing store at its stored version using the
// persisted schema snapshot, reusing a live connection when one exists.
func (r *Registry) OpenCurrent(name string) (*Session, error) {
	if name == "" {
		return nil, fmt.Errorf("qkv: store name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder := r.liveStoreLocked(name); holder != nil {
		return newSession(holder), nil
	}

	opt := Options{Name: name}
	if _, ok := r.memStores[name]; ok {
		opt.InMemory = true
	}
	stg, path, closeStorage, err := r.openStorageLocked(opt)
	if err != nil {
		return nil, err
	}
	stx, err := stg.BeginTx(false)
	if err != nil {
		if closeStorage {
			stg.Close()
		}
		return nil, storeErrf(name, "", nil, err, "begin tx")
	}
	stored, schema, err := readMeta(stx)
	stx.Rollback()
	if err == nil && stored == 0 {
		err = storeErrf(name, "", nil, nil, "store has no version")
	}
	if err != nil {
		if closeStorage {
			stg.Close()
		}
		return nil, err
	}

	opt.Version = stored
	st := r.newStoreLocked(storeKey{name, stored}, schema, stg, path, closeStorage, opt)
	return newSession(st), nil
}

// DeleteStore removes the named store. While any live connection holds it,
// the delete fails with a resumable *BlockedError.
func (r *Registry) DeleteStore(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder := r.liveStoreLocked(name); holder != nil {
		return &BlockedError{
			Name:        name,
			HeldVersion: holder.version,
			Released:    holder.closedCh,
			retry: func() (*Session, error) {
				return nil, r.DeleteStore(name)
			},
		}
	}
	if _, ok := r.memStores[name]; ok {
		delete(r.memStores, name)
		return nil
	}
	path := filepath.Join(r.dir, name+".db")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return storeErrf(name, "", nil, err, "delete store")
	}
	return nil
}

func (r *Registry) liveStoreLocked(name string) *Store {
	var found *Store
	r.stores.Range(func(k storeKey, st *Store) bool {
		if k.name == name && !st.closed.Load() {
			found = st
			return false
		}
		return true
	})
	return found
}

func (r *Registry) openStorageLocked(opt Options) (storage, string, bool, error) {
	if opt.InMemory {
		ms := r.memStores[opt.Name]
		if ms == nil {
			ms = newMemStorage()
			r.memStores[opt.Name] = ms
		}
		return ms, "", false, nil
	}

	path := opt.Path
	if path == "" {
		path = filepath.Join(r.dir, opt.Name+".db")
	}
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, "", false, storeErrf(opt.Name, "", nil, err, "open")
	}
	return newBoltStorage(bdb), path, true, nil
}

func (r *Registry) newStoreLocked(key storeKey, schema *Schema, stg storage, path string, closeStorage bool, opt Options) *Store {
	logf := opt.Logf
	if logf == nil {
		logf = defaultLogf
	}
	st := &Store{
		name:         key.name,
		version:      key.version,
		schema:       schema,
		stg:          stg,
		path:         path,
		closeStorage: closeStorage,
		reg:          r,
		key:          key,
		logf:         logf,
		verbose:      opt.Verbose,
		closedCh:     make(chan struct{}),
		met:          newStoreMetrics(key.name),
	}
	r.stores.Store(key, st)
	return st
}

func (r *Registry) evict(st *Store) {
	r.stores.Delete(st.key)
}
