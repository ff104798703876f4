package qkv

import (
	"fmt"
	"sort"
	"strings"
)

const (
	metaBucket     = "__qkv_meta"
	dataBucketName = "data"
	indexBucketPfx = "i_"

	metaVersionKey = "version"
	metaSchemaKey  = "schema"
)

// Schema declares the desired shape of a store: its collections, their
// primary-key rules, and their indexes. It is reconciled against the actual
// store structure once per version upgrade.
type Schema struct {
	collections map[string]*CollectionDef
}

// CollectionDef declares one collection. A collection with an empty KeyPath
// always auto-generates surrogate keys; with a KeyPath set, AutoIncrement
// optionally fills the key field when a record arrives without one.
type CollectionDef struct {
	Name          string
	KeyPath       string
	AutoIncrement bool

	indexes map[string]*IndexDef
}

// IndexDef declares one index on a collection. Field is the dotted document
// path the derived key is computed from; it defaults to the index name.
type IndexDef struct {
	Name     string
	Field    string
	IsUnique bool
}

func NewSchema() *Schema {
	return &Schema{collections: make(map[string]*CollectionDef)}
}

// AddCollection declares a collection. keyPath may be empty for
// surrogate-keyed collections (these always auto-increment).
func (scm *Schema) AddCollection(name, keyPath string) *CollectionDef {
	if _, ok := scm.collections[name]; ok {
		panic(fmt.Errorf("qkv: collection %q declared twice", name))
	}
	col := &CollectionDef{
		Name:          name,
		KeyPath:       keyPath,
		AutoIncrement: keyPath == "",
		indexes:       make(map[string]*IndexDef),
	}
	scm.collections[name] = col
	return col
}

// AutoKey enables key generation for a collection that has a key path, so
// records arriving without the key field get a generated one written in.
func (c *CollectionDef) AutoKey() *CollectionDef {
	c.AutoIncrement = true
	return c
}

// AddIndex declares an index over the given document field. An empty field
// defaults to the index name.
func (c *CollectionDef) AddIndex(name, field string) *IndexDef {
	if _, ok := c.indexes[name]; ok {
		panic(fmt.Errorf("qkv: index %s.%s declared twice", c.Name, name))
	}
	if field == "" {
		field = name
	}
	idx := &IndexDef{Name: name, Field: field}
	c.indexes[name] = idx
	return idx
}

func (idx *IndexDef) Unique() *IndexDef {
	idx.IsUnique = true
	return idx
}

func (c *CollectionDef) index(name string) *IndexDef {
	return c.indexes[name]
}

func (c *CollectionDef) indexNames() []string {
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CollectionDef) keyField() string {
	if c.KeyPath != "" {
		return c.KeyPath
	}
	return internalKeyField
}

func (scm *Schema) collection(name string) *CollectionDef {
	if scm == nil {
		return nil
	}
	return scm.collections[name]
}

func (scm *Schema) collectionNames() []string {
	names := make([]string, 0, len(scm.collections))
	for name := range scm.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validate rejects declared names that collide with names the session layer
// reserves for its own buckets.
func (scm *Schema) validate() error {
	if scm == nil {
		return nil
	}
	for name, col := range scm.collections {
		if name == "" || name == metaBucket || name == dataBucketName || strings.HasPrefix(name, indexBucketPfx) {
			return fmt.Errorf("%w: %q", ErrNameCollision, name)
		}
		for idxName := range col.indexes {
			if idxName == "" {
				return fmt.Errorf("%w: empty index name on %q", ErrNameCollision, name)
			}
		}
	}
	return nil
}

func indexBucketName(idx string) string {
	return indexBucketPfx + idx
}

// Snapshot shapes persisted into the meta bucket, so that a store can be
// reopened at its current version without re-declaring the schema.

type schemaSnapshot struct {
	Collections map[string]collectionSnapshot `msgpack:"c"`
}

type collectionSnapshot struct {
	KeyPath       string                   `msgpack:"k"`
	AutoIncrement bool                     `msgpack:"a"`
	Indexes       map[string]indexSnapshot `msgpack:"i"`
}

type indexSnapshot struct {
	Field  string `msgpack:"f"`
	Unique bool   `msgpack:"u"`
}

func (scm *Schema) snapshot() schemaSnapshot {
	snap := schemaSnapshot{Collections: make(map[string]collectionSnapshot, len(scm.collections))}
	for name, col := range scm.collections {
		cs := collectionSnapshot{
			KeyPath:       col.KeyPath,
			AutoIncrement: col.AutoIncrement,
			Indexes:       make(map[string]indexSnapshot, len(col.indexes)),
		}
		for idxName, idx := range col.indexes {
			cs.Indexes[idxName] = indexSnapshot{Field: idx.Field, Unique: idx.IsUnique}
		}
		snap.Collections[name] = cs
	}
	return snap
}

func schemaFromSnapshot(snap schemaSnapshot) *Schema {
	scm := NewSchema()
	for name, cs := range snap.Collections {
		col := &CollectionDef{
			Name:          name,
			KeyPath:       cs.KeyPath,
			AutoIncrement: cs.AutoIncrement,
			indexes:       make(map[string]*IndexDef, len(cs.Indexes)),
		}
		for idxName, is := range cs.Indexes {
			col.indexes[idxName] = &IndexDef{Name: idxName, Field: is.Field, IsUnique: is.Unique}
		}
		scm.collections[name] = col
	}
	return scm
}
