package qkv

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Document is a schemaless record stored in a collection.
type Document = map[string]any

// internalKeyField is where the resolved primary key is written back when a
// collection has no declared key path.
const internalKeyField = "_id"

// Record is the tagged input shape for Add and Put: either a bare document
// (the key comes from the collection's key path or its generator), or a
// document paired with an explicit key that overrides both.
type Record struct {
	key   any
	doc   Document
	keyed bool
}

func Bare(doc Document) Record { return Record{doc: doc} }

func Keyed(key any, doc Document) Record { return Record{key: key, doc: doc, keyed: true} }

func (r Record) Doc() Document { return r.doc }

func (r Record) Key() (any, bool) { return r.key, r.keyed }

const docFormatV1 = 1

func encodeDoc(doc Document) ([]byte, error) {
	data, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 1, 1+len(data))
	buf[0] = docFormatV1
	return append(buf, data...), nil
}

func decodeDoc(raw []byte) (Document, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("qkv: empty document value")
	}
	if raw[0] != docFormatV1 {
		return nil, fmt.Errorf("qkv: unknown document format %d", raw[0])
	}
	// Loose decoding widens numbers to int64/uint64/float64 so documents
	// round-trip into predictable types.
	dec := msgpack.NewDecoder(bytes.NewReader(raw[1:]))
	dec.UseLooseInterfaceDecoding(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// getPath resolves a dotted field path against a document.
func getPath(doc Document, path string) (any, bool) {
	cur := any(doc)
	for path != "" {
		seg, rest, _ := strings.Cut(path, ".")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
		path = rest
	}
	return cur, true
}

// setPath writes a value under a dotted field path, creating intermediate
// maps as needed. Fails if an intermediate segment holds a non-map value.
func setPath(doc Document, path string, value any) error {
	m := doc
	for {
		seg, rest, more := strings.Cut(path, ".")
		if !more {
			m[seg] = value
			return nil
		}
		next, ok := m[seg]
		if !ok || next == nil {
			child := make(map[string]any)
			m[seg] = child
			m = child
		} else if child, ok := next.(map[string]any); ok {
			m = child
		} else {
			return fmt.Errorf("qkv: field %q is not an object", seg)
		}
		path = rest
	}
}

// keysEqual reports key equality under the canonical ordering, so that an
// int filter value matches the float64 a document round-trips into.
func keysEqual(a, b any) bool {
	cmp, err := CompareKeys(a, b)
	return err == nil && cmp == 0
}
