package qkv

import (
	"bytes"
	"slices"
)

// indexEntryKV builds the bucket entry for one index record. Unique indexes
// store the derived key alone; non-unique indexes append the encoded
// primary key so that entries for equal derived keys stay distinct and
// ordered. Both store the encoded primary key as the value.
func indexEntryKV(idx *IndexDef, derivedEnc, pkEnc []byte) ([]byte, []byte) {
	if idx.IsUnique {
		return derivedEnc, pkEnc
	}
	k := slices.Clone(derivedEnc)
	return append(k, pkEnc...), pkEnc
}

// putIndexEntries adds doc's entries to every index of the collection.
// Records lacking the indexed field are simply absent from that index.
func putIndexEntries(tx storageTx, store string, col *CollectionDef, doc Document, pkEnc []byte) error {
	for _, name := range col.indexNames() {
		idx := col.indexes[name]
		derived, ok := getPath(doc, idx.Field)
		if !ok || derived == nil {
			continue
		}
		denc, err := encodeKey(nil, derived)
		if err != nil {
			e := storeErrf(store, col.Name, derived, err, "index %s: unindexable value", name)
			return e
		}
		ibuck := tx.Bucket(col.Name, indexBucketName(name))
		if ibuck == nil {
			return storeErrf(store, col.Name, nil, nil, "index bucket %s missing", name)
		}
		k, v := indexEntryKV(idx, denc, pkEnc)
		if idx.IsUnique {
			if old := ibuck.Get(k); old != nil && !bytes.Equal(old, pkEnc) {
				return storeErrf(store, col.Name, derived, ErrKeyExists, "unique index %s", name)
			}
		}
		if err := ibuck.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndexEntries removes doc's entries from every index of the
// collection.
func deleteIndexEntries(tx storageTx, store string, col *CollectionDef, doc Document, pkEnc []byte) error {
	for _, name := range col.indexNames() {
		idx := col.indexes[name]
		derived, ok := getPath(doc, idx.Field)
		if !ok || derived == nil {
			continue
		}
		denc, err := encodeKey(nil, derived)
		if err != nil {
			continue // was never indexed
		}
		ibuck := tx.Bucket(col.Name, indexBucketName(name))
		if ibuck == nil {
			continue
		}
		k, _ := indexEntryKV(idx, denc, pkEnc)
		if idx.IsUnique {
			// Only drop the entry if it still points at this record.
			if old := ibuck.Get(k); old == nil || !bytes.Equal(old, pkEnc) {
				continue
			}
		}
		if err := ibuck.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
