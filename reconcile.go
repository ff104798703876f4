package qkv

import (
	"encoding/binary"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// reconcileSchema brings the store's bucket structure in line with the
// declared schema during a version upgrade. Undeclared collections are
// dropped with their data, missing collections and indexes are created,
// and new indexes over existing collections are backfilled from the data
// rows. Existing collections and indexes are left untouched, so upgrades
// never rebuild what already matches.
func reconcileSchema(tx storageTx, store string, scm *Schema, logf func(string, ...any), verbose bool) error {
	declared := scm.collectionNames()
	for _, name := range tx.RootBuckets() {
		if name == metaBucket || slices.Contains(declared, name) {
			continue
		}
		if verbose {
			logf("qkv: %s: dropping collection %s", store, name)
		}
		if err := tx.DeleteBucket(name, ""); err != nil {
			return storeErrf(store, name, nil, err, "drop collection")
		}
	}

	for _, name := range declared {
		col := scm.collections[name]
		existing := tx.SubBuckets(name)
		if _, err := tx.CreateBucket(name, dataBucketName); err != nil {
			return storeErrf(store, name, nil, err, "create data bucket")
		}
		for _, idxName := range col.indexNames() {
			bname := indexBucketName(idxName)
			if slices.Contains(existing, bname) {
				continue
			}
			if verbose {
				logf("qkv: %s: adding index %s.%s", store, name, idxName)
			}
			if _, err := tx.CreateBucket(name, bname); err != nil {
				return storeErrf(store, name, nil, err, "create index %s", idxName)
			}
			if err := backfillIndex(tx, store, col, col.indexes[idxName]); err != nil {
				return err
			}
		}
	}
	return nil
}

// backfillIndex derives entries for every existing data row. A unique
// violation among the existing rows aborts the upgrade.
func backfillIndex(tx storageTx, store string, col *CollectionDef, idx *IndexDef) error {
	data := tx.Bucket(col.Name, dataBucketName)
	ibuck := tx.Bucket(col.Name, indexBucketName(idx.Name))
	bcur := data.Cursor()
	for pkEnc, raw := bcur.First(); pkEnc != nil; pkEnc, raw = bcur.Next() {
		doc, err := decodeDoc(raw)
		if err != nil {
			return storeErrf(store, col.Name, nil, err, "backfill index %s: corrupted record", idx.Name)
		}
		derived, ok := getPath(doc, idx.Field)
		if !ok || derived == nil {
			continue
		}
		denc, err := encodeKey(nil, derived)
		if err != nil {
			return storeErrf(store, col.Name, derived, err, "backfill index %s: unindexable value", idx.Name)
		}
		k, v := indexEntryKV(idx, denc, pkEnc)
		if idx.IsUnique {
			if ibuck.Get(k) != nil {
				return storeErrf(store, col.Name, derived, ErrKeyExists, "backfill unique index %s", idx.Name)
			}
		}
		if err := ibuck.Put(slices.Clone(k), slices.Clone(v)); err != nil {
			return err
		}
	}
	return nil
}

// writeMeta persists the store version and the schema snapshot.
func writeMeta(tx storageTx, scm *Schema, version int) error {
	meta, err := tx.CreateBucket(metaBucket, "")
	if err != nil {
		return err
	}
	var vbuf [8]byte
	binary.BigEndian.PutUint64(vbuf[:], uint64(version))
	if err := meta.Put([]byte(metaVersionKey), vbuf[:]); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(scm.snapshot())
	if err != nil {
		return err
	}
	return meta.Put([]byte(metaSchemaKey), raw)
}

// readMeta loads the stored version and schema snapshot. A store that has
// never been upgraded reports version 0 and a nil schema.
func readMeta(tx storageTx) (int, *Schema, error) {
	meta := tx.Bucket(metaBucket, "")
	if meta == nil {
		return 0, nil, nil
	}
	vraw := meta.Get([]byte(metaVersionKey))
	if len(vraw) != 8 {
		return 0, nil, storeErrf("", "", nil, nil, "corrupted store version")
	}
	version := int(binary.BigEndian.Uint64(vraw))

	sraw := meta.Get([]byte(metaSchemaKey))
	if sraw == nil {
		return version, nil, nil
	}
	var snap schemaSnapshot
	if err := msgpack.Unmarshal(sraw, &snap); err != nil {
		return 0, nil, storeErrf("", "", nil, err, "corrupted schema snapshot")
	}
	return version, schemaFromSnapshot(snap), nil
}
