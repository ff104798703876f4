package qkv

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics carries per-store operation counters. The set is exposed via
// Store.MetricsSet so hosts can plug it into their scrape endpoint.
type storeMetrics struct {
	set *metrics.Set

	reads   *metrics.Counter
	writes  *metrics.Counter
	deletes *metrics.Counter
	scans   *metrics.Counter
	commits *metrics.Counter
	aborts  *metrics.Counter
}

func newStoreMetrics(name string) *storeMetrics {
	set := metrics.NewSet()
	op := func(op string) *metrics.Counter {
		return set.NewCounter(fmt.Sprintf(`qkv_ops_total{store=%q,op=%q}`, name, op))
	}
	return &storeMetrics{
		set:     set,
		reads:   op("read"),
		writes:  op("write"),
		deletes: op("delete"),
		scans:   op("scan"),
		commits: set.NewCounter(fmt.Sprintf(`qkv_txns_total{store=%q,result="commit"}`, name)),
		aborts:  set.NewCounter(fmt.Sprintf(`qkv_txns_total{store=%q,result="abort"}`, name)),
	}
}

// CollectionStats reports row counts and storage footprint for one
// collection and its indexes.
type CollectionStats struct {
	Rows      int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (cs *CollectionStats) TotalSize() int64 {
	return cs.DataSize + cs.IndexSize
}

func (cs *CollectionStats) TotalAlloc() int64 {
	return cs.DataAlloc + cs.IndexAlloc
}

func collectionStats(tx storageTx, store string, col *CollectionDef) (CollectionStats, error) {
	data := tx.Bucket(col.Name, dataBucketName)
	if data == nil {
		return CollectionStats{}, storeErrf(store, col.Name, nil, nil, "collection bucket missing")
	}
	bs := data.Stats()
	result := CollectionStats{
		Rows:      bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
	for _, idxName := range col.indexNames() {
		ibuck := tx.Bucket(col.Name, indexBucketName(idxName))
		if ibuck == nil {
			continue
		}
		bs = ibuck.Stats()
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result, nil
}
