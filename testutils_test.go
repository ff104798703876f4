package qkv

import (
	"errors"
	"reflect"
	"testing"
)

func testSchema() *Schema {
	scm := NewSchema()
	users := scm.AddCollection("users", "id")
	users.AddIndex("email", "").Unique()
	users.AddIndex("age", "")
	scm.AddCollection("events", "")
	return scm
}

func openTest(t testing.TB, reg *Registry, version int, scm *Schema) *Session {
	t.Helper()
	sess, err := reg.Open(Options{
		Name:      "test",
		Version:   version,
		Schema:    scm,
		InMemory:  true,
		IsTesting: true,
		Logf:      t.Logf,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func setup(t testing.TB) *Session {
	t.Helper()
	return openTest(t, NewRegistry(t.TempDir()), 1, testSchema())
}

func setupBolt(t testing.TB) *Session {
	t.Helper()
	reg := NewRegistry(t.TempDir())
	sess, err := reg.Open(Options{
		Name:      "test",
		Schema:    testSchema(),
		IsTesting: true,
		Logf:      t.Logf,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func mustAdd(t testing.TB, sess *Session, collection string, docs ...Document) []any {
	t.Helper()
	recs := make([]Record, len(docs))
	for i, doc := range docs {
		recs[i] = Bare(doc)
	}
	keys, err := sess.Add(collection, recs...)
	if err != nil {
		t.Fatalf("Add(%s): %v", collection, err)
	}
	return keys
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func errorIs(t testing.TB, err, want error) {
	if !errors.Is(err, want) {
		t.Helper()
		t.Fatalf("** got error %v, wanted %v", err, want)
	}
}

func mustPut(t testing.TB, buck storageBucket, k, v []byte) {
	t.Helper()
	if err := buck.Put(k, v); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func fields(items []any, field string) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, _ := getPath(item.(Document), field)
		out = append(out, v)
	}
	return out
}
