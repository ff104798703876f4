package qkv

import (
	"testing"
)

func TestAddAndGet(t *testing.T) {
	sess := setup(t)

	keys := mustAdd(t, sess, "users",
		Document{"id": 1, "email": "alice@example.com", "age": 30},
		Document{"id": 2, "email": "bob@example.com", "age": 25},
	)
	deepEqual(t, keys, []any{1, 2})

	doc, err := sess.Get("users", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc == nil || doc["email"] != "alice@example.com" {
		t.Fatalf("Get(users, 1) = %v", doc)
	}

	doc, err = sess.Get("users", 99)
	if err != nil || doc != nil {
		t.Fatalf("Get of an absent key = %v, %v, wanted nil, nil", doc, err)
	}

	n, err := sess.Count("users", nil)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v, wanted 2", n, err)
	}
}

func TestAddDuplicateKeyFails(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "users", Document{"id": 1, "email": "a@x"})

	_, err := sess.Add("users", Bare(Document{"id": 1, "email": "b@x"}))
	errorIs(t, err, ErrKeyExists)

	// The failed add must not have touched anything.
	doc := must(sess.Get("users", 1))
	deepEqual(t, doc["email"], any("a@x"))
	items := must(sess.Query("users", "email").Range("b@x").Execute())
	if len(items) != 0 {
		t.Fatalf("failed add left an index entry: %v", items)
	}
}

func TestPutReplacesAndMaintainsIndexes(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "users", Document{"id": 1, "email": "old@x", "age": 30})

	_, err := sess.Put("users", Keyed(1, Document{"email": "new@x", "age": 30}))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	items, err := sess.Query("users", "email").Range("new@x").Execute()
	if err != nil || len(items) != 1 {
		t.Fatalf("index lookup after replace = %v, %v", items, err)
	}
	items, err = sess.Query("users", "email").Range("old@x").Execute()
	if err != nil || len(items) != 0 {
		t.Fatalf("stale index entry survived the replace: %v, %v", items, err)
	}
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "users", Document{"id": 1, "email": "a@x"})

	_, err := sess.Add("users", Bare(Document{"id": 2, "email": "a@x"}))
	errorIs(t, err, ErrKeyExists)

	// Replacing the holder itself is fine.
	_, err = sess.Put("users", Keyed(1, Document{"email": "a@x", "age": 1}))
	if err != nil {
		t.Fatalf("Put of the unique holder: %v", err)
	}
}

func TestKeyWriteBack(t *testing.T) {
	sess := setup(t)

	// An explicit key lands in the key path field.
	_, err := sess.Add("users", Keyed(7, Document{"email": "k@x"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc := must(sess.Get("users", 7))
	deepEqual(t, doc["id"], any(int64(7)))

	// Generated keys land in the internal key field.
	keys := mustAdd(t, sess, "events", Document{"kind": "signup"})
	deepEqual(t, keys, []any{int64(1)})
	doc = must(sess.Get("events", 1))
	deepEqual(t, doc["_id"], any(int64(1)))
}

func TestGeneratedKeysSkipExplicitOnes(t *testing.T) {
	sess := setup(t)

	_, err := sess.Add("events", Keyed(10, Document{"kind": "manual"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	keys := mustAdd(t, sess, "events", Document{"kind": "auto"})
	deepEqual(t, keys, []any{int64(11)})
}

func TestDelete(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "users", Document{"id": 1, "email": "a@x", "age": 9})

	if err := sess.Delete("users", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	doc := must(sess.Get("users", 1))
	if doc != nil {
		t.Fatalf("record survived Delete: %v", doc)
	}
	items := must(sess.Query("users", "email").Range("a@x").Execute())
	if len(items) != 0 {
		t.Fatalf("index entry survived Delete: %v", items)
	}

	// Deleting an absent key is a no-op.
	if err := sess.Delete("users", 1); err != nil {
		t.Fatalf("Delete of an absent key: %v", err)
	}
}

func TestClearPreservesKeyGenerator(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "events", Document{"n": 1}, Document{"n": 2})

	if err := sess.Clear("events"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n := must(sess.Count("events", nil))
	deepEqual(t, n, 0)

	keys := mustAdd(t, sess, "events", Document{"n": 3})
	deepEqual(t, keys, []any{int64(3)})
}

func TestGetByRange(t *testing.T) {
	sess := setup(t)
	mustAdd(t, sess, "users",
		Document{"id": 1, "email": "a@x"},
		Document{"id": 5, "email": "b@x"},
		Document{"id": 9, "email": "c@x"},
	)

	doc := must(sess.Get("users", map[string]any{"gt": 1}))
	deepEqual(t, doc["email"], any("b@x"))

	n := must(sess.Count("users", map[string]any{"gte": 5}))
	deepEqual(t, n, 2)

	n = must(sess.Count("users", map[string]any{"gt": 1, "lt": 9}))
	deepEqual(t, n, 1)
}

func TestClosedSession(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	sess := openTest(t, reg, 1, testSchema())

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	errorIs(t, sess.Close(), ErrSessionClosed)

	_, err := sess.Add("users", Bare(Document{"id": 1}))
	errorIs(t, err, ErrSessionClosed)
	_, err = sess.Get("users", 1)
	errorIs(t, err, ErrSessionClosed)
	_, err = sess.Query("users").Execute()
	errorIs(t, err, ErrSessionClosed)
}

func TestSharedConnection(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	a := openTest(t, reg, 1, testSchema())
	b := openTest(t, reg, 1, testSchema())

	mustAdd(t, a, "users", Document{"id": 1, "email": "a@x"})
	doc := must(b.Get("users", 1))
	if doc == nil {
		t.Fatalf("second session does not see the shared store")
	}

	// Closing either session closes the shared connection.
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := b.Get("users", 1)
	errorIs(t, err, ErrSessionClosed)
}

func TestUnknownCollection(t *testing.T) {
	sess := setup(t)
	_, err := sess.Add("nope", Bare(Document{"id": 1}))
	if err == nil {
		t.Fatalf("Add to unknown collection succeeded")
	}
	_, err = sess.Query("nope").Execute()
	if err == nil {
		t.Fatalf("Query of unknown collection succeeded")
	}
}

func TestBoltBackend(t *testing.T) {
	sess := setupBolt(t)
	mustAdd(t, sess, "users",
		Document{"id": 1, "email": "a@x", "age": 30},
		Document{"id": 2, "email": "b@x", "age": 25},
	)
	items := must(sess.Query("users", "age").Execute())
	deepEqual(t, fields(items, "email"), []any{"b@x", "a@x"})

	st := must(sess.Stats("users"))
	deepEqual(t, st.Rows, 2)
	if st.IndexRows != 4 {
		t.Errorf("IndexRows = %d, wanted 4", st.IndexRows)
	}
}
