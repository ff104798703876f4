package qkv

import (
	"errors"
	"testing"
)

func TestRegistryReusesConnections(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	a := openTest(t, reg, 1, testSchema())
	b := openTest(t, reg, 1, testSchema())

	if a.store != b.store {
		t.Fatalf("same (name, version) opened two connections")
	}
}

func TestOpenBlockedByLiveConnection(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	held := openTest(t, reg, 1, testSchema())
	mustAdd(t, held, "users", Document{"id": 1, "email": "a@x"})

	notified := make(chan [2]int, 1)
	held.OnVersionChange(func(oldV, newV int) {
		notified <- [2]int{oldV, newV}
	})

	scm2 := testSchema()
	scm2.AddCollection("extra", "id")
	_, err := reg.Open(Options{Name: "test", Version: 2, Schema: scm2, InMemory: true, IsTesting: true})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("got %v, wanted BlockedError", err)
	}
	deepEqual(t, blocked.HeldVersion, 1)
	deepEqual(t, blocked.WantVersion, 2)
	deepEqual(t, <-notified, [2]int{1, 2})

	select {
	case <-blocked.Released:
		t.Fatalf("Released closed while the holder is still live")
	default:
	}

	go held.Close()
	sess, err := blocked.Retry()
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	defer sess.Close()
	deepEqual(t, sess.Version(), 2)

	// Upgrade preserved the data of kept collections.
	doc := must(sess.Get("users", 1))
	deepEqual(t, doc["email"], any("a@x"))
}

func TestOpenVersionBehindFails(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	sess := openTest(t, reg, 3, testSchema())
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := reg.Open(Options{Name: "test", Version: 2, Schema: testSchema(), InMemory: true, IsTesting: true})
	if err == nil {
		t.Fatalf("open behind the stored version succeeded")
	}
}

func TestOpenSameVersionWithoutSchema(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	sess := openTest(t, reg, 1, testSchema())
	mustAdd(t, sess, "users", Document{"id": 1, "email": "a@x"})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen at the stored version uses the persisted schema snapshot.
	sess2, err := reg.Open(Options{Name: "test", Version: 1, InMemory: true, IsTesting: true})
	if err != nil {
		t.Fatalf("Open without schema: %v", err)
	}
	defer sess2.Close()
	doc := must(sess2.Get("users", 1))
	deepEqual(t, doc["email"], any("a@x"))
	items := must(sess2.Query("users", "email").Range("a@x").Execute())
	deepEqual(t, len(items), 1)
}

func TestOpenUpgradeWithoutSchemaFails(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	sess := openTest(t, reg, 1, testSchema())
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := reg.Open(Options{Name: "test", Version: 2, InMemory: true, IsTesting: true})
	if err == nil {
		t.Fatalf("upgrade without schema succeeded")
	}
}

func TestOpenCurrent(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	sess := openTest(t, reg, 4, testSchema())
	mustAdd(t, sess, "users", Document{"id": 1, "email": "a@x"})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cur, err := reg.OpenCurrent("test")
	if err != nil {
		t.Fatalf("OpenCurrent: %v", err)
	}
	defer cur.Close()
	deepEqual(t, cur.Version(), 4)
	doc := must(cur.Get("users", 1))
	deepEqual(t, doc["email"], any("a@x"))
}

func TestDeleteStoreBlocked(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	held := openTest(t, reg, 1, testSchema())
	mustAdd(t, held, "users", Document{"id": 1, "email": "a@x"})

	err := reg.DeleteStore("test")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("got %v, wanted BlockedError", err)
	}

	go held.Close()
	sess, err := blocked.Retry()
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sess != nil {
		t.Fatalf("blocked delete retry returned a session")
	}

	// The store is gone: a fresh open sees no data.
	fresh := openTest(t, reg, 1, testSchema())
	n := must(fresh.Count("users", nil))
	deepEqual(t, n, 0)
}

func TestSchemaNameCollision(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	for _, name := range []string{"__qkv_meta", "data", "i_email"} {
		scm := NewSchema()
		scm.AddCollection(name, "id")
		_, err := reg.Open(Options{Name: "test", Schema: scm, InMemory: true, IsTesting: true})
		errorIs(t, err, ErrNameCollision)
	}
}
