package pebbledb

import (
	"testing"

	"xdao.co/vault/storage"
	"xdao.co/vault/storage/testkit"
)

func TestPebbleCASConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		cas, err := Open(t.TempDir() + "/cas")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = cas.Close() })
		return cas
	})
}

func TestReopenKeepsBlobs(t *testing.T) {
	dir := t.TempDir() + "/cas"
	cas, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := cas.Put([]byte("durable blob"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cas.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cas2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = cas2.Close() }()
	got, err := cas2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "durable blob" {
		t.Fatalf("blob lost across reopen")
	}
}
