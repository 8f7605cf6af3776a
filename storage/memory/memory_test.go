package memory

import (
	"testing"

	"xdao.co/vault/storage"
	"xdao.co/vault/storage/testkit"
)

func TestMemoryCASConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return New()
	})
}

func TestLenCountsUniqueBlobs(t *testing.T) {
	cas := New()
	if _, err := cas.Put([]byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cas.Put([]byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cas.Put([]byte("b")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if cas.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cas.Len())
	}
}
