// Package pebbledb backs the CAS with a Pebble key-value store.
//
// Blobs are keyed by the hex sha-256 digest of their bytes, so a payload
// resolves under either CID codec tag. Pebble batches small objects far better
// than one-file-per-blob layouts, which matters for capsule streams that
// snapshot every tick. Writes use pebble.Sync so an acknowledged Put
// survives a crash.
package pebbledb

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/ipfs/go-cid"

	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/storage"
)

type CAS struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble-backed CAS at path.
func Open(path string) (*CAS, error) {
	if path == "" {
		return nil, errors.New("pebbledb: path is required")
	}
	opts := &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &CAS{db: db}, nil
}

func (c *CAS) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

var _ storage.CAS = (*CAS)(nil)

func (c *CAS) Put(data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}
	key := []byte(digest.SHA256Hex(data))

	// Idempotent: identical bytes already stored means nothing to write.
	// Content addressing makes a value mismatch impossible unless the store
	// itself was corrupted, which Get surfaces as ErrCIDMismatch.
	if _, closer, err := c.db.Get(key); err == nil {
		_ = closer.Close()
		return id, nil
	} else if err != pebble.ErrNotFound {
		return cid.Undef, err
	}

	if err := c.db.Set(key, data, pebble.Sync); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return nil, storage.ErrInvalidCID
	}
	val, closer, err := c.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	if !digest.EqualHex(digest.SHA256Hex(out), key) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return false
	}
	_, closer, gerr := c.db.Get([]byte(key))
	if gerr != nil {
		return false
	}
	_ = closer.Close()
	return true
}
