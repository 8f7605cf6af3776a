// Package memory provides an in-process CAS. It backs tests and the
// non-durable daemon profile.
package memory

import (
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/storage"
)

// CAS keys blobs by digest, like every other backend, so a payload written
// under the raw codec resolves under dag-json and vice versa.
type CAS struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func New() *CAS {
	return &CAS{blobs: make(map[string][]byte)}
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
	key := digest.SHA256Hex(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blobs[key]; !ok {
		c.blobs[key] = append([]byte(nil), data...)
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	b, ok := c.blobs[key]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (c *CAS) Has(id cid.Cid) bool {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blobs[key]
	return ok
}

func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blobs)
}
