// Package localfs stores one content-addressed blob per payload under a
// root directory. Blobs are keyed by the hex sha-256 digest (sharded by
// digest prefix), so a payload resolves under either CID codec tag.
//
// Objects are immutable. The implementation is offline and deterministic:
// no network, no wall-clock dependence. Reads re-hash the bytes on disk, so
// a tampered blob surfaces as ErrCIDMismatch rather than silently feeding
// bad bytes downstream.
package localfs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/storage"
)

type CAS struct {
	root string
}

// New constructs a filesystem CAS rooted at root, creating it if needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
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
	path := c.pathForDigest(digest.SHA256Hex(data))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	if existing, rerr := os.ReadFile(path); rerr == nil {
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}

	// Write-then-rename so concurrent identical Puts collapse to one blob
	// and a crash mid-write never leaves a partial object at the final path.
	f, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return cid.Undef, err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}

	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(c.pathForDigest(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !digest.EqualHex(digest.SHA256Hex(b), key) {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return false
	}
	_, serr := os.Stat(c.pathForDigest(key))
	return serr == nil
}

// PathFor exposes the on-disk location of a blob. Verification tooling uses
// it to induce tamper scenarios; production code has no business with it.
func (c *CAS) PathFor(id cid.Cid) string {
	key, err := cidutil.DigestHex(id)
	if err != nil {
		return ""
	}
	return c.pathForDigest(key)
}

func (c *CAS) pathForDigest(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.root, key)
	}
	return filepath.Join(c.root, key[:2], key)
}
