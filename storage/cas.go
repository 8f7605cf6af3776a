package storage

import "github.com/ipfs/go-cid"

// CAS is the content store abstraction the vault core writes payloads to.
//
// Contract:
// - Put MUST be idempotent: identical bytes return the same CID and do not
//   duplicate storage.
// - Stored objects MUST be immutable.
// - CIDs MUST be derived from the bytes written (callers supply canonical
//   bytes; the store never re-canonicalizes).
// - Get MUST return ErrNotFound when the CID is absent.
// - Put/Get/Has MUST be safe for concurrent use; concurrent identical Puts
//   collapse to one stored blob.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
