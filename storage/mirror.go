package storage

import (
	"errors"

	"github.com/ipfs/go-cid"

	"xdao.co/vault/cidutil"
)

// Mirrored forwards every write to an external CAS alongside the local one.
//
// The external store's returned CID MUST equal the locally computed CID;
// a disagreement fails ErrCIDMismatch and the write is not acknowledged.
// Reads prefer the local store and fall back to the external one.
type Mirrored struct {
	Local    CAS
	External CAS
}

var _ CAS = (*Mirrored)(nil)

func (m Mirrored) Put(bytes []byte) (cid.Cid, error) {
	if m.Local == nil {
		return cid.Undef, errors.New("storage: Mirrored has no local CAS")
	}
	want, err := cidutil.CIDv1RawSHA256CID(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !want.Defined() {
		return cid.Undef, ErrInvalidCID
	}

	got, err := m.Local.Put(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if got != want {
		return cid.Undef, ErrCIDMismatch
	}
	if m.External != nil {
		ext, err := m.External.Put(bytes)
		if err != nil {
			return cid.Undef, err
		}
		if ext != want {
			return cid.Undef, ErrCIDMismatch
		}
	}
	return want, nil
}

func (m Mirrored) Get(id cid.Cid) ([]byte, error) {
	return MultiCAS{Adapters: m.adapters()}.Get(id)
}

func (m Mirrored) Has(id cid.Cid) bool {
	return MultiCAS{Adapters: m.adapters()}.Has(id)
}

func (m Mirrored) adapters() []CAS {
	out := make([]CAS, 0, 2)
	if m.Local != nil {
		out = append(out, m.Local)
	}
	if m.External != nil {
		out = append(out, m.External)
	}
	return out
}
