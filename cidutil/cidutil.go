// Package cidutil derives content identifiers for canonical payloads.
//
// The contract across the vault core is CIDv1 with a sha2-256 multihash.
// The codec tag defaults to "raw"; streams whose payloads are themselves
// canonical JSON may opt into the dag-json codec. Either way,
// CID(x) == CID(y) iff the payload bytes are identical.
package cidutil

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Codec selects the CIDv1 codec tag.
type Codec int

const (
	// Raw is the default codec for opaque canonical payloads.
	Raw Codec = iota
	// DagJSON tags payloads that are themselves canonical JSON.
	DagJSON
)

// ParseCodec maps a config string onto a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "raw":
		return Raw, nil
	case "dag-json", "json":
		return DagJSON, nil
	default:
		return Raw, fmt.Errorf("unknown cid codec %q", s)
	}
}

func (c Codec) multicodec() uint64 {
	if c == DagJSON {
		return cid.DagJSON
	}
	return cid.Raw
}

// CIDv1SHA256 returns a CIDv1 for data under the given codec tag.
func CIDv1SHA256(c Codec, data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(c.multicodec(), sum), nil
}

// CIDv1RawSHA256 returns the default-codec CID string for data.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1SHA256(Raw, data)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1
		// length this is unreachable.
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns the default-codec CID for data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	return CIDv1SHA256(Raw, data)
}

// DigestHex extracts the sha2-256 digest from a CID as 64 lowercase hex
// characters. Content stores key blobs by this digest, so the same payload
// resolves under either codec tag.
func DigestHex(id cid.Cid) (string, error) {
	if !id.Defined() {
		return "", fmt.Errorf("undefined cid")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return "", err
	}
	if dec.Code != multihash.SHA2_256 {
		return "", fmt.Errorf("unsupported multihash code %d", dec.Code)
	}
	return hex.EncodeToString(dec.Digest), nil
}

// Decode parses and validates a CID string.
func Decode(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, fmt.Errorf("undefined cid")
	}
	return id, nil
}
