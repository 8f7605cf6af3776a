package ledger

import (
	"fmt"

	"xdao.co/vault/canonical"
	"xdao.co/vault/digest"
	"xdao.co/vault/model"
)

// Link computes a chain entry hash from its hashed fields:
//
//	Digest(CanonicalBytes({"prev_hash","record_digest","payload_cid","seq"}))
//
// prevHash is nil at genesis and is preserved as null in the canonical form.
// Wall-clock fields deliberately never participate.
func Link(prevHash *string, recordDigest, payloadCID string, seq int64) (string, error) {
	var prev any
	if prevHash != nil {
		prev = *prevHash
	}
	b, err := canonical.Encode(model.Record{
		"prev_hash":     prev,
		"record_digest": recordDigest,
		"payload_cid":   payloadCID,
		"seq":           seq,
	})
	if err != nil {
		return "", err
	}
	return digest.SHA256Hex(b), nil
}

// VerifyPair checks adjacency between two committed entries: seq increments
// by exactly one and next links to prev's hash. Ordering itself is owned by
// the append log's serialization; this helper never invents order.
func VerifyPair(prev, next model.ChainEntry) error {
	if next.Seq != prev.Seq+1 {
		return model.NewError(model.KindBrokenChain,
			fmt.Sprintf("seq %d does not follow %d", next.Seq, prev.Seq))
	}
	if next.PrevHash == nil {
		return model.NewError(model.KindBrokenChain,
			fmt.Sprintf("entry seq=%d has null prev_hash past genesis", next.Seq))
	}
	if !digest.EqualHex(*next.PrevHash, prev.Hash) {
		return model.NewError(model.KindBrokenChain,
			fmt.Sprintf("entry seq=%d prev_hash does not match predecessor hash", next.Seq))
	}
	return nil
}

// VerifyEntry recomputes an entry's own hash from its hashed fields.
func VerifyEntry(e model.ChainEntry) error {
	want, err := Link(e.PrevHash, e.RecordDigest, e.PayloadCID, e.Seq)
	if err != nil {
		return err
	}
	if !digest.EqualHex(want, e.Hash) {
		return model.NewError(model.KindHashMismatch,
			fmt.Sprintf("entry seq=%d hash does not match linked fields", e.Seq))
	}
	if e.Seq == 0 && e.PrevHash != nil {
		return model.NewError(model.KindBrokenChain, "genesis entry carries a prev_hash")
	}
	return nil
}
