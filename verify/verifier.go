// Package verify replays streams offline and checks every property the
// chain claims: linkage, record digests, payload resolution, capsule
// parentage, and receipt signatures. Verification never repairs; it reports.
package verify

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"xdao.co/vault/canonical"
	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/keys"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/storage"
)

// Verifier walks committed streams against the content store.
type Verifier struct {
	Log    *ledger.Log
	CAS    storage.CAS
	Logger *zap.Logger
}

// EntryVerdict is one entry's verification outcome.
type EntryVerdict struct {
	Seq    int64      `json:"seq"`
	OK     bool       `json:"ok"`
	Reason model.Kind `json:"reason,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

// Report enumerates per-entry verdicts. A single failure marks the stream
// BROKEN but verification continues to the end so operators see all defects.
type Report struct {
	Stream  string         `json:"stream"`
	Entries []EntryVerdict `json:"entries"`
	Broken  bool           `json:"broken"`
}

func (r *Report) fail(seq int64, kind model.Kind, detail string) {
	r.Entries = append(r.Entries, EntryVerdict{Seq: seq, Reason: kind, Detail: detail})
	r.Broken = true
}

func (r *Report) pass(seq int64) {
	r.Entries = append(r.Entries, EntryVerdict{Seq: seq, OK: true})
}

func (v *Verifier) logger() *zap.Logger {
	if v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}

// VerifyStream walks the stream from genesis: recomputes each entry's link
// hash, confirms prev_hash chaining, confirms the stored record matches
// record_digest, and confirms payload_cid resolves to bytes that rehash to
// the committed digest.
//
// If the report comes back Broken, the stream is halted for writers until an
// operator resets it.
func (v *Verifier) VerifyStream(ctx context.Context, stream string) (Report, error) {
	report := Report{Stream: stream}
	sc, err := v.Log.Scan(stream, 0)
	if err != nil {
		return report, err
	}
	defer func() { _ = sc.Close() }()

	var prev *model.ChainEntry
	for {
		if err := ctx.Err(); err != nil {
			return report, model.WrapError(model.KindTimeout, "verify: canceled", err)
		}
		frame, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			seq := int64(len(report.Entries))
			report.fail(seq, model.KindCorruptEntry, err.Error())
			break
		}

		v.checkEntry(frame, prev, &report)
		e := frame.Entry
		prev = &e
	}

	if report.Broken {
		v.logger().Warn("stream verification failed",
			zap.String("stream", stream), zap.Int("entries", len(report.Entries)))
		if err := v.Log.MarkBroken(stream); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (v *Verifier) checkEntry(frame ledger.Frame, prev *model.ChainEntry, report *Report) {
	e := frame.Entry
	ok := true

	if err := ledger.VerifyEntry(e); err != nil {
		report.fail(e.Seq, kindOf(err, model.KindHashMismatch), err.Error())
		ok = false
	}
	if prev != nil {
		if err := ledger.VerifyPair(*prev, e); err != nil {
			report.fail(e.Seq, kindOf(err, model.KindBrokenChain), err.Error())
			ok = false
		}
	} else if e.Seq != 0 || e.PrevHash != nil {
		report.fail(e.Seq, model.KindBrokenChain, "first committed entry is not a genesis entry")
		ok = false
	}

	recordBytes, err := canonical.Encode(frame.Record)
	if err != nil {
		report.fail(e.Seq, model.KindCorruptEntry, "stored record is not canonicalizable: "+err.Error())
		ok = false
	} else if !digest.EqualHex(digest.SHA256Hex(recordBytes), e.RecordDigest) {
		report.fail(e.Seq, model.KindHashMismatch, "stored record does not hash to record_digest")
		ok = false
	}

	if err := v.checkPayload(e); err != nil {
		report.fail(e.Seq, kindOf(err, model.KindHashMismatch), err.Error())
		ok = false
	}

	if ok {
		report.pass(e.Seq)
	}
}

// checkPayload resolves payload_cid and rehashes the stored bytes against
// record_digest. Streams written by this core always store the canonical
// record bytes as the payload, so the two must agree.
func (v *Verifier) checkPayload(e model.ChainEntry) error {
	if e.PayloadCID == "" {
		return nil
	}
	id, err := cidutil.Decode(e.PayloadCID)
	if err != nil {
		return model.WrapError(model.KindCorruptEntry, "payload_cid does not parse", err)
	}
	b, err := v.CAS.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrCIDMismatch) {
			return model.WrapError(model.KindHashMismatch, "payload bytes do not hash to payload_cid", err)
		}
		if storage.IsNotFound(err) {
			return model.WrapError(model.KindNotFound, "payload_cid does not resolve", err)
		}
		return model.WrapError(model.KindStorageError, "payload fetch", err)
	}
	if !digest.EqualHex(digest.SHA256Hex(b), e.RecordDigest) {
		return model.NewError(model.KindHashMismatch, "payload bytes do not rehash to record_digest")
	}
	return nil
}

func kindOf(err error, fallback model.Kind) model.Kind {
	if k := model.KindOf(err); k != "" {
		return k
	}
	return fallback
}

// VerifyReceipt recomputes the pre-anchor canonicalization, verifies the
// Ed25519 signature, recomputes anchor_hash, and compares.
func VerifyReceipt(receipt model.AnchorReceipt, pub ed25519.PublicKey) error {
	if receipt.SchemaVersion != model.SchemaAnchorReceipt {
		return model.NewError(model.KindInvalidSchemaVersion,
			fmt.Sprintf("unsupported schema_version %q", receipt.SchemaVersion))
	}
	if !receipt.Sealed {
		return model.NewError(model.KindInvalidSignature, "receipt is not sealed")
	}
	if keys.Fingerprint(pub) != receipt.VaultFingerprint {
		return model.NewError(model.KindUnknownKey,
			"public key does not hash to vault_fingerprint")
	}

	sig, err := keys.DecodeSignature(receipt.Signature)
	if err != nil {
		return err
	}
	signingBytes, err := canonical.Encode(receipt.SigningRecord())
	if err != nil {
		return model.WrapError(model.KindCanonicalizationFail, "canonicalize pre-anchor receipt", err)
	}
	if !keys.Verify(pub, signingBytes, sig) {
		return model.NewError(model.KindInvalidSignature, "signature did not verify")
	}

	hashingBytes, err := canonical.Encode(receipt.HashingRecord())
	if err != nil {
		return model.WrapError(model.KindCanonicalizationFail, "canonicalize receipt for sealing", err)
	}
	if !digest.EqualHex(digest.SHA256Hex(hashingBytes), receipt.AnchorHash) {
		return model.NewError(model.KindHashMismatch, "anchor_hash does not match receipt bytes")
	}
	return nil
}
