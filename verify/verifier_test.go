package verify

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/vault/canonical"
	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/keys"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/storage/localfs"
)

type fixture struct {
	dir string
	log *ledger.Log
	cas *localfs.CAS
	v   *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, err := ledger.Open(filepath.Join(dir, "ledger"), ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	cas, err := localfs.New(filepath.Join(dir, "cas"))
	require.NoError(t, err)
	return &fixture{
		dir: dir,
		log: log,
		cas: cas,
		v:   &Verifier{Log: log, CAS: cas},
	}
}

// appendRecord stores the canonical record bytes as the payload and appends,
// the way every core writer does.
func (f *fixture) appendRecord(t *testing.T, stream string, rec model.Record) model.ChainEntry {
	t.Helper()
	b, err := canonical.Encode(rec)
	require.NoError(t, err)
	id, err := f.cas.Put(b)
	require.NoError(t, err)
	entry, err := f.log.Append(context.Background(), stream, rec, id.String())
	require.NoError(t, err)
	return entry
}

func TestVerifyStreamClean(t *testing.T) {
	f := newFixture(t)
	for i := int64(0); i < 5; i++ {
		f.appendRecord(t, "s", model.Record{"n": i, model.SchemaVersionKey: "Test.v1"})
	}

	report, err := f.v.VerifyStream(context.Background(), "s")
	require.NoError(t, err)
	assert.False(t, report.Broken)
	assert.Len(t, report.Entries, 5)
	for _, e := range report.Entries {
		assert.True(t, e.OK, "seq %d: %s", e.Seq, e.Detail)
	}
}

func TestVerifyStreamDetectsTamperedPayload(t *testing.T) {
	f := newFixture(t)
	var target model.ChainEntry
	for i := int64(0); i < 4; i++ {
		e := f.appendRecord(t, "s", model.Record{"n": i, model.SchemaVersionKey: "Test.v1"})
		if i == 1 {
			target = e
		}
	}

	// Mutate one byte inside the stored payload blob.
	id, err := cidutil.Decode(target.PayloadCID)
	require.NoError(t, err)
	path := f.cas.PathFor(id)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[2] ^= 0x01
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	report, err := f.v.VerifyStream(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, report.Broken)

	var sawMismatch bool
	for _, e := range report.Entries {
		if e.Seq == 1 && !e.OK {
			assert.Equal(t, model.KindHashMismatch, e.Reason)
			sawMismatch = true
		}
		if e.Seq > 1 {
			assert.True(t, e.OK, "downstream entries are untouched: seq %d %s", e.Seq, e.Detail)
		}
	}
	assert.True(t, sawMismatch, "tampered entry must report HashMismatch")

	// Integrity failure halts writers until an operator acks.
	_, err = f.log.Append(context.Background(), "s", model.Record{"n": int64(9)}, "")
	assert.True(t, model.IsKind(err, model.KindStreamLocked))
}

// tamperFrameHash rewrites the committed hash of the frame at seq inside the
// stream file, fixing up the CRC so framing stays valid. Verification, not
// the checksum, must catch it.
func tamperFrameHash(t *testing.T, dir, stream string, seq int64) {
	t.Helper()
	path := filepath.Join(dir, "ledger", "streams", stream+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []byte
	off := 0
	for off < len(data) {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		payload := append([]byte(nil), data[off+8:off+8+n]...)

		rec, err := canonical.Parse(payload)
		require.NoError(t, err)
		entry := rec["entry"].(model.Record)
		if entry["seq"].(int64) == seq {
			h := entry["hash"].(string)
			flipped := flipHexDigit(h)
			payload = []byte(strings.Replace(string(payload), h, flipped, 1))
		}

		frame := make([]byte, 8+len(payload))
		binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
		binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli)))
		copy(frame[8:], payload)
		out = append(out, frame...)
		off += 8 + n
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func flipHexDigit(h string) string {
	if h[0] == '0' {
		return "1" + h[1:]
	}
	return "0" + h[1:]
}

func TestVerifyStreamDetectsTamperedHashAndBrokenChain(t *testing.T) {
	f := newFixture(t)
	for i := int64(0); i < 4; i++ {
		f.appendRecord(t, "s", model.Record{"n": i, model.SchemaVersionKey: "Test.v1"})
	}
	require.NoError(t, f.log.Close())

	tamperFrameHash(t, f.dir, "s", 1)

	log2, err := ledger.Open(filepath.Join(f.dir, "ledger"), ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log2.Close() })
	v := &Verifier{Log: log2, CAS: f.cas}

	report, err := v.VerifyStream(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, report.Broken)

	var kinds = map[int64][]model.Kind{}
	for _, e := range report.Entries {
		if !e.OK {
			kinds[e.Seq] = append(kinds[e.Seq], e.Reason)
		}
	}
	assert.Contains(t, kinds[1], model.KindHashMismatch, "tampered entry fails its own hash")
	assert.Contains(t, kinds[2], model.KindBrokenChain, "successor reports broken linkage")
	// Verification ran to the end despite the defects.
	maxSeq := int64(-1)
	for _, e := range report.Entries {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	assert.Equal(t, int64(3), maxSeq)
}

func TestVerifyStreamMissingPayload(t *testing.T) {
	f := newFixture(t)
	e := f.appendRecord(t, "s", model.Record{"n": int64(0), model.SchemaVersionKey: "Test.v1"})

	id, err := cidutil.Decode(e.PayloadCID)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(f.cas.PathFor(id), 0o644))
	require.NoError(t, os.Remove(f.cas.PathFor(id)))

	report, err := f.v.VerifyStream(context.Background(), "s")
	require.NoError(t, err)
	assert.True(t, report.Broken)
	require.NotEmpty(t, report.Entries)
	assert.Equal(t, model.KindNotFound, report.Entries[0].Reason)
}

func TestVerifyReceiptNegativeCases(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 0x07
	}
	vault, err := keys.FromSeed(seed)
	require.NoError(t, err)

	receipt := model.AnchorReceipt{
		SchemaVersion:    model.SchemaAnchorReceipt,
		ArtifactKind:     "Artifact.v1",
		PayloadHash:      digest.SHA256Hex([]byte("payload")),
		VaultFingerprint: vault.Fingerprint(),
		AnchorID:         "anchor-1",
		TS:               "2026-01-20T20:40:00Z",
		Sealed:           true,
	}
	signingBytes, err := canonical.Encode(receipt.SigningRecord())
	require.NoError(t, err)
	sig, err := vault.Sign(signingBytes)
	require.NoError(t, err)
	receipt.Signature = keys.EncodeSignature(sig)
	hashingBytes, err := canonical.Encode(receipt.HashingRecord())
	require.NoError(t, err)
	receipt.AnchorHash = digest.SHA256Hex(hashingBytes)

	require.NoError(t, VerifyReceipt(receipt, vault.PublicKey()))

	t.Run("wrong key", func(t *testing.T) {
		other, err := keys.Generate()
		require.NoError(t, err)
		err = VerifyReceipt(receipt, other.PublicKey())
		assert.True(t, model.IsKind(err, model.KindUnknownKey))
	})

	t.Run("tampered payload hash", func(t *testing.T) {
		r := receipt
		r.PayloadHash = digest.SHA256Hex([]byte("other payload"))
		err := VerifyReceipt(r, vault.PublicKey())
		assert.True(t, model.IsKind(err, model.KindInvalidSignature))
	})

	t.Run("tampered anchor hash", func(t *testing.T) {
		r := receipt
		r.AnchorHash = digest.SHA256Hex([]byte("forged"))
		err := VerifyReceipt(r, vault.PublicKey())
		assert.True(t, model.IsKind(err, model.KindHashMismatch))
	})

	t.Run("unsealed", func(t *testing.T) {
		r := receipt
		r.Sealed = false
		err := VerifyReceipt(r, vault.PublicKey())
		assert.Error(t, err)
	})

	t.Run("wrong schema", func(t *testing.T) {
		r := receipt
		r.SchemaVersion = "VaultFossilizationReceipt.v2"
		err := VerifyReceipt(r, vault.PublicKey())
		assert.True(t, model.IsKind(err, model.KindInvalidSchemaVersion))
	})

	t.Run("garbage signature", func(t *testing.T) {
		r := receipt
		r.Signature = "###"
		err := VerifyReceipt(r, vault.PublicKey())
		assert.True(t, model.IsKind(err, model.KindInvalidSignature))
	})
}
