package anchor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/vault/canonical"
	"xdao.co/vault/digest"
	"xdao.co/vault/keys"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/storage/memory"
	"xdao.co/vault/verify"
)

func testVault(t *testing.T) *keys.Vault {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 0x42
	}
	v, err := keys.FromSeed(seed)
	require.NoError(t, err)
	return v
}

func newTestService(t *testing.T, dir string) (*Service, *ledger.Log) {
	t.Helper()
	log, err := ledger.Open(dir, ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	svc, err := New(log, memory.New(), testVault(t), Options{})
	require.NoError(t, err)
	return svc, log
}

func validRequest() model.AnchorRequest {
	return model.AnchorRequest{
		SchemaVersion:     model.SchemaAnchorRequest,
		ArtifactKind:      "InferenceReceipt.v1",
		PayloadHashSHA256: "6a47c1eee539c79b6ed05d4766d01831099c4043dab1431aa3a9b82018b80e7b",
		RunID:             "run-X",
		Operator:          "op",
		TS:                "2026-01-20T20:40:00Z",
	}
}

func TestWriteAnchorHappyPath(t *testing.T) {
	svc, log := newTestService(t, t.TempDir())
	vault := svc.vault

	receipt, err := svc.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, model.SchemaAnchorReceipt, receipt.SchemaVersion)
	assert.Equal(t, validRequest().PayloadHashSHA256, receipt.PayloadHash)
	assert.Equal(t, vault.Fingerprint(), receipt.VaultFingerprint)
	assert.True(t, receipt.Sealed)
	assert.NotEmpty(t, receipt.AnchorID)

	// anchor_hash covers the signed form with anchor_hash="".
	hashingBytes, err := canonical.Encode(receipt.HashingRecord())
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256Hex(hashingBytes), receipt.AnchorHash)

	// The signature covers the pre-anchor form without the signature field.
	signingBytes, err := canonical.Encode(receipt.SigningRecord())
	require.NoError(t, err)
	sig, err := keys.DecodeSignature(receipt.Signature)
	require.NoError(t, err)
	assert.True(t, keys.Verify(vault.PublicKey(), signingBytes, sig))

	// Full receipt verification as a caller would run it.
	require.NoError(t, verify.VerifyReceipt(receipt, vault.PublicKey()))

	// Exactly one ledger line, projected faithfully.
	tip, err := log.Tip(svc.Stream())
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, int64(0), tip.Seq)
	line, err := log.Record(svc.Stream(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaLedgerLine, line[model.SchemaVersionKey])
	assert.Equal(t, receipt.AnchorHash, line["anchor_hash"])
	assert.Equal(t, receipt.Signature, line["signature"])
}

func TestWriteAnchorDuplicate(t *testing.T) {
	svc, log := newTestService(t, t.TempDir())
	ctx := context.Background()

	_, err := svc.WriteAnchor(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.WriteAnchor(ctx, validRequest())
	assert.True(t, model.IsKind(err, model.KindDuplicateAnchor))

	tip, err := log.Tip(svc.Stream())
	require.NoError(t, err)
	assert.Equal(t, int64(0), tip.Seq, "ledger length must be unchanged")
}

func TestDedupSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	log, err := ledger.Open(dir, ledger.DefaultOptions())
	require.NoError(t, err)
	svc, err := New(log, memory.New(), testVault(t), Options{})
	require.NoError(t, err)
	_, err = svc.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log2, err := ledger.Open(dir, ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log2.Close() })
	svc2, err := New(log2, memory.New(), testVault(t), Options{})
	require.NoError(t, err)

	_, err = svc2.WriteAnchor(context.Background(), validRequest())
	assert.True(t, model.IsKind(err, model.KindDuplicateAnchor),
		"dedup index must be rebuilt from the stream")
}

func TestWriteAnchorValidation(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*model.AnchorRequest)
		kind   model.Kind
	}{
		{"wrong schema", func(r *model.AnchorRequest) { r.SchemaVersion = "VaultAnchorWriteRequest.v2" }, model.KindInvalidSchemaVersion},
		{"empty schema", func(r *model.AnchorRequest) { r.SchemaVersion = "" }, model.KindMissingRequiredField},
		{"short hash", func(r *model.AnchorRequest) { r.PayloadHashSHA256 = "abc123" }, model.KindInvalidPayloadHash},
		{"uppercase hash", func(r *model.AnchorRequest) {
			r.PayloadHashSHA256 = "6A47C1EEE539C79B6ED05D4766D01831099C4043DAB1431AA3A9B82018B80E7B"
		}, model.KindInvalidPayloadHash},
		{"missing run id", func(r *model.AnchorRequest) { r.RunID = "" }, model.KindMissingRequiredField},
		{"missing operator", func(r *model.AnchorRequest) { r.Operator = "" }, model.KindMissingRequiredField},
		{"no Z suffix", func(r *model.AnchorRequest) { r.TS = "2026-01-20T20:40:00+02:00" }, model.KindInvalidTimestamp},
		{"garbage ts", func(r *model.AnchorRequest) { r.TS = "not-a-timeZ" }, model.KindInvalidTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.WriteAnchor(ctx, req)
			assert.True(t, model.IsKind(err, tc.kind), "got %v, want %s", err, tc.kind)
		})
	}

	// None of the rejected requests may have touched the stream.
	tip, err := svc.log.Tip(svc.Stream())
	require.NoError(t, err)
	assert.Nil(t, tip)
}

func TestWriteAnchorAfterTeardown(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir())
	svc.Teardown()

	_, err := svc.WriteAnchor(context.Background(), validRequest())
	assert.True(t, model.IsKind(err, model.KindKeyUnavailable))
}

func TestWriteAnchorHonorsDeadline(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.WriteAnchor(ctx, validRequest())
	assert.True(t, model.IsKind(err, model.KindTimeout))
}

func TestClockSkewReceiptsRemainValid(t *testing.T) {
	// Receipts issued with ts values out of order are still valid: ts is
	// part of the signed message but never part of ordering.
	times := []time.Time{
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	i := 0
	log, err := ledger.Open(t.TempDir(), ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	vault := testVault(t)
	svc, err := New(log, memory.New(), vault, Options{
		Now: func() time.Time { t := times[i%len(times)]; i++; return t },
	})
	require.NoError(t, err)

	r1, err := svc.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)

	req2 := validRequest()
	req2.PayloadHashSHA256 = digest.SHA256Hex([]byte("second payload"))
	r2, err := svc.WriteAnchor(context.Background(), req2)
	require.NoError(t, err)

	assert.True(t, r2.TS < r1.TS, "test premise: skewed clock")
	require.NoError(t, verify.VerifyReceipt(r1, vault.PublicKey()))
	require.NoError(t, verify.VerifyReceipt(r2, vault.PublicKey()))
}

func TestRotationOpensNewStream(t *testing.T) {
	log, err := ledger.Open(t.TempDir(), ledger.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	v1 := testVault(t)
	svc1, err := New(log, memory.New(), v1, Options{})
	require.NoError(t, err)
	_, err = svc1.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)
	svc1.Teardown()

	v2, err := keys.Generate()
	require.NoError(t, err)
	svc2, err := New(log, memory.New(), v2, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, svc1.Stream(), svc2.Stream())
	// The new stream carries no dedup state from the old identity.
	_, err = svc2.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestLedgerLineRoundTrip(t *testing.T) {
	svc, log := newTestService(t, t.TempDir())
	receipt, err := svc.WriteAnchor(context.Background(), validRequest())
	require.NoError(t, err)

	sc, err := log.Scan(svc.Stream(), 0)
	require.NoError(t, err)
	defer sc.Close()
	frame, err := sc.Next()
	require.NoError(t, err)
	_, eof := sc.Next()
	assert.Equal(t, io.EOF, eof)

	rebuilt := model.ReceiptFromLedgerLine(frame.Record)
	assert.Equal(t, receipt.AnchorHash, rebuilt.AnchorHash)
	assert.Equal(t, receipt.Signature, rebuilt.Signature)
	require.NoError(t, verify.VerifyReceipt(rebuilt, svc.vault.PublicKey()))
}
