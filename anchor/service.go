// Package anchor implements the VaultAnchorWrite.v1 contract: validate,
// deduplicate, sign, persist, return receipt.
//
// The caller has already hashed its payload; the service stores metadata
// only. A returned receipt is a happens-before fence: canonicalize, sign,
// append, and fsync all completed before the caller saw it.
package anchor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xdao.co/vault/canonical"
	"xdao.co/vault/digest"
	"xdao.co/vault/keys"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/storage"
)

// StreamPrefix names anchor streams: the stream is bound to the signing
// identity, so rotation opens a fresh stream under the new fingerprint.
const StreamPrefix = "anchors-"

// StreamNameFor derives the anchor stream name for a fingerprint.
func StreamNameFor(fingerprint string) string {
	return StreamPrefix + fingerprint[:16]
}

// Options configure a Service.
type Options struct {
	Logger *zap.Logger
	// Now overrides the receipt clock. ts is recorded in the signed message
	// but never participates in determinism checks.
	Now func() time.Time
	// AnchorID overrides id minting. Only uniqueness is required of it.
	AnchorID func() string
}

// Service owns the vault key and serializes all anchor operations on its
// stream. The dedup index and the append share that serialization, so a
// duplicate check is always consistent with the ledger.
type Service struct {
	log    *ledger.Log
	cas    storage.CAS
	vault  *keys.Vault
	stream string
	logger *zap.Logger
	now    func() time.Time
	mintID func() string

	mu    sync.Mutex
	dedup map[string]int64 // payload_hash -> seq
}

// New opens (or resumes) the anchor stream bound to the vault fingerprint
// and rebuilds the dedup index from it.
func New(log *ledger.Log, cas storage.CAS, vault *keys.Vault, opts Options) (*Service, error) {
	if vault == nil {
		return nil, model.NewError(model.KindKeyUnavailable, "anchor: vault key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	mintID := opts.AnchorID
	if mintID == nil {
		mintID = func() string { return uuid.NewString() }
	}

	s := &Service{
		log:    log,
		cas:    cas,
		vault:  vault,
		stream: StreamNameFor(vault.Fingerprint()),
		logger: logger,
		now:    now,
		mintID: mintID,
		dedup:  make(map[string]int64),
	}
	if err := s.loadDedup(); err != nil {
		return nil, err
	}
	logger.Info("anchor stream open",
		zap.String("stream", s.stream),
		zap.String("vault_fingerprint", vault.Fingerprint()),
		zap.Int("anchors", len(s.dedup)))
	return s, nil
}

func (s *Service) loadDedup() error {
	sc, err := s.log.Scan(s.stream, 0)
	if err != nil {
		return err
	}
	defer func() { _ = sc.Close() }()
	for {
		frame, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if h, ok := frame.Record["payload_hash"].(string); ok {
			s.dedup[h] = frame.Entry.Seq
		}
	}
}

// Stream returns the anchor stream name for this identity.
func (s *Service) Stream() string { return s.stream }

// WriteAnchor validates, deduplicates, signs, and persists one anchor.
//
// A deadline is honored only until the anchor lock is acquired; after that
// the operation runs to commit or rollback, never leaving partial state.
func (s *Service) WriteAnchor(ctx context.Context, req model.AnchorRequest) (model.AnchorReceipt, error) {
	if err := ValidateRequest(req); err != nil {
		return model.AnchorReceipt{}, err
	}

	select {
	case <-ctx.Done():
		return model.AnchorReceipt{}, model.WrapError(model.KindTimeout,
			"anchor: deadline before lock", ctx.Err())
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// The wait for the lock may have outlasted the deadline.
	if err := ctx.Err(); err != nil {
		return model.AnchorReceipt{}, model.WrapError(model.KindTimeout,
			"anchor: deadline expired waiting for lock", err)
	}

	if seq, dup := s.dedup[req.PayloadHashSHA256]; dup {
		return model.AnchorReceipt{}, model.NewError(model.KindDuplicateAnchor,
			fmt.Sprintf("payload hash already anchored at seq=%d", seq))
	}

	receipt := model.AnchorReceipt{
		SchemaVersion:    model.SchemaAnchorReceipt,
		ArtifactKind:     req.ArtifactKind,
		PayloadHash:      req.PayloadHashSHA256,
		VaultFingerprint: s.vault.Fingerprint(),
		AnchorID:         s.mintID(),
		TS:               s.now().UTC().Format("2006-01-02T15:04:05Z"),
		Sealed:           true,
	}

	// Sign the pre-anchor form: anchor_hash="" and no signature key.
	signingBytes, err := canonical.Encode(receipt.SigningRecord())
	if err != nil {
		return model.AnchorReceipt{}, model.WrapError(model.KindCanonicalizationFail,
			"canonicalize pre-anchor receipt", err)
	}
	sig, err := s.vault.Sign(signingBytes)
	if err != nil {
		return model.AnchorReceipt{}, err
	}
	receipt.Signature = keys.EncodeSignature(sig)

	// Seal: anchor_hash covers the signed form (anchor_hash still "").
	hashingBytes, err := canonical.Encode(receipt.HashingRecord())
	if err != nil {
		return model.AnchorReceipt{}, model.WrapError(model.KindCanonicalizationFail,
			"canonicalize receipt for sealing", err)
	}
	receipt.AnchorHash = digest.SHA256Hex(hashingBytes)

	line := receipt.LedgerLine()
	lineBytes, err := canonical.Encode(line)
	if err != nil {
		return model.AnchorReceipt{}, model.WrapError(model.KindCanonicalizationFail,
			"canonicalize ledger line", err)
	}
	lineCID, err := s.cas.Put(lineBytes)
	if err != nil {
		return model.AnchorReceipt{}, model.WrapError(model.KindStorageError,
			"store ledger line", err)
	}

	// Past the lock the append runs to completion; the commit context is
	// deliberately detached from the caller's deadline.
	entry, err := s.log.Append(context.Background(), s.stream, line, lineCID.String())
	if err != nil {
		return model.AnchorReceipt{}, err
	}
	s.dedup[req.PayloadHashSHA256] = entry.Seq

	s.logger.Info("anchor sealed",
		zap.String("stream", s.stream),
		zap.Int64("seq", entry.Seq),
		zap.String("anchor_id", receipt.AnchorID),
		zap.String("payload_hash", receipt.PayloadHash))
	return receipt, nil
}

// Teardown zeroizes the private key. The service refuses further writes;
// rotation is Teardown plus New with a fresh key, which opens a new stream.
func (s *Service) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault.Zeroize()
	s.logger.Info("vault key zeroized", zap.String("stream", s.stream))
}

// ValidateRequest checks the VaultAnchorWriteRequest.v1 shape.
func ValidateRequest(req model.AnchorRequest) error {
	if req.SchemaVersion == "" {
		return model.NewError(model.KindMissingRequiredField, "schema_version is required")
	}
	if req.SchemaVersion != model.SchemaAnchorRequest {
		return model.NewError(model.KindInvalidSchemaVersion,
			fmt.Sprintf("unsupported schema_version %q", req.SchemaVersion))
	}
	for field, v := range map[string]string{
		"artifact_kind":       req.ArtifactKind,
		"payload_hash_sha256": req.PayloadHashSHA256,
		"run_id":              req.RunID,
		"operator":            req.Operator,
		"ts":                  req.TS,
	} {
		if v == "" {
			return model.NewError(model.KindMissingRequiredField, field+" is required")
		}
	}
	if !digest.ValidHex(req.PayloadHashSHA256) {
		return model.NewError(model.KindInvalidPayloadHash,
			"payload_hash_sha256 must be 64 lowercase hex chars")
	}
	if err := validateTS(req.TS); err != nil {
		return err
	}
	return nil
}

func validateTS(ts string) error {
	if !strings.HasSuffix(ts, "Z") {
		return model.NewError(model.KindInvalidTimestamp, "ts must be UTC with Z suffix")
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return model.WrapError(model.KindInvalidTimestamp, "ts is not ISO-8601", err)
	}
	return nil
}
