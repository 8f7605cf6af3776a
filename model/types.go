package model

// Record is the atomic unit the core ingests: string keys mapped to values
// drawn from {string, integer, boolean, nil, []any, map[string]any}.
// Floats never enter the hash domain; producers pre-quantize.
//
// Every record carries a "schema_version" string identifying its shape. The
// core is schema-agnostic for hashing and chain maintenance.
type Record = map[string]any

// SchemaVersionKey is the required shape-identifying key on every record.
const SchemaVersionKey = "schema_version"

const (
	SchemaAnchorRequest = "VaultAnchorWriteRequest.v1"
	SchemaAnchorReceipt = "VaultFossilizationReceipt.v1"
	SchemaLedgerLine    = "VaultLedgerLine.v1"
	SchemaCapsule       = "CheckpointCapsule.v1"
)

// ChainEntry links a record into its stream's hash chain.
//
// Hash covers {prev_hash, record_digest, payload_cid, seq} only; TsIngested
// is recorded for operators but excluded from the hash domain.
type ChainEntry struct {
	PrevHash     *string `json:"prev_hash"`
	Hash         string  `json:"hash"`
	RecordDigest string  `json:"record_digest"`
	PayloadCID   string  `json:"payload_cid"`
	Seq          int64   `json:"seq"`
	TsIngested   int64   `json:"ts_ingested"`
}

// HashedRecord is the canonical projection of a ChainEntry that participates
// in the entry hash.
func (e ChainEntry) HashedRecord() Record {
	var prev any
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	return Record{
		"prev_hash":     prev,
		"record_digest": e.RecordDigest,
		"payload_cid":   e.PayloadCID,
		"seq":           e.Seq,
	}
}

// AnchorRequest is the VaultAnchorWriteRequest.v1 contract. The caller has
// already hashed its payload; the core stores metadata only.
type AnchorRequest struct {
	SchemaVersion     string `json:"schema_version"`
	ArtifactKind      string `json:"artifact_kind"`
	PayloadHashSHA256 string `json:"payload_hash_sha256"`
	RunID             string `json:"run_id"`
	Operator          string `json:"operator"`
	TS                string `json:"ts"`
}

// AnchorReceipt is the sealed VaultFossilizationReceipt.v1 returned by the
// anchor service. Signature is base64url (unpadded) over the canonical bytes
// of the receipt with anchor_hash="" and the signature field absent.
// AnchorHash is the digest of the canonical bytes of the receipt with
// anchor_hash="" and the signature field present.
type AnchorReceipt struct {
	SchemaVersion    string `json:"schema_version"`
	ArtifactKind     string `json:"artifact_kind"`
	PayloadHash      string `json:"payload_hash"`
	VaultFingerprint string `json:"vault_fingerprint"`
	AnchorID         string `json:"anchor_id"`
	AnchorHash       string `json:"anchor_hash"`
	TS               string `json:"ts"`
	Sealed           bool   `json:"sealed"`
	Signature        string `json:"signature"`
}

// SigningRecord is the receipt projection that is signed: anchor_hash forced
// to "" and no signature key.
func (r AnchorReceipt) SigningRecord() Record {
	return Record{
		"schema_version":    r.SchemaVersion,
		"artifact_kind":     r.ArtifactKind,
		"payload_hash":      r.PayloadHash,
		"vault_fingerprint": r.VaultFingerprint,
		"anchor_id":         r.AnchorID,
		"anchor_hash":       "",
		"ts":                r.TS,
		"sealed":            r.Sealed,
	}
}

// HashingRecord is the receipt projection that anchor_hash is computed over:
// anchor_hash forced to "" with the signature present.
func (r AnchorReceipt) HashingRecord() Record {
	rec := r.SigningRecord()
	rec["signature"] = r.Signature
	return rec
}

// LedgerLine projects a receipt into the persisted VaultLedgerLine.v1 record.
func (r AnchorReceipt) LedgerLine() Record {
	return Record{
		SchemaVersionKey:    SchemaLedgerLine,
		"artifact_kind":     r.ArtifactKind,
		"payload_hash":      r.PayloadHash,
		"vault_fingerprint": r.VaultFingerprint,
		"anchor_id":         r.AnchorID,
		"anchor_hash":       r.AnchorHash,
		"ts":                r.TS,
		"sealed":            r.Sealed,
		"signature":         r.Signature,
	}
}

// ReceiptFromLedgerLine rebuilds a receipt from a persisted ledger line.
// Missing or mistyped fields come back as zero values; verification reports
// them as defects rather than failing the load.
func ReceiptFromLedgerLine(line Record) AnchorReceipt {
	str := func(k string) string {
		s, _ := line[k].(string)
		return s
	}
	sealed, _ := line["sealed"].(bool)
	return AnchorReceipt{
		SchemaVersion:    SchemaAnchorReceipt,
		ArtifactKind:     str("artifact_kind"),
		PayloadHash:      str("payload_hash"),
		VaultFingerprint: str("vault_fingerprint"),
		AnchorID:         str("anchor_id"),
		AnchorHash:       str("anchor_hash"),
		TS:               str("ts"),
		Sealed:           sealed,
		Signature:        str("signature"),
	}
}
