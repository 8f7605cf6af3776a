// Package checkpoint snapshots producer state into canonical capsules and
// chains them per stream. Producers hand over already-quantized state;
// anything non-canonical (floats, wall clocks smuggled as floats, cycles) is
// rejected at this boundary so replay stays bit-identical across hosts.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"xdao.co/vault/canonical"
	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/ledger"
	"xdao.co/vault/model"
	"xdao.co/vault/storage"
)

// SeqEnforce selects the tick monotonicity rule (checkpoint.seq_enforce).
type SeqEnforce int

const (
	// Strict requires each tick to exceed its predecessor.
	Strict SeqEnforce = iota
	// MonotonicNonStrict additionally admits equal ticks (producers that
	// checkpoint several subsystems at one tick).
	MonotonicNonStrict
)

// ParseSeqEnforce maps the config string onto a SeqEnforce.
func ParseSeqEnforce(s string) (SeqEnforce, error) {
	switch s {
	case "", "strict":
		return Strict, nil
	case "monotonic-nonstrict":
		return MonotonicNonStrict, nil
	default:
		return Strict, fmt.Errorf("unknown seq_enforce mode %q", s)
	}
}

// Options configure an Engine.
type Options struct {
	Codec   cidutil.Codec
	Enforce SeqEnforce
	Logger  *zap.Logger
}

// Engine builds capsule chains. Safe for concurrent use; per-stream ordering
// is delegated to the append log's writer lock, tick bookkeeping is guarded
// here.
type Engine struct {
	log     *ledger.Log
	cas     storage.CAS
	codec   cidutil.Codec
	enforce SeqEnforce
	logger  *zap.Logger

	mu       sync.Mutex
	lastTick map[string]int64
	seen     map[string]bool
}

// New builds an Engine over a log and content store.
func New(log *ledger.Log, cas storage.CAS, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		log:      log,
		cas:      cas,
		codec:    opts.Codec,
		enforce:  opts.Enforce,
		logger:   logger,
		lastTick: make(map[string]int64),
		seen:     make(map[string]bool),
	}
}

// Result identifies a committed capsule.
type Result struct {
	CapsuleCID string `json:"capsule_cid"`
	ChainHash  string `json:"chain_hash"`
}

// Snapshot canonicalizes producer state, stores it, and appends a capsule
// linked to the stream's previous capsule by CID. On any failure the append
// is aborted atomically; no half-linked capsule is ever visible.
func (e *Engine) Snapshot(ctx context.Context, streamID string, tick int64, state model.Record, producerMeta model.Record) (Result, error) {
	stateBytes, err := canonical.Encode(state)
	if err != nil {
		return Result{}, model.WrapError(model.KindProducerStateNonCanonical,
			"producer state rejected by canonicalizer", err)
	}
	stateDigest := digest.SHA256Hex(stateBytes)

	if err := e.checkTick(streamID, tick); err != nil {
		return Result{}, err
	}

	stateCID, err := e.cas.Put(stateBytes)
	if err != nil {
		return Result{}, model.WrapError(model.KindStorageError, "store producer state", err)
	}

	tip, err := e.log.Tip(streamID)
	if err != nil {
		return Result{}, err
	}
	var parent any
	if tip != nil {
		parent = tip.PayloadCID
	}

	if producerMeta == nil {
		producerMeta = model.Record{}
	}
	capsule := model.Record{
		model.SchemaVersionKey: model.SchemaCapsule,
		"stream_id":            streamID,
		"tick":                 tick,
		"state_digest":         stateDigest,
		"state_payload_cid":    stateCID.String(),
		"parent_capsule_cid":   parent,
		"producer_metadata":    producerMeta,
	}
	capsuleBytes, err := canonical.Encode(capsule)
	if err != nil {
		return Result{}, model.WrapError(model.KindProducerStateNonCanonical,
			"producer metadata rejected by canonicalizer", err)
	}
	capsuleCID, err := cidutil.CIDv1SHA256(e.codec, capsuleBytes)
	if err != nil {
		return Result{}, model.WrapError(model.KindStorageError, "derive capsule cid", err)
	}
	if _, err := e.cas.Put(capsuleBytes); err != nil {
		return Result{}, model.WrapError(model.KindStorageError, "store capsule", err)
	}

	entry, err := e.log.Append(ctx, streamID, capsule, capsuleCID.String())
	if err != nil {
		return Result{}, err
	}
	e.commitTick(streamID, tick)

	e.logger.Debug("capsule committed",
		zap.String("stream", streamID),
		zap.Int64("tick", tick),
		zap.Int64("seq", entry.Seq),
		zap.String("capsule_cid", capsuleCID.String()))
	return Result{CapsuleCID: capsuleCID.String(), ChainHash: entry.Hash}, nil
}

// checkTick enforces per-stream tick monotonicity, resuming from the stream
// tip on first use after a restart.
func (e *Engine) checkTick(streamID string, tick int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seen[streamID] {
		last, found, err := e.tipTick(streamID)
		if err != nil {
			return err
		}
		e.seen[streamID] = true
		if found {
			e.lastTick[streamID] = last
		} else {
			e.lastTick[streamID] = -1 << 62
		}
	}

	last := e.lastTick[streamID]
	switch e.enforce {
	case MonotonicNonStrict:
		if tick < last {
			return model.NewError(model.KindCheckpointOutOfOrder,
				fmt.Sprintf("tick %d precedes last tick %d on stream %q", tick, last, streamID))
		}
	default:
		if tick <= last {
			return model.NewError(model.KindCheckpointOutOfOrder,
				fmt.Sprintf("tick %d does not advance last tick %d on stream %q", tick, last, streamID))
		}
	}
	return nil
}

func (e *Engine) commitTick(streamID string, tick int64) {
	e.mu.Lock()
	e.lastTick[streamID] = tick
	e.mu.Unlock()
}

func (e *Engine) tipTick(streamID string) (int64, bool, error) {
	tip, err := e.log.Tip(streamID)
	if err != nil {
		return 0, false, err
	}
	if tip == nil {
		return 0, false, nil
	}
	rec, err := e.log.Record(streamID, tip.Seq)
	if err != nil {
		return 0, false, err
	}
	tick, ok := rec["tick"].(int64)
	if !ok {
		return 0, false, model.NewError(model.KindCorruptEntry,
			fmt.Sprintf("stream %q tip record has no integer tick", streamID))
	}
	return tick, true, nil
}
