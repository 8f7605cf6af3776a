package verify

import (
	"context"
	"fmt"
	"io"

	"xdao.co/vault/digest"
	"xdao.co/vault/model"
)

// Replayer is the deterministic re-execution hook a producer may expose:
// given its declared seed, it regenerates the state digests for the first n
// checkpoints. Producers without a hook skip the re-execution comparison.
type Replayer interface {
	Replay(ctx context.Context, streamID string, seed int64, n int) ([]string, error)
}

// VerifyCapsuleChain runs VerifyStream plus capsule-specific checks:
// parent_capsule_cid linkage across capsules and, when a Replayer is given,
// a re-run from the declared seed compared digest-by-digest.
//
// The declared seed is read from the genesis capsule's
// producer_metadata.seed when present.
func (v *Verifier) VerifyCapsuleChain(ctx context.Context, stream string, replayer Replayer) (Report, error) {
	report, err := v.VerifyStream(ctx, stream)
	if err != nil {
		return report, err
	}

	sc, err := v.Log.Scan(stream, 0)
	if err != nil {
		return report, err
	}
	defer func() { _ = sc.Close() }()

	var (
		parentCID    string
		stateDigests []string
		seed         int64
		hasSeed      bool
	)
	for i := 0; ; i++ {
		frame, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Already reported by VerifyStream.
			break
		}
		rec := frame.Record
		e := frame.Entry

		if sv, _ := rec[model.SchemaVersionKey].(string); sv != model.SchemaCapsule {
			report.fail(e.Seq, model.KindInvalidSchemaVersion,
				fmt.Sprintf("record is not a %s", model.SchemaCapsule))
			continue
		}

		got, hasParent := rec["parent_capsule_cid"]
		if i == 0 {
			if hasParent && got != nil {
				report.fail(e.Seq, model.KindBrokenChain, "genesis capsule carries a parent_capsule_cid")
			}
			if meta, ok := rec["producer_metadata"].(model.Record); ok {
				if s, ok := meta["seed"].(int64); ok {
					seed = s
					hasSeed = true
				}
			}
		} else {
			gotStr, _ := got.(string)
			if gotStr != parentCID {
				report.fail(e.Seq, model.KindBrokenChain,
					"parent_capsule_cid does not match previous capsule payload_cid")
			}
		}

		if sd, ok := rec["state_digest"].(string); ok {
			stateDigests = append(stateDigests, sd)
		} else {
			report.fail(e.Seq, model.KindCorruptEntry, "capsule has no state_digest")
		}
		parentCID = e.PayloadCID
	}

	if replayer != nil && hasSeed {
		replayed, err := replayer.Replay(ctx, stream, seed, len(stateDigests))
		if err != nil {
			return report, model.WrapError(model.KindStorageError, "replay hook", err)
		}
		if len(replayed) != len(stateDigests) {
			report.fail(int64(len(stateDigests)), model.KindHashMismatch,
				fmt.Sprintf("replay produced %d digests, chain holds %d", len(replayed), len(stateDigests)))
		} else {
			for i := range replayed {
				if !digest.EqualHex(replayed[i], stateDigests[i]) {
					report.fail(int64(i), model.KindHashMismatch,
						"replayed state digest diverges from committed capsule")
				}
			}
		}
	}

	if report.Broken {
		if err := v.Log.MarkBroken(stream); err != nil {
			return report, err
		}
	}
	return report, nil
}
