// Package conflict reconciles staged drafts against a source tree that
// may have moved underneath them. The detector classifies drift; it
// never mutates anything.
package conflict

import (
	"context"
	"os"
	"path/filepath"

	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
	"github.com/draftgate/draftgate/workspace"
)

// Policy selects how apply reacts to detected conflicts.
type Policy string

const (
	// PolicyAbort refuses the apply if any conflict exists. Default.
	PolicyAbort Policy = "abort"
	// PolicyForceOverwrite proceeds, discarding live changes for
	// touched paths only.
	PolicyForceOverwrite Policy = "force_overwrite"
	// PolicyMerge delegates to an external merge tool and reports
	// whatever stays unresolved rather than guessing.
	PolicyMerge Policy = "merge"
)

// ValidPolicy reports whether p is a known resolution policy.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyAbort, PolicyForceOverwrite, PolicyMerge:
		return true
	}
	return false
}

// Detector re-snapshots live source paths touched by a draft and
// compares them against the baseline captured at overlay creation.
type Detector struct {
	logger *telemetry.Logger
}

// NewDetector creates a conflict detector.
func NewDetector() *Detector {
	return &Detector{logger: telemetry.NewLogger("conflict-detector")}
}

// Check re-reads the live source, not the workspace, for every path the
// draft touches. A path conflicts when its live state no longer matches
// the snapshot and the draft's change for it is not a no-op. The check
// is a point-in-time read: a conflict introduced between this check and
// the subsequent copy is an accepted race, since the mediated actor is
// assumed non-adversarial.
func (d *Detector) Check(ctx context.Context, draft *types.DraftPackage, snapshot types.SourceSnapshot, sourceRoot string) ([]types.ConflictRecord, error) {
	var conflicts []types.ConflictRecord

	for i := range draft.Artifacts {
		artifact := &draft.Artifacts[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := d.checkArtifact(artifact, snapshot, sourceRoot)
		if err != nil {
			return nil, err
		}
		if record != nil {
			conflicts = append(conflicts, *record)
		}
	}

	if len(conflicts) > 0 {
		d.logger.WithContext(ctx).Warn().
			Str("draft_id", draft.ID).
			Int("conflicts", len(conflicts)).
			Msg("live source diverged from snapshot")
	}
	telemetry.CountConflicts(ctx, len(conflicts))

	return conflicts, nil
}

func (d *Detector) checkArtifact(artifact *types.Artifact, snapshot types.SourceSnapshot, sourceRoot string) (*types.ConflictRecord, error) {
	rel := artifact.URI.Path()
	livePath := filepath.Join(sourceRoot, filepath.FromSlash(rel))
	base, hadBaseline := snapshot[rel]

	info, err := os.Stat(livePath)
	liveMissing := os.IsNotExist(err)
	if err != nil && !liveMissing {
		return nil, err
	}

	if !hadBaseline {
		// Draft adds this path; a live file appearing independently is
		// a conflict unless it already carries the same content.
		if liveMissing {
			return nil, nil
		}
		liveHash, _, err := workspace.HashFile(livePath)
		if err != nil {
			return nil, err
		}
		if liveHash == artifact.ContentHash {
			return nil, nil
		}
		return &types.ConflictRecord{
			Path:     rel,
			URI:      artifact.URI,
			Reason:   types.ConflictCreated,
			LiveHash: liveHash,
		}, nil
	}

	if liveMissing {
		if artifact.Kind == types.ChangeDeleted {
			// Already gone; the draft's delete is a no-op.
			return nil, nil
		}
		return &types.ConflictRecord{
			Path:         rel,
			URI:          artifact.URI,
			Reason:       types.ConflictDeleted,
			SnapshotHash: base.Hash,
		}, nil
	}

	// mtime+size fast path before rehashing.
	if info.ModTime().Equal(base.ModTime) && info.Size() == base.Size {
		return nil, nil
	}

	liveHash, _, err := workspace.HashFile(livePath)
	if err != nil {
		return nil, err
	}
	if liveHash == base.Hash {
		return nil, nil
	}

	return &types.ConflictRecord{
		Path:         rel,
		URI:          artifact.URI,
		Reason:       types.ConflictModified,
		SnapshotHash: base.Hash,
		LiveHash:     liveHash,
	}, nil
}
