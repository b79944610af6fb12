package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
)

// binaryProbeSize: a NUL byte in the leading chunk marks content as
// binary, which is hash/size-compared instead of diffed.
const binaryProbeSize = 8000

// BuildDraft walks the overlay, recomputes content hashes, and turns
// every path that diverged from the snapshot into an artifact. The walk
// is read-only with respect to the workspace and idempotent: an
// unmodified workspace always yields the same artifact set.
func BuildDraft(ctx context.Context, ws *Workspace) (*types.DraftPackage, error) {
	current, err := ws.scanOverlay(ctx)
	if err != nil {
		return nil, err
	}

	var artifacts []types.Artifact

	for rel, state := range current {
		base, existed := ws.Snapshot[rel]
		switch {
		case !existed:
			artifacts = append(artifacts, ws.buildArtifact(rel, types.ChangeAdded, state))
		case base.Hash != state.Hash:
			artifacts = append(artifacts, ws.buildArtifact(rel, types.ChangeModified, state))
		}
	}

	for rel, base := range ws.Snapshot {
		if _, stillThere := current[rel]; !stillThere {
			artifacts = append(artifacts, ws.buildArtifact(rel, types.ChangeDeleted, base))
		}
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].URI < artifacts[j].URI
	})

	draft := &types.DraftPackage{
		ID:           uuid.NewString(),
		WorkspaceID:  ws.ID,
		WorkspaceDir: ws.Dir,
		SourceRoot:   ws.SourceRoot,
		Status:       types.StatusDraft,
		Artifacts:    artifacts,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := applyAnnotations(ws, draft); err != nil {
		return nil, err
	}

	telemetry.NewLogger("draft-builder").LogDraftBuilt(ctx, draft.ID, ws.ID, len(artifacts))
	telemetry.CountDraftBuilt(ctx, len(artifacts))

	return draft, nil
}

// scanOverlay rehashes every file currently in the overlay.
func (ws *Workspace) scanOverlay(ctx context.Context) (types.SourceSnapshot, error) {
	current := make(types.SourceSnapshot)

	err := filepath.WalkDir(ws.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(ws.Dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == metaDir || excluded(rel, ws.excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(rel, ws.excludes) || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, size, err := HashFile(path)
		if err != nil {
			return err
		}

		current[rel] = types.FileState{ModTime: info.ModTime(), Hash: hash, Size: size}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan overlay: %w", err)
	}
	return current, nil
}

// buildArtifact assembles one artifact, including its diff reference.
func (ws *Workspace) buildArtifact(rel string, kind types.ChangeKind, state types.FileState) types.Artifact {
	artifact := types.Artifact{
		URI:         types.FileURI(rel),
		Kind:        kind,
		Size:        state.Size,
		ContentHash: state.Hash,
		Disposition: types.DispositionPending,
	}
	artifact.Diff, artifact.Binary = ws.buildDiff(rel, kind, state)
	return artifact
}

// buildDiff produces a unified diff for text content. The baseline text
// comes from the live source, which at build time still holds the
// snapshot content; if it has moved on, the conflict detector catches
// that at apply time. Binary content gets a size reference only.
func (ws *Workspace) buildDiff(rel string, kind types.ChangeKind, state types.FileState) (string, bool) {
	var baseline, current []byte

	if kind != types.ChangeAdded {
		baseline, _ = os.ReadFile(ws.SourcePath(rel))
	}
	if kind != types.ChangeDeleted {
		current, _ = os.ReadFile(ws.OverlayPath(rel))
	}

	if isBinary(baseline) || isBinary(current) {
		return fmt.Sprintf("binary content, %d bytes", state.Size), true
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(baseline)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err), false
	}
	return diff, false
}

func isBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
