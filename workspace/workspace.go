// Package workspace stages agent work in an isolated overlay copy of a
// source tree and turns the resulting edits into reviewable drafts.
// The baseline snapshot is captured in the same pass as the copy, so no
// file can be mutated by the agent before its hash is recorded.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
)

// metaDir inside the overlay holds agent-written annotations. It is
// never snapshotted and never becomes an artifact.
const metaDir = ".draftgate"

// Options configures overlay creation.
type Options struct {
	// StagingDir is where overlays are created. Empty means the system
	// temp directory.
	StagingDir string
	// Excludes are glob patterns for paths omitted from the copy,
	// supplied by the external config loader.
	Excludes []string
}

// Workspace is an isolated copy of a source tree plus the baseline
// snapshot captured at creation.
type Workspace struct {
	ID         string               `json:"id"`
	SourceRoot string               `json:"source_root"`
	Dir        string               `json:"dir"`
	Snapshot   types.SourceSnapshot `json:"snapshot"`
	CreatedAt  time.Time            `json:"created_at"`

	excludes []glob.Glob
	logger   *telemetry.Logger
}

// Create copies the source tree (minus exclusions) into an isolated
// overlay directory and captures the snapshot in the same walk. The
// copy and the baseline hash of each file come from one read, so the
// snapshot can never lag behind what the agent sees.
func Create(ctx context.Context, sourceRoot string, opts Options) (*Workspace, error) {
	sourceRoot, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, err
	}

	excludes, err := CompileExcludes(opts.Excludes)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir, err := overlayDir(opts.StagingDir, id)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		ID:         id,
		SourceRoot: sourceRoot,
		Dir:        dir,
		Snapshot:   make(types.SourceSnapshot),
		CreatedAt:  time.Now(),
		excludes:   excludes,
		logger:     telemetry.NewLogger("workspace"),
	}

	if err := ws.copyTree(ctx); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if err := ws.saveState(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	ws.logger.WithContext(ctx).Info().
		Str("workspace_id", ws.ID).
		Str("source_root", sourceRoot).
		Int("files", len(ws.Snapshot)).
		Msg("overlay workspace created")

	return ws, nil
}

func overlayDir(stagingDir, id string) (string, error) {
	if stagingDir == "" {
		return os.MkdirTemp("", "draftgate-overlay-")
	}
	dir := filepath.Join(stagingDir, "overlay-"+id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create overlay dir: %w", err)
	}
	return dir, nil
}

// copyTree walks the source once, copying each regular file into the
// overlay and recording its (mtime, hash) baseline from the same read.
func (ws *Workspace) copyTree(ctx context.Context) error {
	return filepath.WalkDir(ws.SourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(ws.SourceRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, ws.excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dst := filepath.Join(ws.Dir, filepath.FromSlash(rel))

		if d.IsDir() {
			return os.MkdirAll(dst, 0750)
		}
		if !d.Type().IsRegular() {
			ws.logger.Debug().Str("path", rel).Msg("skipping non-regular file")
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hash, size, err := copyAndHash(path, dst)
		if err != nil {
			return err
		}

		ws.Snapshot[rel] = types.FileState{
			ModTime: info.ModTime(),
			Hash:    hash,
			Size:    size,
		}
		return nil
	})
}

// copyAndHash streams src into dst and the hasher in one pass.
func copyAndHash(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", 0, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), n, nil
}

// stateFile inside metaDir records the workspace and its baseline
// snapshot, so apply can recover them in a later process.
const stateFile = "workspace.json"

func (ws *Workspace) saveState() error {
	raw, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(ws.Dir, metaDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, stateFile), raw, 0600)
}

// Load reads a workspace record back from an existing overlay
// directory. The loaded workspace carries the baseline snapshot but no
// exclusion patterns; those only matter during creation.
func Load(dir string) (*Workspace, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaDir, stateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace state: %w", err)
	}

	ws := &Workspace{logger: telemetry.NewLogger("workspace")}
	if err := json.Unmarshal(raw, ws); err != nil {
		return nil, fmt.Errorf("failed to decode workspace state: %w", err)
	}
	return ws, nil
}

// LoadSnapshot reads only the baseline snapshot from an overlay
// directory.
func LoadSnapshot(dir string) (types.SourceSnapshot, error) {
	ws, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return ws.Snapshot, nil
}

// OverlayPath returns the absolute overlay path for a workspace-relative
// slash path.
func (ws *Workspace) OverlayPath(rel string) string {
	return filepath.Join(ws.Dir, filepath.FromSlash(rel))
}

// SourcePath returns the absolute live-source path for a
// workspace-relative slash path.
func (ws *Workspace) SourcePath(rel string) string {
	return filepath.Join(ws.SourceRoot, filepath.FromSlash(rel))
}

// Remove deletes the overlay directory. The snapshot stays valid: it
// describes the source baseline, not the overlay.
func (ws *Workspace) Remove() error {
	return os.RemoveAll(ws.Dir)
}
