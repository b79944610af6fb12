package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/types"
	"github.com/draftgate/draftgate/workspace"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// stageDraft sets up a source tree, an overlay, and a draft that
// modifies main.go and adds new.go.
func stageDraft(t *testing.T) (*workspace.Workspace, *types.DraftPackage) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "lib/helper.go", "package lib\n")

	ws, err := workspace.Create(context.Background(), root, workspace.Options{StagingDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Remove() })

	writeFile(t, ws.Dir, "main.go", "package main // edited\n")
	writeFile(t, ws.Dir, "new.go", "package main\n")

	draft, err := workspace.BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.Len(t, draft.Artifacts, 2)
	return ws, draft
}

func TestCheck_NoDrift(t *testing.T) {
	ws, draft := stageDraft(t)

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheck_LiveModification(t *testing.T) {
	ws, draft := stageDraft(t)

	// Someone edits main.go in the live source after snapshot capture.
	writeFile(t, ws.SourceRoot, "main.go", "package main // concurrent edit\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "main.go", conflicts[0].Path)
	assert.Equal(t, types.ConflictModified, conflicts[0].Reason)
	assert.NotEqual(t, conflicts[0].SnapshotHash, conflicts[0].LiveHash)
}

func TestCheck_UntouchedPathNeverReported(t *testing.T) {
	ws, draft := stageDraft(t)

	// lib/helper.go drifts, but no artifact touches it.
	writeFile(t, ws.SourceRoot, "lib/helper.go", "package lib // drifted\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheck_LiveDeletion(t *testing.T) {
	ws, draft := stageDraft(t)

	require.NoError(t, os.Remove(filepath.Join(ws.SourceRoot, "main.go")))

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictDeleted, conflicts[0].Reason)
}

func TestCheck_IndependentCreation(t *testing.T) {
	ws, draft := stageDraft(t)

	// A different new.go appears in the live source.
	writeFile(t, ws.SourceRoot, "new.go", "package main // someone else's version\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictCreated, conflicts[0].Reason)
	assert.Equal(t, "new.go", conflicts[0].Path)
}

func TestCheck_IdenticalCreationIsNoop(t *testing.T) {
	ws, draft := stageDraft(t)

	// The same content the draft would add already landed in the source.
	writeFile(t, ws.SourceRoot, "new.go", "package main\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestResolver_NoCommandLeavesUnresolved(t *testing.T) {
	ws, draft := stageDraft(t)
	writeFile(t, ws.SourceRoot, "main.go", "package main // concurrent edit\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	unresolved := NewResolver(nil).Resolve(context.Background(), conflicts, ws.Dir, ws.SourceRoot)
	assert.Equal(t, conflicts, unresolved)
}

func TestResolver_ExternalToolResolves(t *testing.T) {
	ws, draft := stageDraft(t)
	writeFile(t, ws.SourceRoot, "main.go", "package main // concurrent edit\n")

	conflicts, err := NewDetector().Check(context.Background(), draft, ws.Snapshot, ws.SourceRoot)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// "true" accepts every merge; "false" resolves nothing.
	resolved := NewResolver([]string{"true"}).Resolve(context.Background(), conflicts, ws.Dir, ws.SourceRoot)
	assert.Empty(t, resolved)

	unresolved := NewResolver([]string{"false"}).Resolve(context.Background(), conflicts, ws.Dir, ws.SourceRoot)
	assert.Len(t, unresolved, 1)
}
