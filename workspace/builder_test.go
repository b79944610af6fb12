package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/types"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Create(context.Background(), newTestSource(t), Options{
		StagingDir: t.TempDir(),
		Excludes:   []string{".git/**", ".git"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Remove() })
	return ws
}

func TestBuildDraft_Classification(t *testing.T) {
	ws := newTestWorkspace(t)

	// Agent edits: one modified, one added, one deleted.
	writeFile(t, ws.Dir, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, ws.Dir, "src/new.go", "package src\n")
	require.NoError(t, os.Remove(ws.OverlayPath("docs/readme.md")))

	draft, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.NoError(t, draft.Validate())
	require.Len(t, draft.Artifacts, 3)

	byURI := make(map[types.ResourceURI]types.Artifact)
	for _, a := range draft.Artifacts {
		byURI[a.URI] = a
	}

	modified := byURI[types.FileURI("main.go")]
	assert.Equal(t, types.ChangeModified, modified.Kind)
	assert.Contains(t, modified.Diff, "+func main() {}")

	added := byURI[types.FileURI("src/new.go")]
	assert.Equal(t, types.ChangeAdded, added.Kind)
	assert.NotEmpty(t, added.ContentHash)

	deleted := byURI[types.FileURI("docs/readme.md")]
	assert.Equal(t, types.ChangeDeleted, deleted.Kind)
	assert.Contains(t, deleted.Diff, "-# readme")
}

func TestBuildDraft_UnchangedWorkspaceIsEmpty(t *testing.T) {
	ws := newTestWorkspace(t)

	draft, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	assert.Empty(t, draft.Artifacts)
}

func TestBuildDraft_Idempotent(t *testing.T) {
	ws := newTestWorkspace(t)
	writeFile(t, ws.Dir, "main.go", "package main // edited\n")
	writeFile(t, ws.Dir, "src/new.go", "package src\n")

	first, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	second, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)

	require.Len(t, second.Artifacts, len(first.Artifacts))
	for i := range first.Artifacts {
		assert.Equal(t, first.Artifacts[i].URI, second.Artifacts[i].URI)
		assert.Equal(t, first.Artifacts[i].Kind, second.Artifacts[i].Kind)
		assert.Equal(t, first.Artifacts[i].ContentHash, second.Artifacts[i].ContentHash)
	}
}

func TestBuildDraft_BinaryContent(t *testing.T) {
	ws := newTestWorkspace(t)

	binary := append([]byte("BLOB\x00"), 1, 2, 3, 4)
	require.NoError(t, os.WriteFile(ws.OverlayPath("asset.bin"), binary, 0600))

	draft, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.Len(t, draft.Artifacts, 1)

	artifact := draft.Artifacts[0]
	assert.True(t, artifact.Binary)
	assert.Contains(t, artifact.Diff, "binary content")
	assert.Equal(t, int64(len(binary)), artifact.Size)
}

func TestBuildDraft_Annotations(t *testing.T) {
	ws := newTestWorkspace(t)
	writeFile(t, ws.Dir, "main.go", "package main // edited\n")
	writeFile(t, ws.Dir, "src/util.go", "package src // edited\n")

	annotations := `- path: main.go
  rationale: entry point must call the new helper
  depends_on:
    - src/util.go
- path: untouched.go
  rationale: ignored, not part of the draft
`
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Dir, metaDir), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir, metaDir, annotationsFile), []byte(annotations), 0600))

	draft, err := BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.Len(t, draft.Artifacts, 2)

	main := draft.Artifact(types.FileURI("main.go"))
	require.NotNil(t, main)
	assert.Equal(t, "entry point must call the new helper", main.Rationale)
	require.Len(t, main.DependsOn, 1)
	assert.Equal(t, types.FileURI("src/util.go"), main.DependsOn[0])
}
