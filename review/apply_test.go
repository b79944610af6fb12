package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/audit"
	"github.com/draftgate/draftgate/conflict"
	"github.com/draftgate/draftgate/types"
	"github.com/draftgate/draftgate/workspace"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(raw)
}

func openLog(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

// stageReviewedDraft builds a draft that modifies a.go, b.go and c.go
// in the overlay, then walks it to the approved state.
func stageReviewedDraft(t *testing.T) (*workspace.Workspace, *types.DraftPackage) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	writeFile(t, root, "c.go", "package c\n")

	ws, err := workspace.Create(context.Background(), root, workspace.Options{StagingDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Remove() })

	writeFile(t, ws.Dir, "a.go", "package a // staged\n")
	writeFile(t, ws.Dir, "b.go", "package b // staged\n")
	writeFile(t, ws.Dir, "c.go", "package c // staged\n")

	draft, err := workspace.BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.Len(t, draft.Artifacts, 3)

	require.NoError(t, draft.Transition(types.StatusPendingReview))
	require.NoError(t, draft.Transition(types.StatusApproved))
	return ws, draft
}

func lastEntryOfKind(t *testing.T, log *audit.Log, kind audit.Kind) *audit.Entry {
	t.Helper()
	var found *audit.Entry
	require.NoError(t, audit.Replay(log.Path(), time.Time{}, func(e *audit.Entry) error {
		if e.Kind == kind {
			found = e
		}
		return nil
	}))
	require.NotNil(t, found)
	return found
}

func TestApply_SelectiveDispositions(t *testing.T) {
	ws, draft := stageReviewedDraft(t)
	log := openLog(t)

	rules, err := ParseRules([]string{"a.go=approved", "b.go=rejected", "c.go=discuss"})
	require.NoError(t, err)
	require.NoError(t, ResolveSelection(draft, rules))

	result, err := NewApplier(log).Apply(context.Background(), draft, Options{})
	require.NoError(t, err)

	assert.False(t, result.Aborted)
	assert.Equal(t, []types.ResourceURI{types.FileURI("a.go")}, result.Applied)
	assert.Len(t, result.Skipped, 2)
	assert.Empty(t, result.Errors)

	// Only the approved artifact lands at the source.
	assert.Equal(t, "package a // staged\n", readFile(t, ws.SourceRoot, "a.go"))
	assert.Equal(t, "package b\n", readFile(t, ws.SourceRoot, "b.go"))
	assert.Equal(t, "package c\n", readFile(t, ws.SourceRoot, "c.go"))

	assert.Equal(t, types.StatusApplied, draft.Status)
	assert.Equal(t, []types.ResourceURI{types.FileURI("a.go")}, draft.AppliedURIs)

	entry := lastEntryOfKind(t, log, audit.KindApplyAttempt)
	assert.Contains(t, string(entry.Payload), draft.ID)
	require.NoError(t, log.Verify())
}

func TestApply_AuditCarriesResolvedDispositions(t *testing.T) {
	_, draft := stageReviewedDraft(t)
	log := openLog(t)

	rules, err := ParseRules([]string{"a.go=approved", "b.go=rejected", "c.go=discuss"})
	require.NoError(t, err)
	require.NoError(t, ResolveSelection(draft, rules))

	_, err = NewApplier(log).Apply(context.Background(), draft, Options{})
	require.NoError(t, err)

	// The per-artifact verdicts must be reconstructable from the audit
	// entry alone.
	entry := lastEntryOfKind(t, log, audit.KindApplyAttempt)
	var event struct {
		Resolutions []ArtifactResolution `json:"resolutions"`
	}
	require.NoError(t, json.Unmarshal(entry.Payload, &event))
	require.Len(t, event.Resolutions, 3)

	byURI := make(map[types.ResourceURI]types.Disposition, len(event.Resolutions))
	for _, res := range event.Resolutions {
		byURI[res.URI] = res.Disposition
	}
	assert.Equal(t, types.DispositionApproved, byURI[types.FileURI("a.go")])
	assert.Equal(t, types.DispositionRejected, byURI[types.FileURI("b.go")])
	assert.Equal(t, types.DispositionDiscuss, byURI[types.FileURI("c.go")])
}

func TestApply_AddAndDelete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, "old.go", "package old\n")

	ws, err := workspace.Create(context.Background(), root, workspace.Options{StagingDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Remove() })

	writeFile(t, ws.Dir, "new.go", "package new\n")
	require.NoError(t, os.Remove(ws.OverlayPath("old.go")))

	draft, err := workspace.BuildDraft(context.Background(), ws)
	require.NoError(t, err)
	require.NoError(t, draft.Transition(types.StatusPendingReview))
	require.NoError(t, draft.Transition(types.StatusApproved))
	require.NoError(t, ResolveSelection(draft, []Rule{{Pattern: PatternAll, Disposition: types.DispositionApproved}}))

	result, err := NewApplier(openLog(t)).Apply(context.Background(), draft, Options{})
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Len(t, result.Applied, 2)

	assert.Equal(t, "package new\n", readFile(t, ws.SourceRoot, "new.go"))
	_, err = os.Stat(ws.SourcePath("old.go"))
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, ws.SourcePath("keep.go"))
}

func TestApply_ConflictAbortsByDefault(t *testing.T) {
	ws, draft := stageReviewedDraft(t)
	require.NoError(t, ResolveSelection(draft, []Rule{{Pattern: PatternAll, Disposition: types.DispositionApproved}}))

	// The live source moves underneath the staged draft.
	writeFile(t, ws.SourceRoot, "a.go", "package a // concurrent edit\n")

	result, err := NewApplier(openLog(t)).Apply(context.Background(), draft, Options{})
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.NotEmpty(t, result.Reason)
	assert.Len(t, result.Conflicts, 1)
	assert.Empty(t, result.Applied)

	// Nothing landed, the draft is still applicable after resolution.
	assert.Equal(t, "package a // concurrent edit\n", readFile(t, ws.SourceRoot, "a.go"))
	assert.Equal(t, "package b\n", readFile(t, ws.SourceRoot, "b.go"))
	assert.Equal(t, types.StatusApproved, draft.Status)
	assert.Empty(t, draft.AppliedURIs)
}

func TestApply_ForceOverwriteDiscardsLiveChanges(t *testing.T) {
	ws, draft := stageReviewedDraft(t)
	require.NoError(t, ResolveSelection(draft, []Rule{{Pattern: PatternAll, Disposition: types.DispositionApproved}}))

	writeFile(t, ws.SourceRoot, "a.go", "package a // concurrent edit\n")

	result, err := NewApplier(openLog(t)).Apply(context.Background(), draft, Options{
		ConflictPolicy: conflict.PolicyForceOverwrite,
	})
	require.NoError(t, err)

	assert.False(t, result.Aborted)
	assert.Len(t, result.Conflicts, 1, "overwritten conflicts stay on the record")
	assert.Equal(t, "package a // staged\n", readFile(t, ws.SourceRoot, "a.go"))
	assert.Equal(t, types.StatusApplied, draft.Status)
}

func TestApply_BlockingWarningNeedsOverride(t *testing.T) {
	ws, draft := stageReviewedDraft(t)

	// b.go depends on the rejected a.go.
	rules, err := ParseRules([]string{"a.go=rejected", "rest=approved"})
	require.NoError(t, err)
	require.NoError(t, ResolveSelection(draft, rules))
	b := draft.Artifact(types.FileURI("b.go"))
	require.NotNil(t, b)
	b.DependsOn = []types.ResourceURI{types.FileURI("a.go")}

	log := openLog(t)
	result, err := NewApplier(log).Apply(context.Background(), draft, Options{})
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, "package b\n", readFile(t, ws.SourceRoot, "b.go"))

	// The same apply proceeds once the override is explicit.
	result, err = NewApplier(log).Apply(context.Background(), draft, Options{OverrideWarnings: true})
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, "package b // staged\n", readFile(t, ws.SourceRoot, "b.go"))
	assert.Equal(t, "package a\n", readFile(t, ws.SourceRoot, "a.go"), "rejected artifact never lands")
}

func TestApply_RequiresApprovedStatus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	ws, err := workspace.Create(context.Background(), root, workspace.Options{StagingDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Remove() })
	writeFile(t, ws.Dir, "a.go", "package a // staged\n")

	draft, err := workspace.BuildDraft(context.Background(), ws)
	require.NoError(t, err)

	_, err = NewApplier(openLog(t)).Apply(context.Background(), draft, Options{})
	assert.Error(t, err)
}

func TestApply_UnknownPolicyRejected(t *testing.T) {
	_, draft := stageReviewedDraft(t)
	_, err := NewApplier(openLog(t)).Apply(context.Background(), draft, Options{ConflictPolicy: "guess"})
	assert.Error(t, err)
}

func TestSetDisposition(t *testing.T) {
	_, draft := stageReviewedDraft(t)
	log := openLog(t)

	uri := types.FileURI("a.go")
	require.NoError(t, SetDisposition(log, draft, uri, types.DispositionRejected, "needs tests"))
	assert.Equal(t, types.DispositionRejected, draft.Artifact(uri).Disposition)

	entry := lastEntryOfKind(t, log, audit.KindDisposition)
	assert.Contains(t, string(entry.Payload), "needs tests")

	assert.Error(t, SetDisposition(log, draft, types.FileURI("missing.go"), types.DispositionApproved, ""))
	assert.Error(t, SetDisposition(log, draft, uri, "maybe", ""))
}
