package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/draftgate/draftgate/types"
)

// draftWith builds a draft whose artifacts and dependency edges come
// from a simple adjacency map.
func draftWith(deps map[string][]string, dispositions map[string]types.Disposition) *types.DraftPackage {
	draft := &types.DraftPackage{ID: "d-1", WorkspaceID: "ws-1", Status: types.StatusPendingReview}
	for path, dependsOn := range deps {
		artifact := types.Artifact{
			URI:         types.FileURI(path),
			Kind:        types.ChangeModified,
			Disposition: types.DispositionPending,
		}
		if d, ok := dispositions[path]; ok {
			artifact.Disposition = d
		}
		for _, dep := range dependsOn {
			artifact.DependsOn = append(artifact.DependsOn, types.FileURI(dep))
		}
		draft.Artifacts = append(draft.Artifacts, artifact)
	}
	return draft
}

func kinds(warnings []Warning) []WarningKind {
	out := make([]WarningKind, len(warnings))
	for i, w := range warnings {
		out[i] = w.Kind
	}
	return out
}

func TestValidate_CleanGraph(t *testing.T) {
	draft := draftWith(map[string][]string{
		"a.go": {"b.go"},
		"b.go": nil,
	}, nil)

	assert.Empty(t, Validate(draft))
}

func TestValidate_CycleDetected(t *testing.T) {
	draft := draftWith(map[string][]string{
		"a.go": {"b.go"},
		"b.go": {"a.go"},
	}, nil)

	warnings := Validate(draft)
	assert.Contains(t, kinds(warnings), WarnCycle)
	assert.True(t, HasBlocking(warnings))
}

func TestValidate_CycleIndependentOfInsertionOrder(t *testing.T) {
	forward := draftWith(map[string][]string{
		"a.go": {"b.go"},
		"b.go": {"c.go"},
		"c.go": {"a.go"},
	}, nil)

	backward := &types.DraftPackage{ID: "d-2", WorkspaceID: "ws-1", Status: types.StatusPendingReview}
	for i := len(forward.Artifacts) - 1; i >= 0; i-- {
		backward.Artifacts = append(backward.Artifacts, forward.Artifacts[i])
	}

	first := Validate(forward)
	second := Validate(backward)
	assert.Equal(t, kinds(first), kinds(second))
	assert.Contains(t, kinds(first), WarnCycle)
}

func TestValidate_DeepCycleWithSideBranch(t *testing.T) {
	// The side branch off b.go is explored and abandoned before the
	// cycle closes, so the reported chain must contain only the cycle
	// members.
	draft := draftWith(map[string][]string{
		"a.go": {"b.go"},
		"b.go": {"x.go", "c.go"},
		"c.go": {"d.go"},
		"d.go": {"a.go"},
		"x.go": nil,
	}, nil)

	warnings := Validate(draft)
	assert.Equal(t, []WarningKind{WarnCycle}, kinds(warnings))
	assert.Equal(t, []types.ResourceURI{
		types.FileURI("a.go"),
		types.FileURI("b.go"),
		types.FileURI("c.go"),
		types.FileURI("d.go"),
		types.FileURI("a.go"),
	}, warnings[0].URIs)
}

func TestValidate_SelfDependency(t *testing.T) {
	draft := draftWith(map[string][]string{
		"a.go": {"a.go"},
	}, nil)

	warnings := Validate(draft)
	assert.Equal(t, []WarningKind{WarnSelfDependency}, kinds(warnings))
}

func TestValidate_CoupledRejection(t *testing.T) {
	draft := draftWith(map[string][]string{
		"b.go": {"a.go"},
		"a.go": nil,
	}, map[string]types.Disposition{
		"a.go": types.DispositionRejected,
		"b.go": types.DispositionApproved,
	})

	warnings := Validate(draft)
	assert.Equal(t, []WarningKind{WarnCoupledRejection}, kinds(warnings))
	assert.True(t, warnings[0].Blocking())
}

func TestValidate_BothRejectedIsConsistent(t *testing.T) {
	draft := draftWith(map[string][]string{
		"b.go": {"a.go"},
		"a.go": nil,
	}, map[string]types.Disposition{
		"a.go": types.DispositionRejected,
		"b.go": types.DispositionRejected,
	})

	assert.Empty(t, Validate(draft))
}

func TestValidate_DanglingDependencyNotBlocking(t *testing.T) {
	draft := draftWith(map[string][]string{
		"a.go": {"already-applied.go"},
	}, nil)

	warnings := Validate(draft)
	assert.Equal(t, []WarningKind{WarnDanglingDependency}, kinds(warnings))
	assert.False(t, warnings[0].Blocking())
	assert.False(t, HasBlocking(warnings))
}
