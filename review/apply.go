package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/draftgate/draftgate/audit"
	"github.com/draftgate/draftgate/conflict"
	"github.com/draftgate/draftgate/supervisor"
	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
	"github.com/draftgate/draftgate/workspace"
)

// Options configures one apply attempt.
type Options struct {
	// ConflictPolicy decides how detected conflicts are handled.
	// Empty means PolicyAbort.
	ConflictPolicy conflict.Policy
	// OverrideWarnings lets the apply proceed past blocking supervisor
	// warnings. Must be set explicitly; there is no silent default.
	OverrideWarnings bool
	// MergeCommand is the external merge tool used under PolicyMerge.
	MergeCommand []string
}

// ArtifactError records one per-artifact copy failure. Failures do not
// stop the batch; artifacts already copied remain copied.
type ArtifactError struct {
	URI   types.ResourceURI `json:"uri"`
	Error string            `json:"error"`
}

// ArtifactResolution pairs one artifact with its resolved disposition
// at apply time.
type ArtifactResolution struct {
	URI         types.ResourceURI `json:"uri"`
	Disposition types.Disposition `json:"disposition"`
}

// Result is the structured outcome of one apply attempt. External
// callers translate it into exit codes and human-readable text.
// Resolutions carries the full resolved disposition set in artifact
// order, so the audit record by itself answers who rejected what.
type Result struct {
	DraftID      string                    `json:"draft_id"`
	Aborted      bool                      `json:"aborted"`
	Reason       string                    `json:"reason,omitempty"`
	Applied      []types.ResourceURI       `json:"applied,omitempty"`
	Skipped      []types.ResourceURI       `json:"skipped,omitempty"`
	Errors       []ArtifactError           `json:"errors,omitempty"`
	Conflicts    []types.ConflictRecord    `json:"conflicts,omitempty"`
	Warnings     []supervisor.Warning      `json:"warnings,omitempty"`
	Resolutions  []ArtifactResolution      `json:"resolutions"`
	Dispositions map[types.Disposition]int `json:"dispositions"`
}

// applyEvent is the audit payload for every apply attempt, successful
// or aborted.
type applyEvent struct {
	*Result
	ConflictPolicy     string `json:"conflict_policy"`
	WarningsOverridden bool   `json:"warnings_overridden,omitempty"`
}

// Applier copies approved artifact content from the overlay back to the
// live source and records every attempt in the audit log.
type Applier struct {
	log      *audit.Log
	detector *conflict.Detector
	logger   *telemetry.Logger
}

// NewApplier creates an applier writing to the given audit log.
func NewApplier(log *audit.Log) *Applier {
	return &Applier{
		log:      log,
		detector: conflict.NewDetector(),
		logger:   telemetry.NewLogger("applier"),
	}
}

// Apply runs supervisor and conflict checks over an approved draft,
// then copies every Approved artifact from the overlay to the source
// root. Rejected and Discuss artifacts are left untouched. There is no
// cancellation mid-copy: once copying starts, each artifact runs to
// completion and AppliedURIs reflects exactly what succeeded, so a
// partial apply is detectable afterwards.
func (a *Applier) Apply(ctx context.Context, draft *types.DraftPackage, opts Options) (*Result, error) {
	start := time.Now()

	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = conflict.PolicyAbort
	}
	if !conflict.ValidPolicy(opts.ConflictPolicy) {
		return nil, fmt.Errorf("unknown conflict policy %q", opts.ConflictPolicy)
	}
	if draft.Status != types.StatusApproved {
		return nil, fmt.Errorf("draft %s is %s, only approved drafts can be applied", draft.ID, draft.Status)
	}

	result := &Result{
		DraftID:      draft.ID,
		Resolutions:  resolvedDispositions(draft),
		Dispositions: draft.CountByDisposition(),
	}

	result.Warnings = supervisor.Validate(draft)
	telemetry.CountWarnings(ctx, len(result.Warnings))
	if supervisor.HasBlocking(result.Warnings) && !opts.OverrideWarnings {
		return a.abort(ctx, result, opts, start, "blocking supervisor warnings require explicit override")
	}

	snapshot, err := workspace.LoadSnapshot(draft.WorkspaceDir)
	if err != nil {
		return a.abort(ctx, result, opts, start, fmt.Sprintf("workspace state unavailable: %v", err))
	}

	conflicts, err := a.detector.Check(ctx, draft, snapshot, draft.SourceRoot)
	if err != nil {
		return a.abort(ctx, result, opts, start, fmt.Sprintf("conflict check failed: %v", err))
	}

	switch opts.ConflictPolicy {
	case conflict.PolicyAbort:
		if len(conflicts) > 0 {
			result.Conflicts = conflicts
			return a.abort(ctx, result, opts, start, "live source changed underneath the draft")
		}
	case conflict.PolicyMerge:
		unresolved := conflict.NewResolver(opts.MergeCommand).Resolve(ctx, conflicts, draft.WorkspaceDir, draft.SourceRoot)
		if len(unresolved) > 0 {
			result.Conflicts = unresolved
			return a.abort(ctx, result, opts, start, "merge left unresolved conflicts")
		}
	case conflict.PolicyForceOverwrite:
		// Recorded for the audit trail; live changes on touched paths
		// are knowingly discarded.
		result.Conflicts = conflicts
	}

	for i := range draft.Artifacts {
		artifact := &draft.Artifacts[i]
		if artifact.Disposition != types.DispositionApproved {
			result.Skipped = append(result.Skipped, artifact.URI)
			continue
		}
		if err := copyArtifact(draft, artifact); err != nil {
			a.logger.WithContext(ctx).Error().
				Err(err).
				Str("draft_id", draft.ID).
				Str("uri", artifact.URI.String()).
				Msg("artifact copy failed")
			result.Errors = append(result.Errors, ArtifactError{URI: artifact.URI, Error: err.Error()})
			continue
		}
		draft.MarkApplied(artifact.URI)
		result.Applied = append(result.Applied, artifact.URI)
	}

	if len(result.Errors) == 0 {
		if err := draft.Transition(types.StatusApplied); err != nil {
			return a.abort(ctx, result, opts, start, err.Error())
		}
	}

	return a.finish(ctx, result, opts, start)
}

func (a *Applier) abort(ctx context.Context, result *Result, opts Options, start time.Time, reason string) (*Result, error) {
	result.Aborted = true
	result.Reason = reason
	return a.finish(ctx, result, opts, start)
}

// finish records the attempt in the audit log and emits telemetry. An
// audit append failure is the one hard error here: the attempt already
// happened, so an unrecordable attempt must surface loudly.
func (a *Applier) finish(ctx context.Context, result *Result, opts Options, start time.Time) (*Result, error) {
	telemetry.CountApply(ctx, len(result.Applied), len(result.Skipped))
	telemetry.ObserveApplyDuration(ctx, time.Since(start).Seconds())
	a.logger.LogApplyResult(ctx, result.DraftID,
		len(result.Applied), len(result.Skipped), len(result.Conflicts), len(result.Warnings))

	event := applyEvent{
		Result:            result,
		ConflictPolicy:    string(opts.ConflictPolicy),
		WarningsOverridden: opts.OverrideWarnings && len(result.Warnings) > 0,
	}
	if _, err := a.log.Append(audit.KindApplyAttempt, event); err != nil {
		a.logger.LogAuditError(ctx, "apply_attempt", err)
		return result, fmt.Errorf("failed to record apply attempt: %w", err)
	}
	return result, nil
}

// resolvedDispositions captures every artifact's final verdict in
// artifact order.
func resolvedDispositions(draft *types.DraftPackage) []ArtifactResolution {
	resolutions := make([]ArtifactResolution, 0, len(draft.Artifacts))
	for i := range draft.Artifacts {
		resolutions = append(resolutions, ArtifactResolution{
			URI:         draft.Artifacts[i].URI,
			Disposition: draft.Artifacts[i].Disposition,
		})
	}
	return resolutions
}

// copyArtifact lands one approved artifact at the source root. Deleted
// artifacts remove the live file; missing-on-delete is not an error.
func copyArtifact(draft *types.DraftPackage, artifact *types.Artifact) error {
	rel := artifact.URI.Path()
	if rel == "" {
		return fmt.Errorf("artifact URI %q has no path", artifact.URI)
	}
	dst := filepath.Join(draft.SourceRoot, filepath.FromSlash(rel))

	if artifact.Kind == types.ChangeDeleted {
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	src := filepath.Join(draft.WorkspaceDir, filepath.FromSlash(rel))
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
