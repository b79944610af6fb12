package conflict

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/draftgate/draftgate/telemetry"
	"github.com/draftgate/draftgate/types"
)

// Resolver delegates conflicting paths to an external merge command.
// The command receives the live file and the staged overlay file and is
// expected to leave the merged result in the overlay file, exiting
// non-zero when it cannot merge cleanly. Conflicts the tool cannot
// resolve are reported back, never guessed at.
type Resolver struct {
	// Command is the merge tool plus any leading arguments; the live
	// and overlay paths are appended per conflict.
	Command []string

	logger *telemetry.Logger
}

// NewResolver builds a resolver for the configured merge command. An
// empty command means no tool is available and every conflict stays
// unresolved.
func NewResolver(command []string) *Resolver {
	return &Resolver{
		Command: command,
		logger:  telemetry.NewLogger("merge-resolver"),
	}
}

// Resolve attempts each conflict and returns the ones still standing.
func (r *Resolver) Resolve(ctx context.Context, conflicts []types.ConflictRecord, overlayDir, sourceRoot string) []types.ConflictRecord {
	if len(r.Command) == 0 {
		return conflicts
	}

	var unresolved []types.ConflictRecord
	for _, record := range conflicts {
		if record.Reason != types.ConflictModified {
			// Creations and deletions have no common base to merge.
			unresolved = append(unresolved, record)
			continue
		}

		livePath := filepath.Join(sourceRoot, filepath.FromSlash(record.Path))
		overlayPath := filepath.Join(overlayDir, filepath.FromSlash(record.Path))

		args := append(append([]string{}, r.Command[1:]...), livePath, overlayPath)
		cmd := exec.CommandContext(ctx, r.Command[0], args...)
		if err := cmd.Run(); err != nil {
			r.logger.WithContext(ctx).Warn().
				Err(err).
				Str("path", record.Path).
				Msg("external merge failed, conflict unresolved")
			unresolved = append(unresolved, record)
			continue
		}

		r.logger.WithContext(ctx).Info().
			Str("path", record.Path).
			Msg("conflict merged externally")
	}
	return unresolved
}
