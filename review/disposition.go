package review

import (
	"fmt"

	"github.com/draftgate/draftgate/audit"
	"github.com/draftgate/draftgate/types"
)

type dispositionEvent struct {
	DraftID  string            `json:"draft_id"`
	URI      types.ResourceURI `json:"uri"`
	Previous types.Disposition `json:"previous"`
	Current  types.Disposition `json:"current"`
	Note     string            `json:"note,omitempty"`
}

// SetDisposition records a reviewer's verdict on one artifact and
// writes the change to the audit log. Dispositions are only mutable
// while the draft is non-terminal.
func SetDisposition(log *audit.Log, draft *types.DraftPackage, uri types.ResourceURI, disposition types.Disposition, note string) error {
	if draft.Status.Terminal() {
		return fmt.Errorf("draft %s is %s, dispositions are immutable history", draft.ID, draft.Status)
	}
	if !types.ValidDisposition(disposition) {
		return fmt.Errorf("unknown disposition %q", disposition)
	}

	artifact := draft.Artifact(uri)
	if artifact == nil {
		return fmt.Errorf("draft %s has no artifact %s", draft.ID, uri)
	}

	previous := artifact.Disposition
	artifact.Disposition = disposition

	_, err := log.Append(audit.KindDisposition, dispositionEvent{
		DraftID:  draft.ID,
		URI:      uri,
		Previous: previous,
		Current:  disposition,
		Note:     note,
	})
	if err != nil {
		return fmt.Errorf("failed to record disposition change: %w", err)
	}
	return nil
}
