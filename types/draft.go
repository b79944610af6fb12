package types

import (
	"fmt"
	"time"
)

// DraftStatus tracks a draft through its lifecycle.
type DraftStatus string

const (
	StatusDraft         DraftStatus = "draft"
	StatusPendingReview DraftStatus = "pending_review"
	StatusApproved      DraftStatus = "approved"
	StatusDenied        DraftStatus = "denied"
	StatusApplied       DraftStatus = "applied"
	StatusSuperseded    DraftStatus = "superseded"
)

// Terminal reports whether no further transition is allowed from s.
func (s DraftStatus) Terminal() bool {
	return s == StatusApplied || s == StatusSuperseded
}

// validTransitions encodes the draft state machine. Superseded is
// reachable from any non-terminal state and is handled separately.
var validTransitions = map[DraftStatus][]DraftStatus{
	StatusDraft:         {StatusPendingReview},
	StatusPendingReview: {StatusApproved, StatusDenied},
	StatusApproved:      {StatusApplied},
	StatusDenied:        {},
}

// DraftPackage is an ordered collection of artifacts produced by one
// draft build. It owns its artifacts exclusively until applied; after
// apply they are immutable history.
type DraftPackage struct {
	ID           string        `json:"id"`
	WorkspaceID  string        `json:"workspace_id"`
	WorkspaceDir string        `json:"workspace_dir"`
	SourceRoot   string        `json:"source_root"`
	Status       DraftStatus   `json:"status"`
	Artifacts    []Artifact    `json:"artifacts"`
	AppliedURIs  []ResourceURI `json:"applied_uris,omitempty"`
	SupersededBy string        `json:"superseded_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Transition moves the draft to next, enforcing the state machine.
func (d *DraftPackage) Transition(next DraftStatus) error {
	if next == StatusSuperseded {
		return fmt.Errorf("use Supersede to mark draft %s superseded", d.ID)
	}
	for _, allowed := range validTransitions[d.Status] {
		if allowed == next {
			d.Status = next
			d.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid draft transition %s -> %s for draft %s", d.Status, next, d.ID)
}

// Supersede marks the draft superseded by a later draft built against
// the same workspace. Only non-terminal drafts can be superseded.
func (d *DraftPackage) Supersede(byID string) error {
	if d.Status.Terminal() {
		return fmt.Errorf("draft %s is %s and cannot be superseded", d.ID, d.Status)
	}
	d.Status = StatusSuperseded
	d.SupersededBy = byID
	d.UpdatedAt = time.Now()
	return nil
}

// Artifact returns the artifact for a URI, or nil if the draft does not
// touch that resource.
func (d *DraftPackage) Artifact(uri ResourceURI) *Artifact {
	for i := range d.Artifacts {
		if d.Artifacts[i].URI == uri {
			return &d.Artifacts[i]
		}
	}
	return nil
}

// CountByDisposition tallies artifacts per review state.
func (d *DraftPackage) CountByDisposition() map[Disposition]int {
	counts := make(map[Disposition]int, 4)
	for i := range d.Artifacts {
		counts[d.Artifacts[i].Disposition]++
	}
	return counts
}

// MarkApplied records that an artifact's content reached the source
// root. The applied set is how a partially applied draft is detected
// after a crash.
func (d *DraftPackage) MarkApplied(uri ResourceURI) {
	for _, existing := range d.AppliedURIs {
		if existing == uri {
			return
		}
	}
	d.AppliedURIs = append(d.AppliedURIs, uri)
	d.UpdatedAt = time.Now()
}

// Validate checks the draft and all artifacts.
func (d *DraftPackage) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("draft ID cannot be empty")
	}
	if d.WorkspaceID == "" {
		return fmt.Errorf("draft %s missing workspace ID", d.ID)
	}
	seen := make(map[ResourceURI]bool, len(d.Artifacts))
	for i := range d.Artifacts {
		a := &d.Artifacts[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.URI] {
			return fmt.Errorf("draft %s has duplicate artifact %s", d.ID, a.URI)
		}
		seen[a.URI] = true
	}
	return nil
}
