package types

import "fmt"

// ChangeKind classifies how an artifact differs from the snapshot.
type ChangeKind string

const (
	// ChangeAdded indicates a path present in the workspace but not in
	// the snapshot.
	ChangeAdded ChangeKind = "added"
	// ChangeModified indicates a path whose content hash differs from
	// the snapshot.
	ChangeModified ChangeKind = "modified"
	// ChangeDeleted indicates a path present in the snapshot but
	// removed from the workspace.
	ChangeDeleted ChangeKind = "deleted"
)

// Disposition is the review state of a single artifact.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
	DispositionDiscuss  Disposition = "discuss"
)

// ValidDisposition reports whether d is one of the known states.
func ValidDisposition(d Disposition) bool {
	switch d {
	case DispositionPending, DispositionApproved, DispositionRejected, DispositionDiscuss:
		return true
	}
	return false
}

// Artifact is one changed resource inside a draft. Dependency edges are
// agent-declared and untrusted; the supervisor validates them
// defensively.
type Artifact struct {
	URI         ResourceURI   `json:"uri"`
	Kind        ChangeKind    `json:"kind"`
	Diff        string        `json:"diff,omitempty"`
	Binary      bool          `json:"binary,omitempty"`
	Size        int64         `json:"size"`
	ContentHash string        `json:"content_hash,omitempty"`
	Rationale   string        `json:"rationale,omitempty"`
	DependsOn   []ResourceURI `json:"depends_on,omitempty"`
	Disposition Disposition   `json:"disposition"`
}

// Validate ensures the artifact has the fields every consumer relies on.
func (a *Artifact) Validate() error {
	if err := a.URI.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case ChangeAdded, ChangeModified, ChangeDeleted:
	default:
		return fmt.Errorf("artifact %s has unknown change kind %q", a.URI, a.Kind)
	}
	if !ValidDisposition(a.Disposition) {
		return fmt.Errorf("artifact %s has unknown disposition %q", a.URI, a.Disposition)
	}
	return nil
}
