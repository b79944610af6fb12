package types

import "time"

// FileState is the recorded baseline for one path: modification time
// and content hash captured when the overlay was created.
type FileState struct {
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
}

// SourceSnapshot maps workspace-relative slash paths to their baseline
// state. Captured once at overlay creation and never mutated.
type SourceSnapshot map[string]FileState

// ConflictReason says how the live source diverged from the snapshot.
type ConflictReason string

const (
	// ConflictModified - live content no longer matches the snapshot hash.
	ConflictModified ConflictReason = "modified"
	// ConflictDeleted - snapshot recorded the path but it is gone from
	// the live source.
	ConflictDeleted ConflictReason = "deleted"
	// ConflictCreated - the draft adds a path that now also exists in
	// the live source.
	ConflictCreated ConflictReason = "created"
)

// ConflictRecord reports one path that changed underneath staged work.
// Produced only at apply time and attached to the apply attempt that
// found it.
type ConflictRecord struct {
	Path         string         `json:"path"`
	URI          ResourceURI    `json:"uri"`
	Reason       ConflictReason `json:"reason"`
	SnapshotHash string         `json:"snapshot_hash,omitempty"`
	LiveHash     string         `json:"live_hash,omitempty"`
}
