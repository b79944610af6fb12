// Package storage persists draft packages in a bbolt-backed document
// store. External CLI/UI layers read drafts from here to render review
// screens and write disposition changes back.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/draftgate/draftgate/types"
)

// Bucket names in bbolt.
var (
	bucketDrafts = []byte("drafts")
	bucketIndex  = []byte("index")
	bucketMeta   = []byte("meta")
)

var keyRevision = []byte("revision")

// draftState is the in-memory index entry for fast listing without
// deserializing whole drafts.
type draftState struct {
	ID          string
	WorkspaceID string
	Status      types.DraftStatus
	Revision    int64
}

// DraftStore is the bbolt-backed document store keyed by draft ID, with
// a btree index for ordered scans.
type DraftStore struct {
	mu sync.RWMutex

	index *btree.BTreeG[*draftState]
	db    *bbolt.DB

	// currentRev increments on every write; listings expose it so
	// callers can detect concurrent updates.
	currentRev int64
}

// Filter narrows ListDrafts results. Zero values match everything.
type Filter struct {
	Status      types.DraftStatus
	WorkspaceID string
}

// Open creates or opens the draft store in dir.
func Open(dir string) (*DraftStore, error) {
	dbPath := filepath.Join(dir, "drafts.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketDrafts, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &DraftStore{
		index: btree.NewG[*draftState](32, func(a, b *draftState) bool {
			return a.ID < b.ID
		}),
		db: db,
	}

	if err := store.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the store.
func (s *DraftStore) Close() error {
	return s.db.Close()
}

// SaveDraft persists a draft, creating or replacing its record, and
// returns the store revision of the write.
func (s *DraftStore) SaveDraft(draft *types.DraftPackage) (int64, error) {
	if err := draft.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(draft)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDrafts).Put([]byte(draft.ID), value); err != nil {
			return err
		}

		state := draftState{
			ID:          draft.ID,
			WorkspaceID: draft.WorkspaceID,
			Status:      draft.Status,
			Revision:    rev,
		}
		stateValue, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put([]byte(draft.ID), stateValue); err != nil {
			return err
		}

		return tx.Bucket(bucketMeta).Put(keyRevision, encodeRevision(rev))
	})
	if err != nil {
		s.currentRev--
		return 0, fmt.Errorf("failed to save draft %s: %w", draft.ID, err)
	}

	s.index.ReplaceOrInsert(&draftState{
		ID:          draft.ID,
		WorkspaceID: draft.WorkspaceID,
		Status:      draft.Status,
		Revision:    rev,
	})
	return rev, nil
}

// GetDraft loads a draft by ID.
func (s *DraftStore) GetDraft(id string) (*types.DraftPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var draft types.DraftPackage
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketDrafts).Get([]byte(id))
		if value == nil {
			return fmt.Errorf("draft %s not found", id)
		}
		return json.Unmarshal(value, &draft)
	})
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// ListDrafts returns drafts matching the filter, ordered by ID.
func (s *DraftStore) ListDrafts(filter Filter) ([]*types.DraftPackage, error) {
	s.mu.RLock()
	var ids []string
	s.index.Ascend(func(state *draftState) bool {
		if filter.Status != "" && state.Status != filter.Status {
			return true
		}
		if filter.WorkspaceID != "" && state.WorkspaceID != filter.WorkspaceID {
			return true
		}
		ids = append(ids, state.ID)
		return true
	})
	s.mu.RUnlock()

	drafts := make([]*types.DraftPackage, 0, len(ids))
	for _, id := range ids {
		draft, err := s.GetDraft(id)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// CountByStatus tallies drafts per status from the index alone.
func (s *DraftStore) CountByStatus() map[types.DraftStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.DraftStatus]int)
	s.index.Ascend(func(state *draftState) bool {
		counts[state.Status]++
		return true
	})
	return counts
}

// MarkSuperseded stamps every non-terminal draft for a workspace as
// superseded by the named draft. Called when a newer draft is built
// against the same workspace.
func (s *DraftStore) MarkSuperseded(workspaceID, byDraftID string) error {
	drafts, err := s.ListDrafts(Filter{WorkspaceID: workspaceID})
	if err != nil {
		return err
	}

	for _, draft := range drafts {
		if draft.ID == byDraftID || draft.Status.Terminal() {
			continue
		}
		if err := draft.Supersede(byDraftID); err != nil {
			return err
		}
		if _, err := s.SaveDraft(draft); err != nil {
			return err
		}
	}
	return nil
}

// Revision returns the store's current revision.
func (s *DraftStore) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

func (s *DraftStore) loadRevision() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get(keyRevision)
		if value != nil {
			s.currentRev = decodeRevision(value)
		}
		return nil
	})
}

// rebuildIndex reloads the in-memory btree from disk at open.
func (s *DraftStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(_, value []byte) error {
			var state draftState
			if err := json.Unmarshal(value, &state); err != nil {
				return err
			}
			s.index.ReplaceOrInsert(&state)
			return nil
		})
	})
}

func encodeRevision(rev int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(rev))
	return buf
}

func decodeRevision(value []byte) int64 {
	if len(value) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(value))
}
