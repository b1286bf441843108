package store

import (
	"context"
	"errors"

	"taskstream/internal/types"
)

// LedgerStore persists the pending action ledger, one map per user keyed by
// action id.
type LedgerStore interface {
	Load(ctx context.Context, userID int64) (map[string]types.PendingAction, error)
	// Update runs fn against the user's ledger as one read-modify-write. The
	// result is written back only when fn reports a change.
	Update(ctx context.Context, userID int64, fn func(entries map[string]types.PendingAction) (bool, error)) error
}

type FileLedgerStore struct {
	file *stateFile
}

func NewFileLedgerStore(path string) *FileLedgerStore {
	return &FileLedgerStore{file: newStateFile(path)}
}

func (s *FileLedgerStore) Load(ctx context.Context, userID int64) (map[string]types.PendingAction, error) {
	out := map[string]types.PendingAction{}
	err := s.file.view(func(data *stateFileData) error {
		for id, entry := range data.Ledgers[userID] {
			out[id] = clonePendingAction(entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileLedgerStore) Update(ctx context.Context, userID int64, fn func(entries map[string]types.PendingAction) (bool, error)) error {
	if fn == nil {
		return errors.New("update func is required")
	}
	return s.file.update(func(data *stateFileData) (bool, error) {
		entries := map[string]types.PendingAction{}
		for id, entry := range data.Ledgers[userID] {
			entries[id] = clonePendingAction(entry)
		}
		changed, err := fn(entries)
		if err != nil || !changed {
			return false, err
		}
		if len(entries) == 0 {
			delete(data.Ledgers, userID)
			return true, nil
		}
		data.Ledgers[userID] = entries
		return true, nil
	})
}

func clonePendingAction(entry types.PendingAction) types.PendingAction {
	if entry.LeftAt != nil {
		leftAt := *entry.LeftAt
		entry.LeftAt = &leftAt
	}
	return entry
}
