package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskstream/internal/types"
)

func sampleTranscript() []types.Message {
	return []types.Message{
		types.NewTextMessage(types.RoleUser, "buy milk"),
		{
			Role: types.RoleAssistant,
			Content: []types.Segment{
				types.TextSegment{Text: "Added."},
				types.CardSegment{Card: types.Card{Kind: 1, ActionID: "a1"}},
			},
		},
	}
}

func TestBboltRepositoryLedgerUpdate(t *testing.T) {
	repo, err := NewBboltRepository(filepath.Join(t.TempDir(), "store.db"), RepositoryOptions{})
	if err != nil {
		t.Fatalf("NewBboltRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	leftAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err = repo.Ledger().Update(ctx, 1, func(entries map[string]types.PendingAction) (bool, error) {
		entries["a1"] = types.PendingAction{ActionID: "a1", DialogueID: 5}
		entries["a2"] = types.PendingAction{ActionID: "a2", DialogueID: 6, LeftAt: &leftAt}
		return true, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := repo.Ledger().Update(ctx, 2, func(entries map[string]types.PendingAction) (bool, error) {
		entries["b1"] = types.PendingAction{ActionID: "b1", DialogueID: 5}
		return true, nil
	}); err != nil {
		t.Fatalf("Update user 2: %v", err)
	}

	entries, err := repo.Ledger().Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 || entries["a2"].LeftAt == nil || !entries["a2"].LeftAt.Equal(leftAt) {
		t.Fatalf("unexpected entries %#v", entries)
	}

	if err := repo.Ledger().Update(ctx, 1, func(entries map[string]types.PendingAction) (bool, error) {
		delete(entries, "a1")
		return true, nil
	}); err != nil {
		t.Fatalf("Update delete: %v", err)
	}
	entries, _ = repo.Ledger().Load(ctx, 1)
	if _, ok := entries["a1"]; ok || len(entries) != 1 {
		t.Fatalf("expected a1 removed, got %#v", entries)
	}
	other, _ := repo.Ledger().Load(ctx, 2)
	if len(other) != 1 {
		t.Fatalf("other user's ledger should be untouched, got %#v", other)
	}
}

func TestBboltRepositoryLedgerUpdateErrorRollsBack(t *testing.T) {
	repo, err := NewBboltRepository(filepath.Join(t.TempDir(), "store.db"), RepositoryOptions{})
	if err != nil {
		t.Fatalf("NewBboltRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = repo.Ledger().Update(ctx, 1, func(entries map[string]types.PendingAction) (bool, error) {
		entries["a1"] = types.PendingAction{ActionID: "a1", DialogueID: 5}
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	entries, _ := repo.Ledger().Load(ctx, 1)
	if len(entries) != 0 {
		t.Fatalf("failed update should not persist, got %#v", entries)
	}
}

func TestBboltRepositoryAppStatePerUser(t *testing.T) {
	repo, err := NewBboltRepository(filepath.Join(t.TempDir(), "store.db"), RepositoryOptions{})
	if err != nil {
		t.Fatalf("NewBboltRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	if err := repo.AppState().Save(ctx, &types.AppState{UserID: 1, LastDialogueID: 12}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state, err := repo.AppState().Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastDialogueID != 12 {
		t.Fatalf("unexpected state %#v", state)
	}
	empty, err := repo.AppState().Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load other: %v", err)
	}
	if empty.UserID != 2 || empty.LastDialogueID != 0 {
		t.Fatalf("unexpected empty state %#v", empty)
	}
}

func TestBboltRepositoryTranscriptsAreSessionScoped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	first, err := NewBboltRepository(path, RepositoryOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("open s1: %v", err)
	}
	if err := first.Transcripts().Save(ctx, 1, 5, sampleTranscript()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Ledger().Update(ctx, 1, func(entries map[string]types.PendingAction) (bool, error) {
		entries["a1"] = types.PendingAction{ActionID: "a1", DialogueID: 5}
		return true, nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	messages, ok, err := first.Transcripts().Load(ctx, 1, 5)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(messages) != 2 || messages[1].Cards()[0].ActionID != "a1" {
		t.Fatalf("unexpected transcript %#v", messages)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resumed, err := NewBboltRepository(path, RepositoryOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("reopen s1: %v", err)
	}
	if _, ok, _ := resumed.Transcripts().Load(ctx, 1, 5); !ok {
		t.Fatalf("explicit session should keep its transcripts")
	}
	if err := resumed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fresh, err := NewBboltRepository(path, RepositoryOptions{})
	if err != nil {
		t.Fatalf("open fresh: %v", err)
	}
	defer fresh.Close()
	if fresh.SessionID() == "s1" || fresh.SessionID() == "" {
		t.Fatalf("unexpected session id %q", fresh.SessionID())
	}
	if _, ok, _ := fresh.Transcripts().Load(ctx, 1, 5); ok {
		t.Fatalf("new session should not see old transcripts")
	}
	ids, err := fresh.Transcripts().List(ctx, 1)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no transcripts, got %v err=%v", ids, err)
	}
	entries, _ := fresh.Ledger().Load(ctx, 1)
	if len(entries) != 1 {
		t.Fatalf("ledger must survive session changes, got %#v", entries)
	}
}

func TestBboltTranscriptDeleteMissing(t *testing.T) {
	repo, err := NewBboltRepository(filepath.Join(t.TempDir(), "store.db"), RepositoryOptions{})
	if err != nil {
		t.Fatalf("NewBboltRepository: %v", err)
	}
	defer repo.Close()
	if err := repo.Transcripts().Delete(context.Background(), 1, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
