package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"taskstream/internal/types"
)

func TestFileRepositoryPersistsLedgerAndState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	repo := NewFileRepository(RepositoryPaths{StatePath: path}, RepositoryOptions{})
	if err := repo.AppState().Save(ctx, &types.AppState{UserID: 3, LastDialogueID: 8}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Ledger().Update(ctx, 3, func(entries map[string]types.PendingAction) (bool, error) {
		entries["a1"] = types.PendingAction{ActionID: "a1", DialogueID: 8}
		return true, nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := NewFileRepository(RepositoryPaths{StatePath: path}, RepositoryOptions{})
	state, err := reopened.AppState().Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if state.LastDialogueID != 8 {
		t.Fatalf("unexpected state %#v", state)
	}
	entries, err := reopened.Ledger().Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load ledger: %v", err)
	}
	if entries["a1"].DialogueID != 8 {
		t.Fatalf("unexpected entries %#v", entries)
	}
}

func TestFileLedgerUnchangedUpdateSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileLedgerStore(path)
	err := store.Update(context.Background(), 1, func(entries map[string]types.PendingAction) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no file to be written, stat err=%v", err)
	}
}

func TestFileRepositoryTranscriptsLiveInMemory(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(RepositoryPaths{StatePath: filepath.Join(t.TempDir(), "state.json")}, RepositoryOptions{})
	if err := repo.Transcripts().Save(ctx, 1, 2, sampleTranscript()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	messages, ok, err := repo.Transcripts().Load(ctx, 1, 2)
	if err != nil || !ok || len(messages) != 2 {
		t.Fatalf("Load: ok=%v err=%v messages=%#v", ok, err, messages)
	}
	messages[0].Content = nil
	again, _, _ := repo.Transcripts().Load(ctx, 1, 2)
	if len(again[0].Content) != 1 {
		t.Fatalf("cache should not share slices with callers")
	}
	ids, _ := repo.Transcripts().List(ctx, 1)
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := repo.Transcripts().Delete(ctx, 1, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Transcripts().Delete(ctx, 1, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRepositoryBackends(t *testing.T) {
	dir := t.TempDir()
	paths := RepositoryPaths{StatePath: filepath.Join(dir, "state.json"), DBPath: filepath.Join(dir, "store.db")}

	repo, err := OpenRepository(paths, "", RepositoryOptions{})
	if err != nil {
		t.Fatalf("OpenRepository default: %v", err)
	}
	if repo.Backend() != RepositoryBackendBbolt {
		t.Fatalf("unexpected backend %q", repo.Backend())
	}
	_ = repo.Close()

	repo, err = OpenRepository(paths, "FILE", RepositoryOptions{})
	if err != nil {
		t.Fatalf("OpenRepository file: %v", err)
	}
	if repo.Backend() != RepositoryBackendFile {
		t.Fatalf("unexpected backend %q", repo.Backend())
	}
	_ = repo.Close()

	if _, err := OpenRepository(paths, "sqlite", RepositoryOptions{}); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}
