package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskstream/internal/app"
	"taskstream/internal/client"
	"taskstream/internal/config"
	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/store"
	"taskstream/internal/types"
)

type fakeBackend struct {
	mu         sync.Mutex
	dialogues  map[int64]*types.Dialogue
	list       []types.DialogueSummary
	nextID     int64
	replies    [][]client.StreamItem
	confirmErr error
	confirmed  []string
	cancelled  []string
	renamed    map[int64]string
	deleted    []int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{dialogues: map[int64]*types.Dialogue{}, nextID: 100, renamed: map[int64]string{}}
}

func (b *fakeBackend) GetDialogue(_ context.Context, id int64) (*types.Dialogue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dialogues[id]
	if !ok {
		return nil, &client.APIError{StatusCode: 404, Message: "Dialogue not found"}
	}
	out := *d
	out.Messages = types.CloneMessages(d.Messages)
	return &out, nil
}

func (b *fakeBackend) CreateDialogue(_ context.Context, title string) (*types.Dialogue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	d := &types.Dialogue{ID: b.nextID, Title: title, Messages: []types.Message{}}
	b.dialogues[d.ID] = d
	out := *d
	return &out, nil
}

func (b *fakeBackend) StreamChat(ctx context.Context, _ int64, _ string) (<-chan client.StreamItem, func(), error) {
	b.mu.Lock()
	if len(b.replies) == 0 {
		b.mu.Unlock()
		return nil, nil, errors.New("no scripted reply")
	}
	items := b.replies[0]
	b.replies = b.replies[1:]
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan client.StreamItem)
	go func() {
		defer close(out)
		for _, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (b *fakeBackend) ConfirmAction(_ context.Context, actionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.confirmErr != nil {
		return b.confirmErr
	}
	b.confirmed = append(b.confirmed, actionID)
	return nil
}

func (b *fakeBackend) CancelAction(_ context.Context, actionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, actionID)
	return nil
}

func (b *fakeBackend) ListDialogues(context.Context) ([]types.DialogueSummary, error) {
	return b.list, nil
}

func (b *fakeBackend) RenameDialogue(_ context.Context, id int64, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renamed[id] = title
	return nil
}

func (b *fakeBackend) DeleteDialogue(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

type testEnv struct {
	backend   *fakeBackend
	statePath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{backend: newFakeBackend(), statePath: filepath.Join(t.TempDir(), "state.json")}
}

func (e *testEnv) wiring(stdout, stderr *bytes.Buffer) commandWiring {
	return commandWiring{
		stdout: stdout,
		stderr: stderr,
		loadConfig: func(string) (config.CoreConfig, error) {
			cfg := config.DefaultCoreConfig()
			cfg.Storage.Backend = "file"
			cfg.Storage.Path = e.statePath
			return cfg, nil
		},
		newBackend: func(config.CoreConfig, logging.Logger, logging.Logger, *metrics.Metrics) Backend {
			return e.backend
		},
		openRepository: func(config.CoreConfig) (store.Repository, error) {
			return store.NewFileRepository(store.RepositoryPaths{StatePath: e.statePath}, store.RepositoryOptions{}), nil
		},
		runUI: func(app.Engine, app.DialogueAPI) error {
			return nil
		},
		version: "test",
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCmd(e.wiring(stdout, stderr))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func streamFrame(t *testing.T, event string, payload any) client.StreamItem {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return client.StreamItem{Frame: types.StreamFrame{Event: event, Data: data}}
}

func pendingCard(actionID, title string) types.Card {
	data, _ := json.Marshal(map[string]string{"title": title})
	return types.Card{Kind: 1, Data: data, ActionID: actionID}
}

func assistantWithCard(card types.Card) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: []types.Segment{
		types.TextSegment{Text: "Added it."},
		types.CardSegment{Card: card},
	}}
}

func decodePending(t *testing.T, raw string) []pendingRow {
	t.Helper()
	var out pendingOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode pending output %q: %v", raw, err)
	}
	return out.Pending
}

func TestSendStreamsReplyAndLeavesActionPending(t *testing.T) {
	env := newTestEnv(t)
	env.backend.replies = [][]client.StreamItem{{
		streamFrame(t, types.StreamEventStart, map[string]any{}),
		streamFrame(t, types.StreamEventPartialText, map[string]any{"content": "Sure, ", "delta": "Sure, "}),
		streamFrame(t, types.StreamEventPartialText, map[string]any{"content": "Sure, added.", "delta": "added."}),
		streamFrame(t, types.StreamEventCards, map[string]any{"cards": []types.Card{pendingCard("a1", "buy milk")}}),
		streamFrame(t, types.StreamEventEnd, map[string]any{}),
	}}

	out, err := env.run(t, "send", "buy", "milk")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "Sure, added.") {
		t.Fatalf("expected streamed text, got %q", out)
	}
	if !strings.Contains(out, "action=a1") || !strings.Contains(out, "buy milk") {
		t.Fatalf("expected card line, got %q", out)
	}

	out, err = env.run(t, "pending", "-o", "json")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	rows := decodePending(t, out)
	if len(rows) != 1 || rows[0].ActionID != "a1" || rows[0].DialogueID != 101 {
		t.Fatalf("unexpected pending rows: %#v", rows)
	}
	if rows[0].LeftAt == nil {
		t.Fatalf("expected action to be marked left when the command exited")
	}
}

func TestSendWithoutScriptedReplyFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "send", "hello"); err == nil {
		t.Fatalf("expected send to fail when the stream cannot start")
	}
}

func TestConfirmLooksUpDialogueFromLedger(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		types.NewTextMessage(types.RoleUser, "buy milk"),
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}

	out, err := env.run(t, "show", "7")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "[assistant]") || !strings.Contains(out, "[pending]") {
		t.Fatalf("unexpected transcript: %q", out)
	}

	out, err = env.run(t, "confirm", "a9")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(out, "action a9 confirmed (create_task)") {
		t.Fatalf("unexpected confirm output: %q", out)
	}
	if len(env.backend.confirmed) != 1 || env.backend.confirmed[0] != "a9" {
		t.Fatalf("expected server confirm of a9, got %v", env.backend.confirmed)
	}

	out, err = env.run(t, "pending", "-o", "json")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if rows := decodePending(t, out); len(rows) != 0 {
		t.Fatalf("expected empty ledger after confirm, got %#v", rows)
	}
}

func TestConfirmUnknownActionNeedsDialogue(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "confirm", "nope")
	if err == nil || !strings.Contains(err.Error(), "--dialogue") {
		t.Fatalf("expected hint about --dialogue, got %v", err)
	}
}

func TestConfirmMissingOnServerRejectsLocally(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}
	env.backend.confirmErr = &client.APIError{StatusCode: 404, Message: "Action not found or timeout"}

	out, err := env.run(t, "confirm", "--dialogue", "7", "a9")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(out, "action a9 rejected: not found on server") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCancelRejects(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}

	out, err := env.run(t, "cancel", "--dialogue", "7", "a9")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(out, "action a9 rejected (create_task)") {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(env.backend.cancelled) != 1 {
		t.Fatalf("expected one cancel call, got %v", env.backend.cancelled)
	}
}

func TestShowYAML(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}

	out, err := env.run(t, "show", "7", "--format", "yaml")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"role: assistant", "type: create_task", "action_id: a9", "title: buy milk"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in yaml output:\n%s", want, out)
		}
	}
}

func TestPendingTOML(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}
	if _, err := env.run(t, "show", "7"); err != nil {
		t.Fatalf("show: %v", err)
	}

	out, err := env.run(t, "pending", "--format", "toml")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.Contains(out, "[[pending]]") || !strings.Contains(out, "a9") || !strings.Contains(out, "dialogue_id = 7") {
		t.Fatalf("unexpected toml output:\n%s", out)
	}
}

func TestPendingTable(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "pending")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !strings.HasPrefix(out, "ACTION") {
		t.Fatalf("expected table header, got %q", out)
	}
}

func TestFormatIsValidated(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "pending", "-o", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDialoguesCommands(t *testing.T) {
	env := newTestEnv(t)
	env.backend.list = []types.DialogueSummary{
		{ID: 12, Title: "groceries", LastTimestamp: "2026-03-01T09:00:00"},
		{ID: 3, Title: "journal"},
	}

	out, err := env.run(t, "dialogues")
	if err != nil {
		t.Fatalf("dialogues: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
	if !strings.Contains(lines[1], "12") || !strings.Contains(lines[1], "groceries") {
		t.Fatalf("unexpected first row: %q", lines[1])
	}

	out, err = env.run(t, "dialogues", "new", "weekly", "review")
	if err != nil || !strings.Contains(out, "created dialogue 101") {
		t.Fatalf("unexpected create: %q err=%v", out, err)
	}
	if env.backend.dialogues[101].Title != "weekly review" {
		t.Fatalf("unexpected title: %q", env.backend.dialogues[101].Title)
	}

	if _, err := env.run(t, "dialogues", "rename", "12", "shopping"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if env.backend.renamed[12] != "shopping" {
		t.Fatalf("unexpected rename: %v", env.backend.renamed)
	}

	if _, err := env.run(t, "dialogues", "delete", "x"); err == nil {
		t.Fatalf("expected invalid id error")
	}
	if _, err := env.run(t, "dialogues", "delete", "3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(env.backend.deleted) != 1 || env.backend.deleted[0] != 3 {
		t.Fatalf("unexpected deletes: %v", env.backend.deleted)
	}
}

func TestConfigDefaultJSON(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "config", "--default", "-o", "json")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode config json: %v\n%s", err, out)
	}
	if doc["server"]["base_url"] != "http://localhost:8000" {
		t.Fatalf("unexpected server section: %#v", doc["server"])
	}
	if doc["cache"]["debounce"] != "300ms" {
		t.Fatalf("unexpected cache section: %#v", doc["cache"])
	}
}

func TestConfigTOMLShowsLoadedStorage(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "[storage]") || !strings.Contains(out, "state.json") {
		t.Fatalf("unexpected toml:\n%s", out)
	}
}

func TestChatRunsUI(t *testing.T) {
	env := newTestEnv(t)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	wiring := env.wiring(stdout, stderr)
	var called bool
	wiring.runUI = func(engine app.Engine, dialogues app.DialogueAPI) error {
		called = engine != nil && dialogues != nil
		return nil
	}
	cmd := newRootCmd(wiring)
	cmd.SetArgs([]string{"chat"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !called {
		t.Fatalf("expected the UI to run with an engine")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 ", "dialogue id"); err != nil || id != 42 {
		t.Fatalf("unexpected parse: %d %v", id, err)
	}
	for _, raw := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(raw, "dialogue id"); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestConfirmReportsExpiredAction(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dialogues[7] = &types.Dialogue{ID: 7, Messages: []types.Message{
		assistantWithCard(pendingCard("a9", "buy milk")),
	}}
	repo := store.NewFileRepository(store.RepositoryPaths{StatePath: env.statePath}, store.RepositoryOptions{})
	leftAt := time.Now().Add(-time.Minute)
	err := repo.Ledger().Update(context.Background(), 1, func(entries map[string]types.PendingAction) (bool, error) {
		entries["a9"] = types.PendingAction{ActionID: "a9", DialogueID: 7, LeftAt: &leftAt}
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close repo: %v", err)
	}

	out, err := env.run(t, "confirm", "a9")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(out, "action a9 expired: rejected automatically 30s") {
		t.Fatalf("expected expiry notice, got %q", out)
	}
	if len(env.backend.confirmed) != 0 {
		t.Fatalf("expired action must not be confirmed, got %v", env.backend.confirmed)
	}
	if len(env.backend.cancelled) != 1 || env.backend.cancelled[0] != "a9" {
		t.Fatalf("expected the server to be told about the rejection, got %v", env.backend.cancelled)
	}
}
