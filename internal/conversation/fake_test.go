package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskstream/internal/client"
	"taskstream/internal/events"
	"taskstream/internal/store"
	"taskstream/internal/types"
)

const testUser = int64(1)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// script is one scripted reply. When hold is set the stream pauses before
// item holdAt until hold is closed. A buffered script hands back a closed
// channel that already holds every item.
type script struct {
	items []client.StreamItem
	hold     chan struct{}
	holdAt   int
	buffered bool
}

type fakeBackend struct {
	mu         sync.Mutex
	dialogues  map[int64]*types.Dialogue
	nextID     int64
	scripts    []script
	sent       []string
	confirmErr error
	cancelErr  error
	confirmed  []string
	cancelled  []string
	fetches    int
	// onStream runs inside StreamChat, after the reply is prepared.
	onStream func(dialogueID int64)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{dialogues: map[int64]*types.Dialogue{}, nextID: 100}
}

func (b *fakeBackend) addDialogue(id int64, messages ...types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialogues[id] = &types.Dialogue{ID: id, UserID: testUser, Messages: messages}
}

func (b *fakeBackend) queue(s script) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts = append(b.scripts, s)
}

func (b *fakeBackend) GetDialogue(_ context.Context, id int64) (*types.Dialogue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	d, ok := b.dialogues[id]
	if !ok {
		return nil, &client.APIError{StatusCode: 404, Message: "Dialogue not found"}
	}
	copyD := *d
	copyD.Messages = types.CloneMessages(d.Messages)
	return &copyD, nil
}

func (b *fakeBackend) CreateDialogue(_ context.Context, title string) (*types.Dialogue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	d := &types.Dialogue{ID: b.nextID, UserID: testUser, Title: title, Messages: []types.Message{}}
	b.dialogues[d.ID] = d
	copyD := *d
	return &copyD, nil
}

func (b *fakeBackend) StreamChat(ctx context.Context, dialogueID int64, content string) (<-chan client.StreamItem, func(), error) {
	b.mu.Lock()
	b.sent = append(b.sent, content)
	if len(b.scripts) == 0 {
		b.mu.Unlock()
		return nil, nil, errors.New("no scripted reply")
	}
	s := b.scripts[0]
	b.scripts = b.scripts[1:]
	onStream := b.onStream
	b.mu.Unlock()

	if s.buffered {
		out := make(chan client.StreamItem, len(s.items))
		for _, item := range s.items {
			out <- item
		}
		close(out)
		if onStream != nil {
			onStream(dialogueID)
		}
		return out, func() {}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan client.StreamItem)
	go func() {
		defer close(out)
		for i, item := range s.items {
			if s.hold != nil && i == s.holdAt {
				select {
				case <-s.hold:
				case <-ctx.Done():
					return
				}
			}
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
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancelled = append(b.cancelled, actionID)
	return nil
}

func (b *fakeBackend) cancelledIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

type harness struct {
	engine  *Engine
	backend *fakeBackend
	repo    store.Repository
	clock   *fakeClock
	bus     *events.LocalBus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := newFakeBackend()
	repo := store.NewFileRepository(store.RepositoryPaths{
		StatePath: filepath.Join(t.TempDir(), "state.json"),
	}, store.RepositoryOptions{})
	clock := newFakeClock()
	bus := events.NewLocalBus()
	engine, err := New(Options{
		UserID:     testUser,
		Backend:    backend,
		Repository: repo,
		Events:     bus,
		Debounce:   time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close(context.Background())
		_ = repo.Close()
	})
	return &harness{engine: engine, backend: backend, repo: repo, clock: clock, bus: bus}
}

func frame(t *testing.T, event string, payload any) client.StreamItem {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return client.StreamItem{Frame: types.StreamFrame{Event: event, Data: data}}
}

func textItem(t *testing.T, text string) client.StreamItem {
	return frame(t, types.StreamEventPartialText, map[string]any{"content": text, "delta": text, "finished": false})
}

func cardsItem(t *testing.T, cards ...types.Card) client.StreamItem {
	return frame(t, types.StreamEventCards, map[string]any{"cards": cards})
}

func endItem(t *testing.T) client.StreamItem {
	return frame(t, types.StreamEventEnd, map[string]any{})
}

func taskCard(actionID string, c types.Confirmation) types.Card {
	return types.Card{Kind: 1, Data: json.RawMessage(`{"title":"buy milk"}`), ActionID: actionID, UserConfirmation: c}
}

func journalCard(actionID string) types.Card {
	return types.Card{Kind: 7, Data: json.RawMessage(`{"before":{"date":"2026-03-01","content":""},"after":{"date":"2026-03-01","content":"ran"}}`), ActionID: actionID}
}

func assistantWith(text string, cards ...types.Card) types.Message {
	msg := types.NewTextMessage(types.RoleAssistant, text)
	for _, card := range cards {
		msg.Content = append(msg.Content, types.CardSegment{Card: card})
	}
	return msg
}

func userSaid(text string) types.Message {
	return types.NewTextMessage(types.RoleUser, text)
}

// hookedRepository runs the installed hook once, on the next ledger update.
type hookedRepository struct {
	store.Repository
	mu   sync.Mutex
	hook func()
}

func (r *hookedRepository) setHook(fn func()) {
	r.mu.Lock()
	r.hook = fn
	r.mu.Unlock()
}

func (r *hookedRepository) takeHook() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn := r.hook
	r.hook = nil
	return fn
}

func (r *hookedRepository) Ledger() store.LedgerStore {
	return &hookedLedger{LedgerStore: r.Repository.Ledger(), repo: r}
}

type hookedLedger struct {
	store.LedgerStore
	repo *hookedRepository
}

func (l *hookedLedger) Update(ctx context.Context, userID int64, fn func(entries map[string]types.PendingAction) (bool, error)) error {
	if hook := l.repo.takeHook(); hook != nil {
		hook()
	}
	return l.LedgerStore.Update(ctx, userID, fn)
}
