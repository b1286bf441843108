package conversation

import (
	"context"
	"sync"
	"time"

	"taskstream/internal/logging"
	"taskstream/internal/store"
	"taskstream/internal/types"
)

const DefaultDebounce = 300 * time.Millisecond

type pendingWrite struct {
	messages []types.Message
	seq      uint64
	timer    *time.Timer
}

// CacheWriter persists transcripts to the session cache, coalescing bursts
// of updates per dialogue, and remembers the last selected dialogue.
type CacheWriter struct {
	userID      int64
	transcripts store.TranscriptStore
	appState    store.AppStateStore
	debounce    time.Duration
	logger      logging.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[int64]*pendingWrite
	closed  bool

	// writeMu orders writes so an older snapshot never lands after a newer one.
	writeMu sync.Mutex
	written map[int64]uint64
}

func NewCacheWriter(userID int64, transcripts store.TranscriptStore, appState store.AppStateStore, debounce time.Duration, logger logging.Logger) *CacheWriter {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CacheWriter{
		userID:      userID,
		transcripts: transcripts,
		appState:    appState,
		debounce:    debounce,
		logger:      logging.Named(logger, "cache"),
		pending:     map[int64]*pendingWrite{},
		written:     map[int64]uint64{},
	}
}

// Schedule queues messages for dialogueID and (re)starts its debounce timer.
func (w *CacheWriter) Schedule(dialogueID int64, messages []types.Message) {
	if dialogueID == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.seq++
	p := w.pending[dialogueID]
	if p == nil {
		p = &pendingWrite{}
		w.pending[dialogueID] = p
	}
	p.messages = messages
	p.seq = w.seq
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(w.debounce, func() {
		if err := w.flushOne(context.Background(), dialogueID); err != nil {
			w.logger.Warn("cache write failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
		}
	})
}

// Persist writes messages now, superseding anything scheduled.
func (w *CacheWriter) Persist(ctx context.Context, dialogueID int64, messages []types.Message) error {
	if dialogueID == 0 {
		return nil
	}
	w.mu.Lock()
	w.seq++
	seq := w.seq
	if p := w.pending[dialogueID]; p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(w.pending, dialogueID)
	}
	w.mu.Unlock()
	return w.write(ctx, dialogueID, messages, seq)
}

// Load returns the newest known transcript: a scheduled write if one is
// waiting, otherwise the stored copy.
func (w *CacheWriter) Load(ctx context.Context, dialogueID int64) ([]types.Message, bool, error) {
	w.mu.Lock()
	if p := w.pending[dialogueID]; p != nil {
		messages := p.messages
		w.mu.Unlock()
		return messages, true, nil
	}
	w.mu.Unlock()
	return w.transcripts.Load(ctx, w.userID, dialogueID)
}

// Flush writes every scheduled transcript now.
func (w *CacheWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	var firstErr error
	for _, id := range ids {
		if err := w.flushOne(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and rejects further scheduling.
func (w *CacheWriter) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}

func (w *CacheWriter) RememberDialogue(ctx context.Context, dialogueID int64) error {
	if w.appState == nil {
		return nil
	}
	state, err := w.appState.Load(ctx, w.userID)
	if err != nil {
		return err
	}
	if state.LastDialogueID == dialogueID && state.UserID == w.userID {
		return nil
	}
	state.UserID = w.userID
	state.LastDialogueID = dialogueID
	return w.appState.Save(ctx, state)
}

func (w *CacheWriter) LastDialogue(ctx context.Context) (int64, error) {
	if w.appState == nil {
		return 0, nil
	}
	state, err := w.appState.Load(ctx, w.userID)
	if err != nil {
		return 0, err
	}
	return state.LastDialogueID, nil
}

func (w *CacheWriter) flushOne(ctx context.Context, dialogueID int64) error {
	w.mu.Lock()
	p := w.pending[dialogueID]
	if p == nil {
		w.mu.Unlock()
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(w.pending, dialogueID)
	w.mu.Unlock()
	return w.write(ctx, dialogueID, p.messages, p.seq)
}

func (w *CacheWriter) write(ctx context.Context, dialogueID int64, messages []types.Message, seq uint64) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if seq < w.written[dialogueID] {
		return nil
	}
	if err := w.transcripts.Save(ctx, w.userID, dialogueID, messages); err != nil {
		return err
	}
	w.written[dialogueID] = seq
	return nil
}
