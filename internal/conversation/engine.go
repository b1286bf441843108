// Package conversation runs the assistant dialogue: it streams replies into
// per-dialogue transcripts, keeps the pending action ledger in step with
// them, and folds confirmations back in.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskstream/internal/client"
	"taskstream/internal/events"
	"taskstream/internal/ledger"
	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/store"
	"taskstream/internal/transcript"
	"taskstream/internal/types"
)

var (
	ErrNoDialogue     = errors.New("no dialogue selected")
	ErrStreamBusy     = errors.New("a reply is already streaming in this dialogue")
	ErrActionNotFound = errors.New("action not found in any open transcript")
	ErrClosed         = errors.New("engine closed")
)

// Backend is the part of the assistant API the engine drives.
// *client.Client satisfies it.
type Backend interface {
	GetDialogue(ctx context.Context, id int64) (*types.Dialogue, error)
	CreateDialogue(ctx context.Context, title string) (*types.Dialogue, error)
	StreamChat(ctx context.Context, dialogueID int64, content string) (<-chan client.StreamItem, func(), error)
	ConfirmAction(ctx context.Context, actionID string) error
	CancelAction(ctx context.Context, actionID string) error
}

type State int

const (
	StateIdle State = iota
	StateLoadingCache
	StateLoadingServer
	StateMerged
)

func (s State) String() string {
	switch s {
	case StateLoadingCache:
		return "loading_cache"
	case StateLoadingServer:
		return "loading_server"
	case StateMerged:
		return "merged"
	default:
		return "idle"
	}
}

type UpdateKind int

const (
	UpdateSelected UpdateKind = iota
	UpdateTranscript
	UpdateStreamStarted
	UpdateStreamFinished
	UpdateDecision
)

// Update tells a view that something it may display changed. Updates are
// hints: when the channel is full they are dropped, and the view reads
// current state from the engine.
type Update struct {
	Kind       UpdateKind
	DialogueID int64
	Err        error
}

type Options struct {
	UserID     int64
	Backend    Backend
	Repository store.Repository
	Events     events.Publisher
	Logger     logging.Logger
	Metrics    *metrics.Metrics
	Debounce   time.Duration
	Now        func() time.Time
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Engine struct {
	userID  int64
	backend Backend
	ledger  *ledger.Ledger
	cache   *CacheWriter
	events  events.Publisher
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	visible     int64
	state       State
	transcripts map[int64]*transcript.Transcript
	streams     map[int64]*stream
	closed      bool

	updatesMu     sync.Mutex
	updates       chan Update
	updatesClosed bool
}

func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if opts.Repository == nil {
		return nil, errors.New("repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	led, err := ledger.New(ledger.Options{
		UserID:   opts.UserID,
		Store:    opts.Repository.Ledger(),
		Canceler: opts.Backend,
		Logger:   logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		userID:      opts.UserID,
		backend:     opts.Backend,
		ledger:      led,
		cache:       NewCacheWriter(opts.UserID, opts.Repository.Transcripts(), opts.Repository.AppState(), opts.Debounce, logger),
		events:      opts.Events,
		logger:      logging.Named(logger, "conversation"),
		metrics:     opts.Metrics,
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		transcripts: map[int64]*transcript.Transcript{},
		streams:     map[int64]*stream{},
		updates:     make(chan Update, 64),
	}, nil
}

func (e *Engine) Updates() <-chan Update {
	return e.updates
}

func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

func (e *Engine) Visible() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Messages returns a snapshot of the visible transcript.
func (e *Engine) Messages() []types.Message {
	return e.MessagesFor(e.Visible())
}

func (e *Engine) MessagesFor(dialogueID int64) []types.Message {
	e.mu.Lock()
	tr := e.transcripts[dialogueID]
	e.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.Snapshot()
}

// Streaming reports whether a reply is in flight for dialogueID.
func (e *Engine) Streaming(dialogueID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams[dialogueID] != nil
}

// Restore selects the dialogue that was visible when the last session ended.
func (e *Engine) Restore(ctx context.Context) (int64, error) {
	id, err := e.cache.LastDialogue(ctx)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, nil
	}
	return id, e.Select(ctx, id)
}

// Leave marks the pending actions of the visible dialogue as left, as when
// the view goes away, and flushes the cache.
func (e *Engine) Leave(ctx context.Context) error {
	id := e.Visible()
	var err error
	if id != 0 {
		err = e.markLeft(ctx, id)
	}
	return errors.Join(err, e.cache.Flush(ctx))
}

// Close stops in-flight streams, then leaves the visible dialogue and waits
// for background work. Streams stop first so no card lands after the leave
// time is recorded. The engine cannot be used afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	leaveErr := e.Leave(ctx)
	e.ledger.Wait()
	cacheErr := e.cache.Close(ctx)
	e.updatesMu.Lock()
	e.updatesClosed = true
	close(e.updates)
	e.updatesMu.Unlock()
	return errors.Join(leaveErr, cacheErr)
}

func (e *Engine) markLeft(ctx context.Context, dialogueID int64) error {
	ids := types.PendingActionIDs(e.MessagesFor(dialogueID))
	if len(ids) == 0 {
		return nil
	}
	return e.ledger.MarkLeft(ctx, dialogueID, ids, e.now())
}

// transcriptLocked returns the transcript of dialogueID, creating an empty one.
func (e *Engine) transcriptLocked(dialogueID int64) *transcript.Transcript {
	tr := e.transcripts[dialogueID]
	if tr == nil {
		tr = transcript.New(nil)
		e.transcripts[dialogueID] = tr
	}
	return tr
}

func (e *Engine) setStateFor(dialogueID int64, state State) {
	e.mu.Lock()
	if e.visible == dialogueID {
		e.state = state
	}
	e.mu.Unlock()
}

func (e *Engine) emit(update Update) {
	e.updatesMu.Lock()
	defer e.updatesMu.Unlock()
	if e.updatesClosed {
		return
	}
	select {
	case e.updates <- update:
	default:
	}
}
