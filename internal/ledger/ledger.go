// Package ledger tracks unconfirmed action cards per user and rejects the
// ones whose dialogue was left for too long.
package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/types"
)

// RejectAfter is how long a pending action may sit in a dialogue the user
// left before it is rejected locally.
const RejectAfter = 30 * time.Second

const cancelTimeout = 10 * time.Second

// Store is the persistence the ledger needs; store.LedgerStore satisfies it.
type Store interface {
	Load(ctx context.Context, userID int64) (map[string]types.PendingAction, error)
	Update(ctx context.Context, userID int64, fn func(entries map[string]types.PendingAction) (bool, error)) error
}

// Canceler tells the backend an action was rejected.
type Canceler interface {
	CancelAction(ctx context.Context, actionID string) error
}

type Options struct {
	UserID   int64
	Store    Store
	Canceler Canceler
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

type Ledger struct {
	userID   int64
	store    Store
	canceler Canceler
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu sync.Mutex
	wg sync.WaitGroup
}

func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Ledger{
		userID:   opts.UserID,
		store:    opts.Store,
		canceler: opts.Canceler,
		logger:   logging.Named(logger, "ledger"),
		metrics:  opts.Metrics,
	}, nil
}

// Register adds actionID with no leave time. It reports whether an entry was
// created; an existing entry is left untouched.
func (l *Ledger) Register(ctx context.Context, actionID string, dialogueID int64) (bool, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return false, errors.New("action id is required")
	}
	created := false
	err := l.update(ctx, func(entries map[string]types.PendingAction) (bool, error) {
		if _, ok := entries[actionID]; ok {
			return false, nil
		}
		entries[actionID] = types.PendingAction{ActionID: actionID, DialogueID: dialogueID}
		created = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if created {
		l.metrics.ActionRegistered()
		l.logger.Debug("action registered", logging.F("action_id", actionID), logging.F("dialogue_id", dialogueID))
	}
	return created, nil
}

// MarkLeft stamps now on each listed action that belongs to dialogueID.
func (l *Ledger) MarkLeft(ctx context.Context, dialogueID int64, actionIDs []string, now time.Time) error {
	if len(actionIDs) == 0 {
		return nil
	}
	return l.update(ctx, func(entries map[string]types.PendingAction) (bool, error) {
		changed := false
		for _, id := range actionIDs {
			entry, ok := entries[id]
			if !ok || entry.DialogueID != dialogueID {
				continue
			}
			leftAt := now
			entry.LeftAt = &leftAt
			entries[id] = entry
			changed = true
		}
		return changed, nil
	})
}

// Remove deletes actionID. Missing ids are ignored.
func (l *Ledger) Remove(ctx context.Context, actionID string) error {
	return l.update(ctx, func(entries map[string]types.PendingAction) (bool, error) {
		if _, ok := entries[actionID]; !ok {
			return false, nil
		}
		delete(entries, actionID)
		return true, nil
	})
}

// Entries returns a snapshot of the ledger sorted by dialogue then action id.
func (l *Ledger) Entries(ctx context.Context) ([]types.PendingAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.store.Load(ctx, l.userID)
	if err != nil {
		return nil, err
	}
	out := make([]types.PendingAction, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DialogueID != out[j].DialogueID {
			return out[i].DialogueID < out[j].DialogueID
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out, nil
}

// Result describes what Reconcile did to the ledger.
type Result struct {
	Removed    []string
	Rejected   []string
	Registered []string
}

func (r Result) Changed() bool {
	return len(r.Removed) > 0 || len(r.Rejected) > 0 || len(r.Registered) > 0
}

// Reconcile brings the ledger in line with messages, the transcript of
// dialogueID. Entries of that dialogue whose card is gone or terminal are
// dropped. Pending cards left at least RejectAfter ago are rejected: the
// returned messages carry N for them and the backend is told in the
// background. Every other pending card is kept with its leave time
// cleared. messages itself is never modified.
func (l *Ledger) Reconcile(ctx context.Context, dialogueID int64, messages []types.Message, now time.Time) ([]types.Message, Result, error) {
	var result Result
	pending := map[string]struct{}{}
	var order []string
	for _, id := range types.PendingActionIDs(messages) {
		if _, ok := pending[id]; ok {
			continue
		}
		pending[id] = struct{}{}
		order = append(order, id)
	}

	err := l.update(ctx, func(entries map[string]types.PendingAction) (bool, error) {
		changed := false
		for id, entry := range entries {
			if entry.DialogueID != dialogueID {
				continue
			}
			if _, ok := pending[id]; !ok {
				delete(entries, id)
				result.Removed = append(result.Removed, id)
				changed = true
			}
		}
		for _, id := range order {
			entry, ok := entries[id]
			switch {
			case !ok:
				entries[id] = types.PendingAction{ActionID: id, DialogueID: dialogueID}
				result.Registered = append(result.Registered, id)
				changed = true
			case entry.Expired(now, RejectAfter):
				delete(entries, id)
				result.Rejected = append(result.Rejected, id)
				changed = true
			case entry.LeftAt != nil:
				entry.LeftAt = nil
				entries[id] = entry
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return messages, Result{}, err
	}
	sort.Strings(result.Removed)

	out := messages
	for _, id := range result.Rejected {
		out, _ = types.SetConfirmation(out, id, types.ConfirmationRejected)
		l.metrics.ActionAutoRejected()
		l.logger.Info("action auto rejected", logging.F("action_id", id), logging.F("dialogue_id", dialogueID))
		l.notifyCancel(id)
	}
	for range result.Registered {
		l.metrics.ActionRegistered()
	}
	return out, result, nil
}

// Wait blocks until background cancel notifications finish.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

func (l *Ledger) notifyCancel(actionID string) {
	if l.canceler == nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := l.canceler.CancelAction(ctx, actionID); err != nil {
			l.logger.Debug("cancel notification failed", logging.F("action_id", actionID), logging.Err(err))
		}
	}()
}

func (l *Ledger) update(ctx context.Context, fn func(entries map[string]types.PendingAction) (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Update(ctx, l.userID, fn)
}
