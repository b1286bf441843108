// Package events announces that backend data changed so views can refetch.
package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"taskstream/internal/types"
)

type Signal string

const (
	TasksChanged   Signal = "tasks.changed"
	JournalChanged Signal = "journal.changed"
)

type Event struct {
	Signal   Signal         `json:"signal"`
	UserID   int64          `json:"user_id"`
	ActionID string         `json:"action_id,omitempty"`
	CardType types.CardType `json:"card_type,omitempty"`
	At       time.Time      `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SignalsFor maps an accepted card to the data it changed. Unknown cards
// change nothing this client knows how to refetch.
func SignalsFor(cardType types.CardType) []Signal {
	switch cardType {
	case types.CardCreateTask, types.CardDeleteTask, types.CardUpdateTask,
		types.CardCreateLongTermTask, types.CardDeleteLongTermTask, types.CardUpdateLongTermTask:
		return []Signal{TasksChanged}
	case types.CardUpdateJournal:
		return []Signal{JournalChanged}
	default:
		return nil
	}
}

type Handler func(Event)

// LocalBus is an in-process publisher. Handlers run synchronously on the
// publishing goroutine in subscription order.
type LocalBus struct {
	mu   sync.Mutex
	next int
	subs map[Signal]map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[Signal]map[int]Handler{}}
}

// Subscribe registers h for signal and returns a func that removes it.
func (b *LocalBus) Subscribe(signal Signal, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[signal] == nil {
		b.subs[signal] = map[int]Handler{}
	}
	b.subs[signal][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[signal], id)
	}
}

func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs[event.Signal]))
	for id := range b.subs[event.Signal] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[event.Signal][id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
