package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"taskstream/internal/client"
	"taskstream/internal/logging"
	"taskstream/internal/transcript"
	"taskstream/internal/types"
)

// Send posts text to the visible dialogue, creating one when none is
// selected, and streams the reply into its transcript in the background.
// It returns the dialogue the reply is streaming into.
func (e *Engine) Send(ctx context.Context, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("message is empty")
	}
	dialogueID, err := e.ensureDialogue(ctx)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if e.streams[dialogueID] != nil {
		e.mu.Unlock()
		return dialogueID, ErrStreamBusy
	}
	tr := e.transcriptLocked(dialogueID)
	streamCtx, cancel := context.WithCancel(e.ctx)
	s := &stream{cancel: cancel, done: make(chan struct{})}
	e.streams[dialogueID] = s
	e.wg.Add(1)
	e.mu.Unlock()

	tr.AppendUser(text)
	tr.BeginAssistant()
	e.cache.Schedule(dialogueID, tr.Snapshot())
	e.emit(Update{Kind: UpdateStreamStarted, DialogueID: dialogueID})

	items, stop, err := e.backend.StreamChat(streamCtx, dialogueID, text)
	if err != nil {
		outcome := outcomeFor(streamCtx, err)
		if outcome == "failed" {
			tr.AppendError(err.Error())
		}
		e.finishStream(dialogueID, tr, s, outcome)
		return dialogueID, fmt.Errorf("start stream: %w", err)
	}
	go e.runStream(streamCtx, dialogueID, tr, s, items, stop)
	return dialogueID, nil
}

// Wait blocks until the stream of dialogueID, if any, has finished.
func (e *Engine) Wait(ctx context.Context, dialogueID int64) error {
	e.mu.Lock()
	s := e.streams[dialogueID]
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the stream of dialogueID. Stopping is not an error.
func (e *Engine) Stop(dialogueID int64) {
	e.mu.Lock()
	s := e.streams[dialogueID]
	e.mu.Unlock()
	if s != nil {
		s.cancel()
	}
}

func (e *Engine) ensureDialogue(ctx context.Context) (int64, error) {
	if id := e.Visible(); id != 0 {
		return id, nil
	}
	dialogue, err := e.backend.CreateDialogue(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("create dialogue: %w", err)
	}
	e.mu.Lock()
	e.visible = dialogue.ID
	e.state = StateMerged
	e.transcriptLocked(dialogue.ID).Replace(dialogue.Messages)
	e.mu.Unlock()
	if err := e.cache.RememberDialogue(ctx, dialogue.ID); err != nil {
		e.logger.Warn("remember dialogue failed", logging.F("dialogue_id", dialogue.ID), logging.Err(err))
	}
	e.emit(Update{Kind: UpdateSelected, DialogueID: dialogue.ID})
	return dialogue.ID, nil
}

// runStream applies frames in arrival order to the transcript of
// dialogueID, whether or not it is visible.
func (e *Engine) runStream(ctx context.Context, dialogueID int64, tr *transcript.Transcript, s *stream, items <-chan client.StreamItem, stop func()) {
	defer stop()
	outcome := "completed"
	for item := range items {
		// Stopping ends dispatch at once, even with frames still buffered.
		if ctx.Err() != nil {
			break
		}
		if item.Err != nil {
			tr.AppendError(item.Err.Error())
			outcome = "failed"
			e.logger.Warn("stream failed", logging.F("dialogue_id", dialogueID), logging.Err(item.Err))
			continue
		}
		applied, err := tr.Apply(item.Frame)
		if err != nil {
			e.metrics.FrameDropped()
			e.logger.Warn("frame dropped", logging.F("dialogue_id", dialogueID), logging.F("event", item.Frame.Event), logging.Err(err))
			continue
		}
		e.metrics.FrameApplied(item.Frame.Event)
		if applied.Error != "" {
			outcome = "failed"
		}
		e.registerCards(ctx, dialogueID, applied.Cards)
		e.cache.Schedule(dialogueID, tr.Snapshot())
		e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID})
		if applied.Ended {
			break
		}
		if item.Frame.Event == types.StreamEventCards {
			runtime.Gosched()
		}
	}
	if ctx.Err() != nil && outcome == "completed" {
		outcome = "cancelled"
	}
	e.finishStream(dialogueID, tr, s, outcome)
}

func (e *Engine) registerCards(ctx context.Context, dialogueID int64, cards []types.Card) {
	if len(cards) == 0 {
		return
	}
	visible := e.Visible() == dialogueID
	var left []string
	for _, card := range cards {
		if !card.Pending() {
			continue
		}
		if _, err := e.ledger.Register(ctx, card.ActionID, dialogueID); err != nil {
			e.logger.Warn("register action failed", logging.F("action_id", card.ActionID), logging.Err(err))
			continue
		}
		if !visible {
			left = append(left, card.ActionID)
		}
	}
	if len(left) > 0 {
		if err := e.ledger.MarkLeft(ctx, dialogueID, left, e.now()); err != nil {
			e.logger.Warn("mark left failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
		}
	}
}

func (e *Engine) finishStream(dialogueID int64, tr *transcript.Transcript, s *stream, outcome string) {
	s.cancel()
	if err := e.cache.Persist(context.Background(), dialogueID, tr.Snapshot()); err != nil {
		e.logger.Warn("cache write failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
	}
	e.mu.Lock()
	if e.streams[dialogueID] == s {
		delete(e.streams, dialogueID)
	}
	e.mu.Unlock()
	e.metrics.StreamFinished(outcome)
	close(s.done)
	e.emit(Update{Kind: UpdateStreamFinished, DialogueID: dialogueID})
	e.wg.Done()
}

func outcomeFor(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "failed"
}
