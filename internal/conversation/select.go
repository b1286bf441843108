package conversation

import (
	"context"
	"fmt"

	"taskstream/internal/logging"
	"taskstream/internal/transcript"
	"taskstream/internal/types"
)

// Select makes dialogueID the visible dialogue. The cached transcript is
// reconciled and shown first; the server history is then fetched,
// reconciled, merged with it and written back to the cache. Selecting the
// visible dialogue does nothing, and selecting 0 clears the view.
func (e *Engine) Select(ctx context.Context, dialogueID int64) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	prev := e.visible
	if dialogueID == prev {
		e.mu.Unlock()
		return nil
	}
	e.visible = dialogueID
	if dialogueID == 0 {
		e.state = StateIdle
	} else {
		e.state = StateLoadingCache
	}
	e.mu.Unlock()

	if prev != 0 {
		if err := e.markLeft(ctx, prev); err != nil {
			e.logger.Warn("mark left failed", logging.F("dialogue_id", prev), logging.Err(err))
		}
	}
	if err := e.cache.RememberDialogue(ctx, dialogueID); err != nil {
		e.logger.Warn("remember dialogue failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
	}
	e.emit(Update{Kind: UpdateSelected, DialogueID: dialogueID})
	if dialogueID == 0 {
		return nil
	}

	if err := e.showCached(ctx, dialogueID); err != nil {
		e.logger.Warn("cached transcript unavailable", logging.F("dialogue_id", dialogueID), logging.Err(err))
	}
	e.setStateFor(dialogueID, StateLoadingServer)
	if err := e.refresh(ctx, dialogueID); err != nil {
		e.setStateFor(dialogueID, StateMerged)
		e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID, Err: err})
		return err
	}
	e.setStateFor(dialogueID, StateMerged)
	return nil
}

func (e *Engine) showCached(ctx context.Context, dialogueID int64) error {
	e.mu.Lock()
	tr := e.transcriptLocked(dialogueID)
	live := e.streams[dialogueID] != nil
	e.mu.Unlock()
	current, version := tr.SnapshotVersion()

	cached := current
	if !live {
		messages, ok, err := e.cache.Load(ctx, dialogueID)
		if err != nil {
			e.settle(tr, live, current, version, nil)
			e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID})
			return err
		}
		if !ok {
			// Nothing cached: the ledger keeps its left times until the
			// server history is reconciled.
			e.settle(tr, live, current, version, nil)
			e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID})
			return nil
		}
		cached = messages
	}
	reconciled, result, err := e.ledger.Reconcile(ctx, dialogueID, cached, e.now())
	if err != nil {
		return fmt.Errorf("reconcile cached: %w", err)
	}
	e.settle(tr, live, current, version, reconciled)
	if len(result.Rejected) > 0 {
		if err := e.cache.Persist(ctx, dialogueID, tr.Snapshot()); err != nil {
			e.logger.Warn("cache write failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
		}
	}
	e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID})
	return nil
}

// refresh fetches the server history of dialogueID and merges it into the
// local transcript.
func (e *Engine) refresh(ctx context.Context, dialogueID int64) error {
	dialogue, err := e.backend.GetDialogue(ctx, dialogueID)
	if err != nil {
		return fmt.Errorf("fetch dialogue %d: %w", dialogueID, err)
	}

	e.mu.Lock()
	tr := e.transcriptLocked(dialogueID)
	live := e.streams[dialogueID] != nil
	e.mu.Unlock()
	current, version := tr.SnapshotVersion()

	// A card decided locally stays decided whichever list wins the merge.
	fetched := OverlayTerminal(dialogue.Messages, current)
	fetched, _, err = e.ledger.Reconcile(ctx, dialogueID, fetched, e.now())
	if err != nil {
		return fmt.Errorf("reconcile fetched: %w", err)
	}
	var merged []types.Message
	if live {
		merged = OverlayTerminal(current, fetched)
	} else {
		merged = Merge(current, fetched)
	}
	// The merged list may keep cached cards the server list lacks; make sure
	// the ledger still tracks them.
	merged, _, err = e.ledger.Reconcile(ctx, dialogueID, merged, e.now())
	if err != nil {
		return fmt.Errorf("reconcile merged: %w", err)
	}
	e.settle(tr, live, current, version, merged)
	if err := e.cache.Persist(ctx, dialogueID, tr.Snapshot()); err != nil {
		e.logger.Warn("cache write failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
	}
	e.emit(Update{Kind: UpdateTranscript, DialogueID: dialogueID})
	return nil
}

// settleAttempts bounds how often settle rebases onto a transcript that a
// running stream keeps mutating.
const settleAttempts = 8

// settle installs next, computed from base at version, as the transcript.
// When the transcript changed meanwhile (a send started, a decision landed)
// the messages appended after base are kept on top of next and terminal
// confirmations made since are carried over. A transcript that was already
// streaming when base was read only takes next's terminal confirmations.
func (e *Engine) settle(tr *transcript.Transcript, live bool, base []types.Message, version uint64, next []types.Message) {
	for attempt := 0; !live && attempt < settleAttempts; attempt++ {
		snapshot, current := tr.SnapshotVersion()
		candidate := next
		if current != version {
			if len(snapshot) < len(base) {
				break
			}
			candidate = OverlayTerminal(types.CloneMessages(next), snapshot[:len(base)])
			candidate = append(candidate, snapshot[len(base):]...)
		}
		if tr.ReplaceIf(current, candidate) {
			return
		}
	}
	for _, id := range types.PendingActionIDs(tr.Snapshot()) {
		if card, ok := types.FindCard(next, id); ok && card.UserConfirmation.Terminal() {
			tr.SetConfirmation(id, card.UserConfirmation)
		}
	}
}
