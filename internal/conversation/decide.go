package conversation

import (
	"context"
	"fmt"

	"taskstream/internal/client"
	"taskstream/internal/events"
	"taskstream/internal/logging"
	"taskstream/internal/transcript"
	"taskstream/internal/types"
)

// Decision is the confirmation a card ended up with.
type Decision struct {
	DialogueID   int64
	ActionID     string
	CardType     types.CardType
	Confirmation types.Confirmation
	// Forced is set when the backend no longer knew the action and the card
	// was rejected locally.
	Forced bool
}

// Confirm accepts the card for actionID.
func (e *Engine) Confirm(ctx context.Context, actionID string) (Decision, error) {
	return e.decide(ctx, actionID, true)
}

// Cancel rejects the card for actionID.
func (e *Engine) Cancel(ctx context.Context, actionID string) (Decision, error) {
	return e.decide(ctx, actionID, false)
}

func (e *Engine) decide(ctx context.Context, actionID string, accept bool) (Decision, error) {
	dialogueID, tr, card, ok := e.findCard(actionID)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	decision := Decision{
		DialogueID:   dialogueID,
		ActionID:     actionID,
		CardType:     card.Type(),
		Confirmation: card.UserConfirmation,
	}
	if card.UserConfirmation.Terminal() {
		return decision, nil
	}

	op := "cancel"
	call := e.backend.CancelAction
	decision.Confirmation = types.ConfirmationRejected
	if accept {
		op = "confirm"
		call = e.backend.ConfirmAction
		decision.Confirmation = types.ConfirmationAccepted
	}
	if err := call(ctx, actionID); err != nil {
		if !client.IsNotFound(err) && !client.IsTimeout(err) {
			e.metrics.Decision(op, "error")
			return decision, fmt.Errorf("%s action %s: %w", op, actionID, err)
		}
		e.logger.Info("action gone, rejecting locally", logging.F("action_id", actionID), logging.Err(err))
		decision.Confirmation = types.ConfirmationRejected
		decision.Forced = true
	}

	tr.SetConfirmation(actionID, decision.Confirmation)
	if err := e.cache.Persist(ctx, dialogueID, tr.Snapshot()); err != nil {
		e.logger.Warn("cache write failed", logging.F("dialogue_id", dialogueID), logging.Err(err))
	}
	if err := e.ledger.Remove(ctx, actionID); err != nil {
		e.logger.Warn("ledger remove failed", logging.F("action_id", actionID), logging.Err(err))
	}
	e.metrics.Decision(op, outcomeLabel(decision))
	if decision.Confirmation == types.ConfirmationAccepted {
		e.publish(ctx, decision)
	}
	e.emit(Update{Kind: UpdateDecision, DialogueID: dialogueID})
	return decision, nil
}

func (e *Engine) findCard(actionID string) (int64, *transcript.Transcript, types.Card, bool) {
	e.mu.Lock()
	visible := e.visible
	order := make([]int64, 0, len(e.transcripts))
	if _, ok := e.transcripts[visible]; ok {
		order = append(order, visible)
	}
	for id := range e.transcripts {
		if id != visible {
			order = append(order, id)
		}
	}
	trs := make([]*transcript.Transcript, len(order))
	for i, id := range order {
		trs[i] = e.transcripts[id]
	}
	e.mu.Unlock()

	for i, tr := range trs {
		if card, ok := types.FindCard(tr.Snapshot(), actionID); ok {
			return order[i], tr, card, true
		}
	}
	return 0, nil, types.Card{}, false
}

func (e *Engine) publish(ctx context.Context, decision Decision) {
	if e.events == nil {
		return
	}
	for _, signal := range events.SignalsFor(decision.CardType) {
		err := e.events.Publish(ctx, events.Event{
			Signal:   signal,
			UserID:   e.userID,
			ActionID: decision.ActionID,
			CardType: decision.CardType,
			At:       e.now().UTC(),
		})
		if err != nil {
			e.logger.Warn("publish failed", logging.F("signal", string(signal)), logging.Err(err))
		}
	}
}

func outcomeLabel(d Decision) string {
	switch {
	case d.Forced:
		return "forced_rejected"
	case d.Confirmation == types.ConfirmationAccepted:
		return "accepted"
	default:
		return "rejected"
	}
}
