// Package transcript holds the live message list of one dialogue and applies
// stream frames to it.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"taskstream/internal/types"
)

// Transcript is copy-on-write: Snapshot hands out a slice that is never
// modified afterwards, so readers see either the state before a mutation or
// the state after it.
type Transcript struct {
	mu       sync.RWMutex
	messages []types.Message
	version  uint64
}

func New(messages []types.Message) *Transcript {
	return &Transcript{messages: types.CloneMessages(messages)}
}

// Snapshot returns the current messages. Callers must treat the result as
// read-only.
func (t *Transcript) Snapshot() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.messages
}

func (t *Transcript) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// SnapshotVersion returns the messages together with the version they were
// taken at, for a later ReplaceIf.
func (t *Transcript) SnapshotVersion() ([]types.Message, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.messages, t.version
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) Replace(messages []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = types.CloneMessages(messages)
	t.version++
}

// ReplaceIf replaces the messages only if nothing has mutated the transcript
// since version was read.
func (t *Transcript) ReplaceIf(version uint64, messages []types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.version != version {
		return false
	}
	t.messages = types.CloneMessages(messages)
	t.version++
	return true
}

func (t *Transcript) AppendUser(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(types.NewTextMessage(types.RoleUser, text))
}

// BeginAssistant appends the empty assistant message a stream fills in.
func (t *Transcript) BeginAssistant() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(types.Message{Role: types.RoleAssistant, Content: []types.Segment{}})
}

// AppendError adds a visible error line to the assistant message.
func (t *Transcript) AppendError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendErrorLocked(message)
}

// SetConfirmation applies a terminal confirmation to the card for actionID.
func (t *Transcript) SetConfirmation(actionID string, c types.Confirmation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, changed := types.SetConfirmation(t.messages, actionID, c)
	if changed {
		t.messages = next
		t.version++
	}
	return changed
}

// Applied reports the effect of one frame.
type Applied struct {
	// Cards are the cards the frame appended, after de-duplication.
	Cards []types.Card
	// Skipped counts cards dropped because their action id was already shown.
	Skipped int
	Ended   bool
	Error   string
}

// Apply folds one frame into the transcript. Frames the model does not act
// on are accepted and ignored.
func (t *Transcript) Apply(frame types.StreamFrame) (Applied, error) {
	switch frame.Event {
	case types.StreamEventPartialText:
		var payload types.PartialText
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return Applied{}, fmt.Errorf("partial_text: %w", err)
		}
		text := payload.Delta
		if text == "" {
			text = payload.Content
		}
		if text != "" {
			t.appendText(text)
		}
		return Applied{}, nil
	case types.StreamEventCards:
		var payload types.CardsPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return Applied{}, fmt.Errorf("cards: %w", err)
		}
		cards, err := types.DecodeCards(payload.Cards)
		if err != nil {
			return Applied{}, err
		}
		added, skipped := t.appendCards(cards)
		return Applied{Cards: added, Skipped: skipped}, nil
	case types.StreamEventError:
		var payload types.StreamError
		_ = json.Unmarshal(frame.Data, &payload)
		t.AppendError(payload.Message)
		return Applied{Error: payload.Message}, nil
	case types.StreamEventEnd:
		return Applied{Ended: true}, nil
	default:
		return Applied{}, nil
	}
}

func (t *Transcript) appendText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutateAssistantLocked(func(msg *types.Message) {
		if n := len(msg.Content); n > 0 {
			if last, ok := msg.Content[n-1].(types.TextSegment); ok {
				msg.Content[n-1] = types.TextSegment{Text: last.Text + text}
				return
			}
		}
		msg.Content = append(msg.Content, types.TextSegment{Text: text})
	})
}

func (t *Transcript) appendCards(cards []types.Card) ([]types.Card, int) {
	if len(cards) == 0 {
		return nil, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var added []types.Card
	skipped := 0
	t.mutateAssistantLocked(func(msg *types.Message) {
		seen := map[string]struct{}{}
		for _, card := range msg.Cards() {
			if card.ActionID != "" {
				seen[card.ActionID] = struct{}{}
			}
		}
		for _, card := range cards {
			if card.ActionID != "" {
				if _, dup := seen[card.ActionID]; dup {
					skipped++
					continue
				}
				seen[card.ActionID] = struct{}{}
			}
			msg.Content = append(msg.Content, types.CardSegment{Card: card})
			added = append(added, card)
		}
	})
	return added, skipped
}

func (t *Transcript) appendErrorLocked(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "stream failed"
	}
	t.mutateAssistantLocked(func(msg *types.Message) {
		msg.Content = append(msg.Content, types.TextSegment{Text: "Error: " + message})
	})
}

func (t *Transcript) appendLocked(msg types.Message) {
	next := make([]types.Message, len(t.messages), len(t.messages)+1)
	copy(next, t.messages)
	t.messages = append(next, msg)
	t.version++
}

// mutateAssistantLocked edits a private copy of the trailing assistant
// message, creating one when the transcript does not end with it.
func (t *Transcript) mutateAssistantLocked(fn func(msg *types.Message)) {
	n := len(t.messages)
	if n == 0 || t.messages[n-1].Role != types.RoleAssistant {
		t.appendLocked(types.Message{Role: types.RoleAssistant, Content: []types.Segment{}})
		n++
	}
	next := make([]types.Message, n)
	copy(next, t.messages)
	last := t.messages[n-1].Clone()
	fn(&last)
	next[n-1] = last
	t.messages = next
	t.version++
}
