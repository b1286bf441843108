package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Segment is either a TextSegment or a CardSegment. Consumers switch on the
// concrete type; the set is closed.
type Segment interface {
	segment()
}

type TextSegment struct {
	Text string
}

type CardSegment struct {
	Card Card
}

func (TextSegment) segment() {}
func (CardSegment) segment() {}

type Message struct {
	Role    Role
	Content []Segment
}

func NewTextMessage(role Role, text string) Message {
	msg := Message{Role: role, Content: []Segment{}}
	if text != "" {
		msg.Content = append(msg.Content, TextSegment{Text: text})
	}
	return msg
}

// Text joins the message's text segments.
func (m Message) Text() string {
	var b strings.Builder
	for _, seg := range m.Content {
		if text, ok := seg.(TextSegment); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

// Cards returns the message's cards in order.
func (m Message) Cards() []Card {
	var out []Card
	for _, seg := range m.Content {
		if card, ok := seg.(CardSegment); ok {
			out = append(out, card.Card)
		}
	}
	return out
}

// Clone copies the segment slice. Segments are values, so the copy shares no
// mutable state with the original.
func (m Message) Clone() Message {
	content := make([]Segment, len(m.Content))
	copy(content, m.Content)
	return Message{Role: m.Role, Content: content}
}

func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

type messageJSON struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

type textSegmentJSON struct {
	Type int `json:"type"`
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	content := make([]json.RawMessage, 0, len(m.Content))
	for _, seg := range m.Content {
		raw, err := marshalSegment(seg)
		if err != nil {
			return nil, err
		}
		content = append(content, raw)
	}
	rawContent, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: rawContent})
}

// UnmarshalJSON accepts content as a bare string (older transcripts) or as a
// list of tagged segments.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Content = []Segment{}
	raw := bytes.TrimSpace(wire.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		if text != "" {
			m.Content = append(m.Content, TextSegment{Text: text})
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	for _, item := range items {
		seg, err := unmarshalSegment(item)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, seg)
	}
	return nil
}

func marshalSegment(seg Segment) ([]byte, error) {
	switch s := seg.(type) {
	case TextSegment:
		var wire textSegmentJSON
		wire.Type = kindText
		wire.Data.Content = s.Text
		return json.Marshal(wire)
	case CardSegment:
		return json.Marshal(s.Card)
	default:
		return nil, fmt.Errorf("unsupported segment %T", seg)
	}
}

func unmarshalSegment(raw json.RawMessage) (Segment, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return TextSegment{Text: text}, nil
	}
	var tag struct {
		Type int `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("segment tag: %w", err)
	}
	if tag.Type == kindText {
		var text textSegmentJSON
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return TextSegment{Text: text.Data.Content}, nil
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("card segment: %w", err)
	}
	return CardSegment{Card: card}, nil
}

// DecodeCards parses a list of wire cards, as carried by a cards frame.
func DecodeCards(raw []json.RawMessage) ([]Card, error) {
	out := make([]Card, 0, len(raw))
	for _, item := range raw {
		var card Card
		if err := json.Unmarshal(item, &card); err != nil {
			return nil, fmt.Errorf("card: %w", err)
		}
		out = append(out, card)
	}
	return out, nil
}

// PendingActionIDs lists the action ids of every pending card, in order.
func PendingActionIDs(messages []Message) []string {
	var out []string
	for _, msg := range messages {
		for _, seg := range msg.Content {
			if card, ok := seg.(CardSegment); ok && card.Card.Pending() {
				out = append(out, card.Card.ActionID)
			}
		}
	}
	return out
}

// FindCard returns the first card carrying actionID.
func FindCard(messages []Message, actionID string) (Card, bool) {
	if actionID == "" {
		return Card{}, false
	}
	for _, msg := range messages {
		for _, seg := range msg.Content {
			if card, ok := seg.(CardSegment); ok && card.Card.ActionID == actionID {
				return card.Card, true
			}
		}
	}
	return Card{}, false
}

// SetConfirmation returns messages with every non-terminal card for actionID
// set to c. The input is never modified; when nothing changes it is returned
// as is.
func SetConfirmation(messages []Message, actionID string, c Confirmation) ([]Message, bool) {
	if actionID == "" || !c.Terminal() {
		return messages, false
	}
	var out []Message
	cloned := map[int]bool{}
	for i, msg := range messages {
		for j, seg := range msg.Content {
			card, ok := seg.(CardSegment)
			if !ok || card.Card.ActionID != actionID {
				continue
			}
			next, changed := card.Card.WithConfirmation(c)
			if !changed {
				continue
			}
			if out == nil {
				out = make([]Message, len(messages))
				copy(out, messages)
			}
			if !cloned[i] {
				out[i] = messages[i].Clone()
				cloned[i] = true
			}
			out[i].Content[j] = CardSegment{Card: next}
		}
	}
	if out == nil {
		return messages, false
	}
	return out, true
}
