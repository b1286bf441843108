package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dialogue is a server-owned conversation. Messages is always flat; the
// backend's paired-turn shape is normalized on decode.
type Dialogue struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Timestamp string    `json:"timestamp,omitempty"`
	Messages  []Message `json:"messages"`
}

// DialogueSummary is one row of the dialogue list, newest first.
type DialogueSummary struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	LastTimestamp string `json:"last_timestamp,omitempty"`
}

func (d *Dialogue) Summary() DialogueSummary {
	return DialogueSummary{ID: d.ID, Title: d.Title, LastTimestamp: d.Timestamp}
}

func (d *Dialogue) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID        int64           `json:"id"`
		UserID    int64           `json:"user_id"`
		Title     string          `json:"title"`
		Timestamp string          `json:"timestamp"`
		Messages  json.RawMessage `json:"messages"`
	}
	var wire alias
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	messages, err := FlattenTurns(wire.Messages)
	if err != nil {
		return fmt.Errorf("dialogue %d: %w", wire.ID, err)
	}
	*d = Dialogue{
		ID:        wire.ID,
		UserID:    wire.UserID,
		Title:     wire.Title,
		Timestamp: wire.Timestamp,
		Messages:  messages,
	}
	return nil
}

// FlattenTurns decodes a message list that is either flat or grouped into
// [user, assistant] turns.
func FlattenTurns(raw json.RawMessage) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Message{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	out := make([]Message, 0, len(items)*2)
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var turn []Message
			if err := json.Unmarshal(item, &turn); err != nil {
				return nil, fmt.Errorf("turn: %w", err)
			}
			out = append(out, turn...)
			continue
		}
		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
