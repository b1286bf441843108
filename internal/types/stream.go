package types

import "encoding/json"

// Stream event names sent by the assistant backend.
const (
	StreamEventStart       = "start"
	StreamEventReady       = "ready"
	StreamEventPartialText = "partial_text"
	StreamEventCards       = "cards"
	StreamEventTextDone    = "text_done"
	StreamEventEnd         = "end"
	StreamEventError       = "error"
)

// StreamFrame is one decoded server-sent event. Data is the JSON payload of a
// single data line.
type StreamFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type PartialText struct {
	Content  string `json:"content"`
	Delta    string `json:"delta"`
	Finished bool   `json:"finished"`
}

type CardsPayload struct {
	Cards []json.RawMessage `json:"cards"`
}

type StreamError struct {
	Message string `json:"message"`
}

type StreamEnd struct {
	DialogueID int64 `json:"dialogue_id"`
}
