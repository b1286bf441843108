package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Confirmation string

const (
	ConfirmationPending  Confirmation = ""
	ConfirmationAccepted Confirmation = "Y"
	ConfirmationRejected Confirmation = "N"
)

// Terminal reports whether the confirmation can no longer change.
func (c Confirmation) Terminal() bool {
	return c == ConfirmationAccepted || c == ConfirmationRejected
}

func (c Confirmation) MarshalJSON() ([]byte, error) {
	if !c.Terminal() {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *Confirmation) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = ConfirmationPending
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseConfirmation(raw)
	return nil
}

func ParseConfirmation(raw string) Confirmation {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "Y":
		return ConfirmationAccepted
	case "N":
		return ConfirmationRejected
	default:
		return ConfirmationPending
	}
}

type CardType string

const (
	CardCreateTask         CardType = "create_task"
	CardDeleteTask         CardType = "delete_task"
	CardUpdateTask         CardType = "update_task"
	CardCreateLongTermTask CardType = "create_long_term_task"
	CardDeleteLongTermTask CardType = "delete_long_term_task"
	CardUpdateLongTermTask CardType = "update_long_term_task"
	CardUpdateJournal      CardType = "update_journal"
	CardUnknown            CardType = "unknown"
)

// Wire type tags used by the backend. Tag 0 is a text segment.
const (
	kindText           = 0
	kindCreateTask     = 1
	kindDelete         = 2
	kindUpdate         = 3
	kindCreateLongTerm = 4
	kindUpdateJournal  = 7
)

// Card is a confirmable proposal embedded in an assistant message. Data is
// the type-specific payload exactly as the backend sent it and is never
// mutated in place.
type Card struct {
	Kind             int             `json:"type"`
	Data             json.RawMessage `json:"data,omitempty"`
	ActionID         string          `json:"action_id,omitempty"`
	UserConfirmation Confirmation    `json:"user_confirmation"`
}

// Pending reports whether the card is waiting on a decision that can still be
// tracked by action id.
func (c Card) Pending() bool {
	return strings.TrimSpace(c.ActionID) != "" && !c.UserConfirmation.Terminal()
}

func (c Card) Type() CardType {
	switch c.Kind {
	case kindCreateTask:
		return CardCreateTask
	case kindDelete:
		if strings.Contains(c.Payload().Title, "长期任务") {
			return CardDeleteLongTermTask
		}
		return CardDeleteTask
	case kindUpdate:
		if c.Payload().Updated.longTerm() {
			return CardUpdateLongTermTask
		}
		return CardUpdateTask
	case kindCreateLongTerm:
		return CardCreateLongTermTask
	case kindUpdateJournal:
		return CardUpdateJournal
	default:
		return CardUnknown
	}
}

// WithConfirmation returns a copy carrying the given confirmation. A terminal
// confirmation is never overwritten.
func (c Card) WithConfirmation(next Confirmation) (Card, bool) {
	if c.UserConfirmation.Terminal() || !next.Terminal() {
		return c, false
	}
	c.UserConfirmation = next
	return c, true
}

// CardPayload is the union of the fields the backend puts in card data.
type CardPayload struct {
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	DueDate     string        `json:"due_date,omitempty"`
	StartDate   string        `json:"start_date,omitempty"`
	TaskID      int64         `json:"task_id,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Progress    *float64      `json:"progress,omitempty"`
	Original    *TaskSnapshot `json:"original,omitempty"`
	Updated     *TaskSnapshot `json:"updated,omitempty"`
	Before      *JournalEntry `json:"before,omitempty"`
	After       *JournalEntry `json:"after,omitempty"`
}

type TaskSnapshot struct {
	ID          int64          `json:"id,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	DueDate     string         `json:"due_date,omitempty"`
	Status      *int           `json:"status,omitempty"`
	Progress    *float64       `json:"progress,omitempty"`
	SubTaskIDs  map[string]any `json:"sub_task_ids,omitempty"`
}

func (s *TaskSnapshot) longTerm() bool {
	return s != nil && (s.Progress != nil || s.SubTaskIDs != nil)
}

type JournalEntry struct {
	Date    string `json:"date"`
	Content string `json:"content"`
}

// Payload decodes Data leniently; unknown or malformed payloads yield a zero value.
func (c Card) Payload() CardPayload {
	var payload CardPayload
	if len(c.Data) == 0 {
		return payload
	}
	_ = json.Unmarshal(c.Data, &payload)
	return payload
}
