package types

import "time"

// PendingAction tracks an unconfirmed card. LeftAt is set when the user
// navigates away from the owning dialogue and cleared when they return.
type PendingAction struct {
	ActionID   string     `json:"action_id"`
	DialogueID int64      `json:"dialogue_id"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

func (p PendingAction) Left() bool {
	return p.LeftAt != nil
}

// Expired reports whether the entry has been left for at least timeout.
func (p PendingAction) Expired(now time.Time, timeout time.Duration) bool {
	if p.LeftAt == nil {
		return false
	}
	return now.Sub(*p.LeftAt) >= timeout
}
