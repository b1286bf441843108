package types

// AppState is the per-user client state that survives restarts.
type AppState struct {
	UserID         int64 `json:"user_id"`
	LastDialogueID int64 `json:"last_dialogue_id,omitempty"`
}
