package client

type StreamChatRequest struct {
	UserID  int64  `json:"user_id"`
	Content string `json:"content"`
}

type ActionRequest struct {
	UserID int64 `json:"user_id"`
}

type CreateDialogueRequest struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

type RenameDialogueRequest struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
