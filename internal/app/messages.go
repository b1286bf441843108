package app

import (
	"taskstream/internal/conversation"
	"taskstream/internal/types"
)

type engineUpdateMsg conversation.Update

type engineClosedMsg struct{}

type dialoguesMsg struct {
	dialogues []types.DialogueSummary
	err       error
}

type selectedMsg struct {
	id  int64
	err error
}

type restoredMsg struct {
	id  int64
	err error
}

type sentMsg struct {
	id  int64
	err error
}

type decisionMsg struct {
	decision conversation.Decision
	err      error
}
