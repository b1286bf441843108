package app

import (
	"context"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"taskstream/internal/conversation"
)

const requestTimeout = 15 * time.Second

func listenCmd(updates <-chan conversation.Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return engineClosedMsg{}
		}
		return engineUpdateMsg(update)
	}
}

func fetchDialoguesCmd(api DialogueAPI) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		dialogues, err := api.ListDialogues(ctx)
		return dialoguesMsg{dialogues: dialogues, err: err}
	}
}

func restoreCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := engine.Restore(ctx)
		return restoredMsg{id: id, err: err}
	}
}

func selectCmd(engine Engine, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return selectedMsg{id: id, err: engine.Select(ctx, id)}
	}
}

func sendCmd(engine Engine, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := engine.Send(ctx, text)
		return sentMsg{id: id, err: err}
	}
}

func decideCmd(engine Engine, actionID string, accept bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var (
			decision conversation.Decision
			err      error
		)
		if accept {
			decision, err = engine.Confirm(ctx, actionID)
		} else {
			decision, err = engine.Cancel(ctx, actionID)
		}
		return decisionMsg{decision: decision, err: err}
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
