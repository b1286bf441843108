package app

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"taskstream/internal/types"
)

// cardSummary is the display form of an action card.
type cardSummary struct {
	Heading string
	Lines   []string
	Status  string
}

func summarizeCard(card types.Card) cardSummary {
	payload := card.Payload()
	summary := cardSummary{Status: cardStatus(card)}
	switch card.Type() {
	case types.CardCreateTask:
		summary.Heading = "Create task"
		summary.Lines = taskLines(payload.Title, payload.Description, payload.DueDate)
	case types.CardCreateLongTermTask:
		summary.Heading = "Create long-term task"
		summary.Lines = taskLines(payload.Title, payload.Description, payload.DueDate)
		if payload.StartDate != "" {
			summary.Lines = append(summary.Lines, "starts "+payload.StartDate)
		}
	case types.CardDeleteTask, types.CardDeleteLongTermTask:
		summary.Heading = "Delete task"
		if card.Type() == types.CardDeleteLongTermTask {
			summary.Heading = "Delete long-term task"
		}
		title := payload.Title
		if title == "" && payload.TaskID != 0 {
			title = fmt.Sprintf("#%d", payload.TaskID)
		}
		summary.Lines = taskLines(title, payload.Description, "")
	case types.CardUpdateTask, types.CardUpdateLongTermTask:
		summary.Heading = "Update task"
		if card.Type() == types.CardUpdateLongTermTask {
			summary.Heading = "Update long-term task"
		}
		summary.Lines = updateLines(payload.Original, payload.Updated)
	case types.CardUpdateJournal:
		summary.Heading = "Update journal"
		summary.Lines = journalLines(payload.Before, payload.After)
	default:
		summary.Heading = "Action"
		if len(card.Data) > 0 {
			summary.Lines = []string{string(card.Data)}
		}
	}
	return summary
}

func cardStatus(card types.Card) string {
	switch card.UserConfirmation {
	case types.ConfirmationAccepted:
		return "confirmed"
	case types.ConfirmationRejected:
		return "rejected"
	}
	if strings.TrimSpace(card.ActionID) == "" {
		return "not confirmable"
	}
	return "awaiting confirmation"
}

func taskLines(title, description, due string) []string {
	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	if description != "" {
		lines = append(lines, description)
	}
	if due != "" {
		lines = append(lines, "due "+due)
	}
	return lines
}

func updateLines(before, after *types.TaskSnapshot) []string {
	if after == nil {
		return nil
	}
	var lines []string
	title := after.Title
	if before != nil && before.Title != "" && before.Title != after.Title {
		title = before.Title + " → " + after.Title
	}
	if title != "" {
		lines = append(lines, title)
	}
	if after.Description != "" && (before == nil || before.Description != after.Description) {
		lines = append(lines, after.Description)
	}
	if after.DueDate != "" && (before == nil || before.DueDate != after.DueDate) {
		lines = append(lines, "due "+after.DueDate)
	}
	if after.Progress != nil {
		lines = append(lines, fmt.Sprintf("progress %.0f%%", *after.Progress*100))
	}
	return lines
}

func journalLines(before, after *types.JournalEntry) []string {
	if after == nil {
		return nil
	}
	lines := []string{after.Date}
	if before != nil && strings.TrimSpace(before.Content) != "" {
		lines = append(lines, "was: "+before.Content)
	}
	return append(lines, "now: "+after.Content)
}

// truncateLine cuts s to width terminal cells.
func truncateLine(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
