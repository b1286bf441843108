package app

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskstream/internal/types"
)

const emptyTranscriptText = "No messages yet. Type below to start a dialogue."

type renderOptions struct {
	width          int
	selectedAction string
	streaming      bool
	spinner        string
}

func renderTranscript(messages []types.Message, opts renderOptions) string {
	if len(messages) == 0 {
		return helpStyle.Render(emptyTranscriptText)
	}
	width := max(opts.width, 20)
	blocks := make([]string, 0, len(messages))
	for i, msg := range messages {
		last := i == len(messages)-1
		switch msg.Role {
		case types.RoleUser:
			blocks = append(blocks, renderUserMessage(msg, width))
		case types.RoleAssistant:
			blocks = append(blocks, renderAssistantMessage(msg, width, opts, last && opts.streaming))
		default:
			blocks = append(blocks, systemBubbleStyle.Width(width-2).Render(msg.Text()))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderUserMessage(msg types.Message, width int) string {
	body := renderMarkdown(escapeMarkdown(msg.Text()), width-4)
	return lipgloss.JoinVertical(lipgloss.Left,
		chatMetaStyle.Render("You"),
		userBubbleStyle.Width(width-2).Render(body),
	)
}

func renderAssistantMessage(msg types.Message, width int, opts renderOptions, live bool) string {
	parts := []string{chatMetaStyle.Render("Assistant")}
	for i, seg := range msg.Content {
		switch s := seg.(type) {
		case types.TextSegment:
			if strings.TrimSpace(s.Text) == "" {
				continue
			}
			body := renderMarkdown(s.Text, width-4)
			if live && i == len(msg.Content)-1 {
				body = renderPartialMarkdown(s.Text, width-4)
			}
			parts = append(parts, agentBubbleStyle.Width(width-2).Render(body))
		case types.CardSegment:
			parts = append(parts, renderCard(s.Card, width, s.Card.ActionID != "" && s.Card.ActionID == opts.selectedAction))
		}
	}
	if live {
		parts = append(parts, activityStyle.Render(strings.TrimSpace(opts.spinner+" thinking")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderCard(card types.Card, width int, selected bool) string {
	summary := summarizeCard(card)
	inner := width - 4
	lines := []string{cardTitleStyle.Render(truncateLine(summary.Heading, inner))}
	for _, line := range summary.Lines {
		lines = append(lines, truncateLine(line, inner))
	}
	status := summary.Status
	if card.Pending() && selected {
		status += "  " + approveButtonStyle.Render("ctrl+y confirm") + "  " + declineButtonStyle.Render("ctrl+x reject")
	}
	lines = append(lines, chatMetaStyle.Render(status))
	return cardStyle(card, selected).Width(width - 2).Render(strings.Join(lines, "\n"))
}

func cardStyle(card types.Card, selected bool) lipgloss.Style {
	switch card.UserConfirmation {
	case types.ConfirmationAccepted:
		return acceptedCardStyle
	case types.ConfirmationRejected:
		return rejectedCardStyle
	}
	if selected {
		return selectedCardStyle
	}
	return pendingCardStyle
}

func renderDialogueTitle(dialogues []types.DialogueSummary, id int64) string {
	if id == 0 {
		return "New dialogue"
	}
	for _, d := range dialogues {
		if d.ID == id {
			if title := strings.TrimSpace(d.Title); title != "" {
				return title
			}
			break
		}
	}
	return "Dialogue " + formatID(id)
}
