package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"taskstream/internal/ledger"
	"taskstream/internal/types"
)

const (
	formatText  = "text"
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTOML  = "toml"
)

func checkFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (want %s)", format, strings.Join(allowed, "|"))
}

func writeStructured(w io.Writer, format string, v any) error {
	var (
		out []byte
		err error
	)
	switch format {
	case formatJSON:
		out, err = json.MarshalIndent(v, "", "  ")
		out = append(out, '\n')
	case formatYAML:
		out, err = yaml.Marshal(v)
	case formatTOML:
		out, err = toml.Marshal(v)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

type pendingRow struct {
	ActionID   string     `json:"action_id" yaml:"action_id" toml:"action_id"`
	DialogueID int64      `json:"dialogue_id" yaml:"dialogue_id" toml:"dialogue_id"`
	LeftAt     *time.Time `json:"left_at,omitempty" yaml:"left_at,omitempty" toml:"left_at,omitempty"`
	RejectsIn  string     `json:"rejects_in,omitempty" yaml:"rejects_in,omitempty" toml:"rejects_in,omitempty"`
}

type pendingOutput struct {
	Pending []pendingRow `json:"pending" yaml:"pending" toml:"pending"`
}

func pendingRows(entries []types.PendingAction, now time.Time) []pendingRow {
	rows := make([]pendingRow, 0, len(entries))
	for _, entry := range entries {
		row := pendingRow{ActionID: entry.ActionID, DialogueID: entry.DialogueID, LeftAt: entry.LeftAt}
		if entry.LeftAt != nil {
			remaining := ledger.RejectAfter - now.Sub(*entry.LeftAt)
			if remaining < 0 {
				remaining = 0
			}
			row.RejectsIn = remaining.Round(time.Second).String()
		}
		rows = append(rows, row)
	}
	return rows
}

func printPendingTable(w io.Writer, rows []pendingRow) {
	writer := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ACTION\tDIALOGUE\tLEFT\tREJECTS IN")
	for _, row := range rows {
		left, rejects := "-", "-"
		if row.LeftAt != nil {
			left = row.LeftAt.Local().Format(time.DateTime)
			rejects = row.RejectsIn
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\n", row.ActionID, row.DialogueID, left, rejects)
	}
	_ = writer.Flush()
}

func printDialogues(w io.Writer, dialogues []types.DialogueSummary) {
	writer := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tLAST ACTIVE\tTITLE")
	for _, d := range dialogues {
		last := strings.TrimSpace(d.LastTimestamp)
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\n", d.ID, last, d.Title)
	}
	_ = writer.Flush()
}

type messageOut struct {
	Role     string       `json:"role" yaml:"role"`
	Segments []segmentOut `json:"segments" yaml:"segments"`
}

type segmentOut struct {
	Text string   `json:"text,omitempty" yaml:"text,omitempty"`
	Card *cardOut `json:"card,omitempty" yaml:"card,omitempty"`
}

type cardOut struct {
	Type         string         `json:"type" yaml:"type"`
	ActionID     string         `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	Confirmation string         `json:"user_confirmation,omitempty" yaml:"user_confirmation,omitempty"`
	Payload      map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func transcriptOutput(messages []types.Message) []messageOut {
	out := make([]messageOut, 0, len(messages))
	for _, msg := range messages {
		m := messageOut{Role: string(msg.Role), Segments: []segmentOut{}}
		for _, seg := range msg.Content {
			switch s := seg.(type) {
			case types.TextSegment:
				m.Segments = append(m.Segments, segmentOut{Text: s.Text})
			case types.CardSegment:
				c := &cardOut{
					Type:         string(s.Card.Type()),
					ActionID:     s.Card.ActionID,
					Confirmation: string(s.Card.UserConfirmation),
				}
				if len(s.Card.Data) > 0 {
					_ = json.Unmarshal(s.Card.Data, &c.Payload)
				}
				m.Segments = append(m.Segments, segmentOut{Card: c})
			}
		}
		out = append(out, m)
	}
	return out
}

func printTranscript(w io.Writer, messages []types.Message) {
	for i, msg := range messages {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s]\n", msg.Role)
		for _, seg := range msg.Content {
			switch s := seg.(type) {
			case types.TextSegment:
				fmt.Fprintln(w, strings.TrimRight(s.Text, "\n"))
			case types.CardSegment:
				fmt.Fprintln(w, cardLine(s.Card))
			}
		}
	}
}

func cardLine(card types.Card) string {
	status := "pending"
	switch card.UserConfirmation {
	case types.ConfirmationAccepted:
		status = "confirmed"
	case types.ConfirmationRejected:
		status = "rejected"
	}
	id := card.ActionID
	if id == "" {
		id = "-"
	}
	title := card.Payload().Title
	if title == "" && card.Payload().After != nil {
		title = card.Payload().After.Date
	}
	if title == "" && card.Payload().Updated != nil {
		title = card.Payload().Updated.Title
	}
	return fmt.Sprintf("  ▸ %s %s [%s] action=%s", card.Type(), title, status, id)
}
