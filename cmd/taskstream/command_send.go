package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"taskstream/internal/conversation"
	"taskstream/internal/types"
)

func newSendCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	var dialogueID int64
	cmd := &cobra.Command{
		Use:   "send [--dialogue id] <text...>",
		Short: "Send one message and stream the reply",
		Example: strings.TrimSpace(`
  taskstream send "remind me to buy milk tomorrow"
  taskstream send --dialogue 12 "and call mom on sunday"
`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return errors.New("message text is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			s, err := openSession(ctx, wiring, opts, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if dialogueID > 0 {
				if err := s.engine.Select(ctx, dialogueID); err != nil {
					return err
				}
			}
			id, err := s.engine.Send(ctx, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "dialogue %d\n", id)
			return streamReply(ctx, cmd.OutOrStdout(), s.engine, id)
		},
	}
	cmd.Flags().Int64Var(&dialogueID, "dialogue", 0, "dialogue id (default: create a new one)")
	return cmd
}

// streamReply prints assistant text as it grows and the cards once the turn
// ends. Updates are hints, so the transcript is re-read on each one.
func streamReply(ctx context.Context, out io.Writer, engine *conversation.Engine, dialogueID int64) error {
	done := make(chan error, 1)
	go func() { done <- engine.Wait(context.Background(), dialogueID) }()

	printed := 0
	flush := func() {
		reply := lastAssistant(engine.MessagesFor(dialogueID))
		text := reply.Text()
		if len(text) > printed {
			fmt.Fprint(out, text[printed:])
			printed = len(text)
		}
	}
	updates := engine.Updates()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if u.DialogueID == dialogueID {
				flush()
			}
		case <-ctx.Done():
			engine.Stop(dialogueID)
			<-done
			flush()
			fmt.Fprintln(out)
			return nil
		case err := <-done:
			flush()
			if printed > 0 {
				fmt.Fprintln(out)
			}
			for _, card := range lastAssistant(engine.MessagesFor(dialogueID)).Cards() {
				fmt.Fprintln(out, cardLine(card))
			}
			return err
		}
	}
}

func lastAssistant(messages []types.Message) types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleAssistant {
			return messages[i]
		}
	}
	return types.Message{}
}
