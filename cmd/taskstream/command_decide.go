package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskstream/internal/conversation"
	"taskstream/internal/ledger"
	"taskstream/internal/types"
)

func newDecideCmd(wiring commandWiring, opts *rootOptions, accept bool) *cobra.Command {
	var dialogueID int64
	use, short := "cancel <action-id>", "Reject a proposed action"
	if accept {
		use, short = "confirm <action-id>", "Accept a proposed action"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The dialogue is looked up in the pending ledger unless --dialogue is given.
An action the server no longer knows is rejected locally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionID := strings.TrimSpace(args[0])
			if actionID == "" {
				return errors.New("action id is required")
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, wiring, opts, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.engine.Ledger().Entries(ctx)
			if err != nil {
				return err
			}
			target := dialogueID
			expired := false
			for _, entry := range entries {
				if entry.ActionID != actionID {
					continue
				}
				if target == 0 {
					target = entry.DialogueID
				}
				expired = entry.DialogueID == target && entry.Expired(time.Now(), ledger.RejectAfter)
				break
			}
			if target == 0 {
				return fmt.Errorf("action %s is not pending; pass --dialogue to look it up", actionID)
			}
			if err := s.engine.Select(ctx, target); err != nil {
				return err
			}

			var decision conversation.Decision
			if accept {
				decision, err = s.engine.Confirm(ctx, actionID)
			} else {
				decision, err = s.engine.Cancel(ctx, actionID)
			}
			if err != nil {
				return err
			}
			printDecision(cmd.OutOrStdout(), decision, accept, expired)
			return nil
		},
	}
	cmd.Flags().Int64Var(&dialogueID, "dialogue", 0, "dialogue holding the action")
	return cmd
}

// printDecision reports the outcome. expired means the ledger already held
// the action past its timeout, so selecting the dialogue rejected it.
func printDecision(w io.Writer, d conversation.Decision, accept, expired bool) {
	switch {
	case expired && d.Confirmation == types.ConfirmationRejected:
		fmt.Fprintf(w, "action %s expired: rejected automatically %s after its dialogue was left\n", d.ActionID, ledger.RejectAfter)
	case d.Forced:
		fmt.Fprintf(w, "action %s rejected: not found on server or timed out\n", d.ActionID)
	case d.Confirmation == types.ConfirmationAccepted && accept:
		fmt.Fprintf(w, "action %s confirmed (%s)\n", d.ActionID, d.CardType)
	case d.Confirmation == types.ConfirmationRejected && !accept:
		fmt.Fprintf(w, "action %s rejected (%s)\n", d.ActionID, d.CardType)
	default:
		fmt.Fprintf(w, "action %s was already decided: %s\n", d.ActionID, confirmationWord(d.Confirmation))
	}
}

func confirmationWord(c types.Confirmation) string {
	switch c {
	case types.ConfirmationAccepted:
		return "confirmed"
	case types.ConfirmationRejected:
		return "rejected"
	default:
		return "pending"
	}
}
