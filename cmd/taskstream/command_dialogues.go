package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskstream/internal/logging"
	"taskstream/internal/metrics"
)

// openBackend builds only the API client, for commands that never touch
// the ledger or the transcript cache.
func openBackend(wiring commandWiring, opts *rootOptions) (Backend, time.Duration, error) {
	cfg, err := wiring.loadConfig(opts.configPath)
	if err != nil {
		return nil, 0, err
	}
	level := cfg.LogLevel()
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.New(wiring.stderr, logging.ParseLevel(level))
	return wiring.newBackend(cfg, logger, nil, metrics.New()), cfg.RequestTimeout(), nil
}

func newDialoguesCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dialogues",
		Aliases: []string{"ls"},
		Short:   "List assistant dialogues, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, timeout, err := openBackend(wiring, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			dialogues, err := backend.ListDialogues(ctx)
			if err != nil {
				return err
			}
			printDialogues(cmd.OutOrStdout(), dialogues)
			return nil
		},
	}
	cmd.AddCommand(newDialogueCreateCmd(wiring, opts))
	cmd.AddCommand(newDialogueRenameCmd(wiring, opts))
	cmd.AddCommand(newDialogueDeleteCmd(wiring, opts))
	return cmd
}

func newDialogueCreateCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title...]",
		Short: "Create a dialogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, timeout, err := openBackend(wiring, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			dialogue, err := backend.CreateDialogue(ctx, strings.TrimSpace(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created dialogue %d\n", dialogue.ID)
			return nil
		},
	}
}

func newDialogueRenameCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Rename a dialogue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "dialogue id")
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return fmt.Errorf("title is required")
			}
			backend, timeout, err := openBackend(wiring, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := backend.RenameDialogue(ctx, id, title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed dialogue %d\n", id)
			return nil
		},
	}
}

func newDialogueDeleteCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a dialogue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "dialogue id")
			if err != nil {
				return err
			}
			backend, timeout, err := openBackend(wiring, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := backend.DeleteDialogue(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted dialogue %d\n", id)
			return nil
		},
	}
}
