package main

import (
	"github.com/spf13/cobra"
)

func newShowCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a dialogue after reconciling it with the ledger",
		Long: `Print a dialogue after reconciling it with the ledger.

Showing a dialogue counts as selecting it: cards whose dialogue was left 30
seconds ago or more are rejected before printing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, formatText, formatJSON, formatYAML); err != nil {
				return err
			}
			id, err := parseID(args[0], "dialogue id")
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), wiring, opts, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.engine.Select(cmd.Context(), id); err != nil {
				return err
			}
			messages := s.engine.Messages()
			if format == formatText {
				printTranscript(cmd.OutOrStdout(), messages)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), format, transcriptOutput(messages))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text|json|yaml")
	return cmd
}
