package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newPendingCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format, formatTable, formatJSON, formatYAML, formatTOML); err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), wiring, opts, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()
			entries, err := s.engine.Ledger().Entries(cmd.Context())
			if err != nil {
				return err
			}
			rows := pendingRows(entries, time.Now())
			if format == formatTable {
				printPendingTable(cmd.OutOrStdout(), rows)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), format, pendingOutput{Pending: rows})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "output format: table|json|yaml|toml")
	return cmd
}
