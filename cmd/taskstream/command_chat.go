package main

import (
	"github.com/spf13/cobra"
)

func newChatCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive assistant",
		Long: `Open the interactive assistant.

The last selected dialogue is restored. Cards proposed by the assistant can be
confirmed with ctrl+y or rejected with ctrl+x. Pending cards in a dialogue you
leave for 30 seconds or more are rejected when you come back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), wiring, opts, sessionOptions{withMetricsServer: true})
			if err != nil {
				return err
			}
			runErr := wiring.runUI(s.engine, s.backend)
			closeErr := s.Close()
			if runErr != nil {
				return runErr
			}
			return closeErr
		},
	}
}
