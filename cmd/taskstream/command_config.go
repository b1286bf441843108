package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"taskstream/internal/config"
)

func newConfigCmd(wiring commandWiring, opts *rootOptions) *cobra.Command {
	var (
		format   string
		defaults bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format, formatTOML, formatJSON, formatYAML); err != nil {
				return err
			}
			cfg := config.DefaultCoreConfig()
			if !defaults {
				loaded, err := wiring.loadConfig(opts.configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			if format == formatTOML {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			// Round-trip through TOML so field names match the file.
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("decode config: %w", err)
			}
			return writeStructured(cmd.OutOrStdout(), format, doc)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatTOML, "output format: toml|json|yaml")
	cmd.Flags().BoolVar(&defaults, "default", false, "print built-in defaults instead of the loaded file")
	return cmd
}
