package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskstream/internal/app"
	"taskstream/internal/client"
	"taskstream/internal/config"
	"taskstream/internal/conversation"
	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/store"
	"taskstream/internal/types"
)

// Backend is the full assistant API the commands use.
type Backend interface {
	conversation.Backend
	ListDialogues(ctx context.Context) ([]types.DialogueSummary, error)
	RenameDialogue(ctx context.Context, id int64, title string) error
	DeleteDialogue(ctx context.Context, id int64) error
}

type backendFactory func(cfg config.CoreConfig, logger, streamLogger logging.Logger, m *metrics.Metrics) Backend

type repositoryFactory func(cfg config.CoreConfig) (store.Repository, error)

type commandWiring struct {
	stdout         io.Writer
	stderr         io.Writer
	loadConfig     func(path string) (config.CoreConfig, error)
	newBackend     backendFactory
	openRepository repositoryFactory
	runUI          func(engine app.Engine, dialogues app.DialogueAPI) error
	version        string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:         stdout,
		stderr:         stderr,
		loadConfig:     loadConfig,
		newBackend:     newClientBackend,
		openRepository: openConfiguredRepository,
		runUI:          app.Run,
		version:        buildVersion(),
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd(wiring commandWiring) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "taskstream",
		Short:         "Assistant conversations for tasks and journal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       wiring.version,
		Example: strings.TrimSpace(`
  # Interactive chat
  taskstream chat

  # One-shot message into dialogue 12
  taskstream send --dialogue 12 "move my dentist appointment to friday"

  # Decide on a proposed action
  taskstream pending
  taskstream confirm 3f2c9a
`),
	}
	cmd.SetOut(wiring.stdout)
	cmd.SetErr(wiring.stderr)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.taskstream/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override [logging] level")

	cmd.AddCommand(newChatCmd(wiring, opts))
	cmd.AddCommand(newSendCmd(wiring, opts))
	cmd.AddCommand(newDialoguesCmd(wiring, opts))
	cmd.AddCommand(newShowCmd(wiring, opts))
	cmd.AddCommand(newPendingCmd(wiring, opts))
	cmd.AddCommand(newDecideCmd(wiring, opts, true))
	cmd.AddCommand(newDecideCmd(wiring, opts, false))
	cmd.AddCommand(newConfigCmd(wiring, opts))
	return cmd
}

func loadConfig(path string) (config.CoreConfig, error) {
	if strings.TrimSpace(path) == "" {
		return config.LoadCoreConfig()
	}
	return config.LoadCoreConfigFromPath(path)
}

func newClientBackend(cfg config.CoreConfig, logger, streamLogger logging.Logger, m *metrics.Metrics) Backend {
	return client.New(client.Options{
		BaseURL:      cfg.BaseURL(),
		UserID:       cfg.UserID(),
		Timeout:      cfg.RequestTimeout(),
		Logger:       logger,
		StreamLogger: streamLogger,
		Metrics:      m,
	})
}

func openConfiguredRepository(cfg config.CoreConfig) (store.Repository, error) {
	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}
	paths := store.RepositoryPaths{StatePath: path, DBPath: path}
	return store.OpenRepository(paths, cfg.StorageBackend(), store.RepositoryOptions{})
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}
