// feishu-channel runs the Feishu/Lark channel service and its operator tools.
//
// Usage:
//
//	feishu-channel serve --config config.toml
//	feishu-channel pairing approve ABCD2345
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
	"github.com/memohai/memoh-feishu/internal/config"
	"github.com/memohai/memoh-feishu/internal/logger"
	"github.com/memohai/memoh-feishu/internal/pairing"
	"github.com/memohai/memoh-feishu/internal/policy"
	"github.com/memohai/memoh-feishu/internal/version"
)

type cliOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "feishu-channel",
		Short:         "Feishu/Lark messaging channel for the agent gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultPath := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if defaultPath == "" {
		defaultPath = config.DefaultConfigPath
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultPath, "config file (toml, json or yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCommand(opts),
		newAccountsCommand(opts),
		newProbeCommand(opts),
		newSendCommand(opts),
		newPairingCommand(opts),
		newTokenCommand(opts),
		newEchoCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), version.Get())
		},
	}
}

// load reads the config file. Tool commands log to stderr so their stdout
// stays machine readable.
func (o *cliOptions) load(w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, logger.InitWriter(w, cfg.Log.Level, cfg.Log.Format), nil
}

func (o *cliOptions) source(log *slog.Logger) *config.Source {
	return config.NewSource(log, o.configPath, nil)
}

// openPairingStore opens the SQLite store at cfg.Pairing.DBPath, or an
// in-memory store when the path is blank.
func openPairingStore(ctx context.Context, log *slog.Logger, cfg config.Config) (pairing.Store, func() error, error) {
	path := strings.TrimSpace(cfg.Pairing.DBPath)
	if path == "" {
		return pairing.NewMemoryStore(log, cfg.Pairing.TTL()), func() error { return nil }, nil
	}
	store, err := pairing.OpenSQLiteStore(ctx, log, path, cfg.Pairing.TTL())
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func newAdapter(log *slog.Logger, cfg config.Config, store pairing.Store) (*feishu.Adapter, error) {
	mentions, err := policy.NewMentionMatcher(cfg.Messages.MentionPatterns)
	if err != nil {
		return nil, fmt.Errorf("mention patterns: %w", err)
	}
	return feishu.NewAdapter(log, feishu.Options{
		Mentions:       mentions,
		Pairing:        store,
		TextChunkLimit: cfg.Messages.TextChunkLimit,
	}), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
