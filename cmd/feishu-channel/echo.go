package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
)

// newEchoCommand counts events delivered over the long connection without
// running the access policy or the reply pipeline. It separates delivery
// problems on the Feishu side from message handling.
func newEchoCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "echo [account-id]",
		Short: "Connect an account and count delivered events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			account, err := opts.source(log).Account(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			adapter, err := newAdapter(log, cfg, nil)
			if err != nil {
				return err
			}
			log.Info("echo start",
				slog.String("account_id", account.AccountID),
				slog.String("app_id", account.AppID),
				slog.Bool("encrypt", account.EncryptKey != ""),
				slog.Bool("verify", account.VerificationToken != ""),
			)
			counts, err := adapter.CountEvents(cmd.Context(), account, func(c feishu.EventCounts) {
				log.Info("event counts", slog.String("counts", c.String()))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "counts: %s\n", counts)
			return nil
		},
	}
}
