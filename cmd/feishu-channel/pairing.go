package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/memoh-feishu/internal/pairing"
)

// withPairingStore opens the configured store for the duration of fn.
func (o *cliOptions) withPairingStore(cmd *cobra.Command, fn func(store pairing.Store) error) error {
	cfg, log, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.Pairing.DBPath == "" {
		return fmt.Errorf("pairing.db_path is not set; pairing codes only live inside a running server")
	}
	store, closeStore, err := openPairingStore(cmd.Context(), log, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	return fn(store)
}

func newPairingCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage direct-message pairing codes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [account-id]",
			Short: "List pending codes, and paired senders when an account is given",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				accountID := firstArg(args)
				return opts.withPairingStore(cmd, func(store pairing.Store) error {
					pending, err := store.ListPending(cmd.Context(), accountID)
					if err != nil {
						return err
					}
					out := map[string]any{"pending": pending}
					if accountID != "" {
						paired, err := store.ListPaired(cmd.Context(), accountID)
						if err != nil {
							return err
						}
						out["account_id"] = accountID
						out["paired"] = paired
					}
					return printJSON(cmd.OutOrStdout(), out)
				})
			},
		},
		&cobra.Command{
			Use:   "approve <code>",
			Short: "Approve a pairing code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withPairingStore(cmd, func(store pairing.Store) error {
					code, err := store.Approve(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), code)
				})
			},
		},
		&cobra.Command{
			Use:   "revoke <account-id> <sender-id>",
			Short: "Remove a paired sender",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withPairingStore(cmd, func(store pairing.Store) error {
					if err := store.Revoke(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "revoked %s on %s\n", args[1], args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
