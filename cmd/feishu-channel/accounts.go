package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// accountView is the printable form of a resolved account. Secrets are
// reported only as present or missing.
type accountView struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name,omitempty"`
	Enabled        bool   `json:"enabled"`
	Configured     bool   `json:"configured"`
	AppID          string `json:"app_id,omitempty"`
	Domain         string `json:"domain"`
	ConnectionMode string `json:"connection_mode"`
	EncryptKey     bool   `json:"encrypt_key"`
	Missing        string `json:"missing,omitempty"`
	DMPolicy       string `json:"dm_policy,omitempty"`
	GroupPolicy    string `json:"group_policy,omitempty"`
}

func newAccountView(account accounts.ResolvedAccount) accountView {
	view := accountView{
		AccountID:      account.AccountID,
		Name:           account.Name,
		Enabled:        account.Enabled,
		Configured:     account.Configured,
		AppID:          account.AppID,
		Domain:         account.Domain,
		ConnectionMode: account.ConnectionMode,
		EncryptKey:     account.EncryptKey != "",
		Missing:        account.MissingCredentials(),
		GroupPolicy:    account.Config.GroupPolicy,
	}
	if account.Config.DM != nil {
		view.DMPolicy = account.Config.DM.Policy
	}
	return view
}

func newAccountsCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect configured Feishu accounts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every configured account",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, log, err := opts.load(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				items, err := opts.source(log).Accounts(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]accountView, 0, len(items))
				for _, item := range items {
					views = append(views, newAccountView(item))
				}
				return printJSON(cmd.OutOrStdout(), views)
			},
		},
		&cobra.Command{
			Use:   "show [account-id]",
			Short: "Show one account (the default account when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				account, err := opts.resolveAccount(cmd, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newAccountView(account))
			},
		},
	)
	return cmd
}

func newProbeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [account-id]",
		Short: "Check account credentials by fetching the bot identity",
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
			result := adapter.Probe(cmd.Context(), account)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.OK {
				return fmt.Errorf("probe failed for account %s", account.AccountID)
			}
			return nil
		},
	}
}

func (o *cliOptions) resolveAccount(cmd *cobra.Command, args []string) (accounts.ResolvedAccount, error) {
	_, log, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return accounts.ResolvedAccount{}, err
	}
	return o.source(log).Account(cmd.Context(), firstArg(args))
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
