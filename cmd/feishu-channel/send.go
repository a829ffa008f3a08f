package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
)

func newSendCommand(opts *cliOptions) *cobra.Command {
	var (
		accountID string
		replyTo   string
		mediaURL  string
	)
	cmd := &cobra.Command{
		Use:   "send <target> [text...]",
		Short: "Send a message to a Feishu chat or user",
		Long: "Send a message to a Feishu chat or user. The target accepts any identifier form, " +
			"e.g. chat:oc_xxx, user:ou_xxx or feishu:open_id:ou_xxx.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			adapter, err := newAdapter(log, cfg, nil)
			if err != nil {
				return err
			}
			outbound := feishu.NewOutbound(adapter, opts.source(log))
			target := args[0]
			text := strings.Join(args[1:], " ")
			sendOpts := feishu.OutboundOptions{AccountID: accountID, ReplyToID: replyTo}

			var result feishu.SendResult
			if mediaURL != "" {
				result, err = outbound.SendMedia(cmd.Context(), target, text, mediaURL, sendOpts)
			} else {
				result, err = outbound.SendText(cmd.Context(), target, text, sendOpts)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id (default account when empty)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message id to reply to")
	cmd.Flags().StringVar(&mediaURL, "media", "", "media URL to send as a link, with text as the caption")
	return cmd
}
