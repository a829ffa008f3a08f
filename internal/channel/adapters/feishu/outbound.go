package feishu

import (
	"context"
	"errors"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// AccountResolver resolves an account from live configuration. A blank id
// selects the default account.
type AccountResolver interface {
	Account(ctx context.Context, accountID string) (accounts.ResolvedAccount, error)
}

// OutboundOptions selects the sending account and an optional reply target.
type OutboundOptions struct {
	AccountID string
	ReplyToID string
}

// Outbound sends agent-initiated messages, resolving the account on every call.
type Outbound struct {
	adapter  *Adapter
	accounts AccountResolver
}

func NewOutbound(adapter *Adapter, resolver AccountResolver) *Outbound {
	return &Outbound{adapter: adapter, accounts: resolver}
}

func (o *Outbound) SendText(ctx context.Context, target, text string, opts OutboundOptions) (SendResult, error) {
	account, err := o.resolve(ctx, opts.AccountID)
	if err != nil {
		return SendResult{}, err
	}
	return o.adapter.SendText(ctx, account, target, text, SendOptions{ReplyToID: opts.ReplyToID})
}

func (o *Outbound) SendMedia(ctx context.Context, target, caption, mediaURL string, opts OutboundOptions) (SendResult, error) {
	account, err := o.resolve(ctx, opts.AccountID)
	if err != nil {
		return SendResult{}, err
	}
	return o.adapter.SendMedia(ctx, account, target, caption, mediaURL, SendOptions{ReplyToID: opts.ReplyToID})
}

func (o *Outbound) resolve(ctx context.Context, accountID string) (accounts.ResolvedAccount, error) {
	if o.adapter == nil || o.accounts == nil {
		return accounts.ResolvedAccount{}, errors.New("feishu outbound not configured")
	}
	return o.accounts.Account(ctx, accountID)
}
