package feishu

import (
	"context"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// ProbeResult reports whether an account can reach the open API.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	AccountID string `json:"account_id"`
	AppID     string `json:"app_id,omitempty"`
	Domain    string `json:"domain"`
	BotName   string `json:"bot_name,omitempty"`
	BotOpenID string `json:"bot_open_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Probe checks credentials by fetching the bot identity. Problems are
// reported in the result, never returned as errors.
func (a *Adapter) Probe(ctx context.Context, account accounts.ResolvedAccount) ProbeResult {
	result := ProbeResult{
		AccountID: account.AccountID,
		AppID:     account.AppID,
		Domain:    account.Domain,
	}
	if !account.Configured {
		result.Error = account.MissingCredentials()
		return result
	}
	info, err := a.DiscoverSelf(ctx, account)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	a.botIDs.Store(botIdentityKey(account), botIdentity{openID: info.OpenID})
	result.OK = true
	result.BotName = info.AppName
	result.BotOpenID = info.OpenID
	return result
}
