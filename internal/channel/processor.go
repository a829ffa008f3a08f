package channel

import (
	"context"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// InboundProcessor handles accepted inbound messages and replies through the given sender.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, account accounts.ResolvedAccount, msg InboundMessage, sender ReplySender) error
}
