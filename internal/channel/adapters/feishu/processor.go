package feishu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/channel"
)

// ReplyDispatcher hands an accepted message to the host reply pipeline and
// returns the reply, which may be empty.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, msg channel.InboundMessage) (channel.Message, error)
}

// Processor forwards accepted messages to the reply pipeline and sends the
// reply back to the conversation. Group replies quote the triggering message.
type Processor struct {
	logger     *slog.Logger
	dispatcher ReplyDispatcher
}

func NewProcessor(log *slog.Logger, dispatcher ReplyDispatcher) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:     log.With(slog.String("component", "feishu_processor")),
		dispatcher: dispatcher,
	}
}

func (p *Processor) HandleInbound(ctx context.Context, account accounts.ResolvedAccount, msg channel.InboundMessage, sender channel.ReplySender) error {
	if p.dispatcher == nil {
		return errors.New("reply dispatcher not configured")
	}
	reply, err := p.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		return fmt.Errorf("dispatch inbound: %w", err)
	}
	if reply.IsEmpty() {
		p.logger.Debug("empty reply", slog.String("account_id", account.AccountID), slog.String("session_id", msg.SessionID()))
		return nil
	}
	if sender == nil {
		return errors.New("reply sender not configured")
	}
	if !msg.Conversation.IsDirect() && msg.Message.ID != "" && reply.Reply == nil {
		reply.Reply = &channel.ReplyRef{Target: msg.ReplyTarget, MessageID: msg.Message.ID}
	}
	return sender.Send(ctx, channel.OutboundMessage{Target: msg.ReplyTarget, Message: reply})
}
