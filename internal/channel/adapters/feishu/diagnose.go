package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// EventCounts is a snapshot of events seen by CountEvents.
type EventCounts struct {
	MessageReceive  int64 `json:"message_receive"`
	MessageRead     int64 `json:"message_read"`
	ReactionCreated int64 `json:"reaction_created"`
	ReactionDeleted int64 `json:"reaction_deleted"`
}

func (c EventCounts) String() string {
	return fmt.Sprintf("receive=%d read=%d reaction_created=%d reaction_deleted=%d",
		c.MessageReceive, c.MessageRead, c.ReactionCreated, c.ReactionDeleted)
}

type eventCounter struct {
	messageReceive  atomic.Int64
	messageRead     atomic.Int64
	reactionCreated atomic.Int64
	reactionDeleted atomic.Int64
}

func (c *eventCounter) snapshot() EventCounts {
	return EventCounts{
		MessageReceive:  c.messageReceive.Load(),
		MessageRead:     c.messageRead.Load(),
		ReactionCreated: c.reactionCreated.Load(),
		ReactionDeleted: c.reactionDeleted.Load(),
	}
}

// countingDispatcher acknowledges every event without running the access
// policy, so delivery can be checked apart from message handling.
func countingDispatcher(account accounts.ResolvedAccount, counter *eventCounter, report func(EventCounts)) *dispatcher.EventDispatcher {
	bump := func(n *atomic.Int64) {
		n.Add(1)
		if report != nil {
			report(counter.snapshot())
		}
	}
	d := dispatcher.NewEventDispatcher(account.VerificationToken, account.EncryptKey)
	d.OnP2MessageReceiveV1(func(_ context.Context, _ *larkim.P2MessageReceiveV1) error {
		bump(&counter.messageReceive)
		return nil
	})
	d.OnP2MessageReadV1(func(_ context.Context, _ *larkim.P2MessageReadV1) error {
		bump(&counter.messageRead)
		return nil
	})
	d.OnP2MessageReactionCreatedV1(func(_ context.Context, _ *larkim.P2MessageReactionCreatedV1) error {
		bump(&counter.reactionCreated)
		return nil
	})
	d.OnP2MessageReactionDeletedV1(func(_ context.Context, _ *larkim.P2MessageReactionDeletedV1) error {
		bump(&counter.reactionDeleted)
		return nil
	})
	return d
}

// CountEvents opens a long connection for account and counts delivered events
// until ctx is done, reconnecting on failure. report is called after every
// event. It returns the final counts.
func (a *Adapter) CountEvents(ctx context.Context, account accounts.ResolvedAccount, report func(EventCounts)) (EventCounts, error) {
	if missing := account.MissingCredentials(); missing != "" {
		return EventCounts{}, fmt.Errorf("feishu account %s: %s", account.AccountID, missing)
	}
	counter := &eventCounter{}
	handler := countingDispatcher(account, counter, report)
	log := a.logger.With(slog.String("account_id", account.AccountID), slog.String("mode", "diagnose"))
	for ctx.Err() == nil {
		client := larkws.NewClient(
			account.AppID,
			account.AppSecret,
			larkws.WithEventHandler(handler),
			larkws.WithDomain(openBaseURL(account.Domain)),
			larkws.WithLogger(newLarkSlogLogger(a.logger)),
			larkws.WithLogLevel(larkcore.LogLevelInfo),
		)
		log.Info("connecting")
		err := client.Start(ctx)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			log.Warn("connection failed; reconnecting", slog.Any("error", err), slog.Duration("delay", reconnectDelay))
		} else {
			log.Warn("connection closed; reconnecting", slog.Duration("delay", reconnectDelay))
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return counter.snapshot(), nil
}
