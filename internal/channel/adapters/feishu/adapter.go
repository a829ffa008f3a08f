package feishu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"golang.org/x/time/rate"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/channel"
	"github.com/memohai/memoh-feishu/internal/channel/adapters/adapterutil"
	"github.com/memohai/memoh-feishu/internal/pairing"
	"github.com/memohai/memoh-feishu/internal/policy"
)

const (
	defaultSendRate  rate.Limit = 5
	defaultSendBurst            = 5
	reconnectDelay              = 3 * time.Second
	// botDiscoveryBackoff spaces out retries after a failed bot discovery.
	botDiscoveryBackoff = time.Minute
)

// Options configures an Adapter. Zero values select defaults.
type Options struct {
	// Mentions matches host-configured mention patterns against message text.
	Mentions *policy.MentionMatcher
	// Pairing issues codes for unpaired direct-message senders. Without it
	// pairing-required messages are dropped with a warning.
	Pairing        pairing.Store
	SendRate       rate.Limit
	SendBurst      int
	TextChunkLimit int
}

// Adapter connects Feishu accounts, gates inbound messages through the access
// policy and sends text replies.
type Adapter struct {
	logger     *slog.Logger
	clients    *ClientCache
	dedup      *messageDeduper
	mentions   *policy.MentionMatcher
	pairing    pairing.Store
	sendRate   rate.Limit
	sendBurst  int
	chunkLimit int

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	// botIDs caches botIdentity entries by account id and fingerprint.
	botIDs sync.Map

	newMessenger func(account accounts.ResolvedAccount) messenger
	now          func() time.Time
}

func NewAdapter(log *slog.Logger, opts Options) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if opts.SendRate <= 0 {
		opts.SendRate = defaultSendRate
	}
	if opts.SendBurst < 1 {
		opts.SendBurst = defaultSendBurst
	}
	if opts.TextChunkLimit <= 0 {
		opts.TextChunkLimit = channel.DefaultTextChunkLimit
	}
	a := &Adapter{
		logger:     log.With(slog.String("adapter", "feishu")),
		clients:    NewClientCache(log),
		dedup:      newMessageDeduper(messageDedupCacheSize, messageDedupTTL),
		mentions:   opts.Mentions,
		pairing:    opts.Pairing,
		sendRate:   opts.SendRate,
		sendBurst:  opts.SendBurst,
		chunkLimit: opts.TextChunkLimit,
		limiters:   map[string]*rate.Limiter{},
		now:        time.Now,
	}
	a.newMessenger = func(account accounts.ResolvedAccount) messenger {
		return newLarkMessenger(a.clients.Get(account))
	}
	return a
}

func (a *Adapter) Type() channel.Type {
	return Type
}

// Clients exposes the per-account SDK client cache.
func (a *Adapter) Clients() *ClientCache {
	return a.clients
}

// Connect opens the account's event stream. Webhook accounts get a passive
// connection; their events arrive through WebhookHandler.
func (a *Adapter) Connect(ctx context.Context, account accounts.ResolvedAccount, handler channel.InboundHandler) (channel.Connection, error) {
	if !account.Configured {
		return nil, fmt.Errorf("feishu account %s: %s", account.AccountID, account.MissingCredentials())
	}
	a.logger.Info("start",
		slog.String("account_id", account.AccountID),
		slog.String("mode", account.ConnectionMode),
	)
	if account.ConnectionMode == accounts.ConnectionModeWebhook {
		a.logger.Info("webhook mode enabled; websocket connect skipped", slog.String("account_id", account.AccountID))
		return channel.NewConnection(Type, account.AccountID, func(context.Context) error {
			a.clients.Invalidate(account.AccountID)
			return nil
		}), nil
	}

	connCtx, cancel := context.WithCancel(ctx)
	go a.runWebsocket(connCtx, account, handler)

	// larkws.Client.Start does not return on cancellation, so the old long
	// connection stays open after stop. Its dispatcher drops every event once
	// connCtx is done.
	stop := func(context.Context) error {
		cancel()
		a.clients.Invalidate(account.AccountID)
		a.logger.Info("stopped; long connection drains until the process exits",
			slog.String("account_id", account.AccountID),
		)
		return nil
	}
	return channel.NewConnection(Type, account.AccountID, stop), nil
}

// runWebsocket keeps a long connection open until ctx is cancelled,
// reconnecting after failures.
func (a *Adapter) runWebsocket(ctx context.Context, account accounts.ResolvedAccount, handler channel.InboundHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		client := larkws.NewClient(
			account.AppID,
			account.AppSecret,
			larkws.WithEventHandler(a.newDispatcher(ctx, account, handler, true)),
			larkws.WithDomain(openBaseURL(account.Domain)),
			larkws.WithLogger(newLarkSlogLogger(a.logger)),
			larkws.WithLogLevel(larkcore.LogLevelDebug),
		)
		err := client.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Error("client start failed", slog.String("account_id", account.AccountID), slog.Any("error", err))
		} else {
			a.logger.Warn("client exited without error; reconnecting", slog.String("account_id", account.AccountID))
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// newDispatcher builds an SDK event dispatcher feeding message events to
// HandleEvent. With async set each event runs on its own goroutine so the
// long connection can ack promptly.
func (a *Adapter) newDispatcher(ctx context.Context, account accounts.ResolvedAccount, handler channel.InboundHandler, async bool) *dispatcher.EventDispatcher {
	d := dispatcher.NewEventDispatcher(account.VerificationToken, account.EncryptKey)
	d.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		if ctx.Err() != nil {
			return nil
		}
		handle := func() {
			if err := a.HandleEvent(ctx, account, event, handler); err != nil {
				a.logger.Error("handle inbound failed", slog.String("account_id", account.AccountID), slog.Any("error", err))
			}
		}
		if async {
			go handle()
			return nil
		}
		handle()
		return nil
	})
	// Registered so the SDK does not log "not found handler" for these.
	d.OnP2MessageReadV1(func(_ context.Context, _ *larkim.P2MessageReadV1) error {
		return nil
	})
	d.OnP2MessageReactionCreatedV1(func(_ context.Context, _ *larkim.P2MessageReactionCreatedV1) error {
		return nil
	})
	d.OnP2MessageReactionDeletedV1(func(_ context.Context, _ *larkim.P2MessageReactionDeletedV1) error {
		return nil
	})
	return d
}

// HandleEvent decodes one receive event and runs it through dedup, mention
// detection and the access policy. Accepted messages go to handler.
func (a *Adapter) HandleEvent(ctx context.Context, account accounts.ResolvedAccount, event *larkim.P2MessageReceiveV1, handler channel.InboundHandler) error {
	in, err := extractInbound(event, a.now())
	if err != nil {
		if errors.Is(err, errUnsupportedMessage) || errors.Is(err, errEmptyMessage) {
			a.logger.Debug("inbound dropped",
				slog.String("account_id", account.AccountID),
				slog.String("message_type", in.messageType),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		a.logger.Warn("inbound malformed payload dropped", slog.String("account_id", account.AccountID), slog.Any("error", err))
		return nil
	}
	msg := in.msg
	msg.AccountID = account.AccountID

	if msg.Message.ID != "" && a.dedup.Seen(account.AccountID+":"+msg.Message.ID) {
		a.logger.Debug("duplicate inbound dropped",
			slog.String("account_id", account.AccountID),
			slog.String("message_id", msg.Message.ID),
		)
		return nil
	}

	input := policy.Input{
		Origin:    policy.OriginDirect,
		SenderID:  msg.Sender.SubjectID,
		SenderIDs: in.senderIDs,
		ChatID:    msg.Conversation.ID,
	}
	if !msg.Conversation.IsDirect() {
		input.Origin = policy.OriginGroup
		msg.BotMentioned = in.mentionsBot(a.BotOpenID(ctx, account)) || a.mentions.Match(msg.Message.PlainText())
		input.BotMentioned = msg.BotMentioned
	}

	decision := policy.Evaluate(account, input)
	if decision.Outcome == policy.OutcomePairingRequired && a.pairing != nil {
		paired, err := a.pairing.IsPaired(ctx, account.AccountID, input.SenderID)
		if err != nil {
			a.logger.Warn("pairing lookup failed", slog.String("account_id", account.AccountID), slog.Any("error", err))
		} else if paired {
			input.PairedSenders = []string{input.SenderID}
			decision = policy.Evaluate(account, input)
		}
	}

	attrs := adapterutil.InboundAttrs(account.AccountID, msg.Conversation.ID, msg.Sender.SubjectID, msg.Message.Text)
	switch decision.Outcome {
	case policy.OutcomeAccept:
		a.logger.Info("inbound accepted", append(attrs,
			slog.String("session_id", msg.SessionID()),
			slog.Bool("bot_mentioned", msg.BotMentioned),
		)...)
		if handler == nil {
			return nil
		}
		return handler(ctx, account, msg)
	case policy.OutcomePairingRequired:
		return a.requestPairing(ctx, account, msg)
	default:
		a.logger.Debug("inbound rejected", append(attrs, slog.String("reason", decision.Reason))...)
		return nil
	}
}

func (a *Adapter) requestPairing(ctx context.Context, account accounts.ResolvedAccount, msg channel.InboundMessage) error {
	if a.pairing == nil {
		a.logger.Warn("pairing required but no pairing store configured",
			slog.String("account_id", account.AccountID),
			slog.String("sender_id", msg.Sender.SubjectID),
		)
		return nil
	}
	code, created, err := a.pairing.IssuePairingCode(ctx, account.AccountID, msg.Sender.SubjectID)
	if err != nil {
		return fmt.Errorf("issue pairing code: %w", err)
	}
	if !created {
		a.logger.Debug("pairing code pending; notice already sent",
			slog.String("account_id", account.AccountID),
			slog.String("sender_id", msg.Sender.SubjectID),
		)
		return nil
	}
	a.logger.Info("pairing code issued",
		slog.String("account_id", account.AccountID),
		slog.String("sender_id", msg.Sender.SubjectID),
		slog.Time("expires_at", code.ExpiresAt),
	)
	if _, err := a.SendText(ctx, account, msg.ReplyTarget, pairingNotice(code), SendOptions{}); err != nil {
		return fmt.Errorf("send pairing notice: %w", err)
	}
	return nil
}

func pairingNotice(code pairing.Code) string {
	return fmt.Sprintf(
		"This bot only answers paired accounts.\nPairing code: %s\nAsk the operator to approve it with `feishu-channel pairing approve %s`. The code expires at %s.",
		code.Token,
		code.Token,
		code.ExpiresAt.UTC().Format(time.RFC3339),
	)
}

// botIdentity is a cached discovery result. A failed discovery has an empty
// openID and is retried after retryAt.
type botIdentity struct {
	openID  string
	retryAt time.Time
}

func botIdentityKey(account accounts.ResolvedAccount) string {
	return account.AccountID + "/" + account.Fingerprint()
}

// BotOpenID returns the bot's own open id, discovering and caching it per
// credential set. After a failure it returns "" until the back-off passes;
// group mentions then rely on the mention patterns alone.
func (a *Adapter) BotOpenID(ctx context.Context, account accounts.ResolvedAccount) string {
	key := botIdentityKey(account)
	if cached, ok := a.botIDs.Load(key); ok {
		entry := cached.(botIdentity)
		if entry.openID != "" || a.now().Before(entry.retryAt) {
			return entry.openID
		}
	}
	info, err := a.DiscoverSelf(ctx, account)
	if err != nil {
		retryAt := a.now().Add(botDiscoveryBackoff)
		a.botIDs.Store(key, botIdentity{retryAt: retryAt})
		a.logger.Warn("discover self failed",
			slog.String("account_id", account.AccountID),
			slog.Time("retry_at", retryAt),
			slog.Any("error", err),
		)
		return ""
	}
	a.botIDs.Store(key, botIdentity{openID: info.OpenID})
	return info.OpenID
}

// DiscoverSelf fetches the bot identity from the open API.
func (a *Adapter) DiscoverSelf(ctx context.Context, account accounts.ResolvedAccount) (BotInfo, error) {
	if !account.Configured {
		return BotInfo{}, fmt.Errorf("feishu account %s: %s", account.AccountID, account.MissingCredentials())
	}
	return a.newMessenger(account).BotInfo(ctx)
}

func (a *Adapter) limiter(accountID string) *rate.Limiter {
	a.limitersMu.Lock()
	defer a.limitersMu.Unlock()
	if l, ok := a.limiters[accountID]; ok {
		return l
	}
	l := rate.NewLimiter(a.sendRate, a.sendBurst)
	a.limiters[accountID] = l
	return l
}
