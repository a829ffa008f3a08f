package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// APIError is a non-zero response code from the Feishu open API.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu %s failed: %s (code: %d)", e.Op, e.Msg, e.Code)
}

// SendResult identifies a delivered message.
type SendResult struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
}

// BotInfo is the bot identity reported by /open-apis/bot/v3/info.
type BotInfo struct {
	OpenID    string `json:"open_id"`
	AppName   string `json:"app_name"`
	AvatarURL string `json:"avatar_url"`
}

// messenger is the subset of the open API the adapter calls.
type messenger interface {
	Create(ctx context.Context, receiveIDType, receiveID, msgType, content string) (SendResult, error)
	Reply(ctx context.Context, messageID, msgType, content string) (SendResult, error)
	BotInfo(ctx context.Context) (BotInfo, error)
}

type larkMessenger struct {
	client *lark.Client
}

func newLarkMessenger(client *lark.Client) messenger {
	return &larkMessenger{client: client}
}

func (m *larkMessenger) Create(ctx context.Context, receiveIDType, receiveID, msgType, content string) (SendResult, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := m.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return SendResult{}, fmt.Errorf("feishu send: %w", err)
	}
	if resp == nil || !resp.Success() {
		var code int
		var msg string
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return SendResult{}, &APIError{Op: "send", Code: code, Msg: msg}
	}
	result := SendResult{}
	if resp.Data != nil {
		result.MessageID = stringPtrValue(resp.Data.MessageId)
		result.ChatID = stringPtrValue(resp.Data.ChatId)
	}
	return result, nil
}

func (m *larkMessenger) Reply(ctx context.Context, messageID, msgType, content string) (SendResult, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := m.client.Im.V1.Message.Reply(ctx, req)
	if err != nil {
		return SendResult{}, fmt.Errorf("feishu reply: %w", err)
	}
	if resp == nil || !resp.Success() {
		var code int
		var msg string
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return SendResult{}, &APIError{Op: "reply", Code: code, Msg: msg}
	}
	result := SendResult{}
	if resp.Data != nil {
		result.MessageID = stringPtrValue(resp.Data.MessageId)
		result.ChatID = stringPtrValue(resp.Data.ChatId)
	}
	return result, nil
}

func (m *larkMessenger) BotInfo(ctx context.Context) (BotInfo, error) {
	resp, err := m.client.Get(ctx, "/open-apis/bot/v3/info", nil, larkcore.AccessTokenTypeTenant)
	if err != nil {
		return BotInfo{}, fmt.Errorf("feishu bot info: %w", err)
	}
	return parseBotInfo(resp.RawBody)
}

func parseBotInfo(raw []byte) (BotInfo, error) {
	var body struct {
		Code int     `json:"code"`
		Msg  string  `json:"msg"`
		Bot  BotInfo `json:"bot"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return BotInfo{}, fmt.Errorf("feishu bot info: parse response: %w", err)
	}
	if body.Code != 0 {
		return BotInfo{}, &APIError{Op: "bot info", Code: body.Code, Msg: body.Msg}
	}
	body.Bot.OpenID = strings.TrimSpace(body.Bot.OpenID)
	body.Bot.AppName = strings.TrimSpace(body.Bot.AppName)
	if body.Bot.OpenID == "" {
		return BotInfo{}, fmt.Errorf("feishu bot info: empty open_id")
	}
	return body.Bot, nil
}

func stringPtrValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// openBaseURL maps a normalized domain to the open API base URL.
func openBaseURL(domain string) string {
	switch domain {
	case "", accounts.DomainFeishu:
		return lark.FeishuBaseUrl
	case accounts.DomainLark:
		return lark.LarkBaseUrl
	default:
		return domain
	}
}

type cachedClient struct {
	fingerprint string
	client      *lark.Client
}

// ClientCache holds one SDK client per account, keyed by the account's
// credential fingerprint. A credential change replaces the stale client.
type ClientCache struct {
	mu      sync.Mutex
	logger  *slog.Logger
	clients map[string]cachedClient
}

func NewClientCache(log *slog.Logger) *ClientCache {
	if log == nil {
		log = slog.Default()
	}
	return &ClientCache{
		logger:  log.With(slog.String("component", "feishu_clients")),
		clients: map[string]cachedClient{},
	}
}

// Get returns the cached client for account, creating it on first use.
// Concurrent callers may briefly build duplicate clients; the last one wins.
func (c *ClientCache) Get(account accounts.ResolvedAccount) *lark.Client {
	fingerprint := account.Fingerprint()
	c.mu.Lock()
	entry, ok := c.clients[account.AccountID]
	c.mu.Unlock()
	if ok && entry.fingerprint == fingerprint {
		return entry.client
	}

	client := lark.NewClient(account.AppID, account.AppSecret, lark.WithOpenBaseUrl(openBaseURL(account.Domain)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.logger.Info("credentials changed, client replaced", slog.String("account_id", account.AccountID))
	}
	c.clients[account.AccountID] = cachedClient{fingerprint: fingerprint, client: client}
	return client
}

// Invalidate drops the cached client for accountID.
func (c *ClientCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, accountID)
}

func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
