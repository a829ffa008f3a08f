package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"golang.org/x/time/rate"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// messengerCall records a single call made through a messenger.
type messengerCall struct {
	Method        string
	ReceiveIDType string
	ReceiveID     string
	ReplyTo       string
	MsgType       string
	Text          string
}

// recordingMessenger implements messenger by recording every call.
type recordingMessenger struct {
	mu        sync.Mutex
	calls     []messengerCall
	nextErr   error
	bot       BotInfo
	botErr    error
	botCalls  int
	sendCount int
}

func (r *recordingMessenger) record(call messengerCall, content string) (SendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var body struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(content), &body)
	call.Text = body.Text
	r.calls = append(r.calls, call)
	if r.nextErr != nil {
		err := r.nextErr
		r.nextErr = nil
		return SendResult{}, err
	}
	r.sendCount++
	return SendResult{MessageID: fmt.Sprintf("om_recorded_%d", r.sendCount), ChatID: "oc_recorded"}, nil
}

func (r *recordingMessenger) Create(_ context.Context, receiveIDType, receiveID, msgType, content string) (SendResult, error) {
	return r.record(messengerCall{Method: "Create", ReceiveIDType: receiveIDType, ReceiveID: receiveID, MsgType: msgType}, content)
}

func (r *recordingMessenger) Reply(_ context.Context, messageID, msgType, content string) (SendResult, error) {
	return r.record(messengerCall{Method: "Reply", ReplyTo: messageID, MsgType: msgType}, content)
}

func (r *recordingMessenger) BotInfo(context.Context) (BotInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botCalls++
	if r.botErr != nil {
		return BotInfo{}, r.botErr
	}
	return r.bot, nil
}

func (r *recordingMessenger) BotCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.botCalls
}

func (r *recordingMessenger) Calls() []messengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messengerCall(nil), r.calls...)
}

func newTestAdapter(t *testing.T, opts Options) (*Adapter, *recordingMessenger) {
	t.Helper()
	if opts.SendRate == 0 {
		opts.SendRate = rate.Inf
	}
	a := NewAdapter(testLogger(), opts)
	rec := &recordingMessenger{bot: BotInfo{OpenID: "ou_bot", AppName: "Echo Bot"}}
	a.newMessenger = func(accounts.ResolvedAccount) messenger { return rec }
	return a, rec
}

func testAccount(mutate func(cfg *accounts.AccountConfig)) accounts.ResolvedAccount {
	cfg := &accounts.FeishuConfig{
		AccountConfig: accounts.AccountConfig{AppID: "cli_test", AppSecret: "secret"},
	}
	if mutate != nil {
		mutate(&cfg.AccountConfig)
	}
	return accounts.ResolveAccount(cfg, "", accounts.NoEnv)
}

type eventOption func(msg *larkim.EventMessage, sender *larkim.UserId)

func withMentions(openIDs ...string) eventOption {
	return func(msg *larkim.EventMessage, _ *larkim.UserId) {
		for i, id := range openIDs {
			msg.Mentions = append(msg.Mentions, &larkim.MentionEvent{
				Key:  strPtr(fmt.Sprintf("@_user_%d", i+1)),
				Id:   &larkim.UserId{OpenId: strPtr(id)},
				Name: strPtr("someone"),
			})
		}
	}
}

func withParent(parentID string) eventOption {
	return func(msg *larkim.EventMessage, _ *larkim.UserId) {
		msg.ParentId = strPtr(parentID)
	}
}

func withUnionID(unionID string) eventOption {
	return func(_ *larkim.EventMessage, sender *larkim.UserId) {
		sender.UnionId = strPtr(unionID)
	}
}

func rawEvent(messageID, messageType, content, chatID, chatType, senderOpenID string, opts ...eventOption) *larkim.P2MessageReceiveV1 {
	msg := &larkim.EventMessage{
		MessageId:   strPtr(messageID),
		MessageType: strPtr(messageType),
		Content:     strPtr(content),
		ChatId:      strPtr(chatID),
		ChatType:    strPtr(chatType),
	}
	sender := &larkim.UserId{}
	if senderOpenID != "" {
		sender.OpenId = strPtr(senderOpenID)
	}
	for _, opt := range opts {
		opt(msg, sender)
	}
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Message: msg,
			Sender:  &larkim.EventSender{SenderId: sender},
		},
	}
}

func textEvent(messageID, chatID, chatType, senderOpenID, text string, opts ...eventOption) *larkim.P2MessageReceiveV1 {
	content, _ := json.Marshal(map[string]string{"text": text})
	return rawEvent(messageID, larkim.MsgTypeText, string(content), chatID, chatType, senderOpenID, opts...)
}
