package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/channel"
	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
	"github.com/memohai/memoh-feishu/internal/pairing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResolver struct{}

func (fakeResolver) Account(_ context.Context, accountID string) (accounts.ResolvedAccount, error) {
	if accountID != "default" {
		return accounts.ResolvedAccount{}, fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, accountID)
	}
	return accounts.ResolvedAccount{AccountID: "default", AppID: "cli_1", Configured: true, Enabled: true}, nil
}

type fakeProber struct{}

func (fakeProber) Probe(_ context.Context, account accounts.ResolvedAccount) feishu.ProbeResult {
	return feishu.ProbeResult{OK: true, AccountID: account.AccountID, BotOpenID: "ou_bot"}
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminPairingLifecycle(t *testing.T) {
	t.Parallel()

	store := pairing.NewMemoryStore(discardLogger(), time.Hour)
	code, _, err := store.IssuePairingCode(context.Background(), "default", "ou_new")
	require.NoError(t, err)

	e := echo.New()
	NewAdminHandler(discardLogger(), store, fakeResolver{}, fakeProber{}).Register(e)

	rec := serve(e, http.MethodGet, "/admin/feishu/pairing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed pairingListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Pending, 1)
	assert.Equal(t, code.Token, listed.Pending[0].Token)

	rec = serve(e, http.MethodPost, "/admin/feishu/pairing/approve", `{"code":"`+strings.ToLower(code.Token)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodPost, "/admin/feishu/pairing/approve", `{"code":"`+code.Token+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(e, http.MethodGet, "/admin/feishu/pairing/default", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Pending)
	assert.Equal(t, []string{"ou_new"}, listed.Paired)

	rec = serve(e, http.MethodDelete, "/admin/feishu/pairing/default/ou_new", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	paired, err := store.IsPaired(context.Background(), "default", "ou_new")
	require.NoError(t, err)
	assert.False(t, paired)
}

func TestAdminApproveErrors(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewAdminHandler(discardLogger(), pairing.NewMemoryStore(discardLogger(), time.Hour), nil, nil).Register(e)

	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodPost, "/admin/feishu/pairing/approve", `{"code":" "}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodPost, "/admin/feishu/pairing/approve", `{"code":"ZZZZZZZZ"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/admin/feishu/accounts/default/probe", "").Code)

	bare := echo.New()
	NewAdminHandler(nil, nil, nil, nil).Register(bare)
	assert.Equal(t, http.StatusServiceUnavailable, serve(bare, http.MethodGet, "/admin/feishu/pairing", "").Code)
}

func TestAdminProbe(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewAdminHandler(discardLogger(), nil, fakeResolver{}, fakeProber{}).Register(e)

	rec := serve(e, http.MethodGet, "/admin/feishu/accounts/default/probe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result feishu.ProbeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, "ou_bot", result.BotOpenID)

	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/admin/feishu/accounts/other/probe", "").Code)
}

type fakeStatusSource struct {
	items []channel.AccountStatus
	err   error
}

func (f fakeStatusSource) Statuses(context.Context) ([]channel.AccountStatus, error) {
	return f.items, f.err
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewStatusHandler(discardLogger(), fakeStatusSource{items: []channel.AccountStatus{
		{AccountID: "default", Enabled: true, Configured: true, Running: true},
	}}).Register(e)

	rec := serve(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodHead, "/health", "").Code)

	rec = serve(e, http.MethodGet, "/channels/feishu/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "feishu", body.Channel)
	require.Len(t, body.Accounts, 1)
	assert.True(t, body.Accounts[0].Running)

	failing := echo.New()
	NewStatusHandler(nil, fakeStatusSource{err: errors.New("config unreadable")}).Register(failing)
	assert.Equal(t, http.StatusInternalServerError, serve(failing, http.MethodGet, "/channels/feishu/status", "").Code)
}

type fakeSender struct {
	accountID string
	msg       channel.OutboundMessage
	err       error
}

func (f *fakeSender) Send(_ context.Context, accountID string, msg channel.OutboundMessage) error {
	f.accountID = accountID
	f.msg = msg
	return f.err
}

func TestAdminSend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := NewAdminHandler(discardLogger(), nil, fakeResolver{}, fakeProber{})
	e := echo.New()
	h.Register(e)

	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodPost, "/admin/feishu/accounts/default/send", `{"target":"ou_1","text":"hi"}`).Code)

	h.SetSender(sender)
	rec := serve(e, http.MethodPost, "/admin/feishu/accounts/default/send", `{"target":"chat:oc_1","text":"deploy done","reply_to":"om_9"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "default", sender.accountID)
	assert.Equal(t, "chat:oc_1", sender.msg.Target)
	assert.Equal(t, "deploy done", sender.msg.Message.Text)
	require.NotNil(t, sender.msg.Message.Reply)
	assert.Equal(t, "om_9", sender.msg.Message.Reply.MessageID)

	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodPost, "/admin/feishu/accounts/default/send", `{"target":"","text":"hi"}`).Code)

	sender.err = &feishu.APIError{Op: "send", Code: 230002, Msg: "bot not in chat"}
	assert.Equal(t, http.StatusBadGateway, serve(e, http.MethodPost, "/admin/feishu/accounts/default/send", `{"target":"oc_1","text":"hi"}`).Code)

	sender.err = fmt.Errorf("%w: ops", accounts.ErrAccountNotFound)
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodPost, "/admin/feishu/accounts/ops/send", `{"target":"oc_1","text":"hi"}`).Code)
}
