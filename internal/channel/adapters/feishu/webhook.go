package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/channel"
)

type webhookInboundManager interface {
	HandleInbound(ctx context.Context, account accounts.ResolvedAccount, msg channel.InboundMessage) error
}

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// WebhookHandler receives event-subscription callbacks for webhook-mode accounts.
type WebhookHandler struct {
	logger   *slog.Logger
	accounts AccountResolver
	adapter  *Adapter
	manager  webhookInboundManager
}

func NewWebhookHandler(log *slog.Logger, resolver AccountResolver, adapter *Adapter, manager webhookInboundManager) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "feishu_webhook")),
		accounts: resolver,
		adapter:  adapter,
		manager:  manager,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/channels/feishu/webhook/:account_id", h.HandleProbe)
	e.POST("/channels/feishu/webhook/:account_id", h.Handle)
}

// HandleProbe answers reachability checks on the webhook URL.
func (h *WebhookHandler) HandleProbe(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.accounts == nil || h.adapter == nil || h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "feishu webhook dependencies not configured")
	}
	accountID := strings.TrimSpace(c.Param("account_id"))
	if accountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account id is required")
	}
	ctx := c.Request().Context()
	account, err := h.accounts.Account(ctx, accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "feishu account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !account.Enabled {
		return echo.NewHTTPError(http.StatusForbidden, "feishu account is disabled")
	}
	if account.ConnectionMode != accounts.ConnectionModeWebhook {
		return echo.NewHTTPError(http.StatusBadRequest, "feishu account connection mode is not webhook")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := validateWebhookCallbackAuth(payload, account); err != nil {
		h.logger.Warn("webhook rejected", slog.String("account_id", account.AccountID), slog.Any("error", err))
		return err
	}

	d := h.adapter.newDispatcher(context.WithoutCancel(ctx), account, h.manager.HandleInbound, false)
	resp := d.Handle(ctx, &larkevent.EventReq{
		Header:     c.Request().Header,
		Body:       payload,
		RequestURI: c.Request().RequestURI,
	})
	if resp == nil {
		return c.NoContent(http.StatusOK)
	}
	for key, values := range resp.Header {
		for _, value := range values {
			c.Response().Header().Add(key, value)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err = c.Response().Write(resp.Body)
	return err
}

// validateWebhookCallbackAuth checks the verification token. With an encrypt
// key the SDK verifies the request signature instead.
func validateWebhookCallbackAuth(payload []byte, account accounts.ResolvedAccount) error {
	if strings.TrimSpace(account.EncryptKey) != "" {
		return nil
	}
	var fuzzy larkevent.EventFuzzy
	if err := json.Unmarshal(payload, &fuzzy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid feishu webhook payload: %v", err))
	}
	expectedToken := strings.TrimSpace(account.VerificationToken)
	if expectedToken == "" {
		return echo.NewHTTPError(http.StatusForbidden, "feishu webhook requires verificationToken when encryptKey is empty")
	}
	requestToken := strings.TrimSpace(fuzzy.Token)
	if fuzzy.Header != nil && strings.TrimSpace(fuzzy.Header.Token) != "" {
		requestToken = strings.TrimSpace(fuzzy.Header.Token)
	}
	if requestToken == "" || requestToken != expectedToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid feishu webhook token")
	}
	return nil
}
