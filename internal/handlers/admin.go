package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/auth"
	"github.com/memohai/memoh-feishu/internal/channel"
	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
	"github.com/memohai/memoh-feishu/internal/pairing"
)

// AccountProber probes one account's credentials against the open API.
type AccountProber interface {
	Probe(ctx context.Context, account accounts.ResolvedAccount) feishu.ProbeResult
}

// OutboundSender delivers agent-initiated messages through an account.
type OutboundSender interface {
	Send(ctx context.Context, accountID string, msg channel.OutboundMessage) error
}

// AdminHandler exposes operator actions: pairing approval, account probes
// and outbound sends.
type AdminHandler struct {
	logger   *slog.Logger
	store    pairing.Store
	accounts feishu.AccountResolver
	prober   AccountProber
	sender   OutboundSender
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(log *slog.Logger, store pairing.Store, resolver feishu.AccountResolver, prober AccountProber) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{
		logger:   log.With(slog.String("handler", "admin")),
		store:    store,
		accounts: resolver,
		prober:   prober,
	}
}

// Register mounts the admin routes.
func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/admin/feishu")
	g.GET("/pairing", h.ListPending)
	g.GET("/pairing/:account_id", h.ListAccount)
	g.POST("/pairing/approve", h.Approve)
	g.DELETE("/pairing/:account_id/:sender_id", h.Revoke)
	g.GET("/accounts/:account_id/probe", h.Probe)
	g.POST("/accounts/:account_id/send", h.Send)
}

// SetSender enables the send route.
func (h *AdminHandler) SetSender(sender OutboundSender) {
	h.sender = sender
}

type pairingListResponse struct {
	AccountID string         `json:"account_id,omitempty"`
	Pending   []pairing.Code `json:"pending"`
	Paired    []string       `json:"paired,omitempty"`
}

type approveRequest struct {
	Code string `json:"code"`
}

type sendRequest struct {
	Target  string `json:"target"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// ListPending lists pending codes across all accounts.
func (h *AdminHandler) ListPending(c echo.Context) error {
	if err := h.requireStore(c); err != nil {
		return err
	}
	items, err := h.store.ListPending(c.Request().Context(), "")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pairingListResponse{Pending: items})
}

// ListAccount lists pending codes and paired senders of one account.
func (h *AdminHandler) ListAccount(c echo.Context) error {
	if err := h.requireStore(c); err != nil {
		return err
	}
	accountID := strings.TrimSpace(c.Param("account_id"))
	ctx := c.Request().Context()
	pending, err := h.store.ListPending(ctx, accountID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	paired, err := h.store.ListPaired(ctx, accountID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pairingListResponse{AccountID: accountID, Pending: pending, Paired: paired})
}

// Approve consumes a pairing code and pairs its sender.
func (h *AdminHandler) Approve(c echo.Context) error {
	if err := h.requireStore(c); err != nil {
		return err
	}
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Code) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	code, err := h.store.Approve(c.Request().Context(), req.Code)
	switch {
	case errors.Is(err, pairing.ErrCodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, pairing.ErrCodeUsed), errors.Is(err, pairing.ErrCodeExpired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	operator, _ := auth.OperatorFromContext(c)
	h.logger.Info("pairing approved",
		slog.String("account_id", code.AccountID),
		slog.String("sender_id", code.SenderID),
		slog.String("operator", operator),
	)
	return c.JSON(http.StatusOK, code)
}

// Revoke unpairs a sender.
func (h *AdminHandler) Revoke(c echo.Context) error {
	if err := h.requireStore(c); err != nil {
		return err
	}
	accountID := strings.TrimSpace(c.Param("account_id"))
	senderID := strings.TrimSpace(c.Param("sender_id"))
	if err := h.store.Revoke(c.Request().Context(), accountID, senderID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Probe checks an account's credentials.
func (h *AdminHandler) Probe(c echo.Context) error {
	if h.accounts == nil || h.prober == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "probe not available")
	}
	ctx := c.Request().Context()
	account, err := h.accounts.Account(ctx, c.Param("account_id"))
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.prober.Probe(ctx, account))
}

// Send delivers a text message through the account.
func (h *AdminHandler) Send(c echo.Context) error {
	if h.sender == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "send not available")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Target) == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target and text are required")
	}
	msg := channel.OutboundMessage{
		Target:  strings.TrimSpace(req.Target),
		Message: channel.Message{Text: req.Text, Format: channel.MessageFormatMarkdown},
	}
	if replyTo := strings.TrimSpace(req.ReplyTo); replyTo != "" {
		msg.Message.Reply = &channel.ReplyRef{Target: msg.Target, MessageID: replyTo}
	}
	err := h.sender.Send(c.Request().Context(), c.Param("account_id"), msg)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		var apiErr *feishu.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

func (h *AdminHandler) requireStore(_ echo.Context) error {
	if h.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pairing store not available")
	}
	return nil
}
