package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/memoh-feishu/internal/channel"
)

// StatusSource reports per-account runtime status.
type StatusSource interface {
	Statuses(ctx context.Context) ([]channel.AccountStatus, error)
}

// StatusHandler serves liveness probes and the channel status listing.
type StatusHandler struct {
	logger *slog.Logger
	source StatusSource
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(log *slog.Logger, source StatusSource) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{
		logger: log.With(slog.String("handler", "status")),
		source: source,
	}
}

// Register mounts GET /ping, HEAD /health and GET /channels/feishu/status.
func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/channels/feishu/status", h.Status)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *StatusHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// PingHead returns 200 No Content for health checks.
func (h *StatusHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type statusResponse struct {
	Channel  string                  `json:"channel"`
	Accounts []channel.AccountStatus `json:"accounts"`
}

// Status lists every configured account with its connection state.
func (h *StatusHandler) Status(c echo.Context) error {
	if h.source == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "channel manager not available")
	}
	items, err := h.source.Statuses(c.Request().Context())
	if err != nil {
		h.logger.Error("list statuses failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statusResponse{Channel: "feishu", Accounts: items})
}
