// Package server provides the HTTP server and Echo setup for the channel service.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/memoh-feishu/internal/auth"
)

// AdminPrefix is the route prefix that requires an operator token.
const AdminPrefix = "/admin/"

// Server is the HTTP server (Echo) serving webhooks, status and admin routes.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// NewServer builds the Echo server with recovery, request logging and the
// given handlers. Routes under AdminPrefix require a JWT signed with
// jwtSecret; without a secret they answer 503.
func NewServer(log *slog.Logger, addr, jwtSecret string, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	if strings.TrimSpace(jwtSecret) == "" {
		e.Use(adminDisabled)
	} else {
		e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
			return !isAdminPath(c.Request().URL.Path)
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("component", "server")),
	}
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, AdminPrefix)
}

func adminDisabled(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if isAdminPath(c.Request().URL.Path) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "admin api disabled: auth.jwt_secret is not set")
		}
		return next(c)
	}
}

// Echo exposes the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
