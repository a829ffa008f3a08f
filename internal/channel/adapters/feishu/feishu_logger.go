package feishu

import (
	"context"
	"fmt"
	"log/slog"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// larkSlogLogger routes SDK log lines into slog.
type larkSlogLogger struct {
	logger *slog.Logger
}

func newLarkSlogLogger(logger *slog.Logger) larkcore.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &larkSlogLogger{logger: logger.With(slog.String("source", "lark_sdk"))}
}

func (l *larkSlogLogger) Debug(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelDebug, args...)
}

func (l *larkSlogLogger) Info(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelInfo, args...)
}

func (l *larkSlogLogger) Warn(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelWarn, args...)
}

func (l *larkSlogLogger) Error(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelError, args...)
}

func (l *larkSlogLogger) log(ctx context.Context, level slog.Level, args ...any) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, "feishu sdk", slog.String("detail", fmt.Sprint(args...)))
}
