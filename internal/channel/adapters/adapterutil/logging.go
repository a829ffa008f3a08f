// Package adapterutil provides shared utilities for channel adapters.
package adapterutil

import (
	"log/slog"
	"strings"
)

const previewLimit = 120

// SummarizeText returns a single-line preview of text, cut at 120 runes.
func SummarizeText(text string) string {
	value := strings.Join(strings.Fields(text), " ")
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= previewLimit {
		return value
	}
	return string(runes[:previewLimit]) + "..."
}

// InboundAttrs is the common set of log attributes for an inbound event.
func InboundAttrs(accountID, chatID, senderID, text string) []any {
	return []any{
		slog.String("account_id", accountID),
		slog.String("chat_id", chatID),
		slog.String("sender_id", senderID),
		slog.String("text", SummarizeText(text)),
	}
}
