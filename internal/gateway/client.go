// Package gateway forwards accepted channel messages to the agent gateway and
// returns its reply.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/memoh-feishu/internal/channel"
)

// InboundPath is the gateway endpoint receiving channel messages.
const InboundPath = "/channels/feishu/inbound"

const defaultTimeout = 120 * time.Second

type inboundRequest struct {
	Channel     string         `json:"channel"`
	AccountID   string         `json:"accountId"`
	SessionID   string         `json:"sessionId"`
	MessageID   string         `json:"messageId,omitempty"`
	MessageType string         `json:"messageType,omitempty"`
	Text        string         `json:"text"`
	ReplyTarget string         `json:"replyTarget"`
	Sender      inboundSender  `json:"sender"`
	Chat        inboundChat    `json:"chat"`
	Mentioned   bool           `json:"mentioned"`
	ReceivedAt  time.Time      `json:"receivedAt"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type inboundSender struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type inboundChat struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ThreadID string `json:"threadId,omitempty"`
}

type inboundResponse struct {
	Text  string       `json:"text"`
	Media []replyMedia `json:"media"`
}

type replyMedia struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Caption string `json:"caption"`
}

// Client posts inbound messages to the agent gateway.
type Client struct {
	baseURL    string
	token      string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewClient creates a gateway client. token, when set, is sent as the
// Authorization header.
func NewClient(log *slog.Logger, baseURL, token string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		logger:     log.With(slog.String("service", "gateway")),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Dispatch sends msg to the gateway and converts the reply. A reply with no
// text and no media is returned empty.
func (c *Client) Dispatch(ctx context.Context, msg channel.InboundMessage) (channel.Message, error) {
	if c.baseURL == "" {
		return channel.Message{}, errors.New("agent gateway url not configured")
	}
	payload := inboundRequest{
		Channel:     msg.Channel.String(),
		AccountID:   msg.AccountID,
		SessionID:   msg.SessionID(),
		MessageID:   msg.Message.ID,
		MessageType: channel.ReadString(msg.Metadata, "message_type"),
		Text:        msg.Message.PlainText(),
		ReplyTarget: msg.ReplyTarget,
		Sender: inboundSender{
			ID:         msg.Sender.SubjectID,
			Name:       msg.Sender.DisplayName,
			Attributes: msg.Sender.Attributes,
		},
		Chat: inboundChat{
			ID:       msg.Conversation.ID,
			Type:     msg.Conversation.Type,
			ThreadID: msg.Conversation.ThreadID,
		},
		Mentioned:  msg.BotMentioned,
		ReceivedAt: msg.ReceivedAt,
		Metadata:   msg.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return channel.Message{}, err
	}
	url := c.baseURL + InboundPath
	c.logger.Debug("gateway request", slog.String("url", url), slog.String("session_id", payload.SessionID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return channel.Message{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return channel.Message{}, fmt.Errorf("agent gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return channel.Message{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gateway error",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(respBody), 300)),
		)
		return channel.Message{}, fmt.Errorf("agent gateway error: status %d: %s", resp.StatusCode, strings.TrimSpace(truncate(string(respBody), 300)))
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return channel.Message{}, nil
	}

	var parsed inboundResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return channel.Message{}, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	reply := channel.Message{Text: strings.TrimSpace(parsed.Text)}
	for _, media := range parsed.Media {
		if strings.TrimSpace(media.URL) == "" {
			continue
		}
		reply.Attachments = append(reply.Attachments, channel.Attachment{
			Type:    channel.AttachmentFile,
			URL:     strings.TrimSpace(media.URL),
			Name:    media.Name,
			Caption: media.Caption,
		})
	}
	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
