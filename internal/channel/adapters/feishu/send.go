package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/memohai/memoh-feishu/internal/accounts"
	"github.com/memohai/memoh-feishu/internal/channel"
	"github.com/memohai/memoh-feishu/internal/identifier"
)

var (
	errTargetRequired = errors.New("feishu target is required")
	errTextRequired   = errors.New("text is required")
)

// SendOptions controls a single send.
type SendOptions struct {
	// ReplyToID makes the message a reply to an existing message id.
	ReplyToID string
}

// resolveReceiveID maps a target in any accepted identifier form to the
// receive id type expected by the send API.
func resolveReceiveID(target string) (string, string, error) {
	id, ok := identifier.Normalize(target)
	if !ok || id.Value == "" {
		return "", "", errTargetRequired
	}
	switch id.Kind {
	case identifier.KindChat:
		return larkim.ReceiveIdTypeChatId, id.Value, nil
	case identifier.KindUnionUser:
		return larkim.ReceiveIdTypeUnionId, id.Value, nil
	case identifier.KindLegacyUser:
		return larkim.ReceiveIdTypeUserId, id.Value, nil
	default:
		return larkim.ReceiveIdTypeOpenId, id.Value, nil
	}
}

// SendText sends text to target, split into chunks of at most the configured
// limit. The result describes the last chunk sent.
func (a *Adapter) SendText(ctx context.Context, account accounts.ResolvedAccount, target, text string, opts SendOptions) (SendResult, error) {
	if !account.Configured {
		return SendResult{}, fmt.Errorf("feishu account %s: %s", account.AccountID, account.MissingCredentials())
	}
	receiveIDType, receiveID, err := resolveReceiveID(target)
	if err != nil {
		return SendResult{}, err
	}
	chunks := channel.ChunkMarkdownText(text, a.chunkLimit)
	if len(chunks) == 0 {
		return SendResult{}, errTextRequired
	}
	replyTo := strings.TrimSpace(opts.ReplyToID)

	m := a.newMessenger(account)
	limiter := a.limiter(account.AccountID)
	var result SendResult
	for _, chunk := range chunks {
		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}
		payload, err := json.Marshal(map[string]string{"text": chunk})
		if err != nil {
			return result, err
		}
		if replyTo != "" {
			result, err = m.Reply(ctx, replyTo, larkim.MsgTypeText, string(payload))
		} else {
			result, err = m.Create(ctx, receiveIDType, receiveID, larkim.MsgTypeText, string(payload))
		}
		if err != nil {
			a.logger.Error("send failed",
				slog.String("account_id", account.AccountID),
				slog.String("receive_id_type", receiveIDType),
				slog.Any("error", err),
			)
			return result, err
		}
	}
	a.logger.Info("send success",
		slog.String("account_id", account.AccountID),
		slog.String("message_id", result.MessageID),
		slog.Int("chunks", len(chunks)),
	)
	return result, nil
}

// SendMedia sends media as text: the caption, a newline, then the URL.
func (a *Adapter) SendMedia(ctx context.Context, account accounts.ResolvedAccount, target, caption, mediaURL string, opts SendOptions) (SendResult, error) {
	return a.SendText(ctx, account, target, mediaText(caption, mediaURL), opts)
}

func mediaText(caption, mediaURL string) string {
	caption = strings.TrimSpace(caption)
	mediaURL = strings.TrimSpace(mediaURL)
	switch {
	case caption == "":
		return mediaURL
	case mediaURL == "":
		return caption
	default:
		return caption + "\n" + mediaURL
	}
}

// Send implements channel.Sender.
func (a *Adapter) Send(ctx context.Context, account accounts.ResolvedAccount, msg channel.OutboundMessage) error {
	opts := SendOptions{}
	if msg.Message.Reply != nil {
		opts.ReplyToID = msg.Message.Reply.MessageID
	}
	for _, att := range msg.Message.Attachments {
		if strings.TrimSpace(att.URL) == "" {
			continue
		}
		caption := att.Caption
		if caption == "" {
			caption = att.Name
		}
		if _, err := a.SendMedia(ctx, account, msg.Target, caption, att.URL, opts); err != nil {
			return err
		}
	}
	if strings.TrimSpace(msg.Message.Text) == "" {
		if len(msg.Message.Attachments) > 0 {
			return nil
		}
		return errTextRequired
	}
	_, err := a.SendText(ctx, account, msg.Target, msg.Message.Text, opts)
	return err
}
