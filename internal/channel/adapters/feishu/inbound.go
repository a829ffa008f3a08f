package feishu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/memohai/memoh-feishu/internal/channel"
)

var (
	errUnsupportedMessage = errors.New("unsupported message type")
	errEmptyMessage       = errors.New("empty message")
)

// inboundEvent is a decoded message event before the access policy runs.
type inboundEvent struct {
	msg          channel.InboundMessage
	messageType  string
	mentionIDs   []string
	contentAtIDs []string
	// senderIDs holds every id the sender carries (open, union, user).
	senderIDs []string
}

// extractInbound converts a receive event into an inbound message. Only text
// and post messages produce one; post content is flattened to text.
func extractInbound(event *larkim.P2MessageReceiveV1, now time.Time) (inboundEvent, error) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return inboundEvent{}, errEmptyMessage
	}
	message := event.Event.Message
	messageType := stringPtrValue(message.MessageType)

	var content map[string]any
	raw := stringPtrValue(message.Content)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			return inboundEvent{messageType: messageType}, fmt.Errorf("decode %s content: %w", messageType, err)
		}
	}

	var text string
	switch messageType {
	case larkim.MsgTypeText:
		text, _ = content["text"].(string)
	case larkim.MsgTypePost:
		text = extractPostText(content)
	default:
		return inboundEvent{messageType: messageType}, errUnsupportedMessage
	}
	if strings.TrimSpace(text) == "" {
		return inboundEvent{messageType: messageType}, errEmptyMessage
	}

	msg := channel.Message{
		ID:   stringPtrValue(message.MessageId),
		Text: text,
	}
	if parentID := stringPtrValue(message.ParentId); parentID != "" {
		msg.Reply = &channel.ReplyRef{MessageID: parentID}
	}
	// root_id names the first message of the reply thread.
	threadID := stringPtrValue(message.RootId)
	if threadID != "" {
		msg.Thread = &channel.ThreadRef{ID: threadID}
	}

	var openID, unionID, userID string
	if event.Event.Sender != nil && event.Event.Sender.SenderId != nil {
		openID = stringPtrValue(event.Event.Sender.SenderId.OpenId)
		unionID = stringPtrValue(event.Event.Sender.SenderId.UnionId)
		userID = stringPtrValue(event.Event.Sender.SenderId.UserId)
	}
	attrs := map[string]string{}
	if openID != "" {
		attrs["open_id"] = openID
	}
	if unionID != "" {
		attrs["union_id"] = unionID
	}
	if userID != "" {
		attrs["user_id"] = userID
	}
	subjectID := firstNonEmpty(openID, unionID, userID)

	chatID := stringPtrValue(message.ChatId)
	chatType := stringPtrValue(message.ChatType)
	conversation := channel.Conversation{ID: chatID, Type: chatType, ThreadID: threadID}

	replyTarget := ""
	switch {
	case !conversation.IsDirect() && chatID != "":
		replyTarget = "chat:" + chatID
	case openID != "":
		replyTarget = "open:" + openID
	case unionID != "":
		replyTarget = "union:" + unionID
	case userID != "":
		replyTarget = "user_id:" + userID
	case chatID != "":
		replyTarget = "chat:" + chatID
	}

	mentionIDs := make([]string, 0, len(message.Mentions))
	for _, m := range message.Mentions {
		if m == nil || m.Id == nil {
			continue
		}
		if id := stringPtrValue(m.Id.OpenId); id != "" {
			mentionIDs = append(mentionIDs, id)
		}
	}

	return inboundEvent{
		msg: channel.InboundMessage{
			Channel:      Type,
			Message:      msg,
			ReplyTarget:  replyTarget,
			Sender:       channel.Identity{SubjectID: subjectID, Attributes: attrs},
			Conversation: conversation,
			ReceivedAt:   now.UTC(),
			Source:       Type.String(),
			Metadata: map[string]any{
				"message_type": messageType,
			},
		},
		messageType:  messageType,
		mentionIDs:   mentionIDs,
		contentAtIDs: collectAtIDs(content),
		senderIDs:    nonEmpty(openID, unionID, userID),
	}, nil
}

// mentionsBot reports whether the event mentions botOpenID. An unknown bot id
// matches nothing; callers fall back to the mention patterns.
func (e inboundEvent) mentionsBot(botOpenID string) bool {
	botOpenID = strings.TrimSpace(botOpenID)
	if botOpenID == "" {
		return false
	}
	for _, id := range e.mentionIDs {
		if id == botOpenID {
			return true
		}
	}
	for _, id := range e.contentAtIDs {
		if id == botOpenID {
			return true
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// extractPostText flattens a post body ({"title":"","content":[[...]]}) into
// one line per paragraph. Some payloads nest the body under a locale key.
func extractPostText(content map[string]any) string {
	body := content
	if _, ok := body["content"]; !ok {
		for _, value := range content {
			if nested, ok := value.(map[string]any); ok {
				if _, ok := nested["content"]; ok {
					body = nested
					break
				}
			}
		}
	}
	lines := make([]string, 0, 4)
	if title := strings.TrimSpace(stringValue(body["title"])); title != "" {
		lines = append(lines, title)
	}
	paragraphs, _ := body["content"].([]any)
	for _, rawLine := range paragraphs {
		line, ok := rawLine.([]any)
		if !ok {
			continue
		}
		parts := make([]string, 0, len(line))
		for _, rawPart := range line {
			part, ok := rawPart.(map[string]any)
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(stringValue(part["tag"]))) {
			case "at":
				name := firstNonEmpty(
					strings.TrimSpace(stringValue(part["user_name"])),
					strings.TrimSpace(stringValue(part["text"])),
					strings.TrimSpace(stringValue(part["name"])),
				)
				if !strings.HasPrefix(name, "@") {
					name = "@" + name
				}
				parts = append(parts, name)
			case "img", "media", "emotion":
				// non-text elements carry no text
			default:
				if text := strings.TrimSpace(stringValue(part["text"])); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// collectAtIDs returns the user ids of every rich-text "at" element.
func collectAtIDs(raw any) []string {
	var ids []string
	var walk func(any)
	walk = func(node any) {
		switch value := node.(type) {
		case map[string]any:
			if strings.EqualFold(strings.TrimSpace(stringValue(value["tag"])), "at") {
				for _, key := range []string{"user_id", "open_id"} {
					if id := strings.TrimSpace(stringValue(value[key])); id != "" {
						ids = append(ids, id)
					}
				}
			}
			for _, child := range value {
				walk(child)
			}
		case []any:
			for _, child := range value {
				walk(child)
			}
		}
	}
	walk(raw)
	return ids
}

func stringValue(raw any) string {
	if raw == nil {
		return ""
	}
	if value, ok := raw.(string); ok {
		return value
	}
	return fmt.Sprint(raw)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
