package channel

import (
	"strings"
	"time"
)

// Type identifies a chat vendor channel.
type Type string

func (t Type) String() string {
	return string(t)
}

// Identity describes the sender of an inbound message.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed attribute value, or "".
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Conversation types reported by the vendor.
const (
	ConversationTypeDirect = "p2p"
	ConversationTypeGroup  = "group"
)

type Conversation struct {
	ID       string
	Type     string
	Name     string
	ThreadID string
	Metadata map[string]any
}

// IsDirect reports whether the conversation is a one-to-one chat.
func (c Conversation) IsDirect() bool {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", ConversationTypeDirect, "private", "direct":
		return true
	default:
		return false
	}
}

type InboundMessage struct {
	Channel      Type
	AccountID    string
	Message      Message
	ReplyTarget  string
	Sender       Identity
	Conversation Conversation
	// BotMentioned is true when the vendor mention list names the bot or the
	// text matches a configured mention pattern.
	BotMentioned bool
	ReceivedAt   time.Time
	Source       string
	Metadata     map[string]any
}

// SessionID is platform:account_id:conversation_id, plus the sender id for group chats.
func (m InboundMessage) SessionID() string {
	senderID := strings.TrimSpace(m.Sender.SubjectID)
	if senderID == "" {
		senderID = strings.TrimSpace(m.Sender.DisplayName)
	}
	return GenerateSessionID(string(m.Channel), m.AccountID, m.Conversation.ID, m.Conversation.Type, senderID)
}

// GenerateSessionID builds a session id; group conversations get one session per sender.
func GenerateSessionID(platform, accountID, conversationID, conversationType, senderID string) string {
	parts := []string{platform, accountID, conversationID}
	ct := strings.ToLower(strings.TrimSpace(conversationType))
	if ct != "" && ct != ConversationTypeDirect && ct != "private" {
		senderID = strings.TrimSpace(senderID)
		if senderID != "" {
			parts = append(parts, senderID)
		}
	}
	return strings.Join(parts, ":")
}

type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

type MessageFormat string

const (
	MessageFormatPlain    MessageFormat = "plain"
	MessageFormatMarkdown MessageFormat = "markdown"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment references remote media. Channels without upload support send
// the URL as text.
type Attachment struct {
	Type    AttachmentType `json:"type"`
	URL     string         `json:"url,omitempty"`
	Name    string         `json:"name,omitempty"`
	Caption string         `json:"caption,omitempty"`
}

type ThreadRef struct {
	ID string `json:"id"`
}

type ReplyRef struct {
	Target    string `json:"target,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type Message struct {
	ID          string         `json:"id,omitempty"`
	Format      MessageFormat  `json:"format,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Thread      *ThreadRef     `json:"thread,omitempty"`
	Reply       *ReplyRef      `json:"reply,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}
