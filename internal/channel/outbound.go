package channel

import (
	"errors"
	"strings"
)

// DefaultTextChunkLimit is the largest text payload sent in one message.
const DefaultTextChunkLimit = 4000

type ChunkerMode string

const (
	ChunkerModeText     ChunkerMode = "text"
	ChunkerModeMarkdown ChunkerMode = "markdown"
)

type OutboundOrder string

const (
	OutboundOrderMediaFirst OutboundOrder = "media_first"
	OutboundOrderTextFirst  OutboundOrder = "text_first"
)

type Chunker func(text string, limit int) []string

type OutboundPolicy struct {
	TextChunkLimit int           `json:"text_chunk_limit,omitempty"`
	ChunkerMode    ChunkerMode   `json:"chunker_mode,omitempty"`
	Chunker        Chunker       `json:"-"`
	MediaOrder     OutboundOrder `json:"media_order,omitempty"`
}

func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = DefaultTextChunkLimit
	}
	if policy.MediaOrder == "" {
		policy.MediaOrder = OutboundOrderTextFirst
	}
	if policy.ChunkerMode == "" {
		policy.ChunkerMode = ChunkerModeMarkdown
	}
	if policy.Chunker == nil {
		policy.Chunker = DefaultChunker(policy.ChunkerMode)
	}
	return policy
}

func DefaultChunker(mode ChunkerMode) Chunker {
	switch mode {
	case ChunkerModeText:
		return ChunkText
	default:
		return ChunkMarkdownText
	}
}

// ChunkText splits text on line boundaries so no chunk exceeds limit runes.
// Lines longer than limit are hard-split.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if chunk := strings.TrimSpace(strings.Join(buf, "\n")); chunk != "" {
			chunks = append(chunks, chunk)
		}
		buf = buf[:0]
		bufLen = 0
	}
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		flush()
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	flush()
	return chunks
}

// ChunkMarkdownText prefers paragraph boundaries and falls back to ChunkText
// for paragraphs longer than limit.
func ChunkMarkdownText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	paragraphs := strings.Split(trimmed, "\n\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(paragraphs))
	bufLen := 0
	for _, para := range paragraphs {
		paraLen := runeLen(para)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 2
		}
		if bufLen+sepLen+paraLen <= limit {
			buf = append(buf, para)
			bufLen += sepLen + paraLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if paraLen <= limit {
			buf = append(buf, para)
			bufLen = paraLen
			continue
		}
		chunks = append(chunks, ChunkText(para, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	if limit <= 0 {
		return []string{line}
	}
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

var errMessageRequired = errors.New("message is required")

// buildOutboundMessages splits msg into text chunks plus one message per
// attachment, ordered by policy.MediaOrder.
func buildOutboundMessages(msg OutboundMessage, policy OutboundPolicy) ([]OutboundMessage, error) {
	policy = NormalizeOutboundPolicy(policy)
	if msg.Message.IsEmpty() {
		return nil, errMessageRequired
	}
	base := msg.Message
	chunker := policy.Chunker
	if base.Format == MessageFormatMarkdown {
		chunker = ChunkMarkdownText
	}

	textMessages := make([]OutboundMessage, 0)
	for _, chunk := range chunker(base.Text, policy.TextChunkLimit) {
		item := base
		item.Text = chunk
		item.Attachments = nil
		textMessages = append(textMessages, OutboundMessage{Target: msg.Target, Message: item})
	}

	mediaMessages := make([]OutboundMessage, 0, len(base.Attachments))
	for _, att := range base.Attachments {
		if strings.TrimSpace(att.URL) == "" {
			continue
		}
		item := base
		item.Text = ""
		item.Format = ""
		item.Attachments = []Attachment{att}
		mediaMessages = append(mediaMessages, OutboundMessage{Target: msg.Target, Message: item})
	}

	if len(textMessages) == 0 && len(mediaMessages) == 0 {
		return nil, errMessageRequired
	}
	if policy.MediaOrder == OutboundOrderMediaFirst {
		return append(mediaMessages, textMessages...), nil
	}
	return append(textMessages, mediaMessages...), nil
}
