package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/memoh-feishu/internal/channel"
)

func sampleInbound() channel.InboundMessage {
	return channel.InboundMessage{
		Channel:      "feishu",
		AccountID:    "default",
		Message:      channel.Message{ID: "om_1", Text: " hello "},
		ReplyTarget:  "chat:oc_1",
		Sender:       channel.Identity{SubjectID: "ou_1", Attributes: map[string]string{"open_id": "ou_1"}},
		Conversation: channel.Conversation{ID: "oc_1", Type: "group"},
		BotMentioned: true,
		ReceivedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Metadata:     map[string]any{"message_type": "post"},
	}
}

func TestDispatchPostsInboundAndMapsReply(t *testing.T) {
	t.Parallel()

	var got inboundRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != InboundPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hi there","media":[{"url":"https://cdn/a.png","caption":"chart"},{"url":" "}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(nil, srv.URL+"/", "secret-token", time.Second)
	reply, err := c.Dispatch(context.Background(), sampleInbound())
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "feishu", got.Channel)
	assert.Equal(t, "feishu:default:oc_1:ou_1", got.SessionID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "chat:oc_1", got.ReplyTarget)
	assert.True(t, got.Mentioned)
	assert.Equal(t, "group", got.Chat.Type)
	assert.Equal(t, "post", got.MessageType)

	assert.Equal(t, "hi there", reply.Text)
	require.Len(t, reply.Attachments, 1)
	assert.Equal(t, "https://cdn/a.png", reply.Attachments[0].URL)
	assert.Equal(t, "chart", reply.Attachments[0].Caption)
}

func TestDispatchEmptyBodyIsEmptyReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	reply, err := NewClient(nil, srv.URL, "", time.Second).Dispatch(context.Background(), sampleInbound())
	require.NoError(t, err)
	assert.True(t, reply.IsEmpty())
}

func TestDispatchNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(nil, srv.URL, "", time.Second).Dispatch(context.Background(), sampleInbound())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestDispatchRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, " ", "", 0).Dispatch(context.Background(), sampleInbound())
	require.Error(t, err)
}
