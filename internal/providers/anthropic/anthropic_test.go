package anthropic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

func str(s string) *string { return &s }

func TestCompleteSendsAnthropicHeadersAndTranslatesResponse(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		io.WriteString(w, `{"id":"msg_1","model":"claude-3-5-sonnet-20240620",
			"content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "sk-ant-test", 5*time.Second)
	req := &wire.ChatRequest{
		Model:    "claude-3-5-sonnet-20240620",
		Messages: []wire.Message{{Role: wire.RoleSystem, Content: str("be terse")}, {Role: wire.RoleUser, Content: str("hello")}},
	}

	resp, err := a.Complete(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", gotKey)
	assert.Equal(t, anthropicVersion, gotVersion)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", *resp.Choices[0].Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestStreamTranslatesContentBlockDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	a := New(srv.URL, "sk-ant-test", 5*time.Second)
	req := &wire.ChatRequest{Model: "claude-3-5-sonnet-20240620", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hello")}}}

	events, err := a.Stream(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)

	var chunks []string
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Chunk != nil {
			chunks = append(chunks, ev.Chunk.Choices[0].Delta.Content)
		}
	}
	assert.Equal(t, []string{"hi"}, chunks)
}
