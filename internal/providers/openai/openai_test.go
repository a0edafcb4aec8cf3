package openai

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

func TestCompleteSendsBearerTokenAndParsesResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "sk-test", 5*time.Second)
	req := &wire.ChatRequest{Model: "gpt-4o", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hello")}}}

	resp, err := a.Complete(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi", *resp.Choices[0].Message.Content)
}

func TestCompletePropagatesBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"overloaded"}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "sk-test", 5*time.Second)
	req := &wire.ChatRequest{Model: "gpt-4o", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hello")}}}

	_, err := a.Complete(context.Background(), req, registry.ModelDescriptor{})
	assert.Error(t, err)
}

func TestStreamEmitsChunksThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
		flusher.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	a := New(srv.URL, "sk-test", 5*time.Second)
	req := &wire.ChatRequest{Model: "gpt-4o", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hello")}}, Stream: true}

	events, err := a.Stream(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)

	var chunks []string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			continue
		}
		require.NotNil(t, ev.Chunk)
		chunks = append(chunks, ev.Chunk.Choices[0].Delta.Content)
	}
	assert.Equal(t, []string{"he", "llo"}, chunks)
	assert.True(t, done)
}
