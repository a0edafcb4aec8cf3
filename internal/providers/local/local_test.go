package local

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

func TestCompleteWithoutAPIKeyOmitsAuthHeader(t *testing.T) {
	var gotAuth string
	seenAuth := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, seenAuth = r.Header.Get("Authorization"), r.Header.Get("Authorization") != ""
		io.WriteString(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "", 5*time.Second)
	req := &wire.ChatRequest{Model: "llama-3-8b", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}

	resp, err := a.Complete(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)
	assert.False(t, seenAuth, "expected no Authorization header, got %q", gotAuth)
	assert.Equal(t, "ok", *resp.Choices[0].Message.Content)
}

func TestCompleteWithAPIKeySendsBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL, "local-secret", 5*time.Second)
	req := &wire.ChatRequest{Model: "llama-3-8b", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}

	_, err := a.Complete(context.Background(), req, registry.ModelDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer local-secret", gotAuth)
}
