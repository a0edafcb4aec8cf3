// Package openai adapts the OpenAI chat-completions API to
// registry.Provider, grounded on Toolkit/providers/claude/client.go's
// client shape and header setup.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/intellirouter/intellirouter/internal/providers"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// Adapter calls an OpenAI-compatible /v1/chat/completions endpoint.
type Adapter struct {
	providers.Base
}

// New builds an Adapter pointed at baseURL (e.g. https://api.openai.com)
// authenticating with apiKey as a Bearer token.
func New(baseURL, apiKey string, timeout time.Duration) *Adapter {
	return &Adapter{Base: providers.NewBase("openai", baseURL, apiKey, timeout)}
}

// Complete implements registry.Provider.
func (a *Adapter) Complete(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (*wire.ChatResponse, error) {
	var resp wire.ChatResponse
	if err := a.DoJSON(ctx, "/v1/chat/completions", req, &resp, a.authHeader); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &resp, nil
}

// Stream implements registry.Provider.
func (a *Adapter) Stream(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (<-chan registry.StreamEvent, error) {
	streamReq := *req
	streamReq.Stream = true

	ch := make(chan registry.StreamEvent)
	go func() {
		defer close(ch)
		err := a.DoStream(ctx, "/v1/chat/completions", &streamReq, a.authHeader, func(frame []byte) error {
			chunk, perr := providers.DecodeChunk(frame)
			if perr != nil {
				return perr
			}
			providers.SendEvent(ctx, ch, registry.StreamEvent{Chunk: chunk})
			return nil
		})
		if err != nil {
			providers.SendEvent(ctx, ch, registry.StreamEvent{Err: fmt.Errorf("openai: %w", err)})
			return
		}
		providers.SendEvent(ctx, ch, registry.StreamEvent{Done: true})
	}()
	return ch, nil
}

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.APIKey())
}
