// Package local adapts a self-hosted OpenAI-compatible inference server
// (vLLM, Ollama's /v1 shim, llama.cpp server) to registry.Provider.
// Request/response shapes match openai's adapter exactly; the only
// difference is no bearer auth is assumed by default, grounded on the
// teacher's own local-model entries in model_registry.providers
// (internal/config.ProviderConfig.APIKeyEnv left blank for local
// backends).
package local

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/intellirouter/intellirouter/internal/providers"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// Adapter calls a local OpenAI-compatible /v1/chat/completions endpoint.
type Adapter struct {
	providers.Base
}

// New builds an Adapter pointed at baseURL. apiKey may be empty; when set
// it is sent as a Bearer token the way a reverse-proxied local deployment
// might still require one.
func New(baseURL, apiKey string, timeout time.Duration) *Adapter {
	return &Adapter{Base: providers.NewBase("local", baseURL, apiKey, timeout)}
}

// Complete implements registry.Provider.
func (a *Adapter) Complete(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (*wire.ChatResponse, error) {
	var resp wire.ChatResponse
	if err := a.DoJSON(ctx, "/v1/chat/completions", req, &resp, a.authHeader); err != nil {
		return nil, fmt.Errorf("local: %w", err)
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
			providers.SendEvent(ctx, ch, registry.StreamEvent{Err: fmt.Errorf("local: %w", err)})
			return
		}
		providers.SendEvent(ctx, ch, registry.StreamEvent{Done: true})
	}()
	return ch, nil
}

func (a *Adapter) authHeader(req *http.Request) {
	if a.APIKey() != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey())
	}
}
