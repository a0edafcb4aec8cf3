// Package anthropic adapts the Anthropic Messages API to
// registry.Provider, translating the OpenAI-shaped wire.ChatRequest into
// Anthropic's native request/response format. Grounded directly on
// Toolkit/providers/claude/client.go (x-api-key/anthropic-version
// headers, ChatCompletion request building).
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/intellirouter/intellirouter/internal/providers"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

const anthropicVersion = "2023-06-01"

// Adapter calls the Anthropic /v1/messages endpoint.
type Adapter struct {
	providers.Base
}

// New builds an Adapter pointed at baseURL (e.g. https://api.anthropic.com).
func New(baseURL, apiKey string, timeout time.Duration) *Adapter {
	return &Adapter{Base: providers.NewBase("anthropic", baseURL, apiKey, timeout)}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []anthropicMessage  `json:"messages"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	StopSeqs    []string            `json:"stop_sequences,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func toAnthropicRequest(req *wire.ChatRequest) anthropicRequest {
	out := anthropicRequest{Model: req.Model, MaxTokens: 4096}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	out.Temperature = req.Temperature
	out.TopP = req.TopP
	out.StopSeqs = req.Stop

	for _, m := range req.Messages {
		if m.Role == wire.RoleSystem {
			if m.Content != nil {
				out.System = *m.Content
			}
			continue
		}
		content := ""
		if m.Content != nil {
			content = *m.Content
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: string(m.Role), Content: content})
	}
	return out
}

func fromAnthropicResponse(resp anthropicResponse) *wire.ChatResponse {
	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	finish := wire.FinishStop
	if resp.StopReason == "max_tokens" {
		finish = wire.FinishLength
	}
	return &wire.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []wire.Choice{{
			Message:      wire.Message{Role: wire.RoleAssistant, Content: &text},
			FinishReason: finish,
		}},
		Usage: wire.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// Complete implements registry.Provider.
func (a *Adapter) Complete(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (*wire.ChatResponse, error) {
	var resp anthropicResponse
	if err := a.DoJSON(ctx, "/v1/messages", toAnthropicRequest(req), &resp, a.authHeader); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return fromAnthropicResponse(resp), nil
}

// Stream implements registry.Provider, re-framing Anthropic's
// content_block_delta events as wire.ChatChunk frames.
func (a *Adapter) Stream(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (<-chan registry.StreamEvent, error) {
	anthReq := toAnthropicRequest(req)
	anthReq.Stream = true

	ch := make(chan registry.StreamEvent)
	go func() {
		defer close(ch)
		err := a.DoStream(ctx, "/v1/messages", anthReq, a.authHeader, func(frame []byte) error {
			var ev anthropicStreamEvent
			if unmarshalErr := providers.DecodeInto(frame, &ev); unmarshalErr != nil {
				return unmarshalErr
			}
			if ev.Type != "content_block_delta" || ev.Delta.Text == "" {
				return nil
			}
			chunk := &wire.ChatChunk{
				Model: req.Model,
				Choices: []wire.ChunkChoice{{
					Delta: wire.Delta{Content: ev.Delta.Text},
				}},
			}
			providers.SendEvent(ctx, ch, registry.StreamEvent{Chunk: chunk})
			return nil
		})
		if err != nil {
			providers.SendEvent(ctx, ch, registry.StreamEvent{Err: fmt.Errorf("anthropic: %w", err)})
			return
		}
		providers.SendEvent(ctx, ch, registry.StreamEvent{Done: true})
	}()
	return ch, nil
}

func (a *Adapter) authHeader(req *http.Request) {
	req.Header.Set("x-api-key", a.APIKey())
	req.Header.Set("anthropic-version", anthropicVersion)
}
