// Package providers holds the concrete registry.Provider adapters for the
// backends IntelliRouter dispatches to, plus the shared HTTP/SSE plumbing
// every adapter embeds (spec §4.2). Each adapter package (openai,
// anthropic, local) translates a wire.ChatRequest into the backend's
// native request shape, issues the HTTP call via Base, and translates the
// response back.
//
// Grounded on Toolkit/providers/claude/client.go's doRequest helper and
// Toolkit/Commons/response/response.go's StreamingParser SSE framing.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// HTTPError carries the backend's status code so callers (the router's
// retry classifier) can tell a transient failure from a permanent one
// without string-matching error text.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Base is the shared HTTP request/response plumbing every concrete
// adapter embeds.
type Base struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewBase builds a Base pointed at baseURL, authenticating with apiKey
// (interpretation of the key is up to the embedding adapter's header
// callback).
func NewBase(name, baseURL, apiKey string, timeout time.Duration) Base {
	return Base{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements the provider-name half of registry.Provider.
func (b *Base) Name() string { return b.name }

// APIKey exposes the configured credential to the embedding adapter's
// header callback.
func (b *Base) APIKey() string { return b.apiKey }

// HeaderFunc sets request headers (auth scheme, vendor-specific version
// headers) before the request is sent.
type HeaderFunc func(*http.Request)

// DoJSON marshals payload, posts it to path, and decodes the JSON
// response body into result.
func (b *Base) DoJSON(ctx context.Context, path string, payload any, result any, applyHeaders HeaderFunc) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if applyHeaders != nil {
		applyHeaders(req)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

// DoStream issues the request the same way DoJSON does but hands each SSE
// `data:` frame to onFrame as it arrives, stopping at the `[DONE]`
// sentinel or resp.Body EOF, whichever comes first.
func (b *Base) DoStream(ctx context.Context, path string, payload any, applyHeaders HeaderFunc, onFrame func([]byte) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if applyHeaders != nil {
		applyHeaders(req)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}
		if err := onFrame([]byte(data)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// DecodeChunk parses one SSE data frame as a wire.ChatChunk.
func DecodeChunk(frame []byte) (*wire.ChatChunk, error) {
	var chunk wire.ChatChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, fmt.Errorf("decode stream chunk: %w", err)
	}
	return &chunk, nil
}

// DecodeInto parses one SSE data frame into an adapter-specific shape,
// for backends (Anthropic) whose stream events are not already ChatChunk.
func DecodeInto(frame []byte, dest any) error {
	if err := json.Unmarshal(frame, dest); err != nil {
		return fmt.Errorf("decode stream event: %w", err)
	}
	return nil
}

// SendEvent pushes ev onto ch while honoring ctx cancellation, so a
// blocked consumer cannot wedge the adapter's streaming goroutine.
func SendEvent(ctx context.Context, ch chan<- registry.StreamEvent, ev registry.StreamEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
