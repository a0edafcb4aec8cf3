package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/strategy"
	"github.com/intellirouter/intellirouter/internal/wire"
)

func str(s string) *string { return &s }

type fakeProvider struct {
	name string

	mu        sync.Mutex
	failNext  int
	completed int

	streamChunks []string
	streamDelay  time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (*wire.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	if f.failNext > 0 {
		f.failNext--
		return nil, &testBackendErr{transient: true}
	}
	content := "ok from " + desc.ID
	return &wire.ChatResponse{
		Choices: []wire.Choice{{Message: wire.Message{Content: &content}, FinishReason: wire.FinishStop}},
	}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *wire.ChatRequest, desc registry.ModelDescriptor) (<-chan registry.StreamEvent, error) {
	ch := make(chan registry.StreamEvent)
	go func() {
		defer close(ch)
		for _, c := range f.streamChunks {
			content := c
			select {
			case ch <- registry.StreamEvent{Chunk: &wire.ChatChunk{ID: "up", Choices: []wire.ChunkChoice{{Delta: wire.Delta{Content: content}}}}}:
			case <-ctx.Done():
				return
			}
			if f.streamDelay > 0 {
				select {
				case <-time.After(f.streamDelay):
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case ch <- registry.StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type testBackendErr struct{ transient bool }

func (e *testBackendErr) Error() string { return "backend failure" }

func desc(id, provider string) registry.ModelDescriptor {
	return registry.ModelDescriptor{ID: id, Provider: provider, Health: registry.Healthy, PriorityClass: registry.PriorityNormal}
}

func newTestRouter(t *testing.T, cfg config.RouterConfig, reg *registry.Registry) (*Router, *strategy.Registry) {
	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewRoundRobin())
	strategies.Register(strategy.CostOptimized{})
	strategies.Register(strategy.PerformanceOptimized{})
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 3
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.BaseMS = 1
	}
	return New(reg, strategies, cfg, nil), strategies
}

func TestRouteUnknownModelReturnsNotFound(t *testing.T) {
	reg := registry.New()
	r, _ := newTestRouter(t, config.RouterConfig{DefaultStrategy: "round_robin"}, reg)

	req := &wire.ChatRequest{Model: "does-not-exist", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}
	_, err := r.Route(context.Background(), req, func(string) (registry.Provider, bool) { return nil, false })
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindNotFound, err.Kind)
	assert.Equal(t, "model 'does-not-exist' is not registered", err.Message)
}

func TestRoutePoolAliasWithNoLiveBackendsReturnsModelNotAvailable(t *testing.T) {
	reg := registry.New()
	cfg := config.RouterConfig{
		DefaultStrategy: "round_robin",
		Rules:           map[string][]string{"pool": {"m1", "m2"}},
	}
	r, _ := newTestRouter(t, cfg, reg)

	req := &wire.ChatRequest{Model: "pool", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}
	_, err := r.Route(context.Background(), req, func(string) (registry.Provider, bool) { return nil, false })
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindModelNotAvailable, err.Kind)
}

func TestRouteRoundRobinOverTwoBackends(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.Register(desc("m1", "fake")))
	require.Nil(t, reg.Register(desc("m2", "fake")))

	cfg := config.RouterConfig{
		DefaultStrategy: "round_robin",
		Rules:           map[string][]string{"pool": {"m1", "m2"}},
	}
	r, _ := newTestRouter(t, cfg, reg)
	fp := &fakeProvider{name: "fake"}
	providerFor := func(string) (registry.Provider, bool) { return fp, true }

	var seq []string
	for i := 0; i < 4; i++ {
		req := &wire.ChatRequest{Model: "pool", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}
		resp, err := r.Route(context.Background(), req, providerFor)
		require.Nil(t, err)
		seq = append(seq, resp.Model)
	}
	assert.Equal(t, []string{"m1", "m2", "m1", "m2"}, seq)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.Register(desc("m1", "fake")))

	cfg := config.RouterConfig{
		DefaultStrategy: "round_robin",
		CircuitBreaker:  config.CircuitBreakerConfig{FailureThreshold: 3, CooldownMS: 100},
	}
	r, _ := newTestRouter(t, cfg, reg)
	fp := &fakeProvider{name: "fake", failNext: 3}
	providerFor := func(string) (registry.Provider, bool) { return fp, true }

	req := &wire.ChatRequest{Model: "m1", Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}

	for i := 0; i < 3; i++ {
		_, err := r.Route(context.Background(), req, providerFor)
		require.NotNil(t, err)
	}

	_, err := r.Route(context.Background(), req, providerFor)
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindAllUnavailable, err.Kind)

	time.Sleep(110 * time.Millisecond)

	resp, err := r.Route(context.Background(), req, providerFor)
	require.Nil(t, err)
	assert.Equal(t, "m1", resp.Model)
}

func TestRouteStreamStopsRelayingOnClientCancel(t *testing.T) {
	reg := registry.New()
	require.Nil(t, reg.Register(desc("m1", "fake")))

	cfg := config.RouterConfig{DefaultStrategy: "round_robin"}
	r, _ := newTestRouter(t, cfg, reg)
	fp := &fakeProvider{name: "fake", streamChunks: []string{"Hel", "lo", "!"}, streamDelay: 20 * time.Millisecond}
	providerFor := func(string) (registry.Provider, bool) { return fp, true }

	ctx, cancel := context.WithCancel(context.Background())
	req := &wire.ChatRequest{Model: "m1", Stream: true, Messages: []wire.Message{{Role: wire.RoleUser, Content: str("hi")}}}

	events, err := r.RouteStream(ctx, req, providerFor)
	require.Nil(t, err)

	first := <-events
	require.NotNil(t, first.Chunk)
	assert.Equal(t, "Hel", first.Chunk.Choices[0].Delta.Content)
	cancel()

	_, stillOpen := <-events
	assert.False(t, stillOpen, "channel should close shortly after cancellation")
}
