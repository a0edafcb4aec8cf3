// Package router implements the Router role's orchestration pipeline
// (spec §4.3): validate, pick a candidate set, run a RoutingStrategy,
// honor the circuit breaker, call the backend with retry, update the
// breaker, and relay the result (streamed or not) back to the caller.
package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/breaker"
	"github.com/intellirouter/intellirouter/internal/concurrency"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/ipc/pubsub"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/providers"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/strategy"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// Router ties the registry, strategy registry, and breaker table into
// the single Route/RouteStream pipeline spec §4.3 describes.
type Router struct {
	registry   *registry.Registry
	strategies *strategy.Registry
	breakers   *breaker.Table
	cfg        config.RouterConfig
	logger     *logrus.Logger
	metrics    *metrics.Registry
	bus        *pubsub.Bus

	mu   sync.Mutex
	sems map[string]*concurrency.Semaphore
}

// AttachMetrics wires a metrics.Registry into the router. Instrumentation
// is strictly additive: a Router with no attached registry behaves
// exactly as before. Not safe to call concurrently with Route/RouteStream.
func (r *Router) AttachMetrics(m *metrics.Registry) {
	r.metrics = m
}

// AttachBus wires a pubsub.Bus into the router so breaker state transitions
// publish onto router.events (spec §6). Not safe to call concurrently with
// Route/RouteStream.
func (r *Router) AttachBus(b *pubsub.Bus) {
	r.bus = b
}

// routerEvent is the payload published on router.events for a breaker state
// transition.
type routerEvent struct {
	Event     string `json:"event"`
	BackendID string `json:"backend_id"`
	State     string `json:"state"`
}

// New builds a Router. cfg.CircuitBreaker and cfg.Retry govern the
// breaker table and retry policy respectively.
func New(reg *registry.Registry, strategies *strategy.Registry, cfg config.RouterConfig, logger *logrus.Logger) *Router {
	return &Router{
		registry:   reg,
		strategies: strategies,
		breakers: breaker.NewTable(breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Cooldown:         time.Duration(cfg.CircuitBreaker.CooldownMS) * time.Millisecond,
		}),
		cfg:    cfg,
		logger: logger,
		sems:   make(map[string]*concurrency.Semaphore),
	}
}

func (r *Router) semaphore(id string) *concurrency.Semaphore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sems[id]
	if !ok {
		limit := r.cfg.MaxInFlightPerModel
		if limit <= 0 {
			limit = 64
		}
		s = concurrency.NewSemaphore(limit)
		r.sems[id] = s
	}
	return s
}

// requiredCapabilities derives the capability tags a request needs from
// the features it uses (spec §4.3 step 2).
func requiredCapabilities(req *wire.ChatRequest) []string {
	var caps []string
	if len(req.Functions) > 0 {
		caps = append(caps, "supports_functions")
	}
	if len(req.Tools) > 0 {
		caps = append(caps, "supports_tools")
	}
	if req.Stream {
		caps = append(caps, "supports_streaming")
	}
	return caps
}

// candidateSet resolves the candidate descriptors for req.Model, first
// consulting the static router.rules alias table (a supplemented
// feature: pool ids like "pool" that map to an explicit backend list)
// before falling back to ModelRegistry's own exact-id/capability lookup.
func (r *Router) candidateSet(req *wire.ChatRequest) ([]registry.ModelDescriptor, *apierr.Error) {
	if ids, ok := r.cfg.Rules[req.Model]; ok {
		var out []registry.ModelDescriptor
		for _, id := range ids {
			if d, err := r.registry.Get(id); err == nil {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if len(out) == 0 {
			return nil, apierr.New(apierr.KindModelNotAvailable, "no registered backend for pool '"+req.Model+"'")
		}
		return out, nil
	}

	candidates := r.registry.Candidates(req.Model, requiredCapabilities(req))
	if len(candidates) == 0 {
		return nil, apierr.New(apierr.KindNotFound, "model '"+req.Model+"' is not registered")
	}
	return candidates, nil
}

// pickBackend runs the configured strategy over candidates, skipping any
// backend whose breaker denies the call and re-running the strategy over
// the remainder, per spec §4.3 step 4.
func (r *Router) pickBackend(candidates []registry.ModelDescriptor, req *wire.ChatRequest) (registry.ModelDescriptor, *apierr.Error) {
	strat, ok := r.strategies.Get(r.cfg.DefaultStrategy)
	if !ok {
		return registry.ModelDescriptor{}, apierr.New(apierr.KindInternal, "routing strategy '"+r.cfg.DefaultStrategy+"' is not registered")
	}

	remaining := make([]registry.ModelDescriptor, len(candidates))
	copy(remaining, candidates)

	for len(remaining) > 0 {
		chosenID := strat.Choose(remaining, req)
		if chosenID == "" {
			break
		}
		if r.breakers.Allow(chosenID) {
			for _, d := range remaining {
				if d.ID == chosenID {
					return d, nil
				}
			}
			break
		}
		remaining = removeID(remaining, chosenID)
	}
	return registry.ModelDescriptor{}, apierr.New(apierr.KindAllUnavailable, "all candidate backends are unavailable")
}

func removeID(descs []registry.ModelDescriptor, id string) []registry.ModelDescriptor {
	out := make([]registry.ModelDescriptor, 0, len(descs))
	for _, d := range descs {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}

// isTransient classifies an adapter error per spec §4.3 step 5: 5xx,
// connection failure, and 429 retry; everything else does not.
func isTransient(err error) bool {
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	// no HTTP status attached: treat as a transport-level failure (dial
	// error, reset connection, timeout) and allow a retry.
	return true
}

// callWithRetry calls provider.Complete, retrying transient failures with
// the base·2^attempt ±25% jitter schedule up to cfg.Retry.MaxRetries
// times.
func (r *Router) callWithRetry(ctx context.Context, p registry.Provider, req *wire.ChatRequest, desc registry.ModelDescriptor) (*wire.ChatResponse, *apierr.Error) {
	base := time.Duration(r.cfg.Retry.BaseMS) * time.Millisecond
	maxTries := uint(r.cfg.Retry.MaxRetries + 1)

	resp, err := backoff.Retry(ctx, func() (*wire.ChatResponse, error) {
		resp, callErr := p.Complete(ctx, req, desc)
		if callErr == nil {
			return resp, nil
		}
		if !isTransient(callErr) {
			return nil, backoff.Permanent(callErr)
		}
		return nil, callErr
	}, backoff.WithBackOff(newFormulaBackOff(base, r.cfg.Retry.JitterPct)), backoff.WithMaxTries(maxTries))

	if err != nil {
		return nil, classifyBackendErr(err)
	}
	return resp, nil
}

func classifyBackendErr(err error) *apierr.Error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.KindTimeout, "backend call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return apierr.New(apierr.KindCancelled, "request cancelled")
	}
	return apierr.BackendError(err.Error(), isTransient(err), err)
}

// synthesize builds the degraded-service "content_filter" apology
// response (spec §4.3 step 7).
func synthesize(req *wire.ChatRequest) *wire.ChatResponse {
	apology := "I'm unable to process this request right now. Please try again shortly."
	return &wire.ChatResponse{
		ID:      "router-" + uuid.New().String(),
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []wire.Choice{{Message: wire.Message{Role: wire.RoleAssistant, Content: &apology}, FinishReason: wire.FinishContentFilter}},
	}
}

// Route implements the non-streaming half of spec §4.3's route()
// operation.
func (r *Router) Route(ctx context.Context, req *wire.ChatRequest, providerFor func(name string) (registry.Provider, bool)) (*wire.ChatResponse, *apierr.Error) {
	if verr := wire.Validate(req); verr != nil {
		return nil, verr
	}

	candidates, cerr := r.candidateSet(req)
	if cerr != nil {
		return r.degraded(req, cerr)
	}

	desc, perr := r.pickBackend(candidates, req)
	if perr != nil {
		return r.degraded(req, perr)
	}

	sem := r.semaphore(desc.ID)
	if !sem.TryAcquire() {
		return nil, apierr.New(apierr.KindBackendOverloaded, "backend '"+desc.ID+"' has no free capacity")
	}
	defer sem.Release()

	p, ok := providerFor(desc.Provider)
	if !ok {
		return nil, apierr.New(apierr.KindInternal, "no provider adapter registered for '"+desc.Provider+"'")
	}

	start := time.Now()
	resp, callErr := r.callWithRetry(ctx, p, req, desc)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RouteLatencySeconds.WithLabelValues(desc.ID).Observe(elapsed.Seconds())
	}
	if callErr != nil {
		r.breakers.OnFailure(desc.ID)
		r.observeBreaker(desc.ID)
		if r.metrics != nil {
			r.metrics.RouteRequestsTotal.WithLabelValues(desc.ID, "failure").Inc()
		}
		return nil, callErr
	}
	r.breakers.OnSuccess(desc.ID)
	r.observeBreaker(desc.ID)
	r.registry.RecordLatency(desc.ID, float64(elapsed.Milliseconds()))
	if r.metrics != nil {
		r.metrics.RouteRequestsTotal.WithLabelValues(desc.ID, "success").Inc()
	}

	resp.Model = desc.ID
	return resp, nil
}

// observeBreaker reports the backend's post-update breaker state, used
// by both Route and RouteStream right after OnSuccess/OnFailure.
func (r *Router) observeBreaker(backendID string) {
	state := r.breakers.Snapshot(backendID).State
	if r.metrics != nil {
		r.metrics.BreakerStateChanges.WithLabelValues(backendID, string(state)).Inc()
	}
	if r.bus != nil {
		_ = r.bus.Publish(context.Background(), "router.events", routerEvent{
			Event: "breaker_state_changed", BackendID: backendID, State: string(state),
		})
	}
}

func (r *Router) degraded(req *wire.ChatRequest, cause *apierr.Error) (*wire.ChatResponse, *apierr.Error) {
	switch r.cfg.DegradedServiceMode {
	case config.DegradedSynthetic:
		return synthesize(req), nil
	default:
		return nil, cause
	}
}

// ChunkEvent is one item of a RouteStream's relay to the caller.
type ChunkEvent struct {
	Chunk *wire.ChatChunk
	Err   *apierr.Error
	Done  bool
}

// RouteStream implements the streaming half of route(): it forwards the
// chosen backend's chunks verbatim aside from rewriting id/model, and
// stops relaying within one chunk-arrival tick of ctx being cancelled
// (spec §4.3 step 8, §8 scenario 3).
func (r *Router) RouteStream(ctx context.Context, req *wire.ChatRequest, providerFor func(name string) (registry.Provider, bool)) (<-chan ChunkEvent, *apierr.Error) {
	if verr := wire.Validate(req); verr != nil {
		return nil, verr
	}

	candidates, cerr := r.candidateSet(req)
	if cerr != nil {
		return nil, cerr
	}
	desc, perr := r.pickBackend(candidates, req)
	if perr != nil {
		return nil, perr
	}

	sem := r.semaphore(desc.ID)
	if !sem.TryAcquire() {
		return nil, apierr.New(apierr.KindBackendOverloaded, "backend '"+desc.ID+"' has no free capacity")
	}
	if r.metrics != nil {
		r.metrics.BackendInFlight.WithLabelValues(desc.ID).Inc()
	}

	p, ok := providerFor(desc.Provider)
	if !ok {
		sem.Release()
		if r.metrics != nil {
			r.metrics.BackendInFlight.WithLabelValues(desc.ID).Dec()
		}
		return nil, apierr.New(apierr.KindInternal, "no provider adapter registered for '"+desc.Provider+"'")
	}

	upstream, err := p.Stream(ctx, req, desc)
	if err != nil {
		sem.Release()
		if r.metrics != nil {
			r.metrics.BackendInFlight.WithLabelValues(desc.ID).Dec()
		}
		r.breakers.OnFailure(desc.ID)
		r.observeBreaker(desc.ID)
		return nil, classifyBackendErr(err)
	}

	routerID := "router-" + uuid.New().String()
	out := make(chan ChunkEvent)
	go func() {
		defer close(out)
		defer sem.Release()
		if r.metrics != nil {
			defer r.metrics.BackendInFlight.WithLabelValues(desc.ID).Dec()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-upstream:
				if !ok {
					return
				}
				if ev.Err != nil {
					r.breakers.OnFailure(desc.ID)
					r.observeBreaker(desc.ID)
					if r.metrics != nil {
						r.metrics.RouteRequestsTotal.WithLabelValues(desc.ID, "failure").Inc()
					}
					select {
					case out <- ChunkEvent{Err: classifyBackendErr(ev.Err)}:
					case <-ctx.Done():
					}
					return
				}
				if ev.Done {
					r.breakers.OnSuccess(desc.ID)
					r.observeBreaker(desc.ID)
					if r.metrics != nil {
						r.metrics.RouteRequestsTotal.WithLabelValues(desc.ID, "success").Inc()
					}
					select {
					case out <- ChunkEvent{Done: true}:
					case <-ctx.Done():
					}
					return
				}
				chunk := ev.Chunk
				chunk.ID = routerID
				chunk.Model = desc.ID
				select {
				case out <- ChunkEvent{Chunk: chunk}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
