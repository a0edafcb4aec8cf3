// Package registry implements the ModelRegistry (spec §4.2): the set of
// known backends, their capability metadata, and health state, guarded by
// a single-writer many-reader discipline (spec §5) the way the teacher's
// Toolkit provider registry guarded its provider map with a plain
// sync.RWMutex rather than a lock-free structure.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/ipc/pubsub"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// PriorityClass orders descriptors within PerformanceOptimized and the
// default list() ordering.
type PriorityClass string

const (
	PriorityLow    PriorityClass = "low"
	PriorityNormal PriorityClass = "normal"
	PriorityHigh   PriorityClass = "high"
)

var priorityRank = map[PriorityClass]int{PriorityLow: 0, PriorityNormal: 1, PriorityHigh: 2}

// HealthState is a backend's last observed health.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// Capabilities describes what a backend can do.
type Capabilities struct {
	ContextLength         int
	SupportsStreaming     bool
	SupportsFunctions     bool
	SupportsTools         bool
	ModalityFlags         []string
	AdditionalCapabilities map[string]bool
}

// ModelDescriptor is one entry of the registry (spec §3).
type ModelDescriptor struct {
	ID                  string
	Provider            string
	Endpoint            string
	Capabilities        Capabilities
	AdditionalMetadata  map[string]string
	CostPer1kPrompt     float64
	CostPer1kCompletion float64
	LatencyP50Ms        float64
	PriorityClass       PriorityClass

	Health     HealthState
	ObservedAt time.Time
}

// Provider converts a validated ChatRequest into a backend call and streams
// ChatChunks back. Implementations live under internal/providers.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *wire.ChatRequest, descriptor ModelDescriptor) (*wire.ChatResponse, error)
	Stream(ctx context.Context, req *wire.ChatRequest, descriptor ModelDescriptor) (<-chan StreamEvent, error)
}

// StreamEvent is one item of a provider's internal chunk stream, terminated
// by either a Done event or a non-nil Err.
type StreamEvent struct {
	Chunk *wire.ChatChunk
	Done  bool
	Err   error
}

// Filter narrows list() results (spec §4.2).
type Filter struct {
	Provider             string
	RequiredCapabilities []string
	HealthyOnly          bool
}

// Registry holds descriptors and their provider adapters.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]ModelDescriptor
	providers map[string]Provider

	// latency samples feed a rolling p50 estimate per model, supplementing
	// the static LatencyP50Ms seeded at registration (spec-note "latency
	// sampler" in the expanded spec).
	samples map[string][]float64

	bus *pubsub.Bus
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		models:    make(map[string]ModelDescriptor),
		providers: make(map[string]Provider),
		samples:   make(map[string][]float64),
	}
}

// AttachBus wires a pubsub.Bus into the registry so Register, Deregister,
// and UpdateHealth publish onto registry.events (spec §4.2 publish_updates(),
// spec §6). A Registry with no attached bus behaves exactly as before. Not
// safe to call concurrently with the mutating methods.
func (r *Registry) AttachBus(b *pubsub.Bus) {
	r.bus = b
}

// registryEvent is the payload published on registry.events for each
// mutation.
type registryEvent struct {
	Event      string      `json:"event"`
	ModelID    string      `json:"model_id"`
	Health     HealthState `json:"health,omitempty"`
	ObservedAt time.Time   `json:"observed_at,omitempty"`
}

func (r *Registry) publish(event string, id string, health HealthState, observedAt time.Time) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(context.Background(), "registry.events", registryEvent{
		Event: event, ModelID: id, Health: health, ObservedAt: observedAt,
	})
}

// RegisterProvider attaches a provider adapter under its Name().
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Provider looks up a registered provider adapter by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Register inserts a descriptor. Re-registering the same id with an
// identical payload is a no-op; a differing payload is rejected.
func (r *Registry) Register(d ModelDescriptor) *apierr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[d.ID]; ok {
		if descriptorsEqual(existing, d) {
			return nil
		}
		return apierr.New(apierr.KindValidation, "model id already registered with a different descriptor: "+d.ID)
	}
	if d.Health == "" {
		d.Health = Healthy
	}
	if d.ObservedAt.IsZero() {
		d.ObservedAt = time.Now()
	}
	r.models[d.ID] = d
	r.publish("registered", d.ID, d.Health, d.ObservedAt)
	return nil
}

func descriptorsEqual(a, b ModelDescriptor) bool {
	a.Health, b.Health = "", ""
	a.ObservedAt, b.ObservedAt = time.Time{}, time.Time{}
	return a.ID == b.ID && a.Provider == b.Provider && a.Endpoint == b.Endpoint &&
		a.CostPer1kPrompt == b.CostPer1kPrompt && a.CostPer1kCompletion == b.CostPer1kCompletion &&
		a.PriorityClass == b.PriorityClass
}

// Deregister removes a descriptor.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
	delete(r.samples, id)
	r.publish("deregistered", id, "", time.Time{})
}

// Get returns a single descriptor by id.
func (r *Registry) Get(id string) (ModelDescriptor, *apierr.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[id]
	if !ok {
		return ModelDescriptor{}, apierr.New(apierr.KindNotFound, "model '"+id+"' is not registered")
	}
	return d, nil
}

// List returns descriptors matching filter, ordered deterministically by
// (priority_class desc, id asc) per spec §4.2.
func (r *Registry) List(filter Filter) []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		if filter.Provider != "" && d.Provider != filter.Provider {
			continue
		}
		if filter.HealthyOnly && d.Health != Healthy {
			continue
		}
		if !hasAllCapabilities(d, filter.RequiredCapabilities) {
			continue
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityRank[out[i].PriorityClass], priorityRank[out[j].PriorityClass]
		if pi != pj {
			return pi > pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func hasAllCapabilities(d ModelDescriptor, required []string) bool {
	for _, tag := range required {
		if !d.Capabilities.AdditionalCapabilities[tag] {
			return false
		}
	}
	return true
}

// Candidates implements the router's candidate-set step (spec §4.3 step 2):
// exact model-id match first, falling back to capability-tag matching. A
// request that requires no capability tags has no fallback, so an unknown
// id yields no candidates.
func (r *Registry) Candidates(modelID string, requiredCapabilities []string) []ModelDescriptor {
	if d, err := r.Get(modelID); err == nil {
		return []ModelDescriptor{d}
	}
	if len(requiredCapabilities) == 0 {
		return nil
	}
	return r.List(Filter{RequiredCapabilities: requiredCapabilities})
}

// UpdateHealth records a health transition.
func (r *Registry) UpdateHealth(id string, health HealthState, observedAt time.Time) *apierr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.models[id]
	if !ok {
		return apierr.New(apierr.KindNotFound, "model '"+id+"' is not registered")
	}
	d.Health = health
	d.ObservedAt = observedAt
	r.models[id] = d
	r.publish("health_changed", id, health, observedAt)
	return nil
}

// RecordLatency folds an observed call latency into the rolling p50
// estimate for id, and updates the descriptor's LatencyP50Ms.
func (r *Registry) RecordLatency(id string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := append(r.samples[id], ms)
	if len(samples) > 50 {
		samples = samples[len(samples)-50:]
	}
	r.samples[id] = samples

	if d, ok := r.models[id]; ok {
		d.LatencyP50Ms = median(samples)
		r.models[id] = d
	}
}

func median(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
