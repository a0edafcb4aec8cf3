// Package strategy implements the pluggable RoutingStrategy variants of
// spec §4.3 step 3 and the design note in spec §9: strategies are tagged
// variants plus a name-keyed registry, grounded on the teacher's
// ProviderRegistry pattern (Toolkit/pkg/toolkit/registry.go) rather than a
// class hierarchy.
package strategy

import (
	"sort"
	"strings"
	"sync"

	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// Strategy chooses one descriptor id from a candidate set, or returns ""
// if it cannot (an exhausted Fallback chain, an empty set, etc).
type Strategy interface {
	Name() string
	Choose(candidates []registry.ModelDescriptor, req *wire.ChatRequest) string
}

// Registry is a name-keyed store of Strategy instances.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Strategy
}

// NewRegistry builds an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Strategy)}
}

// Register adds or replaces a strategy under its Name().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.Name()] = s
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[name]
	return s, ok
}

// CostOptimized picks the descriptor minimizing estimated request cost,
// breaking ties by id ascending (spec §8).
type CostOptimized struct {
	// EstimatedPromptTokens, when non-zero, replaces the prompt-token
	// estimate derived from the messages; the completion side uses the
	// request's max_tokens, or 1000 when unset.
	EstimatedPromptTokens int
}

func (s CostOptimized) Name() string { return "cost_optimized" }

func (s CostOptimized) Choose(candidates []registry.ModelDescriptor, req *wire.ChatRequest) string {
	if len(candidates) == 0 {
		return ""
	}
	promptTokens := s.EstimatedPromptTokens
	if promptTokens == 0 {
		promptTokens = estimatePromptTokens(req)
	}
	maxTokens := 1000
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	best := candidates[0]
	bestCost := cost(best, promptTokens, maxTokens)
	for _, c := range candidates[1:] {
		cc := cost(c, promptTokens, maxTokens)
		if cc < bestCost || (cc == bestCost && c.ID < best.ID) {
			best, bestCost = c, cc
		}
	}
	return best.ID
}

func cost(d registry.ModelDescriptor, promptTokens, maxTokens int) float64 {
	return d.CostPer1kPrompt*float64(promptTokens)/1000 + d.CostPer1kCompletion*float64(maxTokens)/1000
}

func estimatePromptTokens(req *wire.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		if m.Content != nil {
			total += len(*m.Content) / 4
		}
	}
	if total == 0 {
		return 1
	}
	return total
}

// PerformanceOptimized picks the minimum latency_p50_ms among descriptors
// with priority_class ≥ normal (spec §4.3 step 3).
type PerformanceOptimized struct{}

func (s PerformanceOptimized) Name() string { return "performance_optimized" }

func (s PerformanceOptimized) Choose(candidates []registry.ModelDescriptor, _ *wire.ChatRequest) string {
	var best *registry.ModelDescriptor
	for i := range candidates {
		c := &candidates[i]
		if c.PriorityClass == registry.PriorityLow {
			continue
		}
		if best == nil || c.LatencyP50Ms < best.LatencyP50Ms ||
			(c.LatencyP50Ms == best.LatencyP50Ms && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// RoundRobin cycles through a candidate set keyed by its signature (the
// sorted list of candidate ids), so disjoint pools keep independent
// counters (spec §4.3 step 3, §8 scenario 2).
type RoundRobin struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewRoundRobin builds an empty RoundRobin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: make(map[string]int)}
}

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) Choose(candidates []registry.ModelDescriptor, _ *wire.ChatRequest) string {
	if len(candidates) == 0 {
		return ""
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	signature := strings.Join(ids, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.counters[signature] % len(ids)
	s.counters[signature]++
	return ids[idx]
}

// ContentClassifier extracts tags describing the content of a message, used
// by ContentBased to match descriptors against request intent.
type ContentClassifier func(lastUserMessage string) []string

// ContentBased picks the descriptor whose capability/content tags overlap
// most with the classifier's output for the last user message, ties broken
// by id ascending (spec §4.3 step 3).
type ContentBased struct {
	Classify ContentClassifier
}

func (s ContentBased) Name() string { return "content_based" }

func (s ContentBased) Choose(candidates []registry.ModelDescriptor, req *wire.ChatRequest) string {
	if len(candidates) == 0 || s.Classify == nil {
		return ""
	}
	lastUser := lastUserMessage(req)
	tags := s.Classify(lastUser)
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	var best *registry.ModelDescriptor
	bestOverlap := -1
	for i := range candidates {
		c := &candidates[i]
		overlap := overlapCount(c, tagSet)
		if overlap > bestOverlap || (overlap == bestOverlap && best != nil && c.ID < best.ID) {
			best, bestOverlap = c, overlap
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func overlapCount(d *registry.ModelDescriptor, tagSet map[string]bool) int {
	count := 0
	for tag := range d.Capabilities.AdditionalCapabilities {
		if tagSet[tag] {
			count++
		}
	}
	for _, tag := range strings.Split(d.AdditionalMetadata["content_tags"], ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" && tagSet[tag] {
			count++
		}
	}
	return count
}

func lastUserMessage(req *wire.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == wire.RoleUser && req.Messages[i].Content != nil {
			return *req.Messages[i].Content
		}
	}
	return ""
}

// Fallback tries each inner strategy in order until one returns a choice
// (spec §4.3 step 3, §9).
type Fallback struct {
	Inner []Strategy
}

func (s Fallback) Name() string { return "fallback" }

func (s Fallback) Choose(candidates []registry.ModelDescriptor, req *wire.ChatRequest) string {
	for _, inner := range s.Inner {
		if choice := inner.Choose(candidates, req); choice != "" {
			return choice
		}
	}
	return ""
}
