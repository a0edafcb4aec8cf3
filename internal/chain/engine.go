// Package chain implements the ChainEngine (spec §4.4): topological
// scheduling of a Chain's nodes with per-node state machine, streaming
// events, and an optional keyed-lock response cache. It is adapted from
// the teacher's internal/agentic workflow engine (single-path graph
// traversal with checkpoints and retry) generalized into a concurrent
// fan-out/fan-in scheduler: each node tracks how many incoming edges are
// still unsettled and is dispatched as soon as the last one settles, so
// independent nodes run concurrently rather than following one
// current-node pointer.
package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/ipc/pubsub"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// NodeState is one state of a node's execution state machine (spec §4.4).
type NodeState string

const (
	Pending   NodeState = "pending"
	Ready     NodeState = "ready"
	Running   NodeState = "running"
	Succeeded NodeState = "succeeded"
	Failed    NodeState = "failed"
	Skipped   NodeState = "skipped"
)

// LlmCaller is the interface ChainEngine uses to run an LlmNode. In the
// deployed system this is satisfied by internal/roles' routerLlmCaller,
// which calls the role's own in-process router.Router; tests satisfy it
// directly.
type LlmCaller interface {
	Complete(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, *apierr.Error)
}

// FunctionHandler executes a FunctionNode's named function.
type FunctionHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ConditionFunc evaluates a Conditional node's predicate, or a Loop's break
// predicate, over the node's resolved inputs.
type ConditionFunc func(inputs map[string]any) bool

// Engine executes Chain definitions.
type Engine struct {
	logger     *logrus.Logger
	caller     LlmCaller
	functions  map[string]FunctionHandler
	conditions map[string]ConditionFunc
	cache      *ResponseCache
	metrics    *metrics.Registry
	bus        *pubsub.Bus

	maxChainLength   int
	maxExecutionTime time.Duration
}

// AttachMetrics wires a metrics.Registry into the engine. Instrumentation
// is strictly additive: an Engine with no attached registry behaves
// exactly as before. Not safe to call concurrently with Execute/ExecuteStream.
func (e *Engine) AttachMetrics(m *metrics.Registry) {
	e.metrics = m
}

// AttachBus wires a pubsub.Bus into the engine so every ChainEvent an
// execution emits is also published onto chain.events.<execution_id> (spec
// §6), in addition to being delivered on the execution's own event channel.
// Not safe to call concurrently with Execute/ExecuteStream.
func (e *Engine) AttachBus(b *pubsub.Bus) {
	e.bus = b
}

// emit delivers ev on ex's event channel and, if a bus is attached,
// publishes it on chain.events.<execution_id>.
func (e *Engine) emit(ex *execution, ev wire.ChainEvent) {
	ex.events <- ev
	if e.bus != nil {
		_ = e.bus.Publish(context.Background(), "chain.events."+ex.id, ev)
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithFunction registers a named FunctionNode handler.
func WithFunction(name string, h FunctionHandler) Option {
	return func(e *Engine) { e.functions[name] = h }
}

// WithCondition registers a named Conditional/Loop predicate.
func WithCondition(name string, c ConditionFunc) Option {
	return func(e *Engine) { e.conditions[name] = c }
}

// WithCache attaches the response cache used by LlmNode memoization.
func WithCache(c *ResponseCache) Option {
	return func(e *Engine) { e.cache = c }
}

// New builds an Engine. maxChainLength bounds the node count a chain may
// declare; maxExecutionTime bounds one execution's wall-clock budget.
func New(logger *logrus.Logger, caller LlmCaller, maxChainLength int, maxExecutionTime time.Duration, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger:           logger,
		caller:           caller,
		functions:        make(map[string]FunctionHandler),
		conditions:       make(map[string]ConditionFunc),
		maxChainLength:   maxChainLength,
		maxExecutionTime: maxExecutionTime,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type execution struct {
	id     string
	chain  *wire.Chain
	inputs map[string]any

	mu           sync.Mutex
	states       map[string]NodeState
	outputs      map[string]map[string]any
	pendingCount map[string]int
	skipMarked   map[string]bool

	incoming map[string][]wire.ChainEdge
	outgoing map[string][]wire.ChainEdge

	events chan wire.ChainEvent
	wg     sync.WaitGroup
}

// Execute runs chain to completion and collapses its event stream into a
// single ChainExecutionResponse (spec §9: one internal streaming
// abstraction, no separate sync/async operations).
func (e *Engine) Execute(ctx context.Context, c *wire.Chain, inputs map[string]any) (*wire.ChainExecutionResponse, *apierr.Error) {
	events, err := e.ExecuteStream(ctx, c, inputs)
	if err != nil {
		return nil, err
	}

	resp := &wire.ChainExecutionResponse{Outputs: make(map[string]map[string]any)}
	for ev := range events {
		switch ev.Type {
		case wire.EventChainCompleted:
			resp.ExecutionID = ev.ExecutionID
			resp.Status = ev.Status
			for k, v := range ev.Outputs {
				resp.Outputs[k] = v.(map[string]any)
			}
		case wire.EventChainFailed:
			resp.ExecutionID = ev.ExecutionID
			resp.Status = "failed"
			resp.Error = ev.Error
		}
	}
	return resp, nil
}

// ExecuteStream runs chain and returns its ChainEvent stream (spec §4.4).
// The channel is closed once the terminal event has been sent.
func (e *Engine) ExecuteStream(ctx context.Context, c *wire.Chain, inputs map[string]any) (<-chan wire.ChainEvent, *apierr.Error) {
	if verr := wire.ValidateChain(c); verr != nil {
		return nil, verr
	}
	if len(c.Nodes) > e.maxChainLength {
		return nil, apierr.New(apierr.KindValidation, "chain exceeds max_chain_length")
	}

	ex := &execution{
		id:           uuid.New().String(),
		chain:        c,
		inputs:       inputs,
		states:       make(map[string]NodeState),
		outputs:      make(map[string]map[string]any),
		pendingCount: make(map[string]int),
		skipMarked:   make(map[string]bool),
		incoming:     make(map[string][]wire.ChainEdge),
		outgoing:     make(map[string][]wire.ChainEdge),
		events:       make(chan wire.ChainEvent, 16),
	}
	for _, edge := range c.Edges {
		ex.incoming[edge.Target] = append(ex.incoming[edge.Target], edge)
		ex.outgoing[edge.Source] = append(ex.outgoing[edge.Source], edge)
	}
	for _, n := range c.Nodes {
		ex.states[n.ID] = Pending
		ex.pendingCount[n.ID] = len(ex.incoming[n.ID])
	}

	execCtx, cancel := context.WithTimeout(ctx, e.maxExecutionTime)

	go func() {
		defer cancel()
		defer close(ex.events)

		for _, root := range wire.Roots(c) {
			ex.wg.Add(1)
			go e.dispatch(execCtx, ex, root)
		}

		done := make(chan struct{})
		go func() {
			ex.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-execCtx.Done():
			<-done // drain goroutines still in flight before closing events
		}

		if execCtx.Err() != nil {
			e.abortOnTimeout(ex)
		} else {
			e.finish(ex)
		}
	}()

	return ex.events, nil
}

// dispatch runs node's full lifecycle once it is known to be ready (all
// incoming edges have been accounted for, whether delivered or skipped).
// The caller must have already called ex.wg.Add(1) for this node.
func (e *Engine) dispatch(ctx context.Context, ex *execution, nodeID string) {
	defer ex.wg.Done()

	ex.mu.Lock()
	skip := ex.skipMarked[nodeID]
	ex.mu.Unlock()

	if skip {
		e.settle(ctx, ex, nodeID, Skipped, nil)
		return
	}

	select {
	case <-ctx.Done():
		e.settle(ctx, ex, nodeID, Failed, nil)
		return
	default:
	}

	node := findNode(ex.chain, nodeID)
	resolved := e.resolveInputs(ex, node)

	e.emit(ex, wire.ChainEvent{Type: wire.EventNodeStarted, ExecutionID: ex.id, NodeID: nodeID})

	start := time.Now()
	outputs, branchTaken, err := e.runNode(ctx, ex, node, resolved)
	if e.metrics != nil {
		e.metrics.ChainNodeLatency.WithLabelValues(string(node.Type)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		e.emit(ex, wire.ChainEvent{
			Type: wire.EventNodeFinished, ExecutionID: ex.id, NodeID: nodeID,
			Status: string(Failed),
		})
		e.settle(ctx, ex, nodeID, Failed, outputs)
		e.propagate(ctx, ex, node, branchTaken)
		return
	}

	e.emit(ex, wire.ChainEvent{
		Type: wire.EventNodeFinished, ExecutionID: ex.id, NodeID: nodeID,
		Status: string(Succeeded), Outputs: toAny(outputs),
	})
	e.settle(ctx, ex, nodeID, Succeeded, outputs)
	e.propagate(ctx, ex, node, branchTaken)
}

func toAny(m map[string]any) map[string]any { return m }

func (e *Engine) settle(_ context.Context, ex *execution, nodeID string, state NodeState, outputs map[string]any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.states[nodeID] = state
	if outputs != nil {
		ex.outputs[nodeID] = outputs
	}
}

// propagate walks node's outgoing edges, deciding per edge whether the
// target receives a delivered value or must be marked skipped, and
// dispatches any target whose pending count has reached zero.
func (e *Engine) propagate(ctx context.Context, ex *execution, node *wire.ChainNode, branchTaken string) {
	ex.mu.Lock()
	state := ex.states[node.ID]
	edges := ex.outgoing[node.ID]
	ex.mu.Unlock()

	for _, edge := range edges {
		delivered := state == Succeeded
		if delivered && node.Type == wire.NodeConditional && edge.Branch != "" && edge.Branch != branchTaken {
			delivered = false
		}

		ex.mu.Lock()
		if !delivered {
			ex.skipMarked[edge.Target] = true
		}
		ex.pendingCount[edge.Target]--
		ready := ex.pendingCount[edge.Target] == 0 && ex.states[edge.Target] == Pending
		if ready {
			ex.states[edge.Target] = Ready
		}
		ex.mu.Unlock()

		if ready {
			ex.wg.Add(1)
			go e.dispatch(ctx, ex, edge.Target)
		}
	}
}

func findNode(c *wire.Chain, id string) *wire.ChainNode {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i]
		}
	}
	return nil
}

// resolveInputs computes the value for each of node's declared input slots,
// preferring an incoming edge's delivered output over the execution's root
// Inputs map.
func (e *Engine) resolveInputs(ex *execution, node *wire.ChainNode) map[string]any {
	resolved := make(map[string]any, len(node.Inputs))
	ex.mu.Lock()
	incoming := ex.incoming[node.ID]
	outputs := ex.outputs
	ex.mu.Unlock()

	for _, in := range node.Inputs {
		var found bool
		for _, edge := range incoming {
			if edge.TargetInput != in.Name {
				continue
			}
			if srcOut, ok := outputs[edge.Source]; ok {
				if v, ok := srcOut[edge.SourceOutput]; ok {
					resolved[in.Name] = v
					found = true
				}
			}
		}
		if !found {
			if v, ok := ex.inputs[in.Name]; ok {
				resolved[in.Name] = v
			}
		}
	}
	return resolved
}

// runNode executes a single node by type, returning its outputs, the branch
// taken (Conditional only), and an error if execution failed.
func (e *Engine) runNode(ctx context.Context, ex *execution, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	switch node.Type {
	case wire.NodeLlm:
		return e.runLlmNode(ctx, node, resolved)
	case wire.NodeFunction:
		return e.runFunctionNode(ctx, node, resolved)
	case wire.NodeConditional:
		return e.runConditionalNode(node, resolved)
	case wire.NodeLoop:
		return e.runLoopNode(ctx, node, resolved)
	case wire.NodeParallel:
		return e.runParallelNode(ctx, ex, node, resolved)
	case wire.NodeSequential:
		return e.runSequentialNode(ctx, ex, node, resolved)
	default:
		return nil, "", apierr.New(apierr.KindValidation, "unknown node type "+string(node.Type))
	}
}

func (e *Engine) runLlmNode(ctx context.Context, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	prompt := renderTemplate(node.PromptTemplate, resolved)

	build := func() (string, error) {
		c := prompt
		req := &wire.ChatRequest{
			Model:       node.Model,
			Messages:    []wire.Message{{Role: wire.RoleUser, Content: &c}},
			Temperature: node.Temperature,
			MaxTokens:   node.MaxTokens,
		}
		resp, err := e.caller.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
			return "", nil
		}
		return *resp.Choices[0].Message.Content, nil
	}

	var content string
	var err error
	if e.cache != nil {
		key := Key(node.Model, node.PromptTemplate, resolved, node.Temperature, node.MaxTokens)
		var hit bool
		content, hit, err = e.cache.GetOrBuild(ctx, key, build)
		if hit && e.metrics != nil {
			e.metrics.ChainCacheHitsTotal.Inc()
		}
	} else {
		content, err = build()
	}
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"response": content}, "", nil
}

func (e *Engine) runFunctionNode(ctx context.Context, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	handler, ok := e.functions[node.FunctionName]
	if !ok {
		return nil, "", apierr.New(apierr.KindValidation, "unknown function "+node.FunctionName)
	}
	out, err := handler(ctx, resolved)
	if err != nil {
		return nil, "", err
	}
	return out, "", nil
}

func (e *Engine) runConditionalNode(node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	predicate, ok := e.conditions[node.ConditionExpr]
	if !ok {
		return nil, "", apierr.New(apierr.KindValidation, "unknown condition "+node.ConditionExpr)
	}
	result := predicate(resolved)
	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]any{"result": result}, branch, nil
}

func (e *Engine) runLoopNode(ctx context.Context, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	if node.LoopBody == nil {
		return nil, "", apierr.New(apierr.KindValidation, "loop node missing body")
	}
	breakPredicate, ok := e.conditions[node.BreakPredicate]
	if !ok {
		return nil, "", apierr.New(apierr.KindValidation, "unknown break predicate "+node.BreakPredicate)
	}

	maxIter := node.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	bodyInputs := cloneMap(resolved)
	var lastOutputs map[string]any
	for i := 0; i < maxIter; i++ {
		bodyInputs["iteration"] = i
		resp, err := e.Execute(ctx, node.LoopBody, bodyInputs)
		if err != nil {
			return nil, "", err
		}
		if resp.Error != nil {
			return nil, "", apierr.New(apierr.KindInternal, resp.Error.Error.Message)
		}
		lastOutputs = flattenOutputs(resp.Outputs)
		for k, v := range lastOutputs {
			bodyInputs[k] = v
		}
		if breakPredicate(bodyInputs) {
			return lastOutputs, "", nil
		}
	}
	return nil, "", apierr.New(apierr.KindLoopLimitExceeded, "loop exceeded max_iterations")
}

func (e *Engine) runParallelNode(ctx context.Context, ex *execution, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	outputs := make(map[string]any)
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make(chan error, len(node.ChildNodeIDs))

	for _, childID := range node.ChildNodeIDs {
		child := findNode(ex.chain, childID)
		if child == nil {
			return nil, "", apierr.New(apierr.KindValidation, "parallel node references unknown child "+childID)
		}
		wg.Add(1)
		go func(child *wire.ChainNode) {
			defer wg.Done()
			out, _, err := e.runNode(ctx, ex, child, resolved)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			outputs[child.ID] = out
			mu.Unlock()
		}(child)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return nil, "", err
	}
	return outputs, "", nil
}

func (e *Engine) runSequentialNode(ctx context.Context, ex *execution, node *wire.ChainNode, resolved map[string]any) (map[string]any, string, error) {
	outputs := make(map[string]any)
	for _, childID := range node.ChildNodeIDs {
		child := findNode(ex.chain, childID)
		if child == nil {
			return nil, "", apierr.New(apierr.KindValidation, "sequential node references unknown child "+childID)
		}
		out, _, err := e.runNode(ctx, ex, child, resolved)
		if err != nil {
			return nil, "", err
		}
		outputs[child.ID] = out
		for k, v := range out {
			resolved[k] = v
		}
	}
	return outputs, "", nil
}

// finish emits the terminal chain_completed event once all nodes have
// settled, with outputs restricted to Succeeded root-reachable nodes (spec
// §8 universal invariant).
func (e *Engine) finish(ex *execution) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	outputs := make(map[string]any, len(ex.outputs))
	anyFailed := false
	for id, state := range ex.states {
		if state == Succeeded {
			outputs[id] = ex.outputs[id]
		}
		if state == Failed {
			anyFailed = true
		}
	}

	if anyFailed {
		if e.metrics != nil {
			e.metrics.ChainExecutionsTotal.WithLabelValues("failed").Inc()
		}
		e.emit(ex, wire.ChainEvent{
			Type: wire.EventChainFailed, ExecutionID: ex.id,
			Error: &apierr.Body{Error: apierr.BodyDetail{
				Code:    string(apierr.KindBackendError),
				Message: "one or more chain nodes failed",
			}},
		})
		return
	}

	if e.metrics != nil {
		e.metrics.ChainExecutionsTotal.WithLabelValues("completed").Inc()
	}
	e.emit(ex, wire.ChainEvent{
		Type: wire.EventChainCompleted, ExecutionID: ex.id,
		Status: "completed", Outputs: outputs,
	})
}

func (e *Engine) abortOnTimeout(ex *execution) {
	ex.mu.Lock()
	for id, state := range ex.states {
		if state == Pending || state == Ready || state == Running {
			ex.states[id] = Skipped
		}
	}
	ex.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ChainExecutionsTotal.WithLabelValues("timeout").Inc()
	}
	e.emit(ex, wire.ChainEvent{
		Type: wire.EventChainFailed, ExecutionID: ex.id,
		Error: &apierr.Body{Error: apierr.BodyDetail{Code: string(apierr.KindTimeout), Message: "chain execution exceeded max_execution_time_secs"}},
	})
}

func renderTemplate(template string, values map[string]any) string {
	out := template
	for k, v := range values {
		out = strings.ReplaceAll(out, "{{"+k+"}}", toString(v))
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func flattenOutputs(outputs map[string]map[string]any) map[string]any {
	out := make(map[string]any)
	for _, node := range outputs {
		for k, v := range node {
			out[k] = v
		}
	}
	return out
}
