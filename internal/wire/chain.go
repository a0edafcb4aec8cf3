package wire

import "github.com/intellirouter/intellirouter/internal/apierr"

// NodeType discriminates the variants of a Chain node (spec §3).
type NodeType string

const (
	NodeLlm        NodeType = "llm"
	NodeFunction   NodeType = "function"
	NodeConditional NodeType = "conditional"
	NodeLoop       NodeType = "loop"
	NodeParallel   NodeType = "parallel"
	NodeSequential NodeType = "sequential"
)

// Slot declares one named, typed input or output of a node. Type is a
// free-form tag (e.g. "string", "json"); edges connecting slots of
// differing Type fail chain validation.
type Slot struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ChainNode is one node of a Chain graph. Only the fields relevant to its
// Type are populated; e.g. Model/PromptTemplate only apply to NodeLlm.
type ChainNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Inputs   []Slot   `json:"inputs,omitempty"`
	Outputs  []Slot   `json:"outputs,omitempty"`

	// NodeLlm
	Model          string   `json:"model,omitempty"`
	PromptTemplate string   `json:"prompt_template,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`

	// NodeFunction
	FunctionName       string `json:"function_name,omitempty"`
	ArgumentsTemplate  string `json:"arguments_template,omitempty"`

	// NodeConditional
	ConditionExpr string `json:"condition_expr,omitempty"`

	// NodeLoop
	LoopBody          *Chain `json:"loop_body,omitempty"`
	BreakPredicate    string `json:"break_predicate,omitempty"`
	MaxIterations     int    `json:"max_iterations,omitempty"`

	// NodeParallel / NodeSequential
	ChildNodeIDs []string `json:"child_node_ids,omitempty"`
}

// ChainEdge connects one output slot of source to one input slot of target.
// Branch is set only on edges leaving a Conditional node ("true" or
// "false"); the engine follows the edge matching the predicate's result
// and marks the other Skipped.
type ChainEdge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceOutput string `json:"sourceOutput"`
	TargetInput  string `json:"targetInput"`
	Branch       string `json:"branch,omitempty"`
}

// Chain is the DAG of nodes evaluated by the chain engine (spec §3, §4.4).
type Chain struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Nodes   []ChainNode `json:"nodes"`
	Edges   []ChainEdge `json:"edges"`
}

// ChainExecutionRequest is the body of POST /v1/chains/execute.
type ChainExecutionRequest struct {
	Chain     *Chain                 `json:"chain,omitempty"`
	ChainID   string                 `json:"chain_id,omitempty"`
	Inputs    map[string]any         `json:"inputs"`
	Stream    bool                   `json:"stream,omitempty"`
}

// ChainExecutionResponse is the non-streaming result of a chain execution.
type ChainExecutionResponse struct {
	ExecutionID string                    `json:"execution_id"`
	Status      string                    `json:"status"`
	Outputs     map[string]map[string]any `json:"outputs"`
	Error       *apierr.Body              `json:"error,omitempty"`
}

// ChainEventType enumerates the chain event stream's frame kinds (spec §4.4).
type ChainEventType string

const (
	EventNodeStarted    ChainEventType = "node_started"
	EventNodeDelta      ChainEventType = "node_delta"
	EventNodeFinished   ChainEventType = "node_finished"
	EventChainCompleted ChainEventType = "chain_completed"
	EventChainFailed    ChainEventType = "chain_failed"
)

// ChainEvent is one SSE `data:` frame of a streaming chain execution.
type ChainEvent struct {
	Type        ChainEventType `json:"type"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Delta       string         `json:"delta,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       *apierr.Body   `json:"error,omitempty"`
}

// ValidateChain checks the structural invariants of spec §4.4: node-id
// uniqueness, edge endpoints resolve, no self-loops, acyclicity modulo
// Loop bodies, and every non-root node has an incoming edge per declared
// input.
func ValidateChain(c *Chain) *apierr.Error {
	if len(c.Nodes) == 0 {
		return apierr.Validation("nodes", "chain must declare at least one node")
	}

	byID := make(map[string]*ChainNode, len(c.Nodes))
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ID == "" {
			return apierr.Validation("nodes", "node id must not be empty")
		}
		if _, dup := byID[n.ID]; dup {
			return apierr.Validation("nodes", "duplicate node id "+n.ID)
		}
		byID[n.ID] = n
	}

	incoming := make(map[string][]ChainEdge)
	for _, e := range c.Edges {
		if e.Source == e.Target {
			return apierr.Validation("edges", "self-loop on node "+e.Source)
		}
		if _, ok := byID[e.Source]; !ok {
			return apierr.Validation("edges", "edge references unknown source "+e.Source)
		}
		if _, ok := byID[e.Target]; !ok {
			return apierr.Validation("edges", "edge references unknown target "+e.Target)
		}
		if srcType, ok := outputSlotType(byID[e.Source], e.SourceOutput); ok {
			if dstType, ok := inputSlotType(byID[e.Target], e.TargetInput); ok && srcType != dstType {
				return apierr.Validation("edges", "edge "+e.Source+"->"+e.Target+" slot type mismatch: "+srcType+" != "+dstType)
			}
		}
		incoming[e.Target] = append(incoming[e.Target], e)
	}

	for _, n := range c.Nodes {
		for _, in := range n.Inputs {
			satisfied := false
			for _, e := range incoming[n.ID] {
				if e.TargetInput == in.Name {
					satisfied = true
					break
				}
			}
			if !satisfied && len(incoming[n.ID]) == 0 {
				// root nodes may have declared inputs satisfied externally
				// (by the execution request's Inputs map); only flag nodes
				// that have *some* incoming edges but miss this one.
				continue
			}
			if !satisfied {
				return apierr.Validation("nodes", "node "+n.ID+" input "+in.Name+" has no supplying edge")
			}
		}
	}

	if hasCycle(c, byID) {
		return apierr.Validation("edges", "chain graph must be acyclic outside Loop bodies")
	}

	return nil
}

func hasCycle(c *Chain, byID map[string]*ChainNode) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	adj := make(map[string][]string, len(byID))
	for _, e := range c.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range byID {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// outputSlotType and inputSlotType look up a declared slot's Type by name,
// used by ValidateChain to reject edges joining slots of differing Type
// (spec §4.4). A slot absent from the node's declared Inputs/Outputs (e.g. a
// FunctionNode's dynamic result map) is not checked.
func outputSlotType(n *ChainNode, name string) (string, bool) {
	for _, s := range n.Outputs {
		if s.Name == name {
			return s.Type, true
		}
	}
	return "", false
}

func inputSlotType(n *ChainNode, name string) (string, bool) {
	for _, s := range n.Inputs {
		if s.Name == name {
			return s.Type, true
		}
	}
	return "", false
}

// Roots returns the ids of nodes with no incoming edge.
func Roots(c *Chain) []string {
	hasIncoming := make(map[string]bool, len(c.Nodes))
	for _, e := range c.Edges {
		hasIncoming[e.Target] = true
	}
	var roots []string
	for _, n := range c.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	return roots
}
