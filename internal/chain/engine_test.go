package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/wire"
)

type echoCaller struct{}

func (echoCaller) Complete(_ context.Context, req *wire.ChatRequest) (*wire.ChatResponse, *apierr.Error) {
	content := *req.Messages[0].Content
	return &wire.ChatResponse{
		Choices: []wire.Choice{{Message: wire.Message{Content: &content}, FinishReason: wire.FinishStop}},
	}, nil
}

func dependencyChain() *wire.Chain {
	return &wire.Chain{
		ID: "c1",
		Nodes: []wire.ChainNode{
			{ID: "a", Type: wire.NodeLlm, Model: "m", PromptTemplate: "p1",
				Outputs: []wire.Slot{{Name: "response", Type: "string"}}},
			{ID: "b", Type: wire.NodeLlm, Model: "m", PromptTemplate: "answer {{a.response}}",
				Inputs:  []wire.Slot{{Name: "a.response", Type: "string"}},
				Outputs: []wire.Slot{{Name: "response", Type: "string"}}},
		},
		Edges: []wire.ChainEdge{
			{Source: "a", Target: "b", SourceOutput: "response", TargetInput: "a.response"},
		},
	}
}

func TestExecuteChainWithDependency(t *testing.T) {
	e := New(nil, echoCaller{}, 64, 10*time.Second)

	resp, err := e.Execute(context.Background(), dependencyChain(), map[string]any{})
	require.Nil(t, err)
	assert.Equal(t, "completed", resp.Status)
	require.Contains(t, resp.Outputs, "b")
	assert.Equal(t, "answer p1", resp.Outputs["b"]["response"])
}

func TestExecuteStreamEmitsEventsInOrder(t *testing.T) {
	e := New(nil, echoCaller{}, 64, 10*time.Second)

	events, err := e.ExecuteStream(context.Background(), dependencyChain(), map[string]any{})
	require.Nil(t, err)

	var types []wire.ChainEventType
	var nodeOrder []string
	for ev := range events {
		types = append(types, ev.Type)
		if ev.NodeID != "" {
			nodeOrder = append(nodeOrder, ev.NodeID)
		}
	}
	assert.Equal(t, []string{"a", "a", "b", "b"}, nodeOrder)
	assert.Equal(t, wire.EventChainCompleted, types[len(types)-1])
}

func conditionalChain() *wire.Chain {
	return &wire.Chain{
		ID: "c2",
		Nodes: []wire.ChainNode{
			{ID: "cond", Type: wire.NodeConditional, ConditionExpr: "always_false"},
			{ID: "then_branch", Type: wire.NodeFunction, FunctionName: "noop"},
			{ID: "else_branch", Type: wire.NodeFunction, FunctionName: "noop"},
		},
		Edges: []wire.ChainEdge{
			{Source: "cond", Target: "then_branch", Branch: "true"},
			{Source: "cond", Target: "else_branch", Branch: "false"},
		},
	}
}

func TestConditionalSkipsUnselectedBranch(t *testing.T) {
	e := New(nil, echoCaller{}, 64, 10*time.Second,
		WithCondition("always_false", func(map[string]any) bool { return false }),
		WithFunction("noop", func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"ran": true}, nil
		}),
	)

	resp, err := e.Execute(context.Background(), conditionalChain(), map[string]any{})
	require.Nil(t, err)
	assert.Contains(t, resp.Outputs, "else_branch")
	assert.NotContains(t, resp.Outputs, "then_branch")
}

func TestTimeoutFailsChainExecution(t *testing.T) {
	slow := slowCaller{delay: 200 * time.Millisecond}
	e := New(nil, slow, 64, 20*time.Millisecond)

	events, err := e.ExecuteStream(context.Background(), dependencyChain(), map[string]any{})
	require.Nil(t, err)

	var last wire.ChainEvent
	for ev := range events {
		last = ev
	}
	assert.Equal(t, wire.EventChainFailed, last.Type)
	require.NotNil(t, last.Error)
	assert.Equal(t, string(apierr.KindTimeout), last.Error.Error.Code)
}

type slowCaller struct{ delay time.Duration }

func (s slowCaller) Complete(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, *apierr.Error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, apierr.New(apierr.KindCancelled, "cancelled")
	}
	content := *req.Messages[0].Content
	return &wire.ChatResponse{Choices: []wire.Choice{{Message: wire.Message{Content: &content}}}}, nil
}

func TestRejectsChainExceedingMaxLength(t *testing.T) {
	e := New(nil, echoCaller{}, 1, 10*time.Second)
	_, err := e.ExecuteStream(context.Background(), dependencyChain(), map[string]any{})
	require.NotNil(t, err)
	assert.Equal(t, apierr.KindValidation, err.Kind)
}
