package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dependencyChain() *Chain {
	return &Chain{
		ID:   "c1",
		Name: "dependency-chain",
		Nodes: []ChainNode{
			{ID: "a", Type: NodeLlm, Model: "m", PromptTemplate: "p1",
				Outputs: []Slot{{Name: "response", Type: "string"}}},
			{ID: "b", Type: NodeLlm, Model: "m", PromptTemplate: "answer {{a.response}}",
				Inputs:  []Slot{{Name: "a.response", Type: "string"}},
				Outputs: []Slot{{Name: "response", Type: "string"}}},
		},
		Edges: []ChainEdge{
			{Source: "a", Target: "b", SourceOutput: "response", TargetInput: "a.response"},
		},
	}
}

func TestValidateChainAcceptsDependencyChain(t *testing.T) {
	assert.Nil(t, ValidateChain(dependencyChain()))
}

func TestValidateChainRejectsDuplicateNodeIDs(t *testing.T) {
	c := dependencyChain()
	c.Nodes[1].ID = "a"
	err := ValidateChain(c)
	require.NotNil(t, err)
	assert.Equal(t, "nodes", err.Field)
}

func TestValidateChainRejectsUnknownEdgeEndpoint(t *testing.T) {
	c := dependencyChain()
	c.Edges[0].Target = "missing"
	err := ValidateChain(c)
	require.NotNil(t, err)
	assert.Equal(t, "edges", err.Field)
}

func TestValidateChainRejectsSelfLoop(t *testing.T) {
	c := dependencyChain()
	c.Edges = append(c.Edges, ChainEdge{Source: "a", Target: "a", SourceOutput: "response", TargetInput: "response"})
	err := ValidateChain(c)
	require.NotNil(t, err)
	assert.Equal(t, "edges", err.Field)
}

func TestValidateChainRejectsSlotTypeMismatch(t *testing.T) {
	c := dependencyChain()
	c.Nodes[1].Inputs[0].Type = "json"
	err := ValidateChain(c)
	require.NotNil(t, err)
	assert.Equal(t, "edges", err.Field)
}

func TestValidateChainRejectsCycle(t *testing.T) {
	c := dependencyChain()
	c.Edges = append(c.Edges, ChainEdge{Source: "b", Target: "a", SourceOutput: "response", TargetInput: "a.response"})
	err := ValidateChain(c)
	require.NotNil(t, err)
}

func TestValidateChainRejectsUnsatisfiedInput(t *testing.T) {
	c := dependencyChain()
	c.Nodes[1].Inputs = append(c.Nodes[1].Inputs, Slot{Name: "extra", Type: "string"})
	err := ValidateChain(c)
	require.NotNil(t, err)
	assert.Equal(t, "nodes", err.Field)
}

func TestRootsReturnsNodesWithNoIncomingEdge(t *testing.T) {
	roots := Roots(dependencyChain())
	assert.Equal(t, []string{"a"}, roots)
}
