package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

func linearDef() *Definition {
	return &Definition{
		Nodes: []Node{
			{ID: "llm", Type: NodeLLM},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "llm"},
			{Source: "llm", Target: EndNodeID},
		},
	}
}

func TestCompileAcceptsLinearGraph(t *testing.T) {
	g, err := Compile(linearDef())
	require.NoError(t, err)
	node, ok := g.Node("llm")
	require.True(t, ok)
	assert.Equal(t, NodeLLM, node.Type)
}

func TestCompileRejectsMultipleStartEdges(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, Edge{Source: StartNodeID, Target: "llm"})
	_, err := Compile(def)
	require.Error(t, err)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCompileRejectsUnreachableNode(t *testing.T) {
	def := linearDef()
	def.Nodes = append(def.Nodes, Node{ID: "orphan", Type: NodeLLM})
	_, err := Compile(def)
	require.Error(t, err)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCompileRejectsDeadEnd(t *testing.T) {
	def := &Definition{
		Nodes: []Node{{ID: "llm", Type: NodeLLM}},
		Edges: []Edge{{Source: StartNodeID, Target: "llm"}},
	}
	_, err := Compile(def)
	require.Error(t, err)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCompileAcceptsHumanInLoopAsTerminal(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "retriever", Type: NodeRetriever},
			{ID: "approve", Type: NodeHumanInLoop},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "retriever"},
			{Source: "retriever", Target: "approve"},
		},
	}
	_, err := Compile(def)
	require.NoError(t, err)
}

func TestCompileRejectsUncontrolledCycle(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "gen", Type: NodeRAGGenerator},
			{ID: "check", Type: NodeHallucinationChecker},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "gen"},
			{Source: "gen", Target: "check"},
			{Source: "check", Target: "gen"},
		},
	}
	_, err := Compile(def)
	require.Error(t, err)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCompileAcceptsControlledCycle(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "gen", Type: NodeRAGGenerator},
			{ID: "check", Type: NodeHallucinationChecker},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "gen"},
			{Source: "gen", Target: "check"},
			{Source: "check", Target: "gen", Condition: "retry=true"},
			{Source: "check", Target: EndNodeID, Condition: "retry=false"},
		},
	}
	g, err := Compile(def)
	require.NoError(t, err)
	assert.Len(t, g.Outgoing("check"), 2)
}

func TestCompileRejectsReservedNodeID(t *testing.T) {
	def := linearDef()
	def.Nodes = append(def.Nodes, Node{ID: StartNodeID, Type: NodeLLM})
	_, err := Compile(def)
	require.Error(t, err)
}
