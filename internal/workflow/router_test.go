package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/session"
)

func hybridDef() *Definition {
	return &Definition{
		Nodes: []Node{
			{ID: "llm", Type: NodeLLM},
			{ID: "retriever", Type: NodeRetriever},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "retriever"},
			{Source: "retriever", Target: "llm"},
			{Source: "llm", Target: EndNodeID},
		},
	}
}

func TestEntryNodeChatOnlyForcesLLM(t *testing.T) {
	g, err := Compile(hybridDef())
	require.NoError(t, err)

	id, meta, err := entryNodeID(g, session.ModeChatOnly, "anything", true)
	require.NoError(t, err)
	assert.Equal(t, "llm", id)
	assert.Nil(t, meta)
}

func TestEntryNodeRAGOnlyRequiresActiveDocuments(t *testing.T) {
	g, err := Compile(hybridDef())
	require.NoError(t, err)

	_, _, err = entryNodeID(g, session.ModeRAGOnly, "question", false)
	require.Error(t, err)
	var validation *apperr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestEntryNodeRAGOnlyForcesRetriever(t *testing.T) {
	g, err := Compile(hybridDef())
	require.NoError(t, err)

	id, _, err := entryNodeID(g, session.ModeRAGOnly, "question", true)
	require.NoError(t, err)
	assert.Equal(t, "retriever", id)
}

func TestEntryNodeAutoGreetingWithoutDocsGoesDirectChat(t *testing.T) {
	g, err := Compile(hybridDef())
	require.NoError(t, err)

	id, meta, err := entryNodeID(g, session.ModeAuto, "Hello", false)
	require.NoError(t, err)
	assert.Equal(t, "llm", id)
	assert.Equal(t, string(RouteDirectChat), meta["route"])
}

func TestEntryNodeAutoQuestionWithDocsGoesRAG(t *testing.T) {
	g, err := Compile(hybridDef())
	require.NoError(t, err)

	id, meta, err := entryNodeID(g, session.ModeAuto, "What does the contract say about termination?", true)
	require.NoError(t, err)
	assert.Equal(t, "retriever", id)
	assert.Equal(t, string(RouteRAGNeeded), meta["route"])
}

func TestClassifyFallsBackToDirectChatWithoutDocuments(t *testing.T) {
	assert.Equal(t, RouteDirectChat, classify("what is the meaning of life?", false))
}

func TestClassifyUnclassifiedInputWithDocsIsHybrid(t *testing.T) {
	assert.Equal(t, RouteHybrid, classify("summarize this", true))
}
