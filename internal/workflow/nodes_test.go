package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/store"
	"github.com/kadirpekel/ragflow/internal/tenant"

	_ "github.com/mattn/go-sqlite3"
)

// fakeOllama answers /api/chat with reply for any request whose last
// message contains one of the configured substrings, falling back to
// defaultReply.
type fakeOllama struct {
	byContains   map[string]string
	defaultReply string
}

func newFakeOllamaServer(t *testing.T, f fakeOllama) (*httptest.Server, *tenant.Config) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		reply := f.defaultReply
		if len(req.Messages) > 0 {
			last := req.Messages[len(req.Messages)-1].Content
			for substr, r := range f.byContains {
				if strings.Contains(strings.ToLower(last), substr) {
					reply = r
					break
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(ts.Close)

	cfg := &tenant.Config{TenantID: "tenant-1", ChatProvider: "ollama", ChatModel: "llama3.1", ChatBaseURL: ts.URL}
	return ts, cfg
}

func testSecrets(t *testing.T) *secretstore.Store {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := secretstore.New(db, []byte("0123456789abcdef0123456789abcdef"[:32]))
	require.NoError(t, err)
	return s
}

func TestStepLLMAppendsAssistantReply(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{defaultReply: "hi there"})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}

	state := &State{Messages: []Message{{Role: "user", Content: "hello"}}}
	err := stepLLM(context.Background(), deps, cfg, Node{Type: NodeLLM}, state)
	require.NoError(t, err)

	require.Len(t, state.Messages, 2)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.Equal(t, "hi there", state.Messages[1].Content)
}

func TestStepRelevanceGraderDropsIrrelevantChunks(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{byContains: map[string]string{
		"keep this": "yes",
		"drop this": "no",
	}})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}

	state := &State{
		Query: "what should survive?",
		Chunks: []Chunk{
			{ChunkID: "c1", Content: "keep this passage"},
			{ChunkID: "c2", Content: "drop this passage"},
		},
	}
	err := stepRelevanceGrader(context.Background(), deps, cfg, Node{}, state)
	require.NoError(t, err)

	require.Len(t, state.Chunks, 1)
	assert.Equal(t, "c1", state.Chunks[0].ChunkID)
	assert.Equal(t, "has_context", state.Route)
}

func TestStepRelevanceGraderNoChunksRoutesNoContext(t *testing.T) {
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}
	state := &State{Query: "anything"}
	err := stepRelevanceGrader(context.Background(), deps, &tenant.Config{}, Node{}, state)
	require.NoError(t, err)
	assert.Equal(t, "no_context", state.Route)
}

func TestStepRAGGeneratorIncludesSourcesWhenConfigured(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{defaultReply: "the contract ends in 30 days"})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}

	state := &State{
		Query:  "when does the contract end?",
		Chunks: []Chunk{{ChunkID: "c1", DocumentID: "doc-1", Content: "termination clause"}},
	}
	err := stepRAGGenerator(context.Background(), deps, cfg, Node{Config: map[string]any{"include_sources": true}}, state)
	require.NoError(t, err)

	assert.Contains(t, state.Answer, "30 days")
	assert.Contains(t, state.Answer, "Sources")
	assert.Contains(t, state.Answer, "doc-1")
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "assistant", state.Messages[0].Role)
}

func TestStepHallucinationCheckerSetsRetryOnUnsupportedAnswer(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{defaultReply: "no"})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}

	state := &State{Answer: "a claim not in the context", Chunks: []Chunk{{Content: "unrelated passage"}}}
	err := stepHallucinationChecker(context.Background(), deps, cfg, Node{}, state)
	require.NoError(t, err)
	assert.True(t, state.Retry)
}

func TestStepHallucinationCheckerClearsRetryOnSupportedAnswer(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{defaultReply: "yes"})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t))}

	state := &State{Answer: "a supported claim", Chunks: []Chunk{{Content: "supporting passage"}}}
	err := stepHallucinationChecker(context.Background(), deps, cfg, Node{}, state)
	require.NoError(t, err)
	assert.False(t, state.Retry)
}

func newHITLStore(t *testing.T) *hitl.Store {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return hitl.NewStore(db, nil)
}

func TestStepHumanInLoopCreatesPendingApprovalAndInterrupts(t *testing.T) {
	hitlStore := newHITLStore(t)
	deps := &nodeDeps{hitl: hitlStore}

	state := &State{Query: "should we proceed?"}
	outcome, err := stepHumanInLoop(context.Background(), deps, "tenant-1", "exec-1", "user-1",
		Node{Config: map[string]any{"prompt": "Approve this refund?"}}, state)
	require.NoError(t, err)

	require.NotNil(t, outcome)
	assert.True(t, outcome.Interrupted)
	assert.NotEmpty(t, outcome.ApprovalID)
	assert.Equal(t, outcome.ApprovalID, state.PendingApprovalID)

	approval, err := hitlStore.Get(context.Background(), "tenant-1", outcome.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, "Approve this refund?", approval.Prompt)
	assert.Equal(t, hitl.StatusPending, approval.Status)
}

func TestStepNodeDispatchesOnType(t *testing.T) {
	_, cfg := newFakeOllamaServer(t, fakeOllama{defaultReply: "ack"})
	deps := &nodeDeps{chatReg: chat.NewRegistry(testSecrets(t)), hitl: newHITLStore(t)}

	state := &State{Messages: []Message{{Role: "user", Content: "hi"}}}
	outcome, err := stepNode(context.Background(), deps, cfg, "tenant-1", "exec-1", "user-1", Node{Type: NodeLLM}, state)
	require.NoError(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, "ack", state.Messages[len(state.Messages)-1].Content)
}
