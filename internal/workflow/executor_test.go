package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/checkpoint"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/session"
	"github.com/kadirpekel/ragflow/internal/store"
	"github.com/kadirpekel/ragflow/internal/tenant"

	_ "github.com/mattn/go-sqlite3"
)

// resumerSlot lets the test wire hitl.Store (which needs a Resumer at
// construction) and Executor (which the Resumer points back to)
// together despite their circular dependency.
type resumerSlot struct {
	resume func(ctx context.Context, executionID string) error
}

func (r *resumerSlot) Resume(ctx context.Context, executionID string) error {
	return r.resume(ctx, executionID)
}

type executorFixture struct {
	db       *store.DB
	tenants  *tenant.Store
	sessions *session.Store
	defs     *Store
	exec     *Executor
}

func newExecutorFixture(t *testing.T, chatBaseURL string) *executorFixture {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tenants := tenant.NewStore(db)
	require.NoError(t, tenants.PutConfig(context.Background(), &tenant.Config{
		TenantID:     "tenant-1",
		ChatProvider: "ollama",
		ChatModel:    "llama3.1",
		ChatBaseURL:  chatBaseURL,
	}))

	docs := document.NewStore(db)
	sessions := session.NewStore(db, docs)
	defs := NewStore(db)
	checkpoints := checkpoint.NewStore(db)

	secrets, err := secretstore.New(db, []byte("0123456789abcdef0123456789abcdef"[:32]))
	require.NoError(t, err)
	chatReg := chat.NewRegistry(secrets)

	slot := &resumerSlot{}
	hitlStore := hitl.NewStore(db, slot)
	exec := NewExecutor(defs, checkpoints, sessions, tenants, hitlStore, chatReg, nil)
	slot.resume = exec.Resume

	return &executorFixture{db: db, tenants: tenants, sessions: sessions, defs: defs, exec: exec}
}

func newOllamaFake(t *testing.T, reply string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func createSession(t *testing.T, sessions *session.Store, mode session.Mode) *session.ConversationSession {
	t.Helper()
	sess := &session.ConversationSession{TenantID: "tenant-1", UserID: "user-1", Mode: mode}
	require.NoError(t, sessions.Create(context.Background(), sess))
	return sess
}

func TestExecutorRunsSimpleChatTurnAndAccumulatesCheckpoints(t *testing.T) {
	baseURL := newOllamaFake(t, "general kenobi")
	fx := newExecutorFixture(t, baseURL)
	ctx := context.Background()

	def := &Definition{
		TenantID: "tenant-1",
		Name:     "chat-only",
		IsActive: true,
		Nodes:    []Node{{ID: "llm", Type: NodeLLM}},
		Edges: []Edge{
			{Source: StartNodeID, Target: "llm"},
			{Source: "llm", Target: EndNodeID},
		},
	}
	require.NoError(t, fx.defs.CreateDefinition(ctx, def))

	sess := createSession(t, fx.sessions, session.ModeChatOnly)

	exec1, err := fx.exec.Execute(ctx, "tenant-1", "user-1", sess.ID, "hello there", "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec1.Status)
	assert.Equal(t, "general kenobi", exec1.OutputData["answer"])

	exec2, err := fx.exec.Execute(ctx, "tenant-1", "user-1", sess.ID, "how are you?", "")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec2.Status)
	assert.NotEqual(t, exec1.ID, exec2.ID)

	msgs, err := fx.sessions.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4) // user/assistant x2 turns
}

func TestExecutorInterruptsOnHumanInLoopThenResumes(t *testing.T) {
	baseURL := newOllamaFake(t, "a reply")
	fx := newExecutorFixture(t, baseURL)
	ctx := context.Background()

	def := &Definition{
		TenantID: "tenant-1",
		Name:     "approval-gated",
		IsActive: true,
		Nodes: []Node{
			{ID: "llm1", Type: NodeLLM},
			{ID: "approve", Type: NodeHumanInLoop, Config: map[string]any{"prompt": "Proceed with this action?"}},
			{ID: "llm2", Type: NodeLLM},
		},
		Edges: []Edge{
			{Source: StartNodeID, Target: "llm1"},
			{Source: "llm1", Target: "approve"},
			{Source: "approve", Target: "llm2", Condition: "approved=true"},
			{Source: "approve", Target: EndNodeID, Condition: "approved=false"},
		},
	}
	require.NoError(t, fx.defs.CreateDefinition(ctx, def))

	sess := createSession(t, fx.sessions, session.ModeChatOnly)

	exec, err := fx.exec.Execute(ctx, "tenant-1", "user-1", sess.ID, "please do the risky thing", "")
	require.NoError(t, err)
	require.Equal(t, ExecutionInterrupted, exec.Status)

	hitlStore := hitl.NewStore(fx.db, nil)
	pending, err := hitlStore.ListPending(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Proceed with this action?", pending[0].Prompt)

	respondStore := hitl.NewStore(fx.db, &resumerSlot{resume: fx.exec.Resume})
	_, err = respondStore.Respond(ctx, "tenant-1", pending[0].ID, true, "looks good")
	require.NoError(t, err)

	final, err := fx.defs.GetExecution(ctx, "tenant-1", exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, final.Status)
}
