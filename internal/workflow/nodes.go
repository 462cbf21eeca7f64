package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/vectorindex"
)

// nodeDeps bundles the shared services node step functions call into.
// Passed explicitly rather than captured in a closure per node, so every
// step function's signature documents exactly what it touches.
type nodeDeps struct {
	chatReg *chat.Registry
	search  *document.Searcher
	hitl    *hitl.Store
}

const (
	defaultRetrievalK        = 5
	defaultRetrievalMinScore = 0.3
)

// stepOutcome is what a node step function reports back to the executor:
// whether it requested an interrupt (human_in_loop) and, if so, the
// approval id to surface.
type stepOutcome struct {
	Interrupted bool
	ApprovalID  string
}

// stepNode dispatches on node.Type, mutating state in place. cfg is the
// tenant's active provider configuration, resolved once per turn by the
// caller.
func stepNode(ctx context.Context, deps *nodeDeps, cfg *tenant.Config, tenantID, executionID, userID string, node Node, state *State) (*stepOutcome, error) {
	switch node.Type {
	case NodeLLM:
		return nil, stepLLM(ctx, deps, cfg, node, state)
	case NodeRetriever:
		return nil, stepRetriever(ctx, deps, tenantID, node, state)
	case NodeRelevanceGrader:
		return nil, stepRelevanceGrader(ctx, deps, cfg, node, state)
	case NodeRAGGenerator:
		return nil, stepRAGGenerator(ctx, deps, cfg, node, state)
	case NodeHallucinationChecker:
		return nil, stepHallucinationChecker(ctx, deps, cfg, node, state)
	case NodeHumanInLoop:
		return stepHumanInLoop(ctx, deps, tenantID, executionID, userID, node, state)
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

// stepLLM calls ChatProvider over state.Messages and appends the reply.
func stepLLM(ctx context.Context, deps *nodeDeps, cfg *tenant.Config, node Node, state *State) error {
	messages := make([]chat.Message, len(state.Messages))
	for i, m := range state.Messages {
		messages[i] = chat.Message{Role: m.Role, Content: m.Content}
	}
	model, _ := node.Config["model"].(string)
	result, err := deps.chatReg.Complete(ctx, cfg, messages, chat.Params{Model: model})
	if err != nil {
		return err
	}
	state.Messages = append(state.Messages, Message{Role: "assistant", Content: result.Text})
	return nil
}

// stepRetriever embeds state.Query (or the last user message) and searches
// the tenant's active documents (all of the tenant's documents when none is
// active), writing state.Chunks.
func stepRetriever(ctx context.Context, deps *nodeDeps, tenantID string, node Node, state *State) error {
	query := state.Query
	if query == "" {
		query = state.LastUserMessage()
	}
	k := defaultRetrievalK
	if v, ok := node.Config["max_chunks"].(float64); ok && v > 0 {
		k = int(v)
	}
	minScore := float32(defaultRetrievalMinScore)
	if v, ok := node.Config["min_score"].(float64); ok {
		minScore = float32(v)
	}

	var filter vectorindex.Filter
	if len(state.ActiveDocuments) == 1 {
		filter = vectorindex.Filter{"document_id": state.ActiveDocuments[0]}
	}

	hits, err := deps.search.Search(ctx, tenantID, query, k, minScore, filter)
	if err != nil {
		return err
	}

	chunks := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		if len(state.ActiveDocuments) > 1 && !contains(state.ActiveDocuments, h.DocumentID) {
			continue
		}
		chunks = append(chunks, Chunk{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Content: h.Content, Score: h.Score})
	}
	state.Chunks = chunks
	return nil
}

// stepRelevanceGrader asks ChatProvider to judge each chunk relevant or
// irrelevant to the conversation, dropping the irrelevant ones. If none
// survive, it routes to "no_context".
func stepRelevanceGrader(ctx context.Context, deps *nodeDeps, cfg *tenant.Config, node Node, state *State) error {
	if len(state.Chunks) == 0 {
		state.Route = "no_context"
		return nil
	}

	query := state.Query
	if query == "" {
		query = state.LastUserMessage()
	}

	var kept []Chunk
	for _, c := range state.Chunks {
		messages := []chat.Message{
			{Role: "system", Content: "Answer only yes or no: is the passage relevant to the question?"},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nPassage: %s", query, c.Content)},
		}
		result, err := deps.chatReg.Complete(ctx, cfg, messages, chat.Params{})
		if err != nil {
			return err
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(result.Text)), "y") {
			kept = append(kept, c)
		}
	}

	state.Chunks = kept
	if len(kept) == 0 {
		state.Route = "no_context"
	} else {
		state.Route = "has_context"
	}
	return nil
}

// stepRAGGenerator answers grounded in state.Chunks, optionally appending
// citations when node.Config["include_sources"] is true.
func stepRAGGenerator(ctx context.Context, deps *nodeDeps, cfg *tenant.Config, node Node, state *State) error {
	query := state.Query
	if query == "" {
		query = state.LastUserMessage()
	}

	var sb strings.Builder
	for i, c := range state.Chunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, c.Content)
	}

	messages := []chat.Message{
		{Role: "system", Content: "Answer strictly using the provided context. If the context is insufficient, say so."},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", sb.String(), query)},
	}
	result, err := deps.chatReg.Complete(ctx, cfg, messages, chat.Params{})
	if err != nil {
		return err
	}

	answer := result.Text
	if includeSources, _ := node.Config["include_sources"].(bool); includeSources && len(state.Chunks) > 0 {
		var cites strings.Builder
		cites.WriteString("\n\nSources:")
		for i, c := range state.Chunks {
			fmt.Fprintf(&cites, "\n[%d] document %s", i+1, c.DocumentID)
		}
		answer += cites.String()
	}

	state.Answer = answer
	state.Messages = append(state.Messages, Message{Role: "assistant", Content: answer})
	return nil
}

// stepHallucinationChecker asks ChatProvider whether state.Answer's claims
// are all supported by state.Chunks; on failure it sets state.Retry so a
// conditional edge can route back to rag_generator.
func stepHallucinationChecker(ctx context.Context, deps *nodeDeps, cfg *tenant.Config, node Node, state *State) error {
	var sb strings.Builder
	for _, c := range state.Chunks {
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}
	messages := []chat.Message{
		{Role: "system", Content: "Answer only yes or no: is every claim in the answer supported by the context?"},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nAnswer: %s", sb.String(), state.Answer)},
	}
	result, err := deps.chatReg.Complete(ctx, cfg, messages, chat.Params{})
	if err != nil {
		return err
	}
	supported := strings.HasPrefix(strings.ToLower(strings.TrimSpace(result.Text)), "y")
	state.Retry = !supported
	return nil
}

// stepHumanInLoop creates a pending approval and reports an interrupt; the
// executor is responsible for persisting WorkflowExecution.status and
// stopping the step loop.
func stepHumanInLoop(ctx context.Context, deps *nodeDeps, tenantID, executionID, userID string, node Node, state *State) (*stepOutcome, error) {
	prompt, _ := node.Config["prompt"].(string)
	if prompt == "" {
		prompt = "Approval required to continue"
	}
	approval, err := deps.hitl.CreatePending(ctx, executionID, tenantID, userID, prompt, map[string]any{
		"query": state.Query,
		"route": state.Route,
	})
	if err != nil {
		return nil, err
	}
	state.PendingApprovalID = approval.ID
	return &stepOutcome{Interrupted: true, ApprovalID: approval.ID}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
