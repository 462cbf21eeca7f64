package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/checkpoint"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/rlog"
	"github.com/kadirpekel/ragflow/internal/session"
	"github.com/kadirpekel/ragflow/internal/tenant"
)

// EventType is the kind of a streamed Event.
type EventType string

const (
	EventStart  EventType = "start"
	EventUpdate EventType = "update"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// Event is one element of the execute/stream SSE framing: `event: <Type>`,
// `data: <Data marshaled as JSON>`.
type Event struct {
	Type EventType
	Data map[string]any
}

// Executor steps a compiled Graph turn by turn, checkpointing state
// between nodes and interrupting on human_in_loop. A single Executor is
// shared by every tenant; every method takes an explicit tenantID.
type Executor struct {
	defs        *Store
	checkpoints *checkpoint.Store
	sessions    *session.Store
	tenants     *tenant.Store
	hitlStore   *hitl.Store
	deps        *nodeDeps
}

func NewExecutor(defs *Store, checkpoints *checkpoint.Store, sessions *session.Store, tenants *tenant.Store,
	hitlStore *hitl.Store, chatReg *chat.Registry, search *document.Searcher) *Executor {
	return &Executor{
		defs:        defs,
		checkpoints: checkpoints,
		sessions:    sessions,
		tenants:     tenants,
		hitlStore:   hitlStore,
		deps:        &nodeDeps{chatReg: chatReg, search: search, hitl: hitlStore},
	}
}

// resolveDefinition picks the definition to run: an explicit workflowID,
// else the session's own, else the tenant's default.
func (e *Executor) resolveDefinition(ctx context.Context, tenantID string, sess *session.ConversationSession, workflowID string) (*Definition, error) {
	if workflowID != "" {
		return e.defs.GetDefinition(ctx, tenantID, workflowID)
	}
	if sess.WorkflowID != "" {
		return e.defs.GetDefinition(ctx, tenantID, sess.WorkflowID)
	}
	return e.defs.DefaultDefinition(ctx, tenantID)
}

// Execute runs one conversation turn to completion (or to an interrupt)
// and returns the final execution row. It is Stream with the channel
// drained internally.
func (e *Executor) Execute(ctx context.Context, tenantID, userID, sessionID, userInput, workflowID string) (*Execution, error) {
	ch, err := e.Stream(ctx, tenantID, userID, sessionID, userInput, workflowID)
	if err != nil {
		return nil, err
	}
	var execID string
	for ev := range ch {
		if id, ok := ev.Data["execution_id"].(string); ok {
			execID = id
		}
		if ev.Type == EventError && execID == "" {
			return nil, fmt.Errorf("%v", ev.Data["error"])
		}
	}
	if execID == "" {
		return nil, fmt.Errorf("execution did not start")
	}
	return e.defs.GetExecution(ctx, tenantID, execID)
}

// Stream starts a new turn and returns a channel of start/update/done/error
// events. Session and definition lookups happen synchronously so a bad
// session_id or workflow_id is reported to the caller before the channel
// is returned; everything past that runs on a background goroutine.
func (e *Executor) Stream(ctx context.Context, tenantID, userID, sessionID, userInput, workflowID string) (<-chan Event, error) {
	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	def, err := e.resolveDefinition(ctx, tenantID, sess, workflowID)
	if err != nil {
		return nil, err
	}
	graph, err := Compile(def)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		TenantID:   tenantID,
		UserID:     userID,
		WorkflowID: def.ID,
		SessionID:  sessionID,
		ThreadID:   sess.ThreadID,
		InputData:  map[string]any{"user_input": userInput},
	}
	if err := e.defs.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	ch := make(chan Event, 16)
	go e.runTurn(ctx, ch, sess, graph, exec, userInput)
	return ch, nil
}

// runTurn executes the turn-start path: load or initialise state, append
// the user message, run mode routing, and step the graph from the chosen
// entry node.
func (e *Executor) runTurn(ctx context.Context, ch chan<- Event, sess *session.ConversationSession, graph *Graph, exec *Execution, userInput string) {
	defer close(ch)
	ch <- Event{Type: EventStart, Data: map[string]any{"execution_id": exec.ID, "thread_id": exec.ThreadID}}

	state, prevStep, err := e.loadOrInitState(ctx, sess)
	if err != nil {
		e.fail(ctx, ch, exec, err)
		return
	}

	if err := e.sessions.AddMessage(ctx, &session.Message{SessionID: sess.ID, Role: session.RoleUser, Content: userInput}); err != nil {
		e.fail(ctx, ch, exec, err)
		return
	}
	state.Messages = append(state.Messages, Message{Role: "user", Content: userInput})
	state.Query = userInput

	entry, routingMeta, err := entryNodeID(graph, sess.Mode, userInput, len(state.ActiveDocuments) > 0)
	if err != nil {
		e.fail(ctx, ch, exec, err)
		return
	}
	state.RoutingMetadata = routingMeta
	if routingMeta != nil {
		ch <- Event{Type: EventUpdate, Data: map[string]any{"execution_id": exec.ID, "routing_metadata": routingMeta}}
	}

	e.stepLoop(ctx, ch, exec, graph, state, entry, prevStep)
}

// loadOrInitState loads the thread's latest checkpoint, or (for a fresh
// thread) seeds state from the session's prior messages and active
// documents.
func (e *Executor) loadOrInitState(ctx context.Context, sess *session.ConversationSession) (*State, *int, error) {
	latest, err := e.checkpoints.LoadLatest(ctx, sess.ThreadID)
	var notFound *apperr.NotFoundError
	if err != nil {
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
		return e.initState(ctx, sess)
	}

	var state State
	if err := json.Unmarshal(latest.StateBlob, &state); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	step := latest.Step
	return &state, &step, nil
}

func (e *Executor) initState(ctx context.Context, sess *session.ConversationSession) (*State, *int, error) {
	state := &State{}
	priorMessages, err := e.sessions.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range priorMessages {
		state.Messages = append(state.Messages, Message{Role: string(m.Role), Content: m.Content})
	}
	bridges, err := e.sessions.ListDocuments(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range bridges {
		state.ActiveDocuments = append(state.ActiveDocuments, b.DocumentID)
	}
	return state, nil, nil
}

// stepLoop steps the graph from startNodeID until __end__ or an
// interrupt, committing one checkpoint per step.
func (e *Executor) stepLoop(ctx context.Context, ch chan<- Event, exec *Execution, graph *Graph, state *State, startNodeID string, prevStep *int) {
	cfg, err := e.tenants.GetConfig(ctx, exec.TenantID)
	if err != nil {
		e.fail(ctx, ch, exec, err)
		return
	}

	nextStep := 0
	if prevStep != nil {
		nextStep = *prevStep + 1
	}

	curNodeID := startNodeID
	for {
		if curNodeID == EndNodeID {
			e.finish(ctx, ch, exec, state)
			return
		}

		node, ok := graph.Node(curNodeID)
		if !ok {
			e.fail(ctx, ch, exec, fmt.Errorf("unknown node %q", curNodeID))
			return
		}

		outcome, err := stepNode(ctx, e.deps, cfg, exec.TenantID, exec.ID, exec.UserID, node, state)
		if err != nil {
			e.fail(ctx, ch, exec, err)
			return
		}

		if outcome != nil && outcome.Interrupted {
			state.InterruptedNodeID = curNodeID
		}

		blob, err := json.Marshal(state)
		if err != nil {
			e.fail(ctx, ch, exec, fmt.Errorf("failed to marshal checkpoint state: %w", err))
			return
		}
		if _, err := e.checkpoints.Save(ctx, exec.ThreadID, nextStep, blob, prevStep); err != nil {
			e.fail(ctx, ch, exec, err)
			return
		}
		prevStep = &nextStep
		nextStep++

		ch <- Event{Type: EventUpdate, Data: map[string]any{
			"execution_id": exec.ID,
			"node_id":      curNodeID,
			"route":        state.Route,
		}}

		if outcome != nil && outcome.Interrupted {
			if err := e.defs.SetStatus(ctx, exec.TenantID, exec.ID, ExecutionInterrupted, nil, ""); err != nil {
				e.fail(ctx, ch, exec, err)
				return
			}
			ch <- Event{Type: EventUpdate, Data: map[string]any{"execution_id": exec.ID, "approval_id": outcome.ApprovalID}}
			ch <- Event{Type: EventDone, Data: map[string]any{"execution_id": exec.ID, "status": string(ExecutionInterrupted)}}
			return
		}

		next, err := chooseEdge(graph, curNodeID, state)
		if err != nil {
			e.fail(ctx, ch, exec, err)
			return
		}
		curNodeID = next
	}
}

// finish persists the final assistant message and marks the execution
// completed.
func (e *Executor) finish(ctx context.Context, ch chan<- Event, exec *Execution, state *State) {
	var lastAssistant string
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == "assistant" {
			lastAssistant = state.Messages[i].Content
			break
		}
	}
	if lastAssistant != "" {
		if err := e.sessions.AddMessage(ctx, &session.Message{SessionID: exec.SessionID, Role: session.RoleAssistant, Content: lastAssistant}); err != nil {
			e.fail(ctx, ch, exec, err)
			return
		}
	}

	output := map[string]any{"answer": state.Answer}
	if output["answer"] == "" {
		output["answer"] = lastAssistant
	}
	if err := e.defs.SetStatus(ctx, exec.TenantID, exec.ID, ExecutionCompleted, output, ""); err != nil {
		e.fail(ctx, ch, exec, err)
		return
	}
	ch <- Event{Type: EventDone, Data: map[string]any{"execution_id": exec.ID, "status": string(ExecutionCompleted), "output": output}}
}

func (e *Executor) fail(ctx context.Context, ch chan<- Event, exec *Execution, err error) {
	rlog.With(exec.TenantID, "execution_id", exec.ID, "error", err).Error("workflow execution failed")
	if setErr := e.defs.SetStatus(context.Background(), exec.TenantID, exec.ID, ExecutionFailed, nil, err.Error()); setErr != nil {
		rlog.With(exec.TenantID, "execution_id", exec.ID, "error", setErr).Error("failed to mark workflow execution failed")
	}
	ch <- Event{Type: EventError, Data: map[string]any{"execution_id": exec.ID, "error": err.Error()}}
}

// Resume implements hitl.Resumer: it is called after an approval response
// is committed, and continues the execution it belongs to.
func (e *Executor) Resume(ctx context.Context, executionID string) error {
	exec, err := e.defs.GetExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}
	approval, err := e.hitlStore.LatestForExecution(ctx, executionID)
	if err != nil {
		return err
	}
	_, err = e.resumeExecution(ctx, exec, &HumanResponse{Approved: approval.Status == hitl.StatusApproved, Feedback: approval.UserResponse})
	return err
}

// ResumeSession implements the `resume(session_id, user_response)` surface
// exposed over HTTP. It treats a direct user_response as an implicit
// approval carrying that text as feedback; callers that need an explicit
// reject should go through the HITL respond endpoint instead, which
// reaches the graph via Resume above.
func (e *Executor) ResumeSession(ctx context.Context, tenantID, sessionID, userResponse string) (*Execution, error) {
	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	exec, err := e.defs.LatestExecutionForThread(ctx, tenantID, sess.ThreadID)
	if err != nil {
		return nil, err
	}
	if exec.Status != ExecutionInterrupted {
		return nil, &apperr.ConflictError{Msg: fmt.Sprintf("execution %s is not interrupted (status=%s)", exec.ID, exec.Status)}
	}
	return e.resumeExecution(ctx, exec, &HumanResponse{Approved: true, Feedback: userResponse})
}

// resumeExecution applies resp to the interrupted checkpoint's state and
// continues stepping from the node following the interrupt.
func (e *Executor) resumeExecution(ctx context.Context, exec *Execution, resp *HumanResponse) (*Execution, error) {
	latest, err := e.checkpoints.LoadLatest(ctx, exec.ThreadID)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(latest.StateBlob, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	state.HumanResponse = resp

	graph, err := e.graphForExecution(ctx, exec)
	if err != nil {
		return nil, err
	}

	next, rejected, err := nextAfterInterrupt(graph, state.InterruptedNodeID, &state)
	if err != nil {
		return nil, err
	}
	if rejected {
		if err := e.defs.SetStatus(ctx, exec.TenantID, exec.ID, ExecutionCompleted, map[string]any{"rejected": true}, ""); err != nil {
			return nil, err
		}
		return e.defs.GetExecution(ctx, exec.TenantID, exec.ID)
	}

	step := latest.Step
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e.stepLoop(ctx, ch, exec, graph, &state, next, &step)
	}()
	for range ch {
		// Resume is driven to completion synchronously; its events are
		// discarded, and callers read the outcome from the execution row.
	}
	return e.defs.GetExecution(ctx, exec.TenantID, exec.ID)
}

func (e *Executor) graphForExecution(ctx context.Context, exec *Execution) (*Graph, error) {
	def, err := e.defs.GetDefinition(ctx, exec.TenantID, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// nextAfterInterrupt resolves where execution continues once a
// human_in_loop response has been recorded. On a rejection, an explicit
// on_reject in the node's config decides ahead of the graph's edges:
// "terminate" ends the execution and "route:<node_id>" continues at that
// node. With on_reject unset, a node without outgoing edges ends the
// execution, and otherwise its edges are evaluated (e.g. an
// "approved=false" edge). Returns rejected=true when the rejection ends
// the execution, meaning the caller should not also step the graph.
func nextAfterInterrupt(g *Graph, nodeID string, state *State) (next string, rejected bool, err error) {
	node, ok := g.Node(nodeID)
	if ok && state.HumanResponse != nil && !state.HumanResponse.Approved {
		onReject, _ := node.Config["on_reject"].(string)
		switch {
		case onReject == "terminate" || (onReject == "" && len(g.Outgoing(nodeID)) == 0):
			return "", true, nil
		case strings.HasPrefix(onReject, "route:"):
			return strings.TrimPrefix(onReject, "route:"), false, nil
		}
	}
	next, err = chooseEdge(g, nodeID, state)
	return next, false, err
}

// chooseEdge picks the first outgoing edge from nodeID whose condition
// evaluates true against state.
func chooseEdge(g *Graph, nodeID string, state *State) (string, error) {
	edges := g.Outgoing(nodeID)
	if len(edges) == 0 {
		return "", fmt.Errorf("node %q has no outgoing edge", nodeID)
	}
	for _, e := range edges {
		if evalCondition(state, e.Condition) {
			return e.Target, nil
		}
	}
	return "", fmt.Errorf("no edge out of %q matched the current state", nodeID)
}

// evalCondition supports the small predicate language a WorkflowDefinition
// author writes into Edge.Condition: "field=value", "field!=value", or the
// catch-all "default"/"else". An empty condition always matches.
func evalCondition(state *State, cond string) bool {
	switch cond {
	case "":
		return true
	case "default", "else":
		return true
	}

	field, value, negate := splitCondition(cond)
	var actual string
	switch field {
	case "route":
		actual = state.Route
	case "retry":
		actual = boolString(state.Retry)
	case "approved":
		actual = boolString(state.HumanResponse != nil && state.HumanResponse.Approved)
	default:
		return false
	}
	matches := actual == value
	if negate {
		return !matches
	}
	return matches
}

func splitCondition(cond string) (field, value string, negate bool) {
	if idx := indexOf(cond, "!="); idx >= 0 {
		return cond[:idx], cond[idx+2:], true
	}
	if idx := indexOf(cond, "="); idx >= 0 {
		return cond[:idx], cond[idx+1:], false
	}
	return cond, "", false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
