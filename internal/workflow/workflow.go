// Package workflow compiles a graph of RAG/chat nodes into an executable
// object and steps it turn by turn, checkpointing state between nodes and
// interrupting on human_in_loop.
package workflow

import "time"

// NodeType is the tag in the node-polymorphism tagged sum. The executor
// dispatches on this tag; each type's config is interpreted only by its
// own step function.
type NodeType string

const (
	NodeLLM                  NodeType = "llm"
	NodeRetriever            NodeType = "retriever"
	NodeRelevanceGrader      NodeType = "relevance_grader"
	NodeRAGGenerator         NodeType = "rag_generator"
	NodeHallucinationChecker NodeType = "hallucination_checker"
	NodeHumanInLoop          NodeType = "human_in_loop"
)

// StartNodeID and EndNodeID are the two synthetic node ids bracketing
// every graph.
const (
	StartNodeID = "__start__"
	EndNodeID   = "__end__"
)

// Node is one vertex of a WorkflowDefinition. Config is interpreted
// according to Type; unrecognized keys are ignored, not rejected, since
// node authors may carry forward fields between versions.
type Node struct {
	ID     string
	Type   NodeType
	Config map[string]any
}

// Edge connects two nodes. A Condition, when non-empty, names a predicate
// evaluated against State by the executor; an empty Condition makes the
// edge static (unconditional). Mapping is stored with the edge, but the
// executor does not read it; no state keys are renamed along an edge.
type Edge struct {
	Source    string
	Target    string
	Condition string
	Mapping   map[string]string
}

// Definition is the WorkflowDefinition entity: a tenant's named, versioned
// graph of nodes and edges.
type Definition struct {
	ID          string
	TenantID    string
	Name        string
	Version     int
	Description string
	Nodes       []Node
	Edges       []Edge
	IsActive    bool
}

// ExecutionStatus is the status of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionInterrupted ExecutionStatus = "interrupted"
	ExecutionCompleted   ExecutionStatus = "completed"
	ExecutionFailed      ExecutionStatus = "failed"
)

// Execution is the WorkflowExecution entity, one row per `execute`/`stream`
// call (and its subsequent `resume`s).
type Execution struct {
	ID           string
	TenantID     string
	UserID       string
	WorkflowID   string
	SessionID    string
	ThreadID     string
	Status       ExecutionStatus
	InputData    map[string]any
	OutputData   map[string]any
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Message is one turn carried in State.Messages; distinct from
// session.Message so the graph's working copy can be mutated freely
// without touching persisted history until __end__.
type Message struct {
	Role    string
	Content string
}

// Chunk is one retrieved passage carried in State.Chunks between retriever,
// relevance_grader, rag_generator, and hallucination_checker.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float32
}

// State is the mutable graph state threaded through every node's step. It
// is the unit serialized into Checkpoint.StateBlob.
type State struct {
	Messages          []Message
	Query             string
	ActiveDocuments   []string
	Chunks            []Chunk
	Answer            string
	Route             string
	RoutingMetadata   map[string]any
	Retry             bool
	PendingApprovalID string
	InterruptedNodeID string
	HumanResponse     *HumanResponse
}

// HumanResponse is what resume() feeds back into state after a
// human_in_loop interrupt.
type HumanResponse struct {
	Approved bool
	Feedback string
}

// LastUserMessage returns the content of the most recent "user" message,
// or the empty string if none exists.
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}
