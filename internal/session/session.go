// Package session implements conversation thread state — active
// documents, mode, and message history — backing the workflow executor's
// per-turn context.
package session

import (
	"time"
)

// Mode selects how a turn is routed between chat and retrieval.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeChatOnly Mode = "chat_only"
	ModeRAGOnly  Mode = "rag_only"
)

// ConversationSession tracks one conversation thread; ThreadID is the
// checkpoint key used to persist its execution state.
type ConversationSession struct {
	ID         string
	TenantID   string
	UserID     string
	WorkflowID string
	ThreadID   string
	Title      string
	Mode       Mode
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Role enumerates message speakers.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a session's history.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DocumentBridge is a session's attachment of a document.
type DocumentBridge struct {
	SessionID  string
	DocumentID string
	AddedAt    time.Time
	IsActive   bool
}

// Context is the get_context(session_id) response shape.
type Context struct {
	Mode            Mode
	ActiveDocuments []string
	TotalDocuments  int
	TotalChunks     int
}
