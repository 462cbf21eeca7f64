package workflow

import (
	"strings"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/session"
)

// Route is the auto-mode classifier's decision.
type Route string

const (
	RouteDirectChat Route = "direct_chat"
	RouteRAGNeeded  Route = "rag_needed"
	RouteHybrid     Route = "hybrid"
)

// entryNodeID resolves which node a turn starts at, given the session's
// mode and the graph's declared node types. chat_only and rag_only force
// a specific node type; auto runs classify and picks accordingly.
func entryNodeID(g *Graph, mode session.Mode, userInput string, hasActiveDocs bool) (string, map[string]any, error) {
	switch mode {
	case session.ModeChatOnly:
		id, err := firstNodeOfType(g, NodeLLM)
		return id, nil, err
	case session.ModeRAGOnly:
		if !hasActiveDocs {
			return "", nil, &apperr.ValidationError{Msg: "rag_only mode requires at least one active document (NoDocuments)"}
		}
		id, err := firstNodeOfType(g, NodeRetriever)
		return id, nil, err
	default: // auto
		route := classify(userInput, hasActiveDocs)
		meta := map[string]any{"route": string(route)}
		if route == RouteDirectChat {
			id, err := firstNodeOfType(g, NodeLLM)
			return id, meta, err
		}
		id, err := firstNodeOfType(g, NodeRetriever)
		return id, meta, err
	}
}

// classify is the auto-mode routing heuristic. Its exact wording is left
// to the implementer; it must be deterministic and must fall back to
// direct_chat whenever no documents are active.
func classify(userInput string, hasActiveDocs bool) Route {
	if !hasActiveDocs {
		return RouteDirectChat
	}
	lower := strings.ToLower(strings.TrimSpace(userInput))
	switch {
	case lower == "" || isGreeting(lower):
		return RouteDirectChat
	case strings.Contains(lower, "doc") || strings.Contains(lower, "?") ||
		strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "how") || strings.HasPrefix(lower, "why"):
		return RouteRAGNeeded
	default:
		return RouteHybrid
	}
}

func isGreeting(lower string) bool {
	for _, g := range []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"} {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
			return true
		}
	}
	return false
}

func firstNodeOfType(g *Graph, t NodeType) (string, error) {
	for _, n := range g.Definition.Nodes {
		if n.Type == t {
			return n.ID, nil
		}
	}
	return "", &apperr.ValidationError{Msg: "workflow has no node of type " + string(t) + " required by the current mode"}
}
