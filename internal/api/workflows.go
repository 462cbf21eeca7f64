package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/session"
)

func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		SessionID  string `json:"session_id"`
		Input      string `json:"input"`
		WorkflowID string `json:"workflow_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.SessionID == "" || body.Input == "" {
		writeError(w, &apperr.ValidationError{Msg: "session_id and input are required"})
		return
	}

	exec, err := s.executor.Execute(r.Context(), claims.TenantID, claims.Subject, body.SessionID, body.Input, body.WorkflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) streamWorkflow(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sessionID := r.URL.Query().Get("session_id")
	input := r.URL.Query().Get("input")
	workflowID := r.URL.Query().Get("workflow_id")
	if sessionID == "" || input == "" {
		writeError(w, &apperr.ValidationError{Msg: "session_id and input query params are required"})
		return
	}

	events, err := s.executor.Stream(r.Context(), claims.TenantID, claims.Subject, sessionID, input, workflowID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported by this response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

func (s *Server) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		SessionID    string `json:"session_id"`
		UserResponse string `json:"user_response"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.SessionID == "" {
		writeError(w, &apperr.ValidationError{Msg: "session_id is required"})
		return
	}

	exec, err := s.executor.ResumeSession(r.Context(), claims.TenantID, body.SessionID, body.UserResponse)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		WorkflowID string `json:"workflow_id"`
		Title      string `json:"title"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	sess := &session.ConversationSession{
		ID:         idgen.New(),
		TenantID:   claims.TenantID,
		UserID:     claims.Subject,
		WorkflowID: body.WorkflowID,
		ThreadID:   idgen.New(),
		Title:      body.Title,
		Mode:       session.ModeAuto,
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := s.sessions.List(r.Context(), claims.TenantID, claims.Subject, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "limit": limit, "offset": offset})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sess, err := s.sessions.Get(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)

	msgs, err := s.sessions.ListRecentMessages(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) addSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var body struct {
		Role    string         `json:"role"`
		Content string         `json:"content"`
		Meta    map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Content == "" {
		writeError(w, &apperr.ValidationError{Msg: "content is required"})
		return
	}
	role := session.Role(body.Role)
	if role == "" {
		role = session.RoleUser
	}

	msg := &session.Message{
		ID:        idgen.New(),
		SessionID: sessionID,
		Role:      role,
		Content:   body.Content,
		Metadata:  body.Meta,
	}
	if err := s.sessions.AddMessage(r.Context(), msg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
