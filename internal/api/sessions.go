package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/session"
)

func (s *Server) attachSessionDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sessionID := chi.URLParam(r, "id")
	var body struct {
		DocumentID string `json:"document_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DocumentID == "" {
		writeError(w, &apperr.ValidationError{Msg: "document_id is required"})
		return
	}

	if err := s.sessions.AddDocument(r.Context(), claims.TenantID, sessionID, body.DocumentID); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSessionContext(r.Context(), claims.TenantID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) detachSessionDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sessionID := chi.URLParam(r, "id")
	documentID := chi.URLParam(r, "document_id")
	if err := s.sessions.RemoveDocument(r.Context(), sessionID, documentID); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSessionContext(r.Context(), claims.TenantID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessionDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	docs, err := s.sessions.ListDocuments(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) setSessionMode(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sessionID := chi.URLParam(r, "id")
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	mode := session.Mode(body.Mode)
	switch mode {
	case session.ModeAuto, session.ModeChatOnly, session.ModeRAGOnly:
	default:
		writeError(w, &apperr.ValidationError{Msg: "mode must be one of: auto, chat_only, rag_only"})
		return
	}

	if err := s.sessions.UpdateMode(r.Context(), claims.TenantID, sessionID, mode); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSessionContext(r.Context(), claims.TenantID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// getSessionContext serves through the Redis-backed cache when one is
// configured; a tenant running without Redis falls back to the relational
// store on every call.
func (s *Server) getSessionContext(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	sessionID := chi.URLParam(r, "id")

	var ctxData *session.Context
	var err error
	if s.sessionCache != nil {
		ctxData, err = s.sessionCache.GetContext(r.Context(), claims.TenantID, sessionID)
	} else {
		ctxData, err = s.sessions.GetContext(r.Context(), claims.TenantID, sessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctxData)
}

func (s *Server) invalidateSessionContext(ctx context.Context, tenantID, sessionID string) {
	if s.sessionCache != nil {
		s.sessionCache.Invalidate(ctx, tenantID, sessionID)
	}
}
