package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/operation"
)

func (s *Server) summarizeDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		DocumentID string `json:"document_id"`
		Model      string `json:"model"`
		MaxLength  int    `json:"max_length"`
		Force      bool   `json:"force"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DocumentID == "" {
		writeError(w, &apperr.ValidationError{Msg: "document_id is required"})
		return
	}

	op, err := s.ops.Summarize(r.Context(), claims.TenantID, claims.Subject, body.DocumentID, body.Model, body.MaxLength, body.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) askDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		DocumentID string `json:"document_id"`
		Question   string `json:"question"`
		Model      string `json:"model"`
		MaxChunks  int    `json:"max_chunks"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DocumentID == "" || body.Question == "" {
		writeError(w, &apperr.ValidationError{Msg: "document_id and question are required"})
		return
	}

	op, err := s.ops.Ask(r.Context(), claims.TenantID, claims.Subject, body.DocumentID, body.Question, body.Model, body.MaxChunks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) transformDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		DocumentID  string `json:"document_id"`
		Instruction string `json:"instruction"`
		Model       string `json:"model"`
		Format      string `json:"format"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DocumentID == "" || body.Instruction == "" {
		writeError(w, &apperr.ValidationError{Msg: "document_id and instruction are required"})
		return
	}
	format := operation.OutputFormat(body.Format)
	if format == "" {
		format = operation.FormatText
	}

	op, err := s.ops.Transform(r.Context(), claims.TenantID, claims.Subject, body.DocumentID, body.Instruction, body.Model, format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	op, err := s.ops.Get(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 50)

	ops, err := s.ops.List(r.Context(), claims.TenantID, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops, "skip": skip, "limit": limit})
}

func (s *Server) latestSummary(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	op, err := s.ops.LatestSummary(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
