package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ragflow/internal/hitl"
)

func (s *Server) listPendingApprovals(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	approvals, err := s.hitl.ListPending(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	approval, err := s.hitl.Get(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) respondApproval(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		Approved bool   `json:"approved"`
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	approval, err := s.hitl.Respond(r.Context(), claims.TenantID, chi.URLParam(r, "id"), body.Approved, body.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	statusFilter := hitl.Status(r.URL.Query().Get("status_filter"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	approvals, err := s.hitl.List(r.Context(), claims.TenantID, statusFilter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals, "limit": limit, "offset": offset})
}
