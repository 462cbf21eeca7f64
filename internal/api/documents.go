package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/idgen"
	"github.com/kadirpekel/ragflow/internal/vectorindex"
)

const maxUploadBytes = 50 << 20 // 50MB

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, &apperr.ValidationError{Msg: fmt.Sprintf("failed to parse upload: %v", err)})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, &apperr.ValidationError{Msg: "missing multipart field \"file\""})
		return
	}
	defer file.Close()

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	destDir := filepath.Join(s.uploadDir, claims.TenantID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		writeError(w, fmt.Errorf("failed to create upload directory: %w", err))
		return
	}
	destPath := filepath.Join(destDir, idgen.New()+"_"+header.Filename)

	dest, err := os.Create(destPath)
	if err != nil {
		writeError(w, fmt.Errorf("failed to store upload: %w", err))
		return
	}
	defer dest.Close()
	written, err := io.Copy(dest, file)
	if err != nil {
		writeError(w, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	doc, err := s.pipeline.Ingest(r.Context(), claims.TenantID, claims.Subject, destPath, header.Filename, fileType, written)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"file_size":   doc.FileSize,
		"status":      doc.Status,
		"message":     "upload accepted, processing in background",
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 50)
	statusFilter := document.Status(r.URL.Query().Get("status_filter"))

	docs, err := s.docs.List(r.Context(), claims.TenantID, statusFilter, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "skip": skip, "limit": limit})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	doc, err := s.docs.Get(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	if err := s.pipeline.Delete(r.Context(), claims.TenantID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	chunks, err := s.docs.ListChunks(r.Context(), claims.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		Query          string            `json:"query"`
		Limit          int               `json:"limit"`
		ScoreThreshold float32           `json:"score_threshold"`
		FilterMetadata map[string]string `json:"filter_metadata"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Query == "" {
		writeError(w, &apperr.ValidationError{Msg: "query is required"})
		return
	}
	if body.Limit <= 0 {
		body.Limit = 10
	}

	hits, err := s.search.Search(r.Context(), claims.TenantID, body.Query, body.Limit, body.ScoreThreshold, vectorindex.Filter(body.FilterMetadata))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
