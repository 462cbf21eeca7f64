package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

// decodeJSON decodes a request body into dst, wrapping any error as a
// ValidationError so handlers can hand it straight to writeError.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &apperr.ValidationError{Msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the {"detail": "..."} error envelope with the status
// apperr.StatusCode maps err to.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.StatusCode(err), apperr.Detail(err))
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}
