package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"doc.pdf"}`))
		var b body
		require.NoError(t, decodeJSON(req, &b))
		require.Equal(t, "doc.pdf", b.Name)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
		var b body
		err := decodeJSON(req, &b)
		require.Error(t, err)
		var verr *apperr.ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"id": "abc"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"id":"abc"}`, rr.Body.String())
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, &apperr.NotFoundError{Resource: "document", ID: "doc-1"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"detail":"document \"doc-1\" not found"}`, rr.Body.String())
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name string
		url  string
		def  int
		want int
	}{
		{"default when absent", "/", 10, 10},
		{"parses value", "/?limit=25", 10, 25},
		{"falls back on garbage", "/?limit=notanumber", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			require.Equal(t, tt.want, queryInt(req, "limit", tt.def))
		})
	}
}

func TestQueryFloat(t *testing.T) {
	tests := []struct {
		name string
		url  string
		def  float64
		want float64
	}{
		{"default when absent", "/", 0.5, 0.5},
		{"parses value", "/?score_threshold=0.75", 0.5, 0.75},
		{"falls back on garbage", "/?score_threshold=nope", 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			require.Equal(t, tt.want, queryFloat(req, "score_threshold", tt.def))
		})
	}
}
