package api

import (
	"net/http"

	"github.com/kadirpekel/ragflow/internal/secretstore"
)

func (s *Server) getEmbeddingSettings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	cfg, err := s.tenants.GetConfig(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":   cfg.EmbeddingProvider,
		"model":      cfg.EmbeddingModel,
		"dimensions": cfg.EmbeddingDimensions,
		"base_url":   cfg.EmbeddingBaseURL,
	})
}

func (s *Server) putEmbeddingSettings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		Provider   string `json:"provider"`
		Model      string `json:"model"`
		Dimensions int    `json:"dimensions"`
		BaseURL    string `json:"base_url"`
		APIKey     string `json:"api_key"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := s.tenants.GetConfig(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg.EmbeddingProvider = body.Provider
	cfg.EmbeddingModel = body.Model
	cfg.EmbeddingDimensions = body.Dimensions
	cfg.EmbeddingBaseURL = body.BaseURL

	if err := s.tenants.PutConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	if body.APIKey != "" {
		secret := map[string]string{"api_key": body.APIKey}
		if err := s.secrets.PutJSON(r.Context(), claims.TenantID, secretstore.EmbeddingPath(body.Provider), secret); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) testEmbeddingSettings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	cfg, err := s.tenants.GetConfig(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.embedReg.Resolve(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := p.Probe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) getChatSettings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	cfg, err := s.tenants.GetConfig(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": cfg.ChatProvider,
		"model":    cfg.ChatModel,
		"base_url": cfg.ChatBaseURL,
	})
}

func (s *Server) putChatSettings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	var body struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		BaseURL  string `json:"base_url"`
		APIKey   string `json:"api_key"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	cfg, err := s.tenants.GetConfig(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg.ChatProvider = body.Provider
	cfg.ChatModel = body.Model
	cfg.ChatBaseURL = body.BaseURL

	if err := s.tenants.PutConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	if body.APIKey != "" {
		secret := map[string]string{"api_key": body.APIKey}
		if err := s.secrets.PutJSON(r.Context(), claims.TenantID, secretstore.ChatPath(body.Provider), secret); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, cfg)
}
