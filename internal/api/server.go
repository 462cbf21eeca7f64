package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/operation"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/provider/embedding"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/session"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/workflow"
)

// Server wires every component behind the HTTP surface. It holds no
// per-request state; every handler takes its tenant scope from the
// authenticated request's Claims.
type Server struct {
	auth         *Authenticator
	docs         *document.Store
	pipeline     *document.Pipeline
	search       *document.Searcher
	ops          *operation.Engine
	tenants      *tenant.Store
	secrets      *secretstore.Store
	chatReg      *chat.Registry
	embedReg     *embedding.Registry
	sessions     *session.Store
	sessionCache *session.Cache
	workflows    *workflow.Store
	executor     *workflow.Executor
	hitl         *hitl.Store
	uploadDir    string
}

// Deps is the full set of components a Server needs, assembled by the
// process entrypoint.
type Deps struct {
	Auth      *Authenticator
	Docs      *document.Store
	Pipeline  *document.Pipeline
	Search    *document.Searcher
	Ops       *operation.Engine
	Tenants   *tenant.Store
	Secrets   *secretstore.Store
	ChatReg   *chat.Registry
	EmbedReg  *embedding.Registry
	Sessions  *session.Store
	// SessionCache fronts get_context reads when non-nil; get_context falls
	// back to Sessions directly otherwise.
	SessionCache *session.Cache
	Workflows    *workflow.Store
	Executor     *workflow.Executor
	HITL         *hitl.Store
	UploadDir    string
}

func NewServer(d Deps) *Server {
	return &Server{
		auth:         d.Auth,
		docs:         d.Docs,
		pipeline:     d.Pipeline,
		search:       d.Search,
		ops:          d.Ops,
		tenants:      d.Tenants,
		secrets:      d.Secrets,
		chatReg:      d.ChatReg,
		embedReg:     d.EmbedReg,
		sessions:     d.Sessions,
		sessionCache: d.SessionCache,
		workflows:    d.Workflows,
		executor:     d.Executor,
		hitl:         d.HITL,
		uploadDir:    d.UploadDir,
	}
}

// Router builds the chi router for the full /api/v1 surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/upload", s.uploadDocument)
			r.Get("/", s.listDocuments)
			r.Post("/search", s.searchDocuments)
			r.Get("/{id}", s.getDocument)
			r.Delete("/{id}", s.deleteDocument)
			r.Get("/{id}/chunks", s.listChunks)
		})

		r.Route("/llm", func(r chi.Router) {
			r.Post("/documents/summarize", s.summarizeDocument)
			r.Post("/documents/ask", s.askDocument)
			r.Post("/documents/transform", s.transformDocument)
			r.Get("/documents/{id}/summarize/latest", s.latestSummary)
			r.Get("/operations/{id}", s.getOperation)
			r.Get("/operations", s.listOperations)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/embedding-provider", s.getEmbeddingSettings)
			r.Put("/embedding-provider", s.putEmbeddingSettings)
			r.Post("/embedding-provider/test", s.testEmbeddingSettings)
			r.Get("/llm-provider", s.getChatSettings)
			r.Put("/llm-provider", s.putChatSettings)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/execute", s.executeWorkflow)
			r.Get("/execute/stream", s.streamWorkflow)
			r.Post("/resume", s.resumeWorkflow)
			r.Post("/sessions", s.createSession)
			r.Get("/sessions", s.listSessions)
			r.Get("/sessions/{id}", s.getSession)
			r.Get("/sessions/{id}/messages", s.listSessionMessages)
			r.Post("/sessions/{id}/messages", s.addSessionMessage)
		})

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/documents", s.attachSessionDocument)
			r.Delete("/documents/{document_id}", s.detachSessionDocument)
			r.Get("/documents", s.listSessionDocuments)
			r.Put("/mode", s.setSessionMode)
			r.Get("/context", s.getSessionContext)
		})

		r.Route("/hitl", func(r chi.Router) {
			r.Get("/approvals/pending", s.listPendingApprovals)
			r.Get("/approvals/{id}", s.getApproval)
			r.Post("/approvals/{id}/respond", s.respondApproval)
			r.Get("/approvals", s.listApprovals)
		})
	})

	return r
}
