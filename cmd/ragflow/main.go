// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ragflow serves the multi-tenant retrieval-augmented generation
// backend.
//
// Usage:
//
//	ragflow serve --config config.yaml
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/ragflow/internal/api"
	"github.com/kadirpekel/ragflow/internal/checkpoint"
	"github.com/kadirpekel/ragflow/internal/config"
	"github.com/kadirpekel/ragflow/internal/document"
	"github.com/kadirpekel/ragflow/internal/hitl"
	"github.com/kadirpekel/ragflow/internal/operation"
	"github.com/kadirpekel/ragflow/internal/provider/chat"
	"github.com/kadirpekel/ragflow/internal/provider/embedding"
	"github.com/kadirpekel/ragflow/internal/rlog"
	"github.com/kadirpekel/ragflow/internal/secretstore"
	"github.com/kadirpekel/ragflow/internal/session"
	"github.com/kadirpekel/ragflow/internal/store"
	"github.com/kadirpekel/ragflow/internal/tenant"
	"github.com/kadirpekel/ragflow/internal/vectorindex"
	"github.com/kadirpekel/ragflow/internal/worker"
	"github.com/kadirpekel/ragflow/internal/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ragflow version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	SecretKeyEnv  string `name:"secret-key-env" help:"Env var holding the hex-encoded AES key for the secret store." default:"RAGFLOW_SECRET_KEY"`
	HMACSecretEnv string `name:"hmac-secret-env" help:"Env var holding the HMAC secret for JWT verification, overriding config.auth.hmac_secret_env."`
	UploadDir     string `name:"upload-dir" help:"Directory document uploads are staged to." default:"./data/uploads"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	_ = config.LoadDotEnvForConfig(cli.Config)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logLevel := cli.LogLevel
	if cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}

	logOutput := os.Stderr
	if cli.LogFile != "" {
		f, err := os.OpenFile(cli.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOutput = f
	}
	rlog.Init(rlog.ParseLevel(logLevel), logOutput, "simple")

	db, err := store.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	secretKey, err := resolveSecretKey(c.SecretKeyEnv)
	if err != nil {
		return err
	}
	secrets, err := secretstore.New(db, secretKey)
	if err != nil {
		return fmt.Errorf("failed to init secret store: %w", err)
	}

	index, err := vectorindex.New(cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to init vector index: %w", err)
	}

	tenants := tenant.NewStore(db)
	docs := document.NewStore(db)
	chatReg := chat.NewRegistry(secrets)
	embedReg := embedding.NewRegistry(secrets)
	pool := worker.New(cfg.Workers.GlobalConcurrency, cfg.Workers.PerTenantLimit, cfg.Workers.OperationTimeout)

	pipeline := document.NewPipeline(docs, tenants, embedReg, index, pool)
	searcher := document.NewSearcher(docs, tenants, embedReg, index)
	ops := operation.NewEngine(db, docs, searcher, tenants, chatReg, pool)

	sessions := session.NewStore(db, docs)
	checkpoints := checkpoint.NewStore(db)
	workflows := workflow.NewStore(db)

	var sessionCache *session.Cache
	if cfg.Session.RedisURL != "" {
		sessionCache, err = session.NewCache(sessions, cfg.Session.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to init session cache: %w", err)
		}
		defer sessionCache.Close()
	}

	// hitl.Store needs a Resumer at construction; the Executor it resumes
	// is only buildable once hitl.Store exists. slot breaks the cycle.
	slot := &resumerSlot{}
	hitlStore := hitl.NewStore(db, slot)
	executor := workflow.NewExecutor(workflows, checkpoints, sessions, tenants, hitlStore, chatReg, searcher)
	slot.resume = executor.Resume

	hmacSecretEnv := c.HMACSecretEnv
	if hmacSecretEnv == "" {
		hmacSecretEnv = cfg.Auth.HMACSecretEnv
	}
	var hmacSecret string
	if hmacSecretEnv != "" {
		hmacSecret = os.Getenv(hmacSecretEnv)
	}
	authenticator, err := api.NewAuthenticator(cfg.Auth, hmacSecret)
	if err != nil {
		return fmt.Errorf("failed to init authenticator: %w", err)
	}

	if err := os.MkdirAll(c.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	server := api.NewServer(api.Deps{
		Auth:         authenticator,
		Docs:         docs,
		Pipeline:     pipeline,
		Search:       searcher,
		Ops:          ops,
		Tenants:      tenants,
		Secrets:      secrets,
		ChatReg:      chatReg,
		EmbedReg:     embedReg,
		Sessions:     sessions,
		SessionCache: sessionCache,
		Workflows:    workflows,
		Executor:     executor,
		HITL:         hitlStore,
		UploadDir:    c.UploadDir,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// resumerSlot lets main wire hitl.Store (which needs a Resumer at
// construction) and the workflow Executor (which the Resumer points back
// to) together despite their circular dependency.
type resumerSlot struct {
	resume func(ctx context.Context, executionID string) error
}

func (r *resumerSlot) Resume(ctx context.Context, executionID string) error {
	return r.resume(ctx, executionID)
}

func resolveSecretKey(envVar string) ([]byte, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, fmt.Errorf("%s must hold a hex-encoded 16/24/32-byte AES key", envVar)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", envVar, err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("%s must decode to 16, 24, or 32 bytes, got %d", envVar, len(key))
	}
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("ragflow"),
		kong.Description("Multi-tenant retrieval-augmented generation backend."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		ctx.FatalIfErrorf(err)
	}
}
