// Package main is the entry point for the Orchestrator service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/common/config"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/common/otelinit"
	"github.com/kdlbs/agentorc/internal/executeagent"
	"github.com/kdlbs/agentorc/internal/executor"
	"github.com/kdlbs/agentorc/internal/executor/containerexec"
	"github.com/kdlbs/agentorc/internal/httpapi"
	"github.com/kdlbs/agentorc/internal/httpapi/stream"
	"github.com/kdlbs/agentorc/internal/instancecache"
	"github.com/kdlbs/agentorc/internal/mqueue"
	"github.com/kdlbs/agentorc/internal/mqueue/natsqueue"
	"github.com/kdlbs/agentorc/internal/orchestrator"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting orchestrator service")

	// 3. Initialize tracing (no-op unless an OTLP endpoint is configured)
	otelinit.SetEndpoint(cfg.Tracing.OTLPEndpoint)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelinit.Shutdown(shutdownCtx)
	}()

	// 4. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Connect to the Agent Repository's backing store
	repo, err := newRepository(cfg.Database)
	if err != nil {
		log.Fatal("failed to open agent repository", zap.Error(err))
	}
	defer repo.Close()
	log.Info("agent repository ready", zap.String("driver", cfg.Database.Driver))

	// 6. Construct the message queue backend
	queue, err := newQueue(cfg, log)
	if err != nil {
		log.Fatal("failed to construct message queue", zap.Error(err))
	}
	log.Info("message queue backend selected", zap.String("type", cfg.Orchestrator.MessageQueueType))

	// 7. Construct the Executor implementation
	exec, err := newExecutor(cfg, log)
	if err != nil {
		log.Fatal("failed to construct executor", zap.Error(err))
	}

	// 8. Construct the instance cache
	cache := instancecache.New(repo, exec, cfg.Orchestrator.CleanupInterval(), cfg.Orchestrator.InstanceTimeoutDuration(), log)

	// 9. Construct and start the Orchestrator
	orchCfg := orchestrator.Config{
		MaxWorkers:          cfg.Orchestrator.MaxWorkers,
		CleanupInterval:     cfg.Orchestrator.CleanupInterval(),
		InstanceTimeout:     cfg.Orchestrator.InstanceTimeoutDuration(),
		PrimaryQueueMaxSize: cfg.Orchestrator.PrimaryQueueMaxSize,
	}
	orch := orchestrator.New(queue, repo, exec, cache, orchCfg, log)
	if err := orch.Initialize(ctx); err != nil {
		log.Fatal("failed to start orchestrator", zap.Error(err))
	}
	log.Info("orchestrator started", zap.Int("max_workers", orchCfg.MaxWorkers))

	// 10. Construct the Execute Agent Service
	svc := executeagent.New(orch, log)

	// 11. Setup HTTP server with Gin
	if strings.ToLower(cfg.Logging.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewHandler(svc, orch, log)
	router := httpapi.NewRouter(handler, log)

	// 12. Register the WebSocket streaming routes alongside the REST surface
	streamHandler := stream.NewHandler(orch, log)
	v1 := router.Group("/api/v1/orchestrator")
	stream.SetupRoutes(v1, streamHandler)

	// 13. Create the HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8082
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 14. Start the server in a goroutine
	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 15. Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchestrator service")

	// 16. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	if err := orch.Shutdown(); err != nil {
		log.Error("orchestrator shutdown error", zap.Error(err))
	}

	log.Info("orchestrator service stopped")
}

func newRepository(dbCfg config.DatabaseConfig) (agentrepo.Repository, error) {
	switch strings.ToLower(dbCfg.Driver) {
	case "postgres":
		return agentrepo.NewPostgresRepository(dbCfg.DSN(), dbCfg.MaxConns, dbCfg.MinConns)
	default:
		return agentrepo.NewSQLiteRepository(dbCfg.Path)
	}
}

func newQueue(cfg *config.Config, log *logging.Logger) (mqueue.MessageQueue, error) {
	switch strings.ToLower(cfg.Orchestrator.MessageQueueType) {
	case "nats":
		return natsqueue.New(cfg.NATS, log)
	default:
		return mqueue.NewMemory(log), nil
	}
}

func newExecutor(cfg *config.Config, log *logging.Logger) (executor.Executor, error) {
	templates := []executor.TemplateInfo{
		{ID: "echo", Name: "Echo", Description: "Echoes the final user message back, for local development and tests."},
	}
	if !cfg.Docker.Enabled {
		return executor.NewReference(log, templates), nil
	}

	images := []containerexec.TemplateImage{
		{Template: templates[0], Image: cfg.Docker.Image},
	}
	return containerexec.New(cfg.Docker.Host, log, images)
}
