// Package main: the serve command runs the grading daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webtech-network/autograder-sub001/internal/config"
	"github.com/webtech-network/autograder-sub001/internal/coordinator"
	"github.com/webtech-network/autograder-sub001/internal/export"
	"github.com/webtech-network/autograder-sub001/internal/feedback"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/pipeline"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/server"
	"github.com/webtech-network/autograder-sub001/internal/store"
	"github.com/webtech-network/autograder-sub001/internal/template"
)

// serveCmd starts the HTTP grading daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grading daemon",
	Long: `Starts the HTTP API, pre-warms the sandbox pools, and grades
submissions in the background until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer repo.Close()

	engine := buildEngine(cfg)
	pools := sandbox.NewManager(engine, sandbox.ManagerConfig{
		Pools:          poolSpecs(cfg),
		MaxTotal:       cfg.Sandbox.MaxTotal,
		AcquireTimeout: config.DurationOr(cfg.Sandbox.AcquireTimeout, 30*time.Second),
	})
	if err := pools.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to pre-warm sandbox pools: %w", err)
	}
	defer pools.Shutdown(context.Background())

	// AI feedback and essay grading share one GenAI client. Without an API
	// key the daemon still runs; feedback degrades to the deterministic
	// formatter and essay tests report ERROR.
	var producer feedback.Producer
	tplOpts := template.Options{}
	if cfg.LLM.APIKey != "" {
		llm, err := feedback.NewGenAIProducer(cfg.LLM.APIKey, cfg.LLM.Model, config.DurationOr(cfg.LLM.Timeout, time.Minute))
		if err != nil {
			return fmt.Errorf("failed to initialize AI feedback: %w", err)
		}
		producer = llm
		tplOpts.Essay = llm
		logger.Info("AI feedback enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Info("AI feedback disabled, using formatter fallback")
	}
	registry := template.Builtin(tplOpts)

	var sink export.Sink
	if cfg.Grading.ExportURL != "" {
		sink = export.NewWebhookSink(cfg.Grading.ExportURL, config.DurationOr(cfg.Grading.ExportTimeout, 10*time.Second))
	}

	deps := pipeline.Deps{
		Configs:         repo,
		Registry:        registry,
		Pool:            pools,
		Feedback:        producer,
		Sink:            sink,
		FeedbackEnabled: cfg.Grading.FeedbackEnabled,
		AcquireTimeout:  config.DurationOr(cfg.Sandbox.AcquireTimeout, 30*time.Second),
		SetupTimeout:    config.DurationOr(cfg.Sandbox.SetupTimeout, 30*time.Second),
		TestTimeout:     config.DurationOr(cfg.Sandbox.TestTimeout, 15*time.Second),
	}
	coord := coordinator.New(repo, deps, coordinator.Options{
		Workers: cfg.Workers(),
		Budget:  config.DurationOr(cfg.Grading.SubmissionBudget, 5*time.Minute),
	})

	// Live reload for the logging section.
	if watcher, err := config.NewWatcher(configPath); err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	} else {
		logger.Warn("config watcher unavailable", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(repo, coord, registry, pools).Handler(),
		ReadTimeout:  config.DurationOr(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.DurationOr(cfg.Server.WriteTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grading daemon listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("workers", cfg.Workers()))
		logging.Boot("HTTP API listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	logging.Boot("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("grading runs still in flight at shutdown", zap.Error(err))
	}
	return nil
}

// buildEngine selects the execution substrate: a remote agent when one is
// configured, local docker otherwise.
func buildEngine(cfg *config.Config) sandbox.Engine {
	if cfg.Sandbox.AgentURL != "" {
		logging.Boot("Using remote sandbox agent at %s", cfg.Sandbox.AgentURL)
		return sandbox.NewAgentEngine(cfg.Sandbox.AgentURL)
	}
	return sandbox.NewDockerEngine(sandbox.DockerEngineConfig{
		User:           cfg.Sandbox.User,
		NetworkMode:    cfg.Sandbox.NetworkMode,
		DefaultTimeout: config.DurationOr(cfg.Sandbox.TestTimeout, 15*time.Second),
	})
}

func poolSpecs(cfg *config.Config) []sandbox.PoolSpec {
	specs := make([]sandbox.PoolSpec, 0, len(cfg.Sandbox.Languages))
	for lang, pool := range cfg.Sandbox.Languages {
		specs = append(specs, sandbox.PoolSpec{
			Language:      lang,
			Image:         pool.Image,
			PoolSize:      pool.PoolSize,
			WorkingDir:    pool.WorkingDir,
			ContainerPort: pool.ContainerPort,
		})
	}
	return specs
}
