package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vieroc/salespilot/internal/agent"
	"github.com/vieroc/salespilot/internal/catalog"
	"github.com/vieroc/salespilot/internal/config"
	"github.com/vieroc/salespilot/internal/httpapi"
	"github.com/vieroc/salespilot/internal/memory"
	"github.com/vieroc/salespilot/internal/observability"
	"github.com/vieroc/salespilot/internal/policy"
	"github.com/vieroc/salespilot/internal/salesgraph"
	"github.com/vieroc/salespilot/internal/session"
	"github.com/vieroc/salespilot/internal/workflow"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *workflow.Orchestrator
	Memory       *memory.Manager
	Sessions     *session.Manager
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pools, background workers).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stageWindow := observability.NewStageWindow(256)

	episodic, err := memory.NewEpisodicStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("episodic store init failed: %w", err)
	}
	semantic, err := memory.NewSemanticIndexFor(ctx, cfg.DatabaseURL, cfg.MemoryEmbeddingDim)
	if err != nil {
		_ = episodic.Close()
		return nil, fmt.Errorf("semantic index init failed: %w", err)
	}
	embedder := memory.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.MemoryEmbeddingDim)

	invoker, err := agent.NewInvoker(cfg.AgentMode, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.AgentHTTPURL, cfg.AgentRPS)
	if err != nil {
		_ = semantic.Close()
		_ = episodic.Close()
		return nil, fmt.Errorf("collaborator invoker init failed: %w", err)
	}
	gateway := agent.NewGateway(invoker, agent.Config{
		StageTimeout:       cfg.StageTimeout,
		BreakerMaxFailures: uint32(cfg.BreakerMaxFailures),
		BreakerCooldown:    cfg.BreakerCooldown,
	}, metrics)

	mem := memory.NewManager(memory.ManagerConfig{
		WindowSize:    cfg.MemoryWindowSize,
		SummaryEvery:  int64(cfg.MemorySummaryEvery),
		TopK:          cfg.SemanticTopK,
		StartNode:     salesgraph.StartNode,
		QueueSize:     cfg.TaskQueueSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryBase:     cfg.RetryBase,
		RetryCap:      cfg.RetryCap,
		TaskTimeout:   30 * time.Second,
		Salient:       policy.Salient,
		Redact:        policy.RedactPII,
	}, episodic, semantic, embedder, agent.NewGatewaySummarizer(gateway), metrics)

	combos, err := catalog.NewSource(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = mem.Close()
		_ = semantic.Close()
		_ = episodic.Close()
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}

	orchestrator := workflow.NewOrchestrator(workflow.Config{
		ShopID:          cfg.ShopID,
		Language:        cfg.Language,
		JoinTimeout:     cfg.JoinTimeout,
		RequestDeadline: cfg.RequestDeadline,
	}, mem, gateway, combos, metrics, stageWindow)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, orchestrator, mem, sessions, stageWindow)

	cleanup := func() error {
		var errs []string
		if err := mem.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := combos.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := semantic.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := episodic.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Memory:       mem,
		Sessions:     sessions,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
