// Package runtime assembles the assistant from its configuration.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/donnahq/donna/pkg/checkpoint"
	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/hitl"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/memory"
	"github.com/donnahq/donna/pkg/observability"
	"github.com/donnahq/donna/pkg/pipeline"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/resolver"
	"github.com/donnahq/donna/pkg/server"
)

// Runtime is the fully wired assistant process.
type Runtime struct {
	Config       *config.Config
	Memory       *memory.ConversationMemory
	Orchestrator *pipeline.Orchestrator
	Server       *server.Server
	Metrics      *observability.Metrics

	provider        llms.Provider
	checkpoints     checkpoint.Store
	tracingShutdown func(context.Context) error
	logger          *slog.Logger
}

// New builds the runtime from a loaded configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := llms.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	gateway := llms.NewGateway(provider, llms.WithGatewayLogger(logger))

	mem := memory.New(cfg.Memory, memory.WithLogger(logger))
	metrics := observability.NewMetrics()
	tracingShutdown, err := observability.SetupTracing("donna")
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	executors := executor.NewRegistry()
	executors.Register(executor.NewMemoryCalendar())
	executors.Register(executor.NewMemoryTaskStore(cfg.Resolver.CompleteDeletes()))
	executors.Register(executor.NewOutboxEmailer())
	notes, err := executor.NewNotesStore(cfg.Notes.Path, cfg.Notes.Collection, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes store: %w", err)
	}
	executors.Register(notes)

	resolvers := resolver.NewRegistry()
	resolvers.Register(resolver.NewCalendarResolver(gateway, logger))
	resolvers.Register(resolver.NewTaskResolver(gateway, cfg.Resolver, logger))
	resolvers.Register(resolver.NewEmailResolver(gateway, logger))
	resolvers.Register(resolver.NewNotesResolver(gateway, logger))
	resolvers.Register(resolver.NewGeneralResolver(gateway, logger))
	resolvers.Register(resolver.NewMetaResolver(logger))

	entities := entity.NewRegistry()
	entities.Register(entity.NewCalendarResolver(executors, cfg.Thresholds, cfg.HITL.MaxDisambiguationOptions, logger))
	entities.Register(entity.NewTaskResolver(executors, cfg.Thresholds, cfg.HITL.MaxDisambiguationOptions, logger))

	checkpoints, err := checkpoint.New(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	gate := hitl.NewGate(gateway, cfg.HITL, cfg.Planner.ConfidenceThreshold, logger)
	plan := planner.New(gateway, cfg.Planner, logger)

	orchestrator := pipeline.New(*cfg, mem, plan, resolvers, entities, executors,
		gate, checkpoints, logger, pipeline.WithMetrics(metrics))

	srv := server.New(cfg.Server, orchestrator, mem, metrics, logger)

	return &Runtime{
		Config:          cfg,
		Memory:          mem,
		Orchestrator:    orchestrator,
		Server:          srv,
		Metrics:         metrics,
		provider:        provider,
		checkpoints:     checkpoints,
		tracingShutdown: tracingShutdown,
		logger:          logger,
	}, nil
}

// Run serves HTTP until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.Close()
	go r.maintain(ctx)
	return r.Server.Start(ctx)
}

const maintenanceInterval = 10 * time.Minute

// maintain periodically expires idle conversations and, when the
// checkpoint backend supports it, sweeps expired checkpoints.
func (r *Runtime) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Memory.CleanupIdle(); n > 0 {
				r.logger.Debug("Expired idle conversations", "count", n)
			}
			sweeper, ok := r.checkpoints.(interface {
				Sweep(context.Context) (int64, error)
			})
			if !ok {
				continue
			}
			if n, err := sweeper.Sweep(ctx); err != nil {
				r.logger.Warn("Checkpoint sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Debug("Swept expired checkpoints", "count", n)
			}
		}
	}
}

// Close releases the runtime's resources.
func (r *Runtime) Close() {
	if r.checkpoints != nil {
		if err := r.checkpoints.Close(); err != nil {
			r.logger.Warn("Failed to close checkpoint store", "error", err)
		}
	}
	if r.provider != nil {
		if err := r.provider.Close(); err != nil {
			r.logger.Warn("Failed to close llm provider", "error", err)
		}
	}
	if r.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracingShutdown(ctx); err != nil {
			r.logger.Warn("Failed to shut down tracing", "error", err)
		}
	}
}
