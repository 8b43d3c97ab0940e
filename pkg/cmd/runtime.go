package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowcore/pkg/approval"
	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/eventbus"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/registry"
	"github.com/dukex/flowcore/pkg/scheduler"
	"github.com/dukex/flowcore/pkg/stream"
	"github.com/dukex/flowcore/pkg/web"
	"github.com/dukex/flowcore/pkg/webhook"
)

// RuntimeConfig collects the settings shared by the binaries.
type RuntimeConfig struct {
	ServiceName    string
	DatabaseURL    string
	DeadLetterURL  string
	EventBus       string
	KafkaBrokers   string
	NodeTimeout    time.Duration
	Fallback       engine.FallbackPolicy
	ParallelFanOut bool
	Dispatch       dispatch.Config
	Scheduler      scheduler.Config
	Stream         stream.Config
}

// Runtime is the wired execution core.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Validator   *graph.Validator
	Engine      *engine.Engine
	Approvals   *approval.Service
	DeadLetters persistence.DeadLetterRepository
	Dispatcher  *dispatch.Dispatcher
	Replayer    *dispatch.Replayer
	Webhooks    *webhook.Receiver
	Scheduler   *scheduler.Scheduler
	Stream      *stream.Producer

	closeDeadLetters func() error
}

func NewRuntime(ctx context.Context, logger *slog.Logger, config RuntimeConfig) (*Runtime, error) {
	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	bus, err := NewEventBus(logger, config.EventBus, config.KafkaBrokers, config.ServiceName)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	deadLetters, closeDeadLetters, err := NewDeadLetterRepository(ctx, logger, config.DeadLetterURL, store)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)

		return nil, fmt.Errorf("failed to open dead letter sink: %w", err)
	}

	reg := NewRegistry(logger, config.NodeTimeout)
	validator := graph.NewValidator(reg)

	eng := engine.New(logger, reg, validator, store.ExecutionRepository(), store.GraphRepository(), bus, engine.Config{
		Fallback:       config.Fallback,
		ParallelFanOut: config.ParallelFanOut,
	})

	approvals := approval.NewService(logger, store.ApprovalRepository(), eng, nil)
	eng.SetApprovalHook(approvals)

	dispatcher := dispatch.New(logger, eng, store.GraphRepository(), store.TriggerRepository(),
		eventbus.NewDeadLetterPublisher(bus, deadLetters), config.Dispatch)

	return &Runtime{
		Persistence:      store,
		EventBus:         bus,
		Registry:         reg,
		Validator:        validator,
		Engine:           eng,
		Approvals:        approvals,
		DeadLetters:      deadLetters,
		Dispatcher:       dispatcher,
		Replayer:         dispatch.NewReplayer(dispatcher, deadLetters),
		Webhooks:         webhook.NewReceiver(logger, dispatcher, dispatcher),
		Scheduler:        scheduler.New(logger, store.ScheduleRepository(), dispatcher, config.Scheduler),
		Stream:           stream.NewProducer(logger, store.ExecutionRepository(), store.GraphRepository(), config.Stream),
		closeDeadLetters: closeDeadLetters,
	}, nil
}

// Services exposes the runtime to the HTTP handlers.
func (r *Runtime) Services() web.Services {
	return web.Services{
		Persistence: r.Persistence,
		Validator:   r.Validator,
		Engine:      r.Engine,
		Dispatcher:  r.Dispatcher,
		Replayer:    r.Replayer,
		DeadLetters: r.DeadLetters,
		Webhooks:    r.Webhooks,
		Approvals:   r.Approvals,
		Scheduler:   r.Scheduler,
		Stream:      r.Stream,
	}
}

// Close waits for background dispatches, cancelling them when ctx ends, then
// releases the stores.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		r.Dispatcher.Shutdown(ctx),
		r.closeDeadLetters(),
		r.EventBus.Close(),
		r.Persistence.Close(ctx),
	)
}
