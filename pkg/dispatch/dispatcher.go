// Package dispatch turns trigger events into executions: it rate limits,
// resolves trigger definitions through a TTL cache, retries failed starts
// with exponential backoff and dead-letters what never succeeds.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/otelhelper"
	"github.com/dukex/flowcore/pkg/persistence"
)

// Starter starts an execution of a graph.
type Starter interface {
	Start(ctx context.Context, workflowGraph *models.WorkflowGraph, input map[string]any, userID string) (*models.ExecutionRecord, error)
}

// GraphSource loads the graph a workflow runs.
type GraphSource interface {
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the retry, rate limit and cache settings. Zero delays, thresholds
// and TTL use the defaults; MaxRetries is taken as given.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	PerMinute       int
	PerHour         int
	CacheTTL        time.Duration
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2,
		PerMinute:       DefaultPerMinute,
		PerHour:         DefaultPerHour,
		CacheTTL:        DefaultCacheTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}

	if c.ExponentialBase < 1 {
		c.ExponentialBase = defaults.ExponentialBase
	}

	return c
}

// Request describes one trigger firing.
type Request struct {
	WorkflowID  string             `json:"workflow_id"  validate:"required_without=TriggerID"`
	TriggerID   string             `json:"trigger_id"`
	TriggerType models.TriggerType `json:"trigger_type" validate:"required,oneof=webhook schedule api chat manual event"`
	Payload     map[string]any     `json:"payload"`
	UserID      string             `json:"user_id"`
}

// Result reports the execution a dispatch started.
type Result struct {
	ExecutionID string                  `json:"execution_id"`
	WorkflowID  string                  `json:"workflow_id"`
	Status      models.ExecutionStatus  `json:"status"`
	Attempts    int                     `json:"attempts"`
	Record      *models.ExecutionRecord `json:"-"`
}

type Dispatcher struct {
	logger      *slog.Logger
	starter     Starter
	graphs      GraphSource
	triggers    persistence.TriggerRepository
	deadLetters persistence.DeadLetterSink
	validate    *validator.Validate
	config      Config

	limiter *RateLimiter
	cache   *TriggerCache
	metrics *MetricsRegistry

	background context.Context
	stop       context.CancelFunc
	tasks      sync.WaitGroup
	running    *completions

	sleep Sleeper
	now   func() time.Time
}

// New creates a dispatcher. triggers may be nil when requests never carry a trigger id.
func New(
	logger *slog.Logger,
	starter Starter,
	graphs GraphSource,
	triggers persistence.TriggerRepository,
	deadLetters persistence.DeadLetterSink,
	config Config,
) *Dispatcher {
	config = config.withDefaults()
	background, stop := context.WithCancel(context.Background())

	return &Dispatcher{
		logger:      logger.With("module", "dispatcher"),
		starter:     starter,
		graphs:      graphs,
		triggers:    triggers,
		deadLetters: deadLetters,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		config:      config,
		limiter:     NewRateLimiter(config.PerMinute, config.PerHour),
		cache:       NewTriggerCache(config.CacheTTL),
		metrics:     NewMetricsRegistry(),
		background:  background,
		stop:        stop,
		running:     newCompletions(),
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// Metrics exposes the per trigger counters.
func (d *Dispatcher) Metrics() *MetricsRegistry {
	return d.metrics
}

// InvalidateTrigger drops a cached trigger definition after it changed.
func (d *Dispatcher) InvalidateTrigger(triggerID string) {
	d.cache.Invalidate(triggerID)
}

// Dispatch starts an execution for req, retrying failed attempts. It returns
// a *RateLimitError when the trigger is throttled and a *RetriesExhaustedError
// once every attempt failed and the request was dead-lettered.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := d.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid dispatch request: %w", err)
	}

	ctx, span := d.startSpan(ctx, "dispatch", req)
	defer span.End()

	plan, err := d.prepare(ctx, span, req)
	if err != nil {
		return nil, err
	}

	result, err := d.attempt(ctx, span, plan.logger, plan.key, plan.graph, req)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

// dispatchPlan is a dispatch that passed rate limiting and resolved its graph.
type dispatchPlan struct {
	key    string
	graph  *models.WorkflowGraph
	logger *slog.Logger
}

func requestKey(req Request) string {
	if req.TriggerID != "" {
		return req.TriggerID
	}

	return req.WorkflowID
}

func (d *Dispatcher) startSpan(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, otelhelper.Tracer(), name,
		attribute.String(otelhelper.TriggerIDKey, requestKey(req)),
		attribute.String(otelhelper.TriggerTypeKey, string(req.TriggerType)),
	)
}

func (d *Dispatcher) prepare(ctx context.Context, span trace.Span, req Request) (*dispatchPlan, error) {
	key := requestKey(req)
	logger := d.logger.With("trigger_id", key, "trigger_type", req.TriggerType)

	if err := d.limiter.Allow(key); err != nil {
		logger.WarnContext(ctx, "Dispatch rate limited", "error", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	workflowID, err := d.resolveWorkflow(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflowID))

	workflowGraph, err := d.graphs.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load graph for workflow %s: %w", workflowID, err)
	}

	return &dispatchPlan{key: key, graph: workflowGraph, logger: logger.With("workflow_id", workflowID)}, nil
}

func (d *Dispatcher) attempt(
	ctx context.Context,
	span trace.Span,
	logger *slog.Logger,
	key string,
	workflowGraph *models.WorkflowGraph,
	req Request,
) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int(otelhelper.AttemptKey, attempt)))

		startedAt := d.now()
		record, err := d.starter.Start(ctx, workflowGraph, req.Payload, req.UserID)
		elapsed := d.now().Sub(startedAt)
		d.running.settle(record)

		if err == nil {
			d.metrics.RecordSuccess(key, elapsed)
			logger.InfoContext(ctx, "Dispatch succeeded", "execution_id", record.ID, "attempt", attempt, "status", record.Status)

			return &Result{
				ExecutionID: record.ID,
				WorkflowID:  workflowGraph.ID,
				Status:      record.Status,
				Attempts:    attempt + 1,
				Record:      record,
			}, nil
		}

		d.metrics.RecordFailure(key, elapsed, err)
		lastErr = err

		if errors.Is(err, graph.ErrInvalidGraph) {
			logger.ErrorContext(ctx, "Workflow graph is invalid", "error", err)

			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !retryable(record, err) {
			logger.ErrorContext(ctx, "Execution stopped and cannot be retried", "attempt", attempt, "error", err)

			return nil, fmt.Errorf("%w: %w", ErrNotRetryable, err)
		}

		logger.WarnContext(ctx, "Dispatch attempt failed", "attempt", attempt, "error", err)

		if attempt == d.config.MaxRetries {
			break
		}

		if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, d.deadLetter(ctx, logger, workflowGraph.ID, req, lastErr)
}

// retryable reports whether a failed Start may run again. Node failures,
// including node timeouts, are retried, as are starts that never persisted an
// execution. Anything else left a stored execution behind, and a new attempt
// would run the workflow a second time.
func retryable(record *models.ExecutionRecord, err error) bool {
	if errors.Is(err, persistence.ErrVersionConflict) {
		return false
	}

	var nodeErr *engine.NodeExecutionError
	if errors.As(err, &nodeErr) {
		return true
	}

	return record == nil
}

// backoff is the delay after the given failed attempt.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.config.BaseDelay) * math.Pow(d.config.ExponentialBase, float64(attempt))
	if delay > float64(d.config.MaxDelay) {
		return d.config.MaxDelay
	}

	return time.Duration(delay)
}

func (d *Dispatcher) deadLetter(ctx context.Context, logger *slog.Logger, workflowID string, req Request, lastErr error) error {
	attempts := d.config.MaxRetries + 1
	letter := &models.DeadLetter{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		TriggerID:   req.TriggerID,
		TriggerType: req.TriggerType,
		Payload:     req.Payload,
		UserID:      req.UserID,
		LastError:   lastErr.Error(),
		Attempts:    attempts,
		CreatedAt:   d.now().UTC(),
	}

	exhausted := &RetriesExhaustedError{WorkflowID: workflowID, Attempts: attempts, LastErr: lastErr}

	if d.deadLetters == nil {
		logger.ErrorContext(ctx, "Dispatch failed and no dead letter sink is configured", "attempts", attempts, "error", lastErr)

		return exhausted
	}

	if err := d.deadLetters.Push(context.WithoutCancel(ctx), letter); err != nil {
		logger.ErrorContext(ctx, "Failed to push dead letter", "error", err)

		return errors.Join(exhausted, fmt.Errorf("failed to push dead letter: %w", err))
	}

	exhausted.DeadLetterID = letter.ID
	logger.ErrorContext(ctx, "Dispatch dead-lettered", "dead_letter_id", letter.ID, "attempts", attempts, "error", lastErr)

	return exhausted
}

func (d *Dispatcher) resolveWorkflow(ctx context.Context, req Request) (string, error) {
	if req.TriggerID == "" {
		return req.WorkflowID, nil
	}

	trigger, err := d.trigger(ctx, req.TriggerID)
	if err != nil {
		return "", err
	}

	if !trigger.IsActive {
		return "", fmt.Errorf("%w: %s", ErrTriggerInactive, trigger.ID)
	}

	if req.WorkflowID != "" && req.WorkflowID != trigger.WorkflowID {
		return "", fmt.Errorf("%w: trigger %s, workflow %s", ErrTriggerMismatch, trigger.ID, req.WorkflowID)
	}

	return trigger.WorkflowID, nil
}

// Trigger returns the definition for triggerID, served from the cache while fresh.
func (d *Dispatcher) Trigger(ctx context.Context, triggerID string) (*models.TriggerDefinition, error) {
	return d.trigger(ctx, triggerID)
}

func (d *Dispatcher) trigger(ctx context.Context, triggerID string) (*models.TriggerDefinition, error) {
	if trigger, ok := d.cache.Get(triggerID); ok {
		return trigger, nil
	}

	if d.triggers == nil {
		return nil, persistence.NewEntityError("GetByID", "trigger", triggerID, persistence.ErrTriggerNotFound)
	}

	trigger, err := d.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger %s: %w", triggerID, err)
	}

	d.cache.Set(trigger)

	return trigger, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
