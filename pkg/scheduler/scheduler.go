// Package scheduler fires workflows on cron schedules. It polls for due
// schedules and drives each one through the dispatcher, then advances the
// schedule to its next activation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/otelhelper"
	"github.com/dukex/flowcore/pkg/persistence"
)

const (
	DefaultInterval    = time.Minute
	DefaultRetries     = 2
	DefaultRetryDelay  = time.Second
	DefaultConcurrency = 8
)

// Dispatcher starts the execution a schedule fires.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Config tunes the outer retry applied to each due schedule.
type Config struct {
	Retries     int
	RetryDelay  time.Duration
	Concurrency int
}

// CreateRequest describes a new schedule.
type CreateRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	TriggerID  string         `json:"trigger_id"`
	UserID     string         `json:"user_id"`
	CronExpr   string         `json:"cron_expr"   validate:"required"`
	Timezone   string         `json:"timezone"`
	Input      map[string]any `json:"input"`
}

type Scheduler struct {
	logger     *slog.Logger
	schedules  persistence.ScheduleRepository
	dispatcher Dispatcher
	validate   *validator.Validate
	config     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler. Zero Retries uses DefaultRetries, a negative value
// disables the outer retry.
func New(logger *slog.Logger, schedules persistence.ScheduleRepository, dispatcher Dispatcher, config Config) *Scheduler {
	switch {
	case config.Retries == 0:
		config.Retries = DefaultRetries
	case config.Retries < 0:
		config.Retries = 0
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	return &Scheduler{
		logger:     logger.With("module", "scheduler"),
		schedules:  schedules,
		dispatcher: dispatcher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
}

// CreateSchedule validates the cron expression and timezone and stores an
// active schedule whose next run is the first activation after now.
func (s *Scheduler) CreateSchedule(ctx context.Context, req CreateRequest) (*models.ScheduleDefinition, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidSchedule, err)
	}

	schedule, err := models.NewScheduleDefinition(uuid.New().String(), req.WorkflowID, req.CronExpr, req.Timezone, s.now())
	if err != nil {
		return nil, err
	}

	schedule.TriggerID = req.TriggerID
	schedule.UserID = req.UserID
	schedule.Input = maps.Clone(req.Input)

	if err := s.schedules.Save(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "Schedule created",
		"schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID,
		"cron_expression", schedule.CronExpression, "next_run_at", schedule.NextRunAt)

	return schedule, nil
}

func (s *Scheduler) Get(ctx context.Context, scheduleID string) (*models.ScheduleDefinition, error) {
	return s.schedules.GetByID(ctx, scheduleID)
}

func (s *Scheduler) List(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return s.schedules.List(ctx)
}

func (s *Scheduler) Delete(ctx context.Context, scheduleID string) error {
	if err := s.schedules.Delete(ctx, scheduleID); err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", scheduleID, err)
	}

	s.logger.InfoContext(ctx, "Schedule deleted", "schedule_id", scheduleID)

	return nil
}

// Pause stops a schedule from firing.
func (s *Scheduler) Pause(ctx context.Context, scheduleID string) (*models.ScheduleDefinition, error) {
	return s.update(ctx, scheduleID, func(schedule *models.ScheduleDefinition) error {
		schedule.IsActive = false
		schedule.UpdatedAt = s.now()

		return nil
	})
}

// Resume reactivates a schedule. Slots missed while paused are skipped.
func (s *Scheduler) Resume(ctx context.Context, scheduleID string) (*models.ScheduleDefinition, error) {
	return s.update(ctx, scheduleID, func(schedule *models.ScheduleDefinition) error {
		schedule.IsActive = true

		return schedule.Advance(s.now())
	})
}

func (s *Scheduler) update(ctx context.Context, scheduleID string, apply func(*models.ScheduleDefinition) error) (*models.ScheduleDefinition, error) {
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", scheduleID, err)
	}

	if err := apply(schedule); err != nil {
		return nil, err
	}

	if err := s.schedules.Save(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule %s: %w", scheduleID, err)
	}

	s.logger.InfoContext(ctx, "Schedule updated", "schedule_id", schedule.ID, "is_active", schedule.IsActive)

	return schedule, nil
}

// Tick dispatches every due schedule and returns how many were processed.
// Schedules whose outcome could not be saved are reported in the joined error.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()

	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	s.logger.InfoContext(ctx, "Processing due schedules", "count", len(due))

	// A failed save must not cancel the dispatches of the other schedules,
	// so every fire shares ctx and errors are joined after all finished.
	var group errgroup.Group

	group.SetLimit(s.config.Concurrency)

	errs := make([]error, len(due))

	for i, schedule := range due {
		group.Go(func() error {
			errs[i] = s.fire(ctx, schedule)

			return nil
		})
	}

	_ = group.Wait()

	return len(due), errors.Join(errs...)
}

// fire dispatches one schedule and records the outcome. Dispatch failures
// are recorded on the schedule; only a failed save is returned.
func (s *Scheduler) fire(ctx context.Context, schedule *models.ScheduleDefinition) error {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "scheduler.fire",
		attribute.String(otelhelper.ScheduleIDKey, schedule.ID),
		attribute.String(otelhelper.WorkflowIDKey, schedule.WorkflowID),
	)
	defer span.End()

	logger := s.logger.With("schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID)
	logger.InfoContext(ctx, "Firing schedule", "cron_expression", schedule.CronExpression, "due_at", schedule.NextRunAt)

	dispatchErr := s.dispatchWithRetry(ctx, logger, schedule)

	now := s.now()
	schedule.LastRunAt = &now
	schedule.LastStatus = models.ScheduleStatusSuccess
	schedule.LastError = ""

	if dispatchErr != nil {
		otelhelper.SetError(span, dispatchErr)

		schedule.LastStatus = models.ScheduleStatusFailed
		schedule.LastError = dispatchErr.Error()
	}

	if err := schedule.Advance(now); err != nil {
		logger.ErrorContext(ctx, "Failed to compute next run, deactivating schedule", "error", err)

		schedule.IsActive = false
	}

	if err := s.schedules.Save(context.WithoutCancel(ctx), schedule); err != nil {
		if persistence.IsVersionConflict(err) {
			logger.WarnContext(ctx, "Schedule changed while firing, keeping stored version")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to save schedule", "error", err)

		return fmt.Errorf("failed to save schedule %s: %w", schedule.ID, err)
	}

	logger.InfoContext(ctx, "Schedule advanced", "status", schedule.LastStatus, "next_run_at", schedule.NextRunAt)

	return nil
}

func (s *Scheduler) dispatchWithRetry(ctx context.Context, logger *slog.Logger, schedule *models.ScheduleDefinition) error {
	req := dispatch.Request{
		WorkflowID:  schedule.WorkflowID,
		TriggerID:   schedule.TriggerID,
		TriggerType: models.TriggerTypeSchedule,
		Payload:     maps.Clone(schedule.Input),
		UserID:      schedule.UserID,
	}

	var err error

	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		var result *dispatch.Result

		result, err = s.dispatcher.Dispatch(ctx, req)
		if err == nil {
			logger.InfoContext(ctx, "Schedule dispatched", "execution_id", result.ExecutionID, "attempt", attempt)

			return nil
		}

		if errors.Is(err, dispatch.ErrRateLimitExceeded) || ctx.Err() != nil {
			return err
		}

		logger.WarnContext(ctx, "Schedule dispatch failed", "attempt", attempt, "error", err)

		if attempt == s.config.Retries {
			break
		}

		if sleepErr := s.sleep(ctx, s.config.RetryDelay<<attempt); sleepErr != nil {
			return sleepErr
		}
	}

	return err
}

// Run ticks every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "interval", interval)

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
		}
	}
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
