package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleStatus records the outcome of the most recent tick.
type ScheduleStatus string

const (
	ScheduleStatusSuccess ScheduleStatus = "success"
	ScheduleStatusFailed  ScheduleStatus = "failed"
)

var (
	// ErrInvalidSchedule is returned when schedule validation fails
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
	// ErrInvalidTimezone is returned when the IANA timezone cannot be loaded
	ErrInvalidTimezone = errors.New("invalid schedule timezone")
)

// standard 5-field cron format (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleDefinition fires a workflow on a cron expression evaluated in an
// IANA timezone. NextRunAt is always stored in UTC so due schedules can be
// queried without timezone math.
type ScheduleDefinition struct {
	ID             string         `json:"id"                    validate:"required"`
	TriggerID      string         `json:"trigger_id,omitempty"`
	WorkflowID     string         `json:"workflow_id"           validate:"required"`
	UserID         string         `json:"user_id"`
	CronExpression string         `json:"cron_expression"       validate:"required"`
	Timezone       string         `json:"timezone"`
	Input          map[string]any `json:"input,omitempty"`
	IsActive       bool           `json:"is_active"`
	NextRunAt      time.Time      `json:"next_run_at"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	LastStatus     ScheduleStatus `json:"last_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int64          `json:"version"`
}

// NewScheduleDefinition creates an active schedule with NextRunAt computed from now.
func NewScheduleDefinition(id, workflowID, cronExpression, timezone string, now time.Time) (*ScheduleDefinition, error) {
	if timezone == "" {
		timezone = "UTC"
	}

	schedule := &ScheduleDefinition{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		IsActive:       true,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	if err := schedule.Advance(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Location loads the schedule timezone.
func (s *ScheduleDefinition) Location() (*time.Location, error) {
	name := s.Timezone
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, name, err)
	}

	return loc, nil
}

// NextAfter computes the next activation strictly after ref. The cron
// expression is evaluated in the schedule timezone and the result is UTC.
func (s *ScheduleDefinition) NextAfter(ref time.Time) (time.Time, error) {
	cronSchedule, err := cronParser.Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	return cronSchedule.Next(ref.In(loc)).UTC(), nil
}

// Advance recomputes NextRunAt from the reference time.
func (s *ScheduleDefinition) Advance(ref time.Time) error {
	next, err := s.NextAfter(ref)
	if err != nil {
		return err
	}

	s.NextRunAt = next
	s.UpdatedAt = ref.UTC()

	return nil
}

// IsDue checks if this schedule is due for execution at the given time.
func (s *ScheduleDefinition) IsDue(now time.Time) bool {
	return s.IsActive && !s.NextRunAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *ScheduleDefinition) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := cronParser.Parse(s.CronExpression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	_, err := s.Location()

	return err
}

// ValidateCron checks a cron expression without building a schedule.
func ValidateCron(expression string) error {
	if _, err := cronParser.Parse(expression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return nil
}
