// Package persistence provides the storage abstraction layer for graphs, executions, triggers, schedules and approvals.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowcore/pkg/models"
)

type Persistence interface {
	GraphRepository() GraphRepository
	ExecutionRepository() ExecutionRepository
	TriggerRepository() TriggerRepository
	ScheduleRepository() ScheduleRepository
	ApprovalRepository() ApprovalRepository
	DeadLetterRepository() DeadLetterRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// GraphRepository stores the graph definition of each workflow.
type GraphRepository interface {
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error)
	Save(ctx context.Context, graph *models.WorkflowGraph) error
	Delete(ctx context.Context, workflowID string) error
	List(ctx context.Context) ([]*models.WorkflowGraph, error)
}

// ExecutionRepository stores execution records. Save is an optimistic write:
// a record with Version 0 is inserted, any other version must match the
// stored one. On success the record's Version is incremented in place.
type ExecutionRepository interface {
	Save(ctx context.Context, record *models.ExecutionRecord) error
	GetByID(ctx context.Context, executionID string) (*models.ExecutionRecord, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error)
}

// TriggerRepository stores trigger definitions.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.TriggerDefinition) error
	GetByID(ctx context.Context, triggerID string) (*models.TriggerDefinition, error)
	Delete(ctx context.Context, triggerID string) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerDefinition, error)
}

// ScheduleRepository stores schedules with the same optimistic Save contract as executions.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.ScheduleDefinition) error
	GetByID(ctx context.Context, scheduleID string) (*models.ScheduleDefinition, error)
	Delete(ctx context.Context, scheduleID string) error
	List(ctx context.Context) ([]*models.ScheduleDefinition, error)
	// ListDue returns active schedules with NextRunAt at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time) ([]*models.ScheduleDefinition, error)
}

// ApprovalRepository stores approval requests with the optimistic Save contract.
type ApprovalRepository interface {
	Save(ctx context.Context, request *models.ApprovalRequest) error
	GetByID(ctx context.Context, approvalID string) (*models.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]*models.ApprovalRequest, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.ApprovalRequest, error)
}

// DeadLetterSink receives dispatches that exhausted their retries.
type DeadLetterSink interface {
	Push(ctx context.Context, letter *models.DeadLetter) error
}

// DeadLetterRepository is a DeadLetterSink that can be read back for replay.
type DeadLetterRepository interface {
	DeadLetterSink
	GetByID(ctx context.Context, deadLetterID string) (*models.DeadLetter, error)
	List(ctx context.Context) ([]*models.DeadLetter, error)
	Delete(ctx context.Context, deadLetterID string) error
}
