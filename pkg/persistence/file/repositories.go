package file

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

// GraphRepository handles workflow graph file operations.
type GraphRepository struct {
	docs *documents[models.WorkflowGraph]
}

// NewGraphRepository creates a new graph repository.
func NewGraphRepository(root string) *GraphRepository {
	return &GraphRepository{docs: newDocuments[models.WorkflowGraph](root, "graphs", "graph", persistence.ErrGraphNotFound)}
}

func (r *GraphRepository) GetByWorkflowID(_ context.Context, workflowID string) (*models.WorkflowGraph, error) {
	return r.docs.get(workflowID)
}

func (r *GraphRepository) Save(_ context.Context, graph *models.WorkflowGraph) error {
	return r.docs.put(graph.ID, graph)
}

func (r *GraphRepository) Delete(_ context.Context, workflowID string) error {
	return r.docs.remove(workflowID)
}

func (r *GraphRepository) List(_ context.Context) ([]*models.WorkflowGraph, error) {
	return r.docs.list(nil)
}

// ExecutionRepository handles execution record file operations.
type ExecutionRepository struct {
	docs *documents[models.ExecutionRecord]
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{docs: newDocuments[models.ExecutionRecord](root, "executions", "execution", persistence.ErrExecutionNotFound)}
}

func (r *ExecutionRepository) Save(_ context.Context, record *models.ExecutionRecord) error {
	return r.docs.putVersioned(record.ID, record, &record.Version, func(stored *models.ExecutionRecord) int64 {
		return stored.Version
	})
}

func (r *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.ExecutionRecord, error) {
	return r.docs.get(executionID)
}

func (r *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	return r.docs.list(func(record *models.ExecutionRecord) bool {
		return record.WorkflowID == workflowID
	})
}

// TriggerRepository handles trigger definition file operations.
type TriggerRepository struct {
	docs *documents[models.TriggerDefinition]
}

// NewTriggerRepository creates a new trigger repository.
func NewTriggerRepository(root string) *TriggerRepository {
	return &TriggerRepository{docs: newDocuments[models.TriggerDefinition](root, "triggers", "trigger", persistence.ErrTriggerNotFound)}
}

func (r *TriggerRepository) Save(_ context.Context, trigger *models.TriggerDefinition) error {
	return r.docs.put(trigger.ID, trigger)
}

func (r *TriggerRepository) GetByID(_ context.Context, triggerID string) (*models.TriggerDefinition, error) {
	return r.docs.get(triggerID)
}

func (r *TriggerRepository) Delete(_ context.Context, triggerID string) error {
	return r.docs.remove(triggerID)
}

func (r *TriggerRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.TriggerDefinition, error) {
	return r.docs.list(func(trigger *models.TriggerDefinition) bool {
		return trigger.WorkflowID == workflowID
	})
}

// ScheduleRepository handles schedule file operations.
type ScheduleRepository struct {
	docs *documents[models.ScheduleDefinition]
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{docs: newDocuments[models.ScheduleDefinition](root, "schedules", "schedule", persistence.ErrScheduleNotFound)}
}

func (r *ScheduleRepository) Save(_ context.Context, schedule *models.ScheduleDefinition) error {
	return r.docs.putVersioned(schedule.ID, schedule, &schedule.Version, func(stored *models.ScheduleDefinition) int64 {
		return stored.Version
	})
}

func (r *ScheduleRepository) GetByID(_ context.Context, scheduleID string) (*models.ScheduleDefinition, error) {
	return r.docs.get(scheduleID)
}

func (r *ScheduleRepository) Delete(_ context.Context, scheduleID string) error {
	return r.docs.remove(scheduleID)
}

func (r *ScheduleRepository) List(_ context.Context) ([]*models.ScheduleDefinition, error) {
	return r.docs.list(nil)
}

func (r *ScheduleRepository) ListDue(_ context.Context, now time.Time) ([]*models.ScheduleDefinition, error) {
	due, err := r.docs.list(func(schedule *models.ScheduleDefinition) bool {
		return schedule.IsDue(now)
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(due, func(a, b *models.ScheduleDefinition) int {
		return a.NextRunAt.Compare(b.NextRunAt)
	})

	return due, nil
}

// ApprovalRepository handles approval request file operations.
type ApprovalRepository struct {
	docs *documents[models.ApprovalRequest]
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{docs: newDocuments[models.ApprovalRequest](root, "approvals", "approval", persistence.ErrApprovalNotFound)}
}

func (r *ApprovalRepository) Save(_ context.Context, request *models.ApprovalRequest) error {
	return r.docs.putVersioned(request.ID, request, &request.Version, func(stored *models.ApprovalRequest) int64 {
		return stored.Version
	})
}

func (r *ApprovalRepository) GetByID(_ context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return r.docs.get(approvalID)
}

func (r *ApprovalRepository) ListPending(_ context.Context) ([]*models.ApprovalRequest, error) {
	return r.docs.list(func(request *models.ApprovalRequest) bool {
		return request.Status == models.ApprovalStatusPending
	})
}

func (r *ApprovalRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ApprovalRequest, error) {
	return r.docs.list(func(request *models.ApprovalRequest) bool {
		return request.ExecutionID == executionID
	})
}

// DeadLetterRepository stores dead letters as JSON files.
type DeadLetterRepository struct {
	docs *documents[models.DeadLetter]
}

// NewDeadLetterRepository creates a new dead letter repository.
func NewDeadLetterRepository(root string) *DeadLetterRepository {
	return &DeadLetterRepository{docs: newDocuments[models.DeadLetter](root, "dead_letters", "dead letter", persistence.ErrDeadLetterNotFound)}
}

func (r *DeadLetterRepository) Push(_ context.Context, letter *models.DeadLetter) error {
	return r.docs.put(letter.ID, letter)
}

func (r *DeadLetterRepository) GetByID(_ context.Context, deadLetterID string) (*models.DeadLetter, error) {
	return r.docs.get(deadLetterID)
}

// List returns dead letters oldest first.
func (r *DeadLetterRepository) List(_ context.Context) ([]*models.DeadLetter, error) {
	letters, err := r.docs.list(nil)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(letters, func(a, b *models.DeadLetter) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return letters, nil
}

func (r *DeadLetterRepository) Delete(_ context.Context, deadLetterID string) error {
	return r.docs.remove(deadLetterID)
}
