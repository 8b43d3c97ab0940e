package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

// GraphRepository handles workflow graph database operations.
type GraphRepository struct {
	table *table[models.WorkflowGraph]
}

// NewGraphRepository creates a new graph repository.
func NewGraphRepository(db *sql.DB, logger *slog.Logger) *GraphRepository {
	return &GraphRepository{table: &table[models.WorkflowGraph]{
		db: db, logger: logger, name: "graphs", entity: "graph", key: "workflow_id",
		notFound: persistence.ErrGraphNotFound,
		columns:  []string{"name"},
		values:   func(g *models.WorkflowGraph) []any { return []any{g.Name} },
	}}
}

func (r *GraphRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error) {
	return r.table.get(ctx, workflowID)
}

func (r *GraphRepository) Save(ctx context.Context, graph *models.WorkflowGraph) error {
	return r.table.upsert(ctx, graph.ID, graph)
}

func (r *GraphRepository) Delete(ctx context.Context, workflowID string) error {
	return r.table.remove(ctx, workflowID)
}

func (r *GraphRepository) List(ctx context.Context) ([]*models.WorkflowGraph, error) {
	return r.table.find(ctx, "", "workflow_id")
}

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	table *table[models.ExecutionRecord]
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{table: &table[models.ExecutionRecord]{
		db: db, logger: logger, name: "executions", entity: "execution", key: "id",
		notFound: persistence.ErrExecutionNotFound,
		columns:  []string{"workflow_id", "status", "started_at"},
		values: func(e *models.ExecutionRecord) []any {
			return []any{e.WorkflowID, string(e.Status), e.StartedAt}
		},
	}}
}

func (r *ExecutionRepository) Save(ctx context.Context, record *models.ExecutionRecord) error {
	return r.table.saveVersioned(ctx, record.ID, record, &record.Version)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	return r.table.get(ctx, executionID)
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	return r.table.find(ctx, "workflow_id = $1", "started_at, id", workflowID)
}

// TriggerRepository handles trigger definition database operations.
type TriggerRepository struct {
	table *table[models.TriggerDefinition]
}

// NewTriggerRepository creates a new trigger repository.
func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{table: &table[models.TriggerDefinition]{
		db: db, logger: logger, name: "triggers", entity: "trigger", key: "id",
		notFound: persistence.ErrTriggerNotFound,
		columns:  []string{"workflow_id", "trigger_type", "is_active"},
		values: func(t *models.TriggerDefinition) []any {
			return []any{t.WorkflowID, string(t.Type), t.IsActive}
		},
	}}
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.TriggerDefinition) error {
	return r.table.upsert(ctx, trigger.ID, trigger)
}

func (r *TriggerRepository) GetByID(ctx context.Context, triggerID string) (*models.TriggerDefinition, error) {
	return r.table.get(ctx, triggerID)
}

func (r *TriggerRepository) Delete(ctx context.Context, triggerID string) error {
	return r.table.remove(ctx, triggerID)
}

func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerDefinition, error) {
	return r.table.find(ctx, "workflow_id = $1", "id", workflowID)
}

// ScheduleRepository handles schedule database operations.
type ScheduleRepository struct {
	table *table[models.ScheduleDefinition]
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{table: &table[models.ScheduleDefinition]{
		db: db, logger: logger, name: "schedules", entity: "schedule", key: "id",
		notFound: persistence.ErrScheduleNotFound,
		columns:  []string{"workflow_id", "is_active", "next_run_at"},
		values: func(s *models.ScheduleDefinition) []any {
			return []any{s.WorkflowID, s.IsActive, s.NextRunAt.UTC()}
		},
	}}
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.ScheduleDefinition) error {
	return r.table.saveVersioned(ctx, schedule.ID, schedule, &schedule.Version)
}

func (r *ScheduleRepository) GetByID(ctx context.Context, scheduleID string) (*models.ScheduleDefinition, error) {
	return r.table.get(ctx, scheduleID)
}

func (r *ScheduleRepository) Delete(ctx context.Context, scheduleID string) error {
	return r.table.remove(ctx, scheduleID)
}

func (r *ScheduleRepository) List(ctx context.Context) ([]*models.ScheduleDefinition, error) {
	return r.table.find(ctx, "", "id")
}

func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*models.ScheduleDefinition, error) {
	return r.table.find(ctx, "is_active AND next_run_at <= $1", "next_run_at, id", now.UTC())
}

// ApprovalRepository handles approval request database operations.
type ApprovalRepository struct {
	table *table[models.ApprovalRequest]
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{table: &table[models.ApprovalRequest]{
		db: db, logger: logger, name: "approvals", entity: "approval", key: "id",
		notFound: persistence.ErrApprovalNotFound,
		columns:  []string{"execution_id", "status"},
		values: func(a *models.ApprovalRequest) []any {
			return []any{a.ExecutionID, string(a.Status)}
		},
	}}
}

func (r *ApprovalRepository) Save(ctx context.Context, request *models.ApprovalRequest) error {
	return r.table.saveVersioned(ctx, request.ID, request, &request.Version)
}

func (r *ApprovalRepository) GetByID(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return r.table.get(ctx, approvalID)
}

func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return r.table.find(ctx, "status = $1", "id", string(models.ApprovalStatusPending))
}

func (r *ApprovalRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ApprovalRequest, error) {
	return r.table.find(ctx, "execution_id = $1", "id", executionID)
}

// DeadLetterRepository handles dead letter database operations.
type DeadLetterRepository struct {
	table *table[models.DeadLetter]
}

// NewDeadLetterRepository creates a new dead letter repository.
func NewDeadLetterRepository(db *sql.DB, logger *slog.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{table: &table[models.DeadLetter]{
		db: db, logger: logger, name: "dead_letters", entity: "dead letter", key: "id",
		notFound: persistence.ErrDeadLetterNotFound,
		columns:  []string{"workflow_id", "created_at"},
		values: func(d *models.DeadLetter) []any {
			return []any{d.WorkflowID, d.CreatedAt.UTC()}
		},
	}}
}

func (r *DeadLetterRepository) Push(ctx context.Context, letter *models.DeadLetter) error {
	return r.table.upsert(ctx, letter.ID, letter)
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, deadLetterID string) (*models.DeadLetter, error) {
	return r.table.get(ctx, deadLetterID)
}

func (r *DeadLetterRepository) List(ctx context.Context) ([]*models.DeadLetter, error) {
	return r.table.find(ctx, "", "created_at, id")
}

func (r *DeadLetterRepository) Delete(ctx context.Context, deadLetterID string) error {
	return r.table.remove(ctx, deadLetterID)
}
