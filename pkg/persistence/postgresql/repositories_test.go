package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

func newMockPersistence(t *testing.T) (*Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return NewPersistenceWithDB(db, slog.Default()), mock
}

func TestExecutionRepository_SaveInsertsNewRecord(t *testing.T) {
	p, mock := newMockPersistence(t)
	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	record := &models.ExecutionRecord{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning, StartedAt: started}

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO executions (id, workflow_id, status, started_at, version, document, updated_at) VALUES ($1, $2, $3, $4, $5, $6, NOW()) ON CONFLICT (id) DO NOTHING",
	)).
		WithArgs("exec-1", "wf-1", "running", started, int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.ExecutionRepository().Save(context.Background(), record))
	assert.Equal(t, int64(1), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_SaveInsertConflict(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec("INSERT INTO executions").WillReturnResult(sqlmock.NewResult(0, 0))

	record := &models.ExecutionRecord{ID: "exec-1"}
	err := p.ExecutionRepository().Save(context.Background(), record)
	assert.True(t, errors.Is(err, persistence.ErrVersionConflict))
	assert.Equal(t, int64(0), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_SaveUpdatesMatchingVersion(t *testing.T) {
	p, mock := newMockPersistence(t)
	record := &models.ExecutionRecord{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusCompleted, Version: 3}

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE executions SET workflow_id = $3, status = $4, started_at = $5, version = $6, document = $7, updated_at = NOW() WHERE id = $1 AND version = $2",
	)).
		WithArgs("exec-1", int64(3), "wf-1", "completed", sqlmock.AnyArg(), int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.ExecutionRepository().Save(context.Background(), record))
	assert.Equal(t, int64(4), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_SaveStaleVersion(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec("UPDATE executions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM executions WHERE id = $1")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))

	record := &models.ExecutionRecord{ID: "exec-1", Version: 3}
	err := p.ExecutionRepository().Save(context.Background(), record)
	assert.True(t, errors.Is(err, persistence.ErrVersionConflict))
	assert.Equal(t, int64(3), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_SaveMissingRecord(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec("UPDATE executions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM executions").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	err := p.ExecutionRepository().Save(context.Background(), &models.ExecutionRecord{ID: "exec-1", Version: 2})
	assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_GetByID(t *testing.T) {
	p, mock := newMockPersistence(t)

	document, err := json.Marshal(&models.ExecutionRecord{ID: "exec-1", WorkflowID: "wf-1", Version: 2})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM executions WHERE id = $1")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))
	mock.ExpectQuery("SELECT document FROM executions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	record, err := p.ExecutionRepository().GetByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", record.WorkflowID)
	assert.Equal(t, int64(2), record.Version)

	_, err = p.ExecutionRepository().GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_ListDue(t *testing.T) {
	p, mock := newMockPersistence(t)
	now := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)

	first, err := json.Marshal(&models.ScheduleDefinition{ID: "a", NextRunAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	second, err := json.Marshal(&models.ScheduleDefinition{ID: "b", NextRunAt: now})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT document FROM schedules WHERE is_active AND next_run_at <= $1 ORDER BY next_run_at, id",
	)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(first).AddRow(second))

	due, err := p.ScheduleRepository().ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID)
	assert.Equal(t, "b", due[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerRepository_SaveUpserts(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO triggers (id, workflow_id, trigger_type, is_active, document, updated_at) VALUES ($1, $2, $3, $4, $5, NOW()) " +
			"ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, trigger_type = EXCLUDED.trigger_type, " +
			"is_active = EXCLUDED.is_active, document = EXCLUDED.document, updated_at = NOW()",
	)).
		WithArgs("t1", "wf-1", "webhook", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	trigger := &models.TriggerDefinition{ID: "t1", WorkflowID: "wf-1", Type: models.TriggerTypeWebhook, IsActive: true}
	require.NoError(t, p.TriggerRepository().Save(context.Background(), trigger))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositories_DeleteMissing(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM graphs WHERE workflow_id = $1")).
		WithArgs("wf-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dead_letters WHERE id = $1")).
		WithArgs("dl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.GraphRepository().Delete(context.Background(), "wf-1")
	assert.True(t, errors.Is(err, persistence.ErrGraphNotFound))

	require.NoError(t, p.DeadLetterRepository().Delete(context.Background(), "dl-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepository_ListPending(t *testing.T) {
	p, mock := newMockPersistence(t)

	document, err := json.Marshal(&models.ApprovalRequest{ID: "ap1", Status: models.ApprovalStatusPending})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM approvals WHERE status = $1 ORDER BY id")).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))

	pending, err := p.ApprovalRepository().ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ap1", pending[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	p := NewPersistenceWithDB(db, slog.Default())
	err = p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
