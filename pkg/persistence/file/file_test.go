package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence("file://" + t.TempDir())
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := newTestPersistence(t)
	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, missing.HealthCheck(context.Background()))
	assert.NoError(t, missing.Close(context.Background()))
}

func TestExecutionRepository_OptimisticSave(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	record := &models.ExecutionRecord{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	require.NoError(t, repo.Save(ctx, record))
	assert.Equal(t, int64(1), record.Version)

	stale, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)

	record.Status = models.ExecutionStatusCompleted
	require.NoError(t, repo.Save(ctx, record))
	assert.Equal(t, int64(2), record.Version)

	stale.Status = models.ExecutionStatusFailed
	err = repo.Save(ctx, stale)
	assert.True(t, errors.Is(err, persistence.ErrVersionConflict))
	assert.Equal(t, int64(1), stale.Version)

	stored, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestExecutionRepository_InsertTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	require.NoError(t, repo.Save(ctx, &models.ExecutionRecord{ID: "exec-1"}))

	err := repo.Save(ctx, &models.ExecutionRecord{ID: "exec-1"})
	assert.True(t, errors.Is(err, persistence.ErrVersionConflict))

	err = repo.Save(ctx, &models.ExecutionRecord{ID: "exec-2", Version: 3})
	assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))
}

func TestExecutionRepository_ConcurrentSavesLoseNoUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	require.NoError(t, repo.Save(ctx, &models.ExecutionRecord{ID: "exec-1"}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			record, err := repo.GetByID(ctx, "exec-1")
			if err != nil {
				return
			}

			if record.Version != 1 {
				return
			}

			if repo.Save(ctx, record) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestExecutionRepository_GetByID_Errors(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	_, err := repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))

	_, err = repo.GetByID(ctx, "../etc/passwd")
	assert.True(t, errors.Is(err, persistence.ErrInvalidID))
}

func TestExecutionRepository_ListByWorkflow(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	require.NoError(t, repo.Save(ctx, &models.ExecutionRecord{ID: "a", WorkflowID: "wf-1"}))
	require.NoError(t, repo.Save(ctx, &models.ExecutionRecord{ID: "b", WorkflowID: "wf-2"}))
	require.NoError(t, repo.Save(ctx, &models.ExecutionRecord{ID: "c", WorkflowID: "wf-1"}))

	records, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
}

func TestScheduleRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ScheduleRepository()
	now := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)

	schedules := []*models.ScheduleDefinition{
		{ID: "late", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: now.Add(-time.Minute)},
		{ID: "later", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: now.Add(-time.Hour)},
		{ID: "future", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: now.Add(time.Minute)},
		{ID: "paused", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: false, NextRunAt: now.Add(-time.Minute)},
		{ID: "exact", WorkflowID: "wf", CronExpression: "* * * * *", IsActive: true, NextRunAt: now},
	}

	for _, schedule := range schedules {
		require.NoError(t, repo.Save(ctx, schedule))
	}

	due, err := repo.ListDue(ctx, now)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, schedule := range due {
		ids = append(ids, schedule.ID)
	}

	assert.Equal(t, []string{"later", "late", "exact"}, ids)

	require.NoError(t, repo.Delete(ctx, "late"))
	_, err = repo.GetByID(ctx, "late")
	assert.True(t, errors.Is(err, persistence.ErrScheduleNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, "late"), persistence.ErrScheduleNotFound))
}

func TestGraphAndTriggerRepositories(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	graph := &models.WorkflowGraph{
		ID:         "wf-1",
		Nodes:      []*models.GraphNode{{ID: "a", Type: "log", Config: map[string]any{"message": "hi"}}},
		EntryPoint: "a",
	}
	require.NoError(t, p.GraphRepository().Save(ctx, graph))

	loaded, err := p.GraphRepository().GetByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, graph, loaded)

	_, err = p.GraphRepository().GetByWorkflowID(ctx, "wf-2")
	assert.True(t, errors.Is(err, persistence.ErrGraphNotFound))

	trigger := &models.TriggerDefinition{ID: "t1", WorkflowID: "wf-1", Type: models.TriggerTypeWebhook, IsActive: true}
	require.NoError(t, p.TriggerRepository().Save(ctx, trigger))

	triggers, err := p.TriggerRepository().ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.True(t, triggers[0].IsActive)

	require.NoError(t, p.TriggerRepository().Delete(ctx, "t1"))
	_, err = p.TriggerRepository().GetByID(ctx, "t1")
	assert.True(t, errors.Is(err, persistence.ErrTriggerNotFound))
}

func TestApprovalRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ApprovalRepository()

	require.NoError(t, repo.Save(ctx, &models.ApprovalRequest{ID: "ap1", ExecutionID: "e1", Status: models.ApprovalStatusPending}))
	require.NoError(t, repo.Save(ctx, &models.ApprovalRequest{ID: "ap2", ExecutionID: "e2", Status: models.ApprovalStatusApproved}))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ap1", pending[0].ID)

	byExecution, err := repo.ListByExecution(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, byExecution, 1)
	assert.Equal(t, "ap2", byExecution[0].ID)
}

func TestDeadLetterRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).DeadLetterRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Push(ctx, &models.DeadLetter{ID: "b", WorkflowID: "wf", CreatedAt: now}))
	require.NoError(t, repo.Push(ctx, &models.DeadLetter{ID: "a", WorkflowID: "wf", CreatedAt: now.Add(time.Second)}))

	letters, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "b", letters[0].ID)

	require.NoError(t, repo.Delete(ctx, "b"))
	_, err = repo.GetByID(ctx, "b")
	assert.True(t, errors.Is(err, persistence.ErrDeadLetterNotFound))
}

func TestDocuments_SkipsInvalidFiles(t *testing.T) {
	root := t.TempDir()
	repo := NewExecutionRepository(root)

	require.NoError(t, repo.Save(context.Background(), &models.ExecutionRecord{ID: "good"}))
	require.NoError(t, os.WriteFile(filepath.Join(root, "executions", "broken.json"), []byte("{"), 0600))

	records, err := repo.ListByWorkflow(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}
