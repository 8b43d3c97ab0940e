// Package file provides file-based persistence implementation for graphs, executions and triggers.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/flowcore/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	graphRepo      *GraphRepository
	executionRepo  *ExecutionRepository
	triggerRepo    *TriggerRepository
	scheduleRepo   *ScheduleRepository
	approvalRepo   *ApprovalRepository
	deadLetterRepo *DeadLetterRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		graphRepo:      NewGraphRepository(cleanRoot),
		executionRepo:  NewExecutionRepository(cleanRoot),
		triggerRepo:    NewTriggerRepository(cleanRoot),
		scheduleRepo:   NewScheduleRepository(cleanRoot),
		approvalRepo:   NewApprovalRepository(cleanRoot),
		deadLetterRepo: NewDeadLetterRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) GraphRepository() persistence.GraphRepository {
	return fp.graphRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository {
	return fp.triggerRepo
}

func (fp *Persistence) ScheduleRepository() persistence.ScheduleRepository {
	return fp.scheduleRepo
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return fp.approvalRepo
}

func (fp *Persistence) DeadLetterRepository() persistence.DeadLetterRepository {
	return fp.deadLetterRepo
}
