package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/flowcore/pkg/models"
)

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}

// MockDeadLetterSink is a mock implementation of persistence.DeadLetterSink interface.
type MockDeadLetterSink struct {
	mock.Mock
}

func (m *MockDeadLetterSink) Push(ctx context.Context, letter *models.DeadLetter) error {
	args := m.Called(ctx, letter)

	return args.Error(0)
}
