// Package approval creates approval requests for paused executions and
// resolves them, resuming the execution with the outcome.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowcore/pkg/models"
	approvalnode "github.com/dukex/flowcore/pkg/nodes/approval"
	"github.com/dukex/flowcore/pkg/persistence"
)

// Resumer continues a paused execution.
type Resumer interface {
	Resume(ctx context.Context, executionID string, result models.ApprovalResult, data map[string]any, userID string) (*models.ExecutionRecord, error)
}

// OverridePolicy lets users outside the approver list resolve a request, for
// example administrators.
type OverridePolicy interface {
	CanOverride(ctx context.Context, request *models.ApprovalRequest, userID string) bool
}

// Data keys handed to the resumed execution.
const (
	DataKeyApprovalID = "approval_id"
	DataKeyComment    = "comment"
	DataKeyReason     = "reason"
)

type Service struct {
	logger    *slog.Logger
	approvals persistence.ApprovalRepository
	resumer   Resumer
	override  OverridePolicy
	now       func() time.Time
}

// NewService creates a service. override may be nil.
func NewService(logger *slog.Logger, approvals persistence.ApprovalRepository, resumer Resumer, override OverridePolicy) *Service {
	return &Service{
		logger:    logger.With("module", "approval"),
		approvals: approvals,
		resumer:   resumer,
		override:  override,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApprovalRequested stores a pending request for the approval node output.
func (s *Service) ApprovalRequested(ctx context.Context, record *models.ExecutionRecord, node *models.GraphNode, output map[string]any) error {
	now := s.now()

	request := &models.ApprovalRequest{
		ID:                uuid.New().String(),
		WorkflowID:        record.WorkflowID,
		ExecutionID:       record.ID,
		NodeID:            node.ID,
		RequiredApprovers: approversOf(output[approvalnode.OutputKeyApprovers]),
		ApprovedBy:        []string{},
		RejectedBy:        []string{},
		Status:            models.ApprovalStatusPending,
		CreatedAt:         now,
	}

	request.Title, _ = output[approvalnode.OutputKeyTitle].(string)

	if seconds := secondsOf(output[approvalnode.OutputKeyTimeoutSeconds]); seconds > 0 {
		expiresAt := now.Add(time.Duration(seconds) * time.Second)
		request.ExpiresAt = &expiresAt
	}

	if err := s.approvals.Save(ctx, request); err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}

	s.logger.InfoContext(ctx, "Approval requested",
		"approval_id", request.ID, "execution_id", request.ExecutionID, "node_id", request.NodeID,
		"approvers", request.RequiredApprovers)

	return nil
}

func (s *Service) Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return s.approvals.GetByID(ctx, approvalID)
}

// ListPending returns requests still waiting for a decision.
func (s *Service) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	return s.approvals.ListPending(ctx)
}

// Approve records the approver's decision. The request is approved, and the
// execution resumed, once every required approver approved. An override
// approval resolves the request immediately.
func (s *Service) Approve(ctx context.Context, approvalID, approver, comment string) (*models.ApprovalRequest, error) {
	request, overridden, err := s.load(ctx, approvalID, approver)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(request.ApprovedBy, approver) {
		request.ApprovedBy = append(request.ApprovedBy, approver)
	}

	if !overridden && !request.AllApproved() {
		if err := s.approvals.Save(ctx, request); err != nil {
			return nil, fmt.Errorf("failed to save approval %s: %w", approvalID, err)
		}

		s.logger.InfoContext(ctx, "Approval recorded, waiting for other approvers",
			"approval_id", request.ID, "approver", approver, "approved_by", request.ApprovedBy)

		return request, nil
	}

	return request, s.resolve(ctx, request, models.ApprovalStatusApproved, approver, comment)
}

// Reject resolves the request as rejected on the first rejection.
func (s *Service) Reject(ctx context.Context, approvalID, approver, comment string) (*models.ApprovalRequest, error) {
	request, _, err := s.load(ctx, approvalID, approver)
	if err != nil {
		return nil, err
	}

	request.RejectedBy = append(request.RejectedBy, approver)

	return request, s.resolve(ctx, request, models.ApprovalStatusRejected, approver, comment)
}

// ExpireStale times out every pending request past its deadline and resumes
// its execution as rejected. It returns how many requests expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	pending, err := s.approvals.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	now := s.now()
	expired := 0

	for _, request := range pending {
		if !request.IsExpired(now) {
			continue
		}

		if err := s.resolve(ctx, request, models.ApprovalStatusTimeout, "", ""); err != nil {
			if persistence.IsVersionConflict(err) {
				continue
			}

			s.logger.ErrorContext(ctx, "Failed to expire approval", "approval_id", request.ID, "error", err)

			continue
		}

		expired++
	}

	return expired, nil
}

func (s *Service) load(ctx context.Context, approvalID, approver string) (*models.ApprovalRequest, bool, error) {
	request, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load approval %s: %w", approvalID, err)
	}

	if request.Status != models.ApprovalStatusPending {
		return nil, false, fmt.Errorf("%w: %s is %s", ErrApprovalResolved, approvalID, request.Status)
	}

	if request.IsExpired(s.now()) {
		if err := s.resolve(ctx, request, models.ApprovalStatusTimeout, "", ""); err != nil {
			return nil, false, err
		}

		return nil, false, fmt.Errorf("%w: %s", ErrApprovalExpired, approvalID)
	}

	if request.IsRequiredApprover(approver) {
		return request, false, nil
	}

	if s.override != nil && s.override.CanOverride(ctx, request, approver) {
		s.logger.WarnContext(ctx, "Approval resolved by override", "approval_id", approvalID, "user_id", approver)

		return request, true, nil
	}

	return nil, false, fmt.Errorf("%w: %s on %s", ErrNotApprover, approver, approvalID)
}

// ExecutionCancelled closes the pending requests of a cancelled execution so
// they can no longer be approved.
func (s *Service) ExecutionCancelled(ctx context.Context, executionID string) error {
	requests, err := s.approvals.ListByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list approvals of execution %s: %w", executionID, err)
	}

	var errs []error

	for _, request := range requests {
		if request.Status != models.ApprovalStatusPending {
			continue
		}

		now := s.now()
		request.Status = models.ApprovalStatusCancelled
		request.ResolvedAt = &now

		if err := s.approvals.Save(ctx, request); err != nil {
			if persistence.IsVersionConflict(err) {
				continue
			}

			errs = append(errs, fmt.Errorf("failed to save approval %s: %w", request.ID, err))

			continue
		}

		s.logger.InfoContext(ctx, "Approval cancelled with its execution",
			"approval_id", request.ID, "execution_id", executionID)
	}

	return errors.Join(errs...)
}

// resolve stores the final status then resumes the execution. The save is
// optimistic so concurrent resolutions resume the execution only once.
//
// The request keeps its resolved status when the resume fails before the
// execution is touched. The execution then stays paused with no open request
// and must be cancelled or replayed by an operator; the failure is logged at
// error level and returned to the caller.
func (s *Service) resolve(ctx context.Context, request *models.ApprovalRequest, status models.ApprovalStatus, userID, comment string) error {
	now := s.now()
	request.Status = status
	request.ResolutionComment = comment
	request.ResolvedAt = &now

	if err := s.approvals.Save(ctx, request); err != nil {
		return fmt.Errorf("failed to save approval %s: %w", request.ID, err)
	}

	result := models.ApprovalResultRejected
	if status == models.ApprovalStatusApproved {
		result = models.ApprovalResultApproved
	}

	data := map[string]any{DataKeyApprovalID: request.ID}
	if comment != "" {
		data[DataKeyComment] = comment
	}

	if status == models.ApprovalStatusTimeout {
		data[DataKeyReason] = string(models.ApprovalStatusTimeout)
	}

	s.logger.InfoContext(ctx, "Approval resolved",
		"approval_id", request.ID, "execution_id", request.ExecutionID, "status", status, "user_id", userID)

	record, err := s.resumer.Resume(context.WithoutCancel(ctx), request.ExecutionID, result, data, userID)
	if err != nil && record == nil {
		s.logger.ErrorContext(ctx, "Failed to resume execution",
			"approval_id", request.ID, "execution_id", request.ExecutionID, "error", err)

		return fmt.Errorf("failed to resume execution %s: %w", request.ExecutionID, err)
	}

	// A resumed execution that fails is recorded on the execution itself.
	if err != nil {
		s.logger.WarnContext(ctx, "Resumed execution did not complete",
			"approval_id", request.ID, "execution_id", request.ExecutionID, "status", record.Status, "error", err)
	}

	return nil
}

func approversOf(value any) []string {
	switch approvers := value.(type) {
	case []string:
		return slices.Clone(approvers)
	case []any:
		out := make([]string, 0, len(approvers))

		for _, approver := range approvers {
			if s, ok := approver.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out
	default:
		return []string{}
	}
}

func secondsOf(value any) int64 {
	switch seconds := value.(type) {
	case int:
		return int64(seconds)
	case int64:
		return seconds
	case float64:
		return int64(seconds)
	default:
		return 0
	}
}
