package models

import (
	"slices"
	"time"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusTimeout   ApprovalStatus = "timeout"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// ApprovalResult is the decision handed back to a paused execution.
type ApprovalResult string

const (
	ApprovalResultApproved ApprovalResult = "approved"
	ApprovalResultRejected ApprovalResult = "rejected"
)

// IsValid reports whether the result is one the engine can resume with.
func (r ApprovalResult) IsValid() bool {
	return r == ApprovalResultApproved || r == ApprovalResultRejected
}

// ApprovalRequest is created when an execution pauses on an approval node.
type ApprovalRequest struct {
	ID                string         `json:"id"`
	WorkflowID        string         `json:"workflow_id"`
	ExecutionID       string         `json:"execution_id"`
	NodeID            string         `json:"node_id"`
	Title             string         `json:"title,omitempty"`
	RequiredApprovers []string       `json:"required_approvers"`
	ApprovedBy        []string       `json:"approved_by"`
	RejectedBy        []string       `json:"rejected_by"`
	Status            ApprovalStatus `json:"status"`
	ResolutionComment string         `json:"resolution_comment,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	Version           int64          `json:"version"`
}

// IsRequiredApprover reports whether the user is listed as an approver.
// Requests without an explicit approver list accept any user.
func (a *ApprovalRequest) IsRequiredApprover(userID string) bool {
	if len(a.RequiredApprovers) == 0 {
		return true
	}

	return slices.Contains(a.RequiredApprovers, userID)
}

// AllApproved reports whether every required approver has approved.
func (a *ApprovalRequest) AllApproved() bool {
	if len(a.RequiredApprovers) == 0 {
		return len(a.ApprovedBy) > 0
	}

	for _, approver := range a.RequiredApprovers {
		if !slices.Contains(a.ApprovedBy, approver) {
			return false
		}
	}

	return true
}

// IsExpired reports whether a pending request has passed its deadline.
func (a *ApprovalRequest) IsExpired(now time.Time) bool {
	return a.Status == ApprovalStatusPending && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
