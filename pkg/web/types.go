package web

import (
	"time"

	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
)

// RunWorkflowRequest starts a manual or API triggered execution.
type RunWorkflowRequest struct {
	TriggerType models.TriggerType `json:"trigger_type" validate:"omitempty,oneof=api manual chat event"`
	Input       map[string]any     `json:"input"`
	UserID      string             `json:"user_id"`
}

// ResolveApprovalRequest approves or rejects an approval request.
type ResolveApprovalRequest struct {
	Approver string `json:"approver" validate:"required"`
	Comment  string `json:"comment"`
}

// CreateScheduleRequest creates a cron schedule for a workflow.
type CreateScheduleRequest struct {
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	TriggerID      string         `json:"trigger_id"`
	UserID         string         `json:"user_id"`
	CronExpression string         `json:"cron_expression" validate:"required"`
	Timezone       string         `json:"timezone"`
	Input          map[string]any `json:"input"`
}

// CreateTriggerRequest registers a trigger definition. ID is generated when empty.
type CreateTriggerRequest struct {
	ID             string             `json:"id"`
	WorkflowID     string             `json:"workflow_id"     validate:"required"`
	OwnerID        string             `json:"owner_id"`
	Type           models.TriggerType `json:"type"            validate:"required,oneof=webhook schedule api chat manual event"`
	Config         map[string]any     `json:"config"`
	Secret         string             `json:"secret"`
	AllowedMethods []string           `json:"allowed_methods" validate:"dive,oneof=GET POST PUT PATCH DELETE"`
	AuthMode       models.AuthMode    `json:"auth_mode"       validate:"omitempty,oneof=none bearer hmac-sha256"`
	IsActive       *bool              `json:"is_active"`
}

// SaveWorkflowResponse is returned after a graph is stored.
type SaveWorkflowResponse struct {
	Graph    *models.WorkflowGraph `json:"graph"`
	Warnings []graph.Issue         `json:"warnings"`
}

// TriggerMetricsResponse is the JSON view of dispatch counters.
type TriggerMetricsResponse struct {
	TriggerID         string     `json:"trigger_id"`
	TotalExecutions   int64      `json:"total_executions"`
	SuccessCount      int64      `json:"success_count"`
	FailureCount      int64      `json:"failure_count"`
	AverageDurationMS int64      `json:"average_duration_ms"`
	SuccessRate       float64    `json:"success_rate"`
	LastError         string     `json:"last_error,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
}
