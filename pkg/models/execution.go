package models

import (
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending        ExecutionStatus = "pending"
	ExecutionStatusRunning        ExecutionStatus = "running"
	ExecutionStatusPausedApproval ExecutionStatus = "paused_approval"
	ExecutionStatusCompleted      ExecutionStatus = "completed"
	ExecutionStatusFailed         ExecutionStatus = "failed"
	ExecutionStatusCancelled      ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus is the state of a single node within an execution.
type NodeStatus string

const (
	NodeStatusPending         NodeStatus = "pending"
	NodeStatusRunning         NodeStatus = "running"
	NodeStatusWaitingApproval NodeStatus = "waiting_approval"
	NodeStatusCompleted       NodeStatus = "completed"
	NodeStatusFailed          NodeStatus = "failed"
	NodeStatusSkipped         NodeStatus = "skipped"
)

// Execution context keys reserved by the engine.
const (
	ContextKeyWaitingForNodeID = "waitingForNodeId"
	ContextKeyApprovalInput    = "approvalInput"
	ContextKeyNodeOutputs      = "nodeOutputs"
	ContextKeyNodeErrors       = "nodeErrors"
)

// NodeState records when a node ran and what it produced.
type NodeState struct {
	Status    NodeStatus     `json:"status"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ExecutionRecord is the persisted state of one run of a graph. Version is
// used for optimistic concurrency and is maintained by the store.
type ExecutionRecord struct {
	ID               string                `json:"id"`
	WorkflowID       string                `json:"workflow_id"`
	UserID           string                `json:"user_id"`
	InputData        map[string]any        `json:"input_data"`
	Status           ExecutionStatus       `json:"status"`
	ExecutionContext map[string]any        `json:"execution_context"`
	OutputData       map[string]any        `json:"output_data,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	NodeStatuses     map[string]*NodeState `json:"node_statuses"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at"`
	Version          int64                 `json:"version"`
}

// WaitingForNodeID returns the id of the approval node the execution is paused on.
func (r *ExecutionRecord) WaitingForNodeID() string {
	id, _ := r.ExecutionContext[ContextKeyWaitingForNodeID].(string)

	return id
}

// Clone returns a copy that can be mutated without affecting the receiver.
// Node outputs and nested context values are shared.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.InputData = maps.Clone(r.InputData)
	clone.ExecutionContext = maps.Clone(r.ExecutionContext)
	clone.OutputData = maps.Clone(r.OutputData)

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	clone.NodeStatuses = make(map[string]*NodeState, len(r.NodeStatuses))
	for id, state := range r.NodeStatuses {
		if state == nil {
			continue
		}

		copied := *state
		clone.NodeStatuses[id] = &copied
	}

	return &clone
}
