package models

import "time"

// DeadLetter is a dispatch request that exhausted its retry budget.
type DeadLetter struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	TriggerType TriggerType    `json:"trigger_type"`
	Payload     map[string]any `json:"payload"`
	UserID      string         `json:"user_id,omitempty"`
	LastError   string         `json:"last_error"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"created_at"`
}
