// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowcore/pkg/models"
)

type EventType string

// Topic carries every flowcore event; consumers filter on the event type metadata.
const Topic = "flowcore.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Node status changes within an execution.
	NodeStatusEvent EventType = "node.status"

	// Dispatches that exhausted every retry.
	TriggerDeadLetteredEvent EventType = "trigger.dead_lettered"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates a base event with a fresh id and the current time.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// ExecutionLifecycle reports an execution changing status.
type ExecutionLifecycle struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	NodeID      string                 `json:"node_id,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Output      map[string]any         `json:"output,omitempty"`
}

func (e ExecutionLifecycle) GetType() EventType {
	return e.Type
}

// NewExecutionLifecycle builds the lifecycle event matching the record's status.
func NewExecutionLifecycle(eventType EventType, record *models.ExecutionRecord) ExecutionLifecycle {
	return ExecutionLifecycle{
		BaseEvent:   NewBaseEvent(eventType, record.WorkflowID),
		ExecutionID: record.ID,
		Status:      record.Status,
		NodeID:      record.WaitingForNodeID(),
		Error:       record.ErrorMessage,
		Output:      record.OutputData,
	}
}

// NodeStatusChanged reports a node transition inside an execution.
type NodeStatusChanged struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	NodeName    string            `json:"node_name"`
	Status      models.NodeStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (e NodeStatusChanged) GetType() EventType {
	return NodeStatusEvent
}

// TriggerDeadLettered reports a dispatch moved to the dead letter sink.
type TriggerDeadLettered struct {
	BaseEvent

	DeadLetter *models.DeadLetter `json:"dead_letter"`
}

func (e TriggerDeadLettered) GetType() EventType {
	return TriggerDeadLetteredEvent
}
