package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
)

func TestNewExecutionLifecycle(t *testing.T) {
	record := &models.ExecutionRecord{
		ID:               "exec-1",
		WorkflowID:       "wf-1",
		Status:           models.ExecutionStatusPausedApproval,
		ExecutionContext: map[string]any{models.ContextKeyWaitingForNodeID: "approve"},
	}

	event := NewExecutionLifecycle(ExecutionPausedEvent, record)

	assert.Equal(t, ExecutionPausedEvent, event.GetType())
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "approve", event.NodeID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNodeStatusChanged_JSON(t *testing.T) {
	event := NodeStatusChanged{
		BaseEvent:   NewBaseEvent(NodeStatusEvent, "wf-1"),
		ExecutionID: "exec-1",
		NodeID:      "a",
		NodeName:    "Fetch",
		Status:      models.NodeStatusFailed,
		Error:       "boom",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "node.status", decoded["type"])
	assert.Equal(t, "exec-1", decoded["execution_id"])
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, "boom", decoded["error"])
	assert.NotContains(t, decoded, "started_at")
}

func TestTriggerDeadLettered_GetType(t *testing.T) {
	event := TriggerDeadLettered{DeadLetter: &models.DeadLetter{ID: "dl-1"}}
	assert.Equal(t, TriggerDeadLetteredEvent, event.GetType())
}
