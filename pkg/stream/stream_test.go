package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/testutil"
)

type scriptedSource struct {
	mu      sync.Mutex
	records []*models.ExecutionRecord
	calls   int
}

func (s *scriptedSource) GetByID(_ context.Context, executionID string) (*models.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return nil, persistence.NewEntityError("GetByID", "execution", executionID, persistence.ErrExecutionNotFound)
	}

	index := min(s.calls, len(s.records)-1)
	s.calls++

	return s.records[index], nil
}

type graphSource struct{}

func (graphSource) GetByWorkflowID(_ context.Context, workflowID string) (*models.WorkflowGraph, error) {
	return testutil.CreateTestGraph(workflowID, []*models.GraphNode{
		testutil.CreateTestNode("a", testutil.WithName("Fetch order")),
		testutil.CreateTestNode("b"),
	}), nil
}

func at(minute int) *time.Time {
	t := time.Date(2024, 1, 1, 10, minute, 0, 0, time.UTC)

	return &t
}

func collect(t *testing.T, producer *Producer, done <-chan struct{}) []Event {
	t.Helper()

	var events []Event

	err := producer.Stream(context.Background(), "exec-1", done, func(e Event) error {
		events = append(events, e)

		return nil
	})
	require.NoError(t, err)

	return events
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}

	return out
}

func TestStream_EmitsOnlyChanges(t *testing.T) {
	running := &models.ExecutionRecord{
		ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning,
		NodeStatuses: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusRunning, StartedAt: at(0)},
		},
	}
	progressed := &models.ExecutionRecord{
		ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning,
		NodeStatuses: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusCompleted, StartedAt: at(0), EndedAt: at(1), Output: map[string]any{"ok": true}},
			"b": {Status: models.NodeStatusRunning, StartedAt: at(1)},
		},
	}
	finished := &models.ExecutionRecord{
		ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusCompleted,
		OutputData: map[string]any{"total": 3},
		NodeStatuses: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusCompleted, StartedAt: at(0), EndedAt: at(1)},
			"b": {Status: models.NodeStatusCompleted, StartedAt: at(1), EndedAt: at(2)},
		},
	}

	source := &scriptedSource{records: []*models.ExecutionRecord{running, running, progressed, progressed, finished}}
	producer := NewProducer(slog.Default(), source, graphSource{}, Config{PollInterval: time.Millisecond})

	events := collect(t, producer, nil)

	assert.Equal(t, []EventType{
		EventConnected,
		EventNodeStatus, // a running
		EventNodeStatus, // a completed
		EventNodeStatus, // b running
		EventNodeStatus, // b completed
		EventCompleted,
		EventClose,
	}, types(events))

	assert.Equal(t, "exec-1", events[0].ExecutionID)
	assert.Equal(t, "a", events[1].NodeID)
	assert.Equal(t, "Fetch order", events[1].NodeName)
	assert.Equal(t, "running", events[1].Status)
	assert.Equal(t, "completed", events[2].Status)
	assert.Equal(t, true, events[2].Output["ok"])
	assert.Equal(t, "b", events[3].NodeID)
	assert.Equal(t, "b", events[3].NodeName)
	assert.Equal(t, "completed", events[5].Status)
	assert.Equal(t, 3, events[5].Output["total"])
}

func TestStream_FailedExecution(t *testing.T) {
	failed := &models.ExecutionRecord{
		ID: "exec-1", Status: models.ExecutionStatusFailed, ErrorMessage: "boom",
		NodeStatuses: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusFailed, StartedAt: at(0), EndedAt: at(0), Error: "boom"},
		},
	}

	producer := NewProducer(slog.Default(), &scriptedSource{records: []*models.ExecutionRecord{failed}}, nil, Config{PollInterval: time.Millisecond})
	events := collect(t, producer, nil)

	require.Equal(t, []EventType{EventConnected, EventNodeStatus, EventCompleted, EventClose}, types(events))
	assert.Equal(t, "boom", events[1].Error)
	assert.Equal(t, "failed", events[2].Status)
	assert.Equal(t, "boom", events[2].Message)
}

func TestStream_Timeout(t *testing.T) {
	running := &models.ExecutionRecord{ID: "exec-1", Status: models.ExecutionStatusPausedApproval}
	producer := NewProducer(slog.Default(), &scriptedSource{records: []*models.ExecutionRecord{running}}, nil,
		Config{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond})

	events := collect(t, producer, nil)

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventTimeout, events[len(events)-2].Type)
	assert.Equal(t, EventClose, events[len(events)-1].Type)
	assert.NotContains(t, types(events), EventCompleted)
}

func TestStream_DoneSignal(t *testing.T) {
	running := &models.ExecutionRecord{ID: "exec-1", Status: models.ExecutionStatusRunning}
	producer := NewProducer(slog.Default(), &scriptedSource{records: []*models.ExecutionRecord{running}}, nil,
		Config{PollInterval: time.Hour})

	done := make(chan struct{})
	close(done)

	events := collect(t, producer, done)
	assert.Equal(t, []EventType{EventConnected, EventClose}, types(events))
}

func TestStream_MissingExecution(t *testing.T) {
	producer := NewProducer(slog.Default(), &scriptedSource{}, nil, Config{})
	events := collect(t, producer, nil)

	require.Equal(t, []EventType{EventConnected, EventError, EventClose}, types(events))
	assert.Contains(t, events[1].Message, "execution not found")
}

func TestEvent_Encode(t *testing.T) {
	var buf bytes.Buffer

	event := Event{Type: EventNodeStatus, ExecutionID: "exec-1", NodeID: "a", Status: "running", Timestamp: *at(0)}
	require.NoError(t, event.Encode(&buf))
	require.NoError(t, Event{Type: EventClose, Timestamp: *at(1)}.Encode(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "node_status", decoded["type"])
	assert.Equal(t, "exec-1", decoded["executionId"])
	assert.Equal(t, "a", decoded["nodeId"])
	assert.NotContains(t, decoded, "error")
}
