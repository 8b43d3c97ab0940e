// Package stream follows an execution by polling its record and emits a
// line-delimited JSON event for every observed change.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/flowcore/pkg/models"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 10 * time.Minute
)

// EventType names a stream event.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventNodeStatus EventType = "node_status"
	EventCompleted  EventType = "completed"
	EventError      EventType = "error"
	EventTimeout    EventType = "timeout"
	EventClose      EventType = "close"
)

// Event is one message on the stream. Only the fields relevant to Type are set.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"executionId,omitempty"`
	NodeID      string         `json:"nodeId,omitempty"`
	NodeName    string         `json:"nodeName,omitempty"`
	Status      string         `json:"status,omitempty"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Message     string         `json:"message,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Encode writes the event as one JSON line.
func (e Event) Encode(w io.Writer) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write stream event: %w", err)
	}

	return nil
}

// ExecutionSource reads execution records.
type ExecutionSource interface {
	GetByID(ctx context.Context, executionID string) (*models.ExecutionRecord, error)
}

// GraphSource resolves node display names. Optional.
type GraphSource interface {
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error)
}

// Config tunes polling. Zero values use the defaults.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

type Producer struct {
	logger     *slog.Logger
	executions ExecutionSource
	graphs     GraphSource
	config     Config
	now        func() time.Time
}

// NewProducer creates a producer. graphs may be nil, node names then fall back to ids.
func NewProducer(logger *slog.Logger, executions ExecutionSource, graphs GraphSource, config Config) *Producer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &Producer{
		logger:     logger.With("module", "stream"),
		executions: executions,
		graphs:     graphs,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Stream polls the execution and calls emit for every event until the
// execution is terminal, done is closed, ctx ends or the poll timeout is
// reached. The last event is always close unless emit itself failed. done
// may be nil.
func (p *Producer) Stream(ctx context.Context, executionID string, done <-chan struct{}, emit func(Event) error) error {
	if err := emit(p.event(Event{Type: EventConnected, ExecutionID: executionID})); err != nil {
		return err
	}

	deadline := time.NewTimer(p.config.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	w := &watcher{producer: p, seen: map[string]string{}}

	for {
		finished, err := w.poll(ctx, executionID, emit)
		if err != nil {
			return err
		}

		if finished {
			return p.close(emit)
		}

		select {
		case <-ctx.Done():
			return p.close(emit)
		case <-done:
			if _, err := w.poll(ctx, executionID, emit); err != nil {
				return err
			}

			return p.close(emit)
		case <-deadline.C:
			p.logger.InfoContext(ctx, "Execution stream timed out", "execution_id", executionID, "timeout", p.config.Timeout)

			message := fmt.Sprintf("execution still running after %s", p.config.Timeout)
			if err := emit(p.event(Event{Type: EventTimeout, ExecutionID: executionID, Message: message})); err != nil {
				return err
			}

			return p.close(emit)
		case <-ticker.C:
		}
	}
}

func (p *Producer) close(emit func(Event) error) error {
	return emit(p.event(Event{Type: EventClose}))
}

func (p *Producer) event(e Event) Event {
	e.Timestamp = p.now()

	return e
}

// watcher remembers what was emitted for one stream.
type watcher struct {
	producer *Producer
	seen     map[string]string
	names    map[string]string
}

// poll emits the changes since the last poll and reports whether the stream is over.
func (w *watcher) poll(ctx context.Context, executionID string, emit func(Event) error) (bool, error) {
	record, err := w.producer.executions.GetByID(ctx, executionID)
	if err != nil {
		w.producer.logger.WarnContext(ctx, "Failed to read execution for stream", "execution_id", executionID, "error", err)

		return true, emit(w.producer.event(Event{Type: EventError, ExecutionID: executionID, Message: err.Error()}))
	}

	if w.names == nil {
		w.names = w.nodeNames(ctx, record.WorkflowID)
	}

	for _, nodeID := range orderedNodes(record.NodeStatuses) {
		state := record.NodeStatuses[nodeID]

		signature := stateSignature(state)
		if w.seen[nodeID] == signature {
			continue
		}

		w.seen[nodeID] = signature

		name := w.names[nodeID]
		if name == "" {
			name = nodeID
		}

		err := emit(w.producer.event(Event{
			Type:        EventNodeStatus,
			ExecutionID: executionID,
			NodeID:      nodeID,
			NodeName:    name,
			Status:      string(state.Status),
			StartTime:   state.StartedAt,
			EndTime:     state.EndedAt,
			Error:       state.Error,
			Output:      state.Output,
		}))
		if err != nil {
			return true, err
		}
	}

	if !record.Status.IsTerminal() {
		return false, nil
	}

	completed := Event{Type: EventCompleted, ExecutionID: executionID, Status: string(record.Status), Output: record.OutputData}
	if record.Status == models.ExecutionStatusFailed {
		completed.Message = record.ErrorMessage
	}

	return true, emit(w.producer.event(completed))
}

func (w *watcher) nodeNames(ctx context.Context, workflowID string) map[string]string {
	names := map[string]string{}

	if w.producer.graphs == nil {
		return names
	}

	graph, err := w.producer.graphs.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return names
	}

	for _, node := range graph.Nodes {
		names[node.ID] = node.DisplayName()
	}

	return names
}

// orderedNodes sorts node ids by start time so events follow execution order.
func orderedNodes(states map[string]*models.NodeState) []string {
	ids := make([]string, 0, len(states))

	for id, state := range states {
		if state != nil {
			ids = append(ids, id)
		}
	}

	slices.SortFunc(ids, func(a, b string) int {
		sa, sb := states[a].StartedAt, states[b].StartedAt

		switch {
		case sa != nil && sb != nil && !sa.Equal(*sb):
			return sa.Compare(*sb)
		case sa == nil && sb != nil:
			return 1
		case sa != nil && sb == nil:
			return -1
		default:
			return strings.Compare(a, b)
		}
	})

	return ids
}

func stateSignature(state *models.NodeState) string {
	var ended string
	if state.EndedAt != nil {
		ended = state.EndedAt.Format(time.RFC3339Nano)
	}

	return string(state.Status) + "|" + ended + "|" + state.Error
}
