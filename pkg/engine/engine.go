// Package engine runs workflow graphs: it walks nodes through a NodeRunner,
// follows the selected edges, pauses on approval nodes and persists the
// execution record after every transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/flowcore/pkg/eventbus"
	"github.com/dukex/flowcore/pkg/events"
	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/otelhelper"
	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/protocol"
)

// Input keys merged into the first node after an approval resolves.
const (
	InputKeyApprovalResult = "approvalResult"
	InputKeyApprovalData   = "approvalData"
	InputKeyApprovedBy     = "approvedBy"
)

// Config tunes traversal.
type Config struct {
	Fallback       FallbackPolicy
	ParallelFanOut bool
}

// GraphSource loads the graph a paused execution continues on.
type GraphSource interface {
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error)
}

// ApprovalHook is told when an execution pauses on an approval node. output
// is what the approval node produced.
type ApprovalHook interface {
	ApprovalRequested(ctx context.Context, record *models.ExecutionRecord, node *models.GraphNode, output map[string]any) error
}

// ApprovalCanceller is implemented by approval hooks that close the pending
// requests of an execution cancelled while paused.
type ApprovalCanceller interface {
	ExecutionCancelled(ctx context.Context, executionID string) error
}

type Engine struct {
	logger     *slog.Logger
	runner     protocol.NodeRunner
	validator  *graph.Validator
	executions persistence.ExecutionRepository
	graphs     GraphSource
	publisher  eventbus.EventPublisher
	evaluator  *expression.Evaluator
	config     Config
	now        func() time.Time

	mu        sync.Mutex
	approvals ApprovalHook
	active    map[string]*atomic.Bool
}

// New creates an engine. publisher may be nil.
func New(
	logger *slog.Logger,
	runner protocol.NodeRunner,
	validator *graph.Validator,
	executions persistence.ExecutionRepository,
	graphs GraphSource,
	publisher eventbus.EventPublisher,
	config Config,
) *Engine {
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}

	if config.Fallback == "" {
		config.Fallback = FallbackFirstUnlabeled
	}

	return &Engine{
		logger:     logger.With("module", "engine"),
		runner:     runner,
		validator:  validator,
		executions: executions,
		graphs:     graphs,
		publisher:  publisher,
		evaluator:  expression.NewEvaluator(),
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		active:     make(map[string]*atomic.Bool),
	}
}

// SetApprovalHook registers the collaborator that creates approval requests.
func (e *Engine) SetApprovalHook(hook ApprovalHook) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.approvals = hook
}

func (e *Engine) approvalHook() ApprovalHook {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.approvals
}

// run is the in-memory state of one traversal.
type run struct {
	graph     *models.WorkflowGraph
	record    *models.ExecutionRecord
	cancelled *atomic.Bool

	mu      sync.Mutex
	visited map[string]bool
	// stopped is set once the stored record was finished by another process.
	stopped bool
}

func (r *run) hasVisited(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.visited[nodeID]
}

func (r *run) visit(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.visited[nodeID] = true
}

func (r *run) contextSnapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.record.ExecutionContext)
}

func (e *Engine) begin(graph *models.WorkflowGraph, record *models.ExecutionRecord) *run {
	flag := &atomic.Bool{}

	e.mu.Lock()
	e.active[record.ID] = flag
	e.mu.Unlock()

	r := &run{graph: graph, record: record, cancelled: flag, visited: make(map[string]bool)}

	for nodeID, state := range record.NodeStatuses {
		if state != nil && state.Status != models.NodeStatusPending {
			r.visited[nodeID] = true
		}
	}

	return r
}

func (e *Engine) finish(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, executionID)
}

// Start validates graph, persists a running execution and walks it from the
// entry point. Invalid graphs fail with a *graph.ValidationError and nothing is
// persisted. A node failure returns the failed record with a *NodeExecutionError.
func (e *Engine) Start(ctx context.Context, workflowGraph *models.WorkflowGraph, input map[string]any, userID string) (*models.ExecutionRecord, error) {
	if workflowGraph == nil {
		return nil, ErrNilGraph
	}

	if err := e.validator.Validate(workflowGraph).Err(); err != nil {
		return nil, err
	}

	now := e.now()

	inputData := maps.Clone(input)
	if inputData == nil {
		inputData = map[string]any{}
	}

	record := &models.ExecutionRecord{
		ID:               uuid.New().String(),
		WorkflowID:       workflowGraph.ID,
		UserID:           userID,
		InputData:        inputData,
		Status:           models.ExecutionStatusRunning,
		ExecutionContext: map[string]any{},
		NodeStatuses:     map[string]*models.NodeState{},
		StartedAt:        now,
		UpdatedAt:        now,
	}

	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "engine.start",
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
	)
	defer span.End()

	logger := e.logger.With("execution_id", record.ID, "workflow_id", record.WorkflowID)
	logger.InfoContext(ctx, "Starting execution", "entry_point", workflowGraph.EntryPoint)

	if err := e.executions.Save(context.WithoutCancel(ctx), record); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	r := e.begin(workflowGraph, record)
	defer e.finish(record.ID)

	e.publishLifecycle(ctx, events.ExecutionStartedEvent, record)
	notifyCreated(ctx, record)

	err := e.traverse(ctx, r, workflowGraph.EntryPoint, nil)
	if errors.Is(err, errFinishedElsewhere) {
		return record, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return record, err
}

// Resume continues a paused execution with the approval outcome. The edge
// labelled with the result is followed; when none applies the execution
// completes with the outcome as its output.
func (e *Engine) Resume(ctx context.Context, executionID string, result models.ApprovalResult, data map[string]any, userID string) (*models.ExecutionRecord, error) {
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidApprovalResult, result)
	}

	record, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if record.Status != models.ExecutionStatusPausedApproval {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrNotPaused, executionID, record.Status)
	}

	workflowGraph, err := e.graphs.GetByWorkflowID(ctx, record.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph for workflow %s: %w", record.WorkflowID, err)
	}

	nodeID := record.WaitingForNodeID()

	if _, ok := workflowGraph.Node(nodeID); !ok {
		return nil, fmt.Errorf("approval node %q not found in workflow %s", nodeID, record.WorkflowID)
	}

	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "engine.resume",
		attribute.String(otelhelper.WorkflowIDKey, record.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	approvalInput := map[string]any{
		InputKeyApprovalResult: string(result),
		InputKeyApprovalData:   data,
		InputKeyApprovedBy:     userID,
	}

	now := e.now()

	if record.ExecutionContext == nil {
		record.ExecutionContext = map[string]any{}
	}

	if record.NodeStatuses == nil {
		record.NodeStatuses = map[string]*models.NodeState{}
	}

	delete(record.ExecutionContext, models.ContextKeyWaitingForNodeID)
	record.ExecutionContext[models.ContextKeyApprovalInput] = approvalInput
	record.Status = models.ExecutionStatusRunning

	state := record.NodeStatuses[nodeID]
	if state == nil {
		state = &models.NodeState{}
		record.NodeStatuses[nodeID] = state
	}

	state.Status = models.NodeStatusCompleted
	state.EndedAt = &now
	state.Output = mergeMaps(state.Output, approvalInput)

	record.UpdatedAt = now

	if err := e.executions.Save(context.WithoutCancel(ctx), record); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to persist resumed execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Resuming execution",
		"execution_id", record.ID, "workflow_id", record.WorkflowID, "node_id", nodeID, "approval_result", result)
	e.publishLifecycle(ctx, events.ExecutionResumedEvent, record)

	r := e.begin(workflowGraph, record)
	defer e.finish(record.ID)

	edge := resumeEdge(workflowGraph, nodeID, result)
	if edge == nil {
		if err := e.complete(ctx, r, approvalInput); err != nil && !errors.Is(err, errFinishedElsewhere) {
			return record, err
		}

		return record, nil
	}

	err = e.traverse(ctx, r, edge.TargetNodeID, approvalInput)
	if errors.Is(err, errFinishedElsewhere) {
		return record, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return record, err
}

// Cancel stops an execution. A traversal running in this process stops at
// the next node boundary; a paused or stale record is cancelled directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	flag, running := e.active[executionID]
	e.mu.Unlock()

	if running {
		flag.Store(true)
		e.logger.InfoContext(ctx, "Cancellation requested", "execution_id", executionID)

		return nil
	}

	record, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if record.Status.IsTerminal() {
		return fmt.Errorf("%w: execution %s is %s", ErrAlreadyFinished, executionID, record.Status)
	}

	paused := record.Status == models.ExecutionStatusPausedApproval
	now := e.now()
	record.Status = models.ExecutionStatusCancelled
	record.CompletedAt = &now
	record.UpdatedAt = now

	if err := e.executions.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to persist cancelled execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "workflow_id", record.WorkflowID)
	e.publishLifecycle(ctx, events.ExecutionCancelledEvent, record)

	if canceller, ok := e.approvalHook().(ApprovalCanceller); ok && paused {
		if err := canceller.ExecutionCancelled(ctx, executionID); err != nil {
			e.logger.ErrorContext(ctx, "Failed to close pending approvals of cancelled execution",
				"execution_id", executionID, "error", err)
		}
	}

	return nil
}

// Get returns the stored execution record.
func (e *Engine) Get(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	return e.executions.GetByID(ctx, executionID)
}

func (e *Engine) traverse(ctx context.Context, r *run, nodeID string, carry map[string]any) error {
	var output map[string]any

	for {
		if r.cancelled.Load() || ctx.Err() != nil {
			return e.cancelRun(ctx, r)
		}

		node, ok := r.graph.Node(nodeID)
		if !ok {
			return e.fail(ctx, r, &models.GraphNode{ID: nodeID}, fmt.Errorf("node %s not found", nodeID))
		}

		r.visit(node.ID)
		input := mergeMaps(r.record.InputData, carry)

		if node.Type == models.NodeTypeApproval {
			return e.pause(ctx, r, node, input)
		}

		var (
			nodeErr error
			err     error
		)

		output, nodeErr, err = e.runNode(ctx, r, node, input, models.NodeStatusCompleted)
		if err != nil {
			return err
		}

		if nodeErr != nil {
			if ctx.Err() != nil {
				return e.cancelRun(ctx, r)
			}

			if !node.ContinueOnError {
				return e.fail(ctx, r, node, nodeErr)
			}

			output = map[string]any{"error": nodeErr.Error()}
		}

		edges := e.fanOutEdges(r, node)
		if len(edges) > 1 {
			next, joined, err := e.fanOut(ctx, r, edges, input)
			if err != nil || next == nil {
				if err == nil {
					err = e.complete(ctx, r, joined)
				}

				return err
			}

			nodeID, carry = next.TargetNodeID, joined

			continue
		}

		edge, err := e.selectEdge(r, node, output, input)
		if err != nil {
			return e.fail(ctx, r, node, err)
		}

		if edge == nil {
			return e.complete(ctx, r, output)
		}

		nodeID, carry = edge.TargetNodeID, output
	}
}

// runNode executes one node and records its state. nodeErr is the node's own
// failure; err is a persistence failure that aborts the traversal.
func (e *Engine) runNode(
	ctx context.Context,
	r *run,
	node *models.GraphNode,
	input map[string]any,
	doneStatus models.NodeStatus,
) (output map[string]any, nodeErr error, err error) {
	startedAt := e.now()
	state := &models.NodeState{Status: models.NodeStatusRunning, StartedAt: &startedAt}

	if err := e.updateNode(ctx, r, node, state, nil); err != nil {
		return nil, nil, err
	}

	nodeCtx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "engine.node",
		attribute.String(otelhelper.ExecutionIDKey, r.record.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)

	output, nodeErr = e.runner.Run(nodeCtx, node, input, r.contextSnapshot())
	if nodeErr != nil {
		otelhelper.SetError(span, nodeErr)
	}

	span.End()

	endedAt := e.now()
	done := &models.NodeState{Status: doneStatus, StartedAt: &startedAt, EndedAt: &endedAt, Output: output}

	if nodeErr != nil {
		done.Status = models.NodeStatusFailed
		done.Output = nil
		done.Error = nodeErr.Error()

		e.logger.ErrorContext(ctx, "Node failed",
			"execution_id", r.record.ID, "node_id", node.ID, "node_type", node.Type, "error", nodeErr)
	}

	if err := e.updateNode(ctx, r, node, done, output); err != nil {
		return nil, nil, err
	}

	return output, nodeErr, nil
}

// updateNode stores state for node, merges output into the node outputs kept
// in the execution context, persists the record and publishes the change.
func (e *Engine) updateNode(ctx context.Context, r *run, node *models.GraphNode, state *models.NodeState, output map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record.NodeStatuses[node.ID] = state

	if state.Status == models.NodeStatusFailed {
		errs, _ := r.record.ExecutionContext[models.ContextKeyNodeErrors].(map[string]any)
		errs = maps.Clone(errs)

		if errs == nil {
			errs = map[string]any{}
		}

		errs[node.ID] = state.Error
		r.record.ExecutionContext[models.ContextKeyNodeErrors] = errs
	} else if output != nil {
		outputs, _ := r.record.ExecutionContext[models.ContextKeyNodeOutputs].(map[string]any)
		outputs = maps.Clone(outputs)

		if outputs == nil {
			outputs = map[string]any{}
		}

		outputs[node.ID] = output
		r.record.ExecutionContext[models.ContextKeyNodeOutputs] = outputs
	}

	if err := e.saveRun(ctx, r); err != nil {
		return err
	}

	event := events.NodeStatusChanged{
		BaseEvent:   events.NewBaseEvent(events.NodeStatusEvent, r.record.WorkflowID),
		ExecutionID: r.record.ID,
		NodeID:      node.ID,
		NodeName:    node.DisplayName(),
		Status:      state.Status,
		StartedAt:   state.StartedAt,
		EndedAt:     state.EndedAt,
		Error:       state.Error,
	}

	if err := e.publisher.Publish(ctx, r.record.ID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish node status", "execution_id", r.record.ID, "node_id", node.ID, "error", err)
	}

	return nil
}

func (e *Engine) pause(ctx context.Context, r *run, node *models.GraphNode, input map[string]any) error {
	output, nodeErr, err := e.runNode(ctx, r, node, input, models.NodeStatusWaitingApproval)
	if err != nil {
		return err
	}

	if nodeErr != nil {
		return e.fail(ctx, r, node, nodeErr)
	}

	r.mu.Lock()
	r.record.Status = models.ExecutionStatusPausedApproval
	r.record.ExecutionContext[models.ContextKeyWaitingForNodeID] = node.ID
	err = e.saveRun(ctx, r)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution paused for approval",
		"execution_id", r.record.ID, "workflow_id", r.record.WorkflowID, "node_id", node.ID)
	e.publishLifecycle(ctx, events.ExecutionPausedEvent, r.record)

	hook := e.approvalHook()
	if hook == nil {
		return nil
	}

	if err := hook.ApprovalRequested(context.WithoutCancel(ctx), r.record.Clone(), node, output); err != nil {
		e.logger.ErrorContext(ctx, "Failed to create approval request",
			"execution_id", r.record.ID, "node_id", node.ID, "error", err)

		// Without a request nothing could ever resume the pause.
		hookErr := fmt.Errorf("failed to request approval: %w", err)

		r.mu.Lock()
		delete(r.record.ExecutionContext, models.ContextKeyWaitingForNodeID)

		if state := r.record.NodeStatuses[node.ID]; state != nil {
			state.Status = models.NodeStatusFailed
			state.Error = hookErr.Error()
		}
		r.mu.Unlock()

		return e.fail(ctx, r, node, hookErr)
	}

	return nil
}

func (e *Engine) complete(ctx context.Context, r *run, output map[string]any) error {
	return e.terminate(ctx, r, models.ExecutionStatusCompleted, output, "", events.ExecutionCompletedEvent)
}

func (e *Engine) fail(ctx context.Context, r *run, node *models.GraphNode, nodeErr error) error {
	if err := e.terminate(ctx, r, models.ExecutionStatusFailed, nil, nodeErr.Error(), events.ExecutionFailedEvent); err != nil {
		return err
	}

	return &NodeExecutionError{ExecutionID: r.record.ID, NodeID: node.ID, NodeType: node.Type, Err: nodeErr}
}

func (e *Engine) cancelRun(ctx context.Context, r *run) error {
	if err := e.terminate(ctx, r, models.ExecutionStatusCancelled, nil, "", events.ExecutionCancelledEvent); err != nil {
		return err
	}

	return ctx.Err()
}

func (e *Engine) terminate(
	ctx context.Context,
	r *run,
	status models.ExecutionStatus,
	output map[string]any,
	errorMessage string,
	eventType events.EventType,
) error {
	r.mu.Lock()
	now := e.now()
	r.record.Status = status
	r.record.OutputData = output
	r.record.ErrorMessage = errorMessage
	r.record.CompletedAt = &now
	err := e.saveRun(ctx, r)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution finished",
		"execution_id", r.record.ID, "workflow_id", r.record.WorkflowID, "status", status)
	e.publishLifecycle(ctx, eventType, r.record)

	return nil
}

// save persists the record even when ctx is cancelled so the final state is kept.
func (e *Engine) save(ctx context.Context, record *models.ExecutionRecord) error {
	record.UpdatedAt = e.now()

	if err := e.executions.Save(context.WithoutCancel(ctx), record); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			e.logger.WarnContext(ctx, "Execution was modified concurrently", "execution_id", record.ID)
		}

		return fmt.Errorf("failed to persist execution %s: %w", record.ID, err)
	}

	return nil
}

// saveRun persists the traversal's record; r.mu must be held. When the save
// conflicts because another process already finished the execution, the
// stored record is adopted and errFinishedElsewhere stops the traversal.
func (e *Engine) saveRun(ctx context.Context, r *run) error {
	if r.stopped {
		return errFinishedElsewhere
	}

	err := e.save(ctx, r.record)
	if err == nil || !errors.Is(err, persistence.ErrVersionConflict) {
		return err
	}

	stored, loadErr := e.executions.GetByID(context.WithoutCancel(ctx), r.record.ID)
	if loadErr != nil || !stored.Status.IsTerminal() {
		return err
	}

	*r.record = *stored
	r.stopped = true

	e.logger.InfoContext(ctx, "Execution was finished by another process",
		"execution_id", stored.ID, "workflow_id", stored.WorkflowID, "status", stored.Status)

	return errFinishedElsewhere
}

func (e *Engine) publishLifecycle(ctx context.Context, eventType events.EventType, record *models.ExecutionRecord) {
	if err := e.publisher.Publish(ctx, record.ID, events.NewExecutionLifecycle(eventType, record)); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution event",
			"execution_id", record.ID, "event_type", eventType, "error", err)
	}
}

// mergeMaps returns base overlaid with overlay; neither argument is modified.
func mergeMaps(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	maps.Copy(merged, base)
	maps.Copy(merged, overlay)

	return merged
}
