// Package registry resolves node types to their factories and runs graph nodes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/protocol"
)

// DefaultNodeTimeout bounds a node run when the node does not set timeout_seconds.
const DefaultNodeTimeout = 300 * time.Second

// ErrNodeTypeNotRegistered is returned when a graph node names an unknown type.
var ErrNodeTypeNotRegistered = errors.New("node type not registered")

// TimeoutError reports a node that did not finish within its timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

type Registry struct {
	logger         *slog.Logger
	mu             sync.RWMutex
	nodeFactories  map[string]protocol.NodeFactory
	defaultTimeout time.Duration
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:         log.With("module", "registry"),
		nodeFactories:  make(map[string]protocol.NodeFactory),
		defaultTimeout: DefaultNodeTimeout,
	}
}

// SetDefaultTimeout changes the timeout used for nodes without timeout_seconds.
func (r *Registry) SetDefaultTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultTimeout = timeout
}

func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodeFactories[factory.ID()] = factory
}

func (r *Registry) GetNodeFactory(nodeType string) (protocol.NodeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.nodeFactories[nodeType]

	return factory, ok
}

// GetAvailableNodes returns all registered factories ordered by id.
func (r *Registry) GetAvailableNodes() []protocol.NodeFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.NodeFactory, 0, len(r.nodeFactories))
	for _, factory := range r.nodeFactories {
		factories = append(factories, factory)
	}

	slices.SortFunc(factories, func(a, b protocol.NodeFactory) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})

	return factories
}

// HasType reports whether a factory is registered for the node type.
func (r *Registry) HasType(nodeType string) bool {
	_, ok := r.GetNodeFactory(nodeType)

	return ok
}

// RequiredConfig returns the config keys the node type schema marks as required.
func (r *Registry) RequiredConfig(nodeType string) []string {
	factory, ok := r.GetNodeFactory(nodeType)
	if !ok {
		return nil
	}

	switch required := factory.Schema()["required"].(type) {
	case []string:
		return required
	case []any:
		keys := make([]string, 0, len(required))
		for _, key := range required {
			if s, ok := key.(string); ok {
				keys = append(keys, s)
			}
		}

		return keys
	default:
		return nil
	}
}

// IsBoundedIteration reports whether the node type is a bounded loop construct.
func (r *Registry) IsBoundedIteration(nodeType string) bool {
	factory, ok := r.GetNodeFactory(nodeType)
	if !ok {
		return false
	}

	bounded, ok := factory.(protocol.BoundedIteration)

	return ok && bounded.BoundedIteration()
}

// Run creates the node through its factory and executes it under the node
// timeout. A node that ignores cancellation is abandoned once the timeout fires.
func (r *Registry) Run(ctx context.Context, node *models.GraphNode, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	factory, ok := r.GetNodeFactory(node.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeNotRegistered, node.Type)
	}

	timeout := r.timeoutFor(node)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	instance, err := factory.Create(runCtx, node.ID, node.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", node.ID, err)
	}

	type outcome struct {
		output map[string]any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		output, err := instance.Execute(runCtx, input, executionContext)
		done <- outcome{output: output, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{NodeID: node.ID, Timeout: timeout}
		}

		return result.output, result.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.WarnContext(ctx, "node exceeded timeout", "node_id", node.ID, "node_type", node.Type, "timeout", timeout)

		return nil, &TimeoutError{NodeID: node.ID, Timeout: timeout}
	}
}

func (r *Registry) timeoutFor(node *models.GraphNode) time.Duration {
	if node.TimeoutSeconds > 0 {
		return time.Duration(node.TimeoutSeconds) * time.Second
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultTimeout
}
