// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"sync"

	"github.com/dukex/flowcore/pkg/models"
)

// CreateTestNode creates a test GraphNode with default values that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.GraphNode)) *models.GraphNode {
	node := &models.GraphNode{
		ID:     id,
		Name:   id,
		Type:   "log",
		Config: map[string]any{"message": "test"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Type = nodeType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Name = name
	}
}

// WithContinueOnError lets the execution continue past a failure of the node.
func WithContinueOnError() func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.ContinueOnError = true
	}
}

// Edge creates an unconditional edge.
func Edge(source, target string) *models.GraphEdge {
	return &models.GraphEdge{
		ID:           source + "->" + target,
		SourceNodeID: source,
		TargetNodeID: target,
		Kind:         models.EdgeKindNormal,
	}
}

// BranchEdge creates a conditional edge selected by branch label.
func BranchEdge(source, target, label string) *models.GraphEdge {
	edge := Edge(source, target)
	edge.Kind = models.EdgeKindConditional
	edge.BranchLabel = label

	return edge
}

// ConditionEdge creates a conditional edge selected by expression.
func ConditionEdge(source, target, expression string) *models.GraphEdge {
	edge := Edge(source, target)
	edge.Kind = models.EdgeKindConditional
	edge.ConditionExpr = expression

	return edge
}

// CreateTestGraph creates a graph whose entry point is the first node.
func CreateTestGraph(id string, nodes []*models.GraphNode, edges ...*models.GraphEdge) *models.WorkflowGraph {
	graph := &models.WorkflowGraph{
		ID:      id,
		Version: 1,
		Name:    "Test Graph " + id,
		Nodes:   nodes,
		Edges:   edges,
	}

	if len(nodes) > 0 {
		graph.EntryPoint = nodes[0].ID
	}

	return graph
}

// CreateLinearGraph chains the given node ids with unconditional edges.
func CreateLinearGraph(id string, nodeIDs ...string) *models.WorkflowGraph {
	nodes := make([]*models.GraphNode, 0, len(nodeIDs))
	edges := make([]*models.GraphEdge, 0, len(nodeIDs))

	for i, nodeID := range nodeIDs {
		nodes = append(nodes, CreateTestNode(nodeID))

		if i > 0 {
			edges = append(edges, Edge(nodeIDs[i-1], nodeID))
		}
	}

	return CreateTestGraph(id, nodes, edges...)
}

// RunFunc is the behaviour of a RecordingRunner.
type RunFunc func(ctx context.Context, node *models.GraphNode, input map[string]any) (map[string]any, error)

// RecordingRunner is a NodeRunner that records the order nodes ran in.
type RecordingRunner struct {
	mu    sync.Mutex
	calls []string
	run   RunFunc
}

// NewRecordingRunner creates a runner; a nil fn echoes the node id.
func NewRecordingRunner(fn RunFunc) *RecordingRunner {
	return &RecordingRunner{run: fn}
}

func (r *RecordingRunner) Run(ctx context.Context, node *models.GraphNode, input map[string]any, _ map[string]any) (map[string]any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, node.ID)
	r.mu.Unlock()

	if r.run == nil {
		return map[string]any{"node": node.ID}, nil
	}

	return r.run(ctx, node, input)
}

// Calls returns the ids of the nodes run so far.
func (r *RecordingRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}
