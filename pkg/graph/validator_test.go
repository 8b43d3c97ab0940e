package graph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dukex/flowcore/pkg/models"
)

type fakeRequirements struct {
	required map[string][]string
	loops    map[string]bool
}

func (f fakeRequirements) HasType(nodeType string) bool {
	_, ok := f.required[nodeType]

	return ok || f.loops[nodeType]
}

func (f fakeRequirements) RequiredConfig(nodeType string) []string {
	return f.required[nodeType]
}

func (f fakeRequirements) IsBoundedIteration(nodeType string) bool {
	return f.loops[nodeType]
}

func node(id string) *models.GraphNode {
	return &models.GraphNode{ID: id, Name: "Node " + id, Type: "log"}
}

func edge(id, from, to string) *models.GraphEdge {
	return &models.GraphEdge{ID: id, SourceNodeID: from, TargetNodeID: to, Kind: models.EdgeKindNormal}
}

func linearGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		ID:         "wf",
		Nodes:      []*models.GraphNode{node("a"), node("b"), node("c")},
		Edges:      []*models.GraphEdge{edge("e1", "a", "b"), edge("e2", "b", "c")},
		EntryPoint: "a",
	}
}

func codes(issues []Issue) []string {
	result := make([]string, 0, len(issues))
	for _, issue := range issues {
		result = append(result, issue.Code)
	}

	return result
}

func TestValidate_ValidLinearGraph(t *testing.T) {
	result := NewValidator(nil).Validate(linearGraph())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.Err())
}

func TestValidate_CycleReportsFullPath(t *testing.T) {
	graph := &models.WorkflowGraph{
		ID:    "wf",
		Nodes: []*models.GraphNode{node("start"), node("a"), node("b"), node("c")},
		Edges: []*models.GraphEdge{
			edge("e0", "start", "a"),
			edge("e1", "a", "b"),
			edge("e2", "b", "c"),
			edge("e3", "c", "a"),
		},
		EntryPoint: "start",
	}

	result := NewValidator(nil).Validate(graph)
	require.False(t, result.Valid)
	require.Equal(t, []string{CodeCycleDetected}, codes(result.Errors))

	issue := result.Errors[0]
	assert.Equal(t, []string{"Node a", "Node b", "Node c", "Node a"}, issue.Path)
	assert.Equal(t, "cycle detected: Node a -> Node b -> Node c -> Node a", issue.Message)

	err := result.Err()
	assert.True(t, errors.Is(err, ErrInvalidGraph))

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "wf", validationErr.GraphID)
}

func TestValidate_StopsAtFirstCycle(t *testing.T) {
	graph := &models.WorkflowGraph{
		ID:    "wf",
		Nodes: []*models.GraphNode{node("s"), node("a"), node("b"), node("c"), node("d")},
		Edges: []*models.GraphEdge{
			edge("e0", "s", "a"),
			edge("e1", "a", "b"),
			edge("e2", "b", "a"),
			edge("e3", "s", "c"),
			edge("e4", "c", "d"),
			edge("e5", "d", "c"),
		},
		EntryPoint: "s",
	}

	result := NewValidator(nil).Validate(graph)
	assert.Equal(t, []string{CodeCycleDetected}, codes(result.Errors))
}

func TestValidate_BoundedIterationIsNotACycle(t *testing.T) {
	requirements := fakeRequirements{
		required: map[string][]string{"log": nil},
		loops:    map[string]bool{"loop": true},
	}

	graph := &models.WorkflowGraph{
		ID: "wf",
		Nodes: []*models.GraphNode{
			node("start"),
			{ID: "each", Type: "loop"},
			node("body"),
		},
		Edges: []*models.GraphEdge{
			edge("e0", "start", "each"),
			edge("e1", "each", "body"),
			edge("e2", "body", "each"),
		},
		EntryPoint: "start",
	}

	result := NewValidator(requirements).Validate(graph)
	assert.NotContains(t, codes(result.Errors), CodeCycleDetected)
}

func TestValidate_DisconnectedNodeWarning(t *testing.T) {
	graph := linearGraph()
	graph.Nodes = append(graph.Nodes, node("island"))

	result := NewValidator(nil).Validate(graph)
	assert.True(t, result.Valid)

	var disconnected []Issue
	for _, warning := range result.Warnings {
		if warning.Code == CodeDisconnectedNode {
			disconnected = append(disconnected, warning)
		}
	}

	require.Len(t, disconnected, 1)
	assert.Equal(t, "island", disconnected[0].NodeID)
	assert.Contains(t, disconnected[0].Message, "Node island")
	assert.Contains(t, codes(result.Warnings), CodeMultipleStartNodes)
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *models.WorkflowGraph)
		code   string
	}{
		{"duplicate node", func(g *models.WorkflowGraph) { g.Nodes = append(g.Nodes, node("a")) }, CodeDuplicateNode},
		{"dangling edge", func(g *models.WorkflowGraph) { g.Edges = append(g.Edges, edge("x", "c", "ghost")) }, CodeDanglingEdge},
		{"self loop", func(g *models.WorkflowGraph) { g.Edges = append(g.Edges, edge("x", "b", "b")) }, CodeSelfLoop},
		{"missing entry point", func(g *models.WorkflowGraph) { g.EntryPoint = "" }, CodeMissingEntryPoint},
		{"unknown entry point", func(g *models.WorkflowGraph) { g.EntryPoint = "nope" }, CodeUnknownEntryPoint},
		{"unlabeled conditional edge", func(g *models.WorkflowGraph) {
			g.Edges = append(g.Edges, &models.GraphEdge{ID: "x", SourceNodeID: "a", TargetNodeID: "c", Kind: models.EdgeKindConditional})
		}, CodeUnlabeledConditional},
		{"empty node id", func(g *models.WorkflowGraph) { g.Nodes = append(g.Nodes, &models.GraphNode{Type: "log"}) }, CodeEmptyNodeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph := linearGraph()
			tt.mutate(graph)

			result := NewValidator(nil).Validate(graph)
			assert.False(t, result.Valid)
			assert.Contains(t, codes(result.Errors), tt.code)
		})
	}
}

func TestValidate_NoStartNode(t *testing.T) {
	graph := &models.WorkflowGraph{
		ID:         "wf",
		Nodes:      []*models.GraphNode{node("a"), node("b")},
		Edges:      []*models.GraphEdge{edge("e1", "a", "b"), edge("e2", "b", "a")},
		EntryPoint: "a",
	}

	result := NewValidator(nil).Validate(graph)
	assert.Contains(t, codes(result.Errors), CodeNoStartNode)
	assert.Contains(t, codes(result.Warnings), CodeNoEndNode)
}

func TestValidate_EmptyGraph(t *testing.T) {
	result := NewValidator(nil).Validate(&models.WorkflowGraph{ID: "wf"})
	assert.Equal(t, []string{CodeEmptyGraph}, codes(result.Errors))

	result = NewValidator(nil).Validate(nil)
	assert.False(t, result.Valid)
}

func TestValidate_RequiredConfigAndTypes(t *testing.T) {
	requirements := fakeRequirements{
		required: map[string][]string{"http_request": {"url", "method"}, "log": nil},
	}

	graph := &models.WorkflowGraph{
		ID: "wf",
		Nodes: []*models.GraphNode{
			{ID: "fetch", Name: "Fetch", Type: "http_request", Config: map[string]any{"url": "https://example.com", "method": "  "}},
			{ID: "odd", Type: "teleport"},
		},
		Edges:      []*models.GraphEdge{edge("e1", "fetch", "odd")},
		EntryPoint: "fetch",
	}

	result := NewValidator(requirements).Validate(graph)
	require.False(t, result.Valid)
	assert.Equal(t, []string{CodeMissingRequiredConfig, CodeUnknownNodeType}, codes(result.Errors))
	assert.Equal(t, "fetch", result.Errors[0].NodeID)
	assert.Contains(t, result.Errors[0].Message, `"method"`)
}

func TestValidate_IsIdempotent(t *testing.T) {
	graph := linearGraph()
	graph.Nodes = append(graph.Nodes, node("x"), node("y"))
	graph.Edges = append(graph.Edges, edge("e3", "x", "y"), edge("e4", "y", "x"))

	validator := NewValidator(nil)
	first := validator.Validate(graph)
	second := validator.Validate(graph)

	assert.Equal(t, first, second)
}

// randomDAG draws a graph whose edges only point from lower to higher node
// index, which is acyclic by construction.
func randomDAG(t *rapid.T, minNodes int) *models.WorkflowGraph {
	count := rapid.IntRange(minNodes, 12).Draw(t, "nodes")
	graph := &models.WorkflowGraph{ID: "wf", EntryPoint: "n0"}

	for i := range count {
		graph.Nodes = append(graph.Nodes, node(fmt.Sprintf("n%d", i)))
	}

	for i := 0; i < count-1; i++ {
		graph.Edges = append(graph.Edges, edge(fmt.Sprintf("chain%d", i), fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1)))
	}

	extra := rapid.IntRange(0, count*2).Draw(t, "extra")
	for i := range extra {
		from := rapid.IntRange(0, count-2).Draw(t, "from")
		to := rapid.IntRange(from+1, count-1).Draw(t, "to")
		graph.Edges = append(graph.Edges, edge(fmt.Sprintf("x%d", i), fmt.Sprintf("n%d", from), fmt.Sprintf("n%d", to)))
	}

	return graph
}

func TestValidate_Property_DAGsHaveNoCycle(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		graph := randomDAG(rt, 2)

		result := NewValidator(nil).Validate(graph)
		if !result.Valid {
			rt.Fatalf("expected valid DAG, got %v", result.Errors)
		}
	})
}

func TestValidate_Property_BackEdgeIsDetected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		graph := randomDAG(rt, 3)
		count := len(graph.Nodes)

		to := rapid.IntRange(1, count-2).Draw(rt, "back_to")
		from := rapid.IntRange(to+1, count-1).Draw(rt, "back_from")

		graph.Edges = append(graph.Edges, edge("back", fmt.Sprintf("n%d", from), fmt.Sprintf("n%d", to)))

		result := NewValidator(nil).Validate(graph)
		cycles := 0

		for _, issue := range result.Errors {
			if issue.Code == CodeCycleDetected {
				cycles++

				if issue.Path[0] != issue.Path[len(issue.Path)-1] {
					rt.Fatalf("cycle path must start and end at the same node: %v", issue.Path)
				}
			}
		}

		if cycles != 1 {
			rt.Fatalf("expected exactly one cycle error, got %v", result.Errors)
		}
	})
}
