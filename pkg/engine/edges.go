package engine

import (
	"fmt"

	"github.com/dukex/flowcore/pkg/models"
)

// FallbackPolicy picks the successor when no conditional edge matches.
type FallbackPolicy string

const (
	// FallbackFirstUnlabeled follows the first edge without label or expression.
	FallbackFirstUnlabeled FallbackPolicy = "first_unlabeled"
	// FallbackFirstEdge follows the first outgoing edge.
	FallbackFirstEdge FallbackPolicy = "first_edge"
	// FallbackNone ends the execution.
	FallbackNone FallbackPolicy = "none"
)

// ParseFallbackPolicy validates a policy name. Empty selects the default.
func ParseFallbackPolicy(name string) (FallbackPolicy, error) {
	switch policy := FallbackPolicy(name); policy {
	case "":
		return FallbackFirstUnlabeled, nil
	case FallbackFirstUnlabeled, FallbackFirstEdge, FallbackNone:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", name)
	}
}

// branchOf returns the branch label a node announced in its output.
func branchOf(output map[string]any) (string, bool) {
	value, ok := output[models.OutputKeyBranch]
	if !ok || value == nil {
		return "", false
	}

	if s, ok := value.(string); ok {
		return s, true
	}

	return fmt.Sprint(value), true
}

// selectEdge picks the single successor edge of node. Edges to nodes that
// already ran are ignored, which ends bounded loops.
func (e *Engine) selectEdge(r *run, node *models.GraphNode, output, input map[string]any) (*models.GraphEdge, error) {
	edges := make([]*models.GraphEdge, 0)

	for _, edge := range r.graph.OutgoingEdges(node.ID) {
		if !r.hasVisited(edge.TargetNodeID) {
			edges = append(edges, edge)
		}
	}

	if len(edges) == 0 {
		return nil, nil
	}

	hasConditional := false

	for _, edge := range edges {
		if edge.IsConditional() {
			hasConditional = true

			break
		}
	}

	if !hasConditional {
		return edges[0], nil
	}

	branch, hasBranch := branchOf(output)
	env := map[string]any{
		"output":  output,
		"input":   input,
		"context": r.contextSnapshot(),
	}

	for _, edge := range edges {
		if !edge.IsConditional() {
			continue
		}

		if edge.BranchLabel != "" && hasBranch && edge.BranchLabel == branch {
			return edge, nil
		}

		if edge.ConditionExpr != "" {
			matched, err := e.evaluator.EvaluateBool(edge.ConditionExpr, env)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate condition on edge %s: %w", edge.ID, err)
			}

			if matched {
				return edge, nil
			}
		}
	}

	switch e.config.Fallback {
	case FallbackFirstEdge:
		return edges[0], nil
	case FallbackNone:
		return nil, nil
	default:
		for _, edge := range edges {
			if !edge.IsLabelled() {
				return edge, nil
			}
		}

		return nil, nil
	}
}

// resumeEdge picks the edge leaving an approval node for the given result.
// With no labelled edge at all the first edge is taken.
func resumeEdge(graph *models.WorkflowGraph, nodeID string, result models.ApprovalResult) *models.GraphEdge {
	edges := graph.OutgoingEdges(nodeID)
	labelled := false

	for _, edge := range edges {
		if edge.BranchLabel == string(result) {
			return edge
		}

		if edge.BranchLabel != "" {
			labelled = true
		}
	}

	if !labelled && len(edges) > 0 {
		return edges[0]
	}

	return nil
}
