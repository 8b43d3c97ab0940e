package engine

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/dukex/flowcore/pkg/models"
)

// fanOutEdges returns the unconditional edges of node whose targets depend
// only on node, when parallel fan-out is enabled and at least two qualify.
// The targets must also converge: either all of them end the graph or each
// has a single unconditional edge into the same successor. Otherwise nil is
// returned and traversal stays sequential.
func (e *Engine) fanOutEdges(r *run, node *models.GraphNode) []*models.GraphEdge {
	if !e.config.ParallelFanOut {
		return nil
	}

	var siblings []*models.GraphEdge

	for _, edge := range r.graph.OutgoingEdges(node.ID) {
		if edge.IsConditional() {
			return nil
		}

		if r.hasVisited(edge.TargetNodeID) {
			continue
		}

		target, ok := r.graph.Node(edge.TargetNodeID)
		if !ok || target.Type == models.NodeTypeApproval || target.Type == models.NodeTypeLoop {
			return nil
		}

		if !dependsOnlyOn(r.graph, target.ID, node.ID) {
			return nil
		}

		siblings = append(siblings, edge)
	}

	if len(siblings) < 2 || !converge(r.graph, siblings) {
		return nil
	}

	return siblings
}

func converge(graph *models.WorkflowGraph, siblings []*models.GraphEdge) bool {
	successor := ""

	for i, sibling := range siblings {
		outgoing := graph.OutgoingEdges(sibling.TargetNodeID)
		if len(outgoing) > 1 || (len(outgoing) == 1 && outgoing[0].IsConditional()) {
			return false
		}

		next := ""
		if len(outgoing) == 1 {
			next = outgoing[0].TargetNodeID
		}

		if i > 0 && next != successor {
			return false
		}

		successor = next
	}

	return true
}

func dependsOnlyOn(graph *models.WorkflowGraph, nodeID, sourceID string) bool {
	for _, edge := range graph.IncomingEdges(nodeID) {
		if edge.SourceNodeID != sourceID {
			return false
		}
	}

	return true
}

// fanOut runs the sibling targets concurrently and waits for all of them.
// The joined output merges sibling outputs in edge order. next is the edge
// into the shared successor.
func (e *Engine) fanOut(ctx context.Context, r *run, edges []*models.GraphEdge, input map[string]any) (*models.GraphEdge, map[string]any, error) {
	nodes := make([]*models.GraphNode, len(edges))
	outputs := make([]map[string]any, len(edges))
	nodeErrs := make([]error, len(edges))

	for i, edge := range edges {
		nodes[i], _ = r.graph.Node(edge.TargetNodeID)
		r.visit(nodes[i].ID)
	}

	var group errgroup.Group

	for i, node := range nodes {
		group.Go(func() error {
			output, nodeErr, err := e.runNode(ctx, r, node, input, models.NodeStatusCompleted)
			outputs[i], nodeErrs[i] = output, nodeErr

			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	joined := map[string]any{}

	for i, node := range nodes {
		if nodeErrs[i] == nil {
			maps.Copy(joined, outputs[i])

			continue
		}

		if ctx.Err() != nil {
			return nil, nil, e.cancelRun(ctx, r)
		}

		if !node.ContinueOnError {
			return nil, nil, e.fail(ctx, r, node, nodeErrs[i])
		}

		outputs[i] = map[string]any{"error": nodeErrs[i].Error()}
	}

	next, err := e.selectEdge(r, nodes[0], outputs[0], input)
	if err != nil {
		return nil, nil, e.fail(ctx, r, nodes[0], err)
	}

	return next, joined, nil
}
