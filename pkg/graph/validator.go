// Package graph validates the structure of workflow graphs before they are
// saved or executed.
package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/flowcore/pkg/models"
)

// Issue codes.
const (
	CodeEmptyGraph            = "empty_graph"
	CodeEmptyNodeID           = "empty_node_id"
	CodeDuplicateNode         = "duplicate_node"
	CodeUnknownNodeType       = "unknown_node_type"
	CodeMissingEntryPoint     = "missing_entry_point"
	CodeUnknownEntryPoint     = "unknown_entry_point"
	CodeDanglingEdge          = "dangling_edge"
	CodeSelfLoop              = "self_loop"
	CodeUnlabeledConditional  = "unlabeled_conditional_edge"
	CodeCycleDetected         = "cycle_detected"
	CodeNoStartNode           = "no_start_node"
	CodeMultipleStartNodes    = "multiple_start_nodes"
	CodeNoEndNode             = "no_end_node"
	CodeDisconnectedNode      = "disconnected_node"
	CodeMissingRequiredConfig = "missing_required_config"
)

// Issue is a single validation finding.
type Issue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	NodeID  string   `json:"node_id,omitempty"`
	EdgeID  string   `json:"edge_id,omitempty"`
	Path    []string `json:"path,omitempty"`
}

// Result is the outcome of validating a graph. Warnings never make a graph invalid.
type Result struct {
	GraphID  string  `json:"graph_id,omitempty"`
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Err returns a *ValidationError when the result is invalid, nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}

	return &ValidationError{GraphID: r.GraphID, Issues: r.Errors}
}

// RequirementsProvider describes node types to the validator.
type RequirementsProvider interface {
	HasType(nodeType string) bool
	RequiredConfig(nodeType string) []string
	IsBoundedIteration(nodeType string) bool
}

// Validator checks graph structure. It holds no state between calls.
type Validator struct {
	requirements RequirementsProvider
}

// NewValidator creates a Validator. A nil provider skips node type checks.
func NewValidator(requirements RequirementsProvider) *Validator {
	return &Validator{requirements: requirements}
}

type validation struct {
	graph    *models.WorkflowGraph
	nodes    map[string]*models.GraphNode
	result   Result
	provider RequirementsProvider
}

// Validate runs every structural check against the graph. Nodes and edges are
// scanned in declaration order so repeated calls return identical results.
func (v *Validator) Validate(graph *models.WorkflowGraph) Result {
	run := &validation{
		graph:    graph,
		nodes:    make(map[string]*models.GraphNode),
		provider: v.requirements,
		result:   Result{Errors: []Issue{}, Warnings: []Issue{}},
	}

	if graph != nil {
		run.result.GraphID = graph.ID
	}

	if graph == nil || len(graph.Nodes) == 0 {
		run.addError(Issue{Code: CodeEmptyGraph, Message: "graph has no nodes"})

		return run.finish()
	}

	run.checkNodes()
	edges := run.checkEdges()
	run.checkEntryPoint()
	run.checkCycles(edges)
	run.checkStartAndEnd(edges)
	run.checkConnectivity(edges)

	return run.finish()
}

func (r *validation) finish() Result {
	r.result.Valid = len(r.result.Errors) == 0

	return r.result
}

func (r *validation) addError(issue Issue) {
	r.result.Errors = append(r.result.Errors, issue)
}

func (r *validation) addWarning(issue Issue) {
	r.result.Warnings = append(r.result.Warnings, issue)
}

func (r *validation) displayName(nodeID string) string {
	if node, ok := r.nodes[nodeID]; ok {
		return node.DisplayName()
	}

	return nodeID
}

func (r *validation) boundedIteration(nodeID string) bool {
	if r.provider == nil {
		return nodeID != "" && r.nodes[nodeID] != nil && r.nodes[nodeID].Type == models.NodeTypeLoop
	}

	node, ok := r.nodes[nodeID]

	return ok && r.provider.IsBoundedIteration(node.Type)
}

func (r *validation) checkNodes() {
	for index, node := range r.graph.Nodes {
		if node == nil || node.ID == "" {
			r.addError(Issue{Code: CodeEmptyNodeID, Message: fmt.Sprintf("node at position %d has no id", index)})

			continue
		}

		if _, exists := r.nodes[node.ID]; exists {
			r.addError(Issue{
				Code:    CodeDuplicateNode,
				Message: fmt.Sprintf("duplicate node id %q", node.ID),
				NodeID:  node.ID,
			})

			continue
		}

		r.nodes[node.ID] = node

		if r.provider == nil {
			continue
		}

		if !r.provider.HasType(node.Type) {
			r.addError(Issue{
				Code:    CodeUnknownNodeType,
				Message: fmt.Sprintf("node %q has unknown type %q", node.DisplayName(), node.Type),
				NodeID:  node.ID,
			})

			continue
		}

		for _, key := range r.provider.RequiredConfig(node.Type) {
			if isEmptyConfigValue(node.Config[key]) {
				r.addError(Issue{
					Code:    CodeMissingRequiredConfig,
					Message: fmt.Sprintf("node %q is missing required config %q", node.DisplayName(), key),
					NodeID:  node.ID,
				})
			}
		}
	}
}

// checkEdges reports malformed edges and returns the ones usable for graph traversal.
func (r *validation) checkEdges() []*models.GraphEdge {
	valid := make([]*models.GraphEdge, 0, len(r.graph.Edges))

	for _, edge := range r.graph.Edges {
		if edge == nil {
			continue
		}

		_, sourceOK := r.nodes[edge.SourceNodeID]
		_, targetOK := r.nodes[edge.TargetNodeID]

		if !sourceOK || !targetOK {
			r.addError(Issue{
				Code:    CodeDanglingEdge,
				Message: fmt.Sprintf("edge %q references unknown node (%q -> %q)", edge.ID, edge.SourceNodeID, edge.TargetNodeID),
				EdgeID:  edge.ID,
			})

			continue
		}

		if edge.SourceNodeID == edge.TargetNodeID {
			r.addError(Issue{
				Code:    CodeSelfLoop,
				Message: fmt.Sprintf("edge %q connects node %q to itself", edge.ID, r.displayName(edge.SourceNodeID)),
				EdgeID:  edge.ID,
				NodeID:  edge.SourceNodeID,
			})

			continue
		}

		if edge.IsConditional() && !edge.IsLabelled() {
			r.addError(Issue{
				Code:    CodeUnlabeledConditional,
				Message: fmt.Sprintf("conditional edge %q has neither a branch label nor a condition", edge.ID),
				EdgeID:  edge.ID,
			})
		}

		valid = append(valid, edge)
	}

	return valid
}

func (r *validation) checkEntryPoint() {
	if r.graph.EntryPoint == "" {
		r.addError(Issue{Code: CodeMissingEntryPoint, Message: "graph has no entry point"})

		return
	}

	if _, ok := r.nodes[r.graph.EntryPoint]; !ok {
		r.addError(Issue{
			Code:    CodeUnknownEntryPoint,
			Message: fmt.Sprintf("entry point %q is not a node of the graph", r.graph.EntryPoint),
			NodeID:  r.graph.EntryPoint,
		})
	}
}

// checkCycles runs a depth first search with a recursion stack and reports
// the first cycle found. Edges touching bounded-iteration nodes are ignored.
func (r *validation) checkCycles(edges []*models.GraphEdge) {
	adjacency := make(map[string][]string)

	for _, edge := range edges {
		if r.boundedIteration(edge.SourceNodeID) || r.boundedIteration(edge.TargetNodeID) {
			continue
		}

		adjacency[edge.SourceNodeID] = append(adjacency[edge.SourceNodeID], edge.TargetNodeID)
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	stack := make([]string, 0, len(r.nodes))

	var cycle []string

	var visit func(nodeID string) bool
	visit = func(nodeID string) bool {
		visited[nodeID] = true
		onStack[nodeID] = true
		stack = append(stack, nodeID)

		for _, next := range adjacency[nodeID] {
			if onStack[next] {
				for i, id := range stack {
					if id == next {
						cycle = append(append([]string{}, stack[i:]...), next)

						break
					}
				}

				return true
			}

			if !visited[next] && visit(next) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onStack[nodeID] = false

		return false
	}

	for _, node := range r.graph.Nodes {
		if node == nil || r.nodes[node.ID] != node || visited[node.ID] {
			continue
		}

		if visit(node.ID) {
			names := make([]string, len(cycle))
			for i, id := range cycle {
				names[i] = r.displayName(id)
			}

			r.addError(Issue{
				Code:    CodeCycleDetected,
				Message: "cycle detected: " + strings.Join(names, " -> "),
				NodeID:  cycle[0],
				Path:    names,
			})

			return
		}
	}
}

func (r *validation) checkStartAndEnd(edges []*models.GraphEdge) {
	incoming := make(map[string]int)
	outgoing := make(map[string]int)

	for _, edge := range edges {
		incoming[edge.TargetNodeID]++
		outgoing[edge.SourceNodeID]++
	}

	var starts []string

	hasEnd := false

	for _, node := range r.graph.Nodes {
		if node == nil || r.nodes[node.ID] != node {
			continue
		}

		if incoming[node.ID] == 0 {
			starts = append(starts, node.DisplayName())
		}

		if outgoing[node.ID] == 0 {
			hasEnd = true
		}
	}

	switch {
	case len(starts) == 0:
		r.addError(Issue{Code: CodeNoStartNode, Message: "graph has no start node (every node has incoming edges)"})
	case len(starts) > 1:
		r.addWarning(Issue{
			Code:    CodeMultipleStartNodes,
			Message: "graph has multiple start nodes: " + strings.Join(starts, ", "),
			Path:    starts,
		})
	}

	if !hasEnd {
		r.addWarning(Issue{Code: CodeNoEndNode, Message: "graph has no end node (every node has outgoing edges)"})
	}
}

// checkConnectivity warns about nodes outside the undirected component of the entry point.
func (r *validation) checkConnectivity(edges []*models.GraphEdge) {
	root := r.graph.EntryPoint
	if _, ok := r.nodes[root]; !ok {
		return
	}

	neighbours := make(map[string][]string)
	for _, edge := range edges {
		neighbours[edge.SourceNodeID] = append(neighbours[edge.SourceNodeID], edge.TargetNodeID)
		neighbours[edge.TargetNodeID] = append(neighbours[edge.TargetNodeID], edge.SourceNodeID)
	}

	reachable := map[string]bool{root: true}
	queue := []string{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range neighbours[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, node := range r.graph.Nodes {
		if node == nil || r.nodes[node.ID] != node || reachable[node.ID] {
			continue
		}

		r.addWarning(Issue{
			Code:    CodeDisconnectedNode,
			Message: fmt.Sprintf("node %q is not connected to the entry point", node.DisplayName()),
			NodeID:  node.ID,
		})
	}
}

func isEmptyConfigValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}
