// Package models defines the core domain models for graph-based workflow execution
package models

// EdgeKind distinguishes unconditional edges from edges guarded by a branch label or expression.
type EdgeKind string

const (
	EdgeKindNormal      EdgeKind = "normal"
	EdgeKindConditional EdgeKind = "conditional"
)

// Well known node types understood by the engine itself.
const (
	NodeTypeApproval = "approval"
	NodeTypeLoop     = "loop"
)

// OutputKeyBranch is the output key a node uses to announce which labelled edge to follow.
const OutputKeyBranch = "branch"

// WorkflowGraph is a directed graph of nodes connected by edges. Nodes and
// edges keep their declaration order, which drives edge selection.
type WorkflowGraph struct {
	ID         string       `json:"id"          yaml:"id"          validate:"required"`
	Version    int          `json:"version"     yaml:"version"`
	Name       string       `json:"name"        yaml:"name"`
	Nodes      []*GraphNode `json:"nodes"       yaml:"nodes"       validate:"dive"`
	Edges      []*GraphEdge `json:"edges"       yaml:"edges"       validate:"dive"`
	EntryPoint string       `json:"entry_point" yaml:"entry_point"`
}

// GraphNode is a single unit of work within a graph.
type GraphNode struct {
	ID              string         `json:"id"                        yaml:"id"`
	Name            string         `json:"name,omitempty"            yaml:"name,omitempty"`
	Type            string         `json:"type"                      yaml:"type"`
	RefID           string         `json:"ref_id,omitempty"          yaml:"ref_id,omitempty"`
	Config          map[string]any `json:"config,omitempty"          yaml:"config,omitempty"`
	ContinueOnError bool           `json:"continue_on_error"         yaml:"continue_on_error"`
	TimeoutSeconds  int            `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// DisplayName returns the node name, falling back to its id.
func (n *GraphNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// GraphEdge connects a source node to a target node.
type GraphEdge struct {
	ID            string   `json:"id"                       yaml:"id"`
	SourceNodeID  string   `json:"source_node_id"           yaml:"source_node_id"`
	TargetNodeID  string   `json:"target_node_id"           yaml:"target_node_id"`
	Kind          EdgeKind `json:"kind,omitempty"           yaml:"kind,omitempty"`
	BranchLabel   string   `json:"branch_label,omitempty"   yaml:"branch_label,omitempty"`
	ConditionExpr string   `json:"condition_expr,omitempty" yaml:"condition_expr,omitempty"`
}

// IsConditional reports whether the edge is guarded.
func (e *GraphEdge) IsConditional() bool {
	return e.Kind == EdgeKindConditional
}

// IsLabelled reports whether the edge carries a branch label or a condition expression.
func (e *GraphEdge) IsLabelled() bool {
	return e.BranchLabel != "" || e.ConditionExpr != ""
}

// Node looks up a node by id.
func (g *WorkflowGraph) Node(id string) (*GraphNode, bool) {
	for _, node := range g.Nodes {
		if node != nil && node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// OutgoingEdges returns the edges leaving the given node, in declaration order.
func (g *WorkflowGraph) OutgoingEdges(nodeID string) []*GraphEdge {
	var edges []*GraphEdge

	for _, edge := range g.Edges {
		if edge != nil && edge.SourceNodeID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering the given node, in declaration order.
func (g *WorkflowGraph) IncomingEdges(nodeID string) []*GraphEdge {
	var edges []*GraphEdge

	for _, edge := range g.Edges {
		if edge != nil && edge.TargetNodeID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
