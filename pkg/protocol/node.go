// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/flowcore/pkg/models"
)

// Node is a configured node instance ready to execute.
type Node interface {
	ID() string
	Type() string

	// Execute runs the node against the merged input and the execution
	// context. The returned map becomes the node output; a "branch" key
	// selects the labelled edge to follow.
	Execute(ctx context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error)
}

// NodeFactory creates node instances and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a new node instance with the given configuration
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the unique identifier for this node type
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node. Keys listed
	// under "required" are enforced by graph validation.
	Schema() map[string]any
}

// BoundedIteration is implemented by factories whose nodes iterate a bounded
// number of times. Such nodes may close a loop in the graph.
type BoundedIteration interface {
	BoundedIteration() bool
}

// NodeRunner executes a graph node. Implementations enforce the node timeout.
type NodeRunner interface {
	Run(ctx context.Context, node *models.GraphNode, input map[string]any, executionContext map[string]any) (map[string]any, error)
}
