package loop

import (
	"context"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/protocol"
)

// LoopNodeFactory creates LoopNode instances.
type LoopNodeFactory struct {
	evaluator *expression.Evaluator
}

// Create creates a new LoopNode instance.
func (f *LoopNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewLoopNode(id, config, f.evaluator)
}

// ID returns the factory ID.
func (f *LoopNodeFactory) ID() string {
	return "loop"
}

// Name returns the factory name.
func (f *LoopNodeFactory) Name() string {
	return "Loop"
}

// Description returns the factory description.
func (f *LoopNodeFactory) Description() string {
	return "Iterates over a list a bounded number of times, rendering a body template per item"
}

// BoundedIteration marks loop nodes as allowed to close a cycle in the graph.
func (f *LoopNodeFactory) BoundedIteration() bool {
	return true
}

// Schema returns the JSON schema for Loop node configuration.
func (f *LoopNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        "string",
				"description": "Expression producing the list to iterate",
				"examples":    []string{"input.orders", "context.batch"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Template rendered per item with .item, .index, .input and .context",
			},
			"max_iterations": map[string]any{
				"type":    "number",
				"default": DefaultMaxIterations,
				"minimum": 1,
			},
		},
		"required": []string{"items"},
	}
}

// NewLoopNodeFactory creates a new factory instance.
func NewLoopNodeFactory() protocol.NodeFactory {
	return &LoopNodeFactory{evaluator: expression.NewEvaluator()}
}
