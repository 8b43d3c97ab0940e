// Package loop provides a bounded iteration node. It runs its body template
// once per item and counts as a single node in the graph.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/template"
)

// DefaultMaxIterations caps loops that do not set max_iterations.
const DefaultMaxIterations = 100

// LoopNode iterates over the list produced by an expression.
type LoopNode struct {
	id            string
	items         string
	body          string
	maxIterations int
	evaluator     *expression.Evaluator
}

// NewLoopNode creates a new loop node.
func NewLoopNode(id string, config map[string]any, evaluator *expression.Evaluator) (*LoopNode, error) {
	items, ok := config["items"].(string)
	if !ok || items == "" {
		return nil, errors.New("missing required field 'items'")
	}

	node := &LoopNode{
		id:            id,
		items:         items,
		maxIterations: DefaultMaxIterations,
		evaluator:     evaluator,
	}

	node.body, _ = config["body"].(string)

	switch limit := config["max_iterations"].(type) {
	case nil:
	case int:
		node.maxIterations = limit
	case float64:
		node.maxIterations = int(limit)
	default:
		return nil, fmt.Errorf("max_iterations must be a number, got %T", limit)
	}

	if node.maxIterations < 1 {
		return nil, errors.New("max_iterations must be positive")
	}

	if node.evaluator == nil {
		node.evaluator = expression.NewEvaluator()
	}

	if err := node.evaluator.Compile(items); err != nil {
		return nil, err
	}

	return node, nil
}

// ID returns the node ID.
func (n *LoopNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *LoopNode) Type() string {
	return "loop"
}

// Execute renders the body for each item, stopping at max_iterations or when ctx is done.
func (n *LoopNode) Execute(ctx context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	value, err := n.evaluator.Evaluate(n.items, map[string]any{
		"input":   input,
		"context": executionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("items evaluation failed: %w", err)
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("items expression must produce a list, got %T", value)
	}

	results := make([]any, 0, min(len(items), n.maxIterations))

	for index, item := range items {
		if index >= n.maxIterations {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if n.body == "" {
			results = append(results, item)

			continue
		}

		rendered, err := template.Render(n.body, map[string]any{
			"item":    item,
			"index":   index,
			"input":   input,
			"context": executionContext,
		})
		if err != nil {
			return nil, fmt.Errorf("iteration %d failed: %w", index, err)
		}

		results = append(results, rendered)
	}

	return map[string]any{
		"items":      results,
		"iterations": len(results),
		"truncated":  len(items) > len(results),
	}, nil
}
