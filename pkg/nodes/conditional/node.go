// Package conditional provides conditional branching node implementation for workflow graph execution.
package conditional

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/models"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// ConditionalNode evaluates an expression and announces the true or false branch.
type ConditionalNode struct {
	id        string
	condition string
	evaluator *expression.Evaluator
}

// NewConditionalNode creates a new conditional branching node.
func NewConditionalNode(id string, config map[string]any, evaluator *expression.Evaluator) (*ConditionalNode, error) {
	condition, ok := config["condition"].(string)
	if !ok || condition == "" {
		return nil, errors.New("missing required field 'condition'")
	}

	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	if err := evaluator.Compile(condition); err != nil {
		return nil, err
	}

	return &ConditionalNode{
		id:        id,
		condition: condition,
		evaluator: evaluator,
	}, nil
}

// ID returns the node ID.
func (n *ConditionalNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *ConditionalNode) Type() string {
	return "conditional"
}

// Execute evaluates the condition against {input, context}.
func (n *ConditionalNode) Execute(_ context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	result, err := n.evaluator.EvaluateBool(n.condition, map[string]any{
		"input":   input,
		"context": executionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	branch := BranchFalse
	if result {
		branch = BranchTrue
	}

	return map[string]any{
		models.OutputKeyBranch: branch,
		"condition_result":     result,
	}, nil
}
