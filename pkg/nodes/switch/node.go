// Package switchnode provides multi-way switch node implementation for workflow graph execution.
package switchnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/models"
)

// BranchDefault is announced when no case matches.
const BranchDefault = "default"

// SwitchNode routes execution to the edge labelled with the matching case.
type SwitchNode struct {
	id        string
	value     string            // Expression to evaluate
	cases     map[string]string // case_value -> branch label
	evaluator *expression.Evaluator
}

// NewSwitchNode creates a new switch node.
func NewSwitchNode(id string, config map[string]any, evaluator *expression.Evaluator) (*SwitchNode, error) {
	value, ok := config["value"].(string)
	if !ok || value == "" {
		return nil, errors.New("missing required field 'value'")
	}

	cases := make(map[string]string)

	casesConfig, _ := config["cases"].([]any)
	for i, caseAny := range casesConfig {
		caseMap, ok := caseAny.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("case %d must be an object", i)
		}

		caseValue, ok := caseMap["value"]
		if !ok {
			return nil, fmt.Errorf("case %d missing 'value'", i)
		}

		branch, _ := caseMap["branch"].(string)
		if branch == "" {
			branch = fmt.Sprint(caseValue)
		}

		cases[fmt.Sprint(caseValue)] = branch
	}

	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	if err := evaluator.Compile(value); err != nil {
		return nil, err
	}

	return &SwitchNode{
		id:        id,
		value:     value,
		cases:     cases,
		evaluator: evaluator,
	}, nil
}

// ID returns the node ID.
func (n *SwitchNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *SwitchNode) Type() string {
	return "switch"
}

// Execute evaluates the value and announces the matching branch.
func (n *SwitchNode) Execute(_ context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	result, err := n.evaluator.Evaluate(n.value, map[string]any{
		"input":   input,
		"context": executionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("value evaluation failed: %w", err)
	}

	valueStr := fmt.Sprint(result)

	if branch, exists := n.cases[valueStr]; exists {
		return map[string]any{
			models.OutputKeyBranch: branch,
			"matched_value":        valueStr,
		}, nil
	}

	return map[string]any{
		models.OutputKeyBranch: BranchDefault,
		"matched_value":        valueStr,
		"no_match":             true,
	}, nil
}
