// Package conditional provides conditional branching node factory for registry integration.
package conditional

import (
	"context"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/protocol"
)

// ConditionalNodeFactory creates ConditionalNode instances sharing one compiled expression cache.
type ConditionalNodeFactory struct {
	evaluator *expression.Evaluator
}

// Create creates a new ConditionalNode instance.
func (f *ConditionalNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewConditionalNode(id, config, f.evaluator)
}

// ID returns the factory ID.
func (f *ConditionalNodeFactory) ID() string {
	return "conditional"
}

// Name returns the factory name.
func (f *ConditionalNodeFactory) Name() string {
	return "Conditional"
}

// Description returns the factory description.
func (f *ConditionalNodeFactory) Description() string {
	return "Evaluates a condition and routes execution to the true or false branch."
}

// Schema returns the JSON schema for Conditional node configuration.
func (f *ConditionalNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression evaluated against input and context.",
				"examples": []string{
					`input.status == "active"`,
					`input.amount > 100 && context.region == "eu"`,
				},
			},
		},
		"required": []string{"condition"},
	}
}

// NewConditionalNodeFactory creates a new factory instance.
func NewConditionalNodeFactory() protocol.NodeFactory {
	return &ConditionalNodeFactory{evaluator: expression.NewEvaluator()}
}
