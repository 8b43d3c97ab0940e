// Package switchnode provides switch node factory for registry integration.
package switchnode

import (
	"context"

	"github.com/dukex/flowcore/pkg/expression"
	"github.com/dukex/flowcore/pkg/protocol"
)

// SwitchNodeFactory creates SwitchNode instances.
type SwitchNodeFactory struct {
	evaluator *expression.Evaluator
}

// Create creates a new SwitchNode instance.
func (f *SwitchNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewSwitchNode(id, config, f.evaluator)
}

// ID returns the factory ID.
func (f *SwitchNodeFactory) ID() string {
	return "switch"
}

// Name returns the factory name.
func (f *SwitchNodeFactory) Name() string {
	return "Switch"
}

// Description returns the factory description.
func (f *SwitchNodeFactory) Description() string {
	return "Multi-way branching node that routes execution to the edge labelled with the matching case"
}

// Schema returns the JSON schema for Switch node configuration.
func (f *SwitchNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type":        "string",
				"description": "Expression evaluated against input and context.",
				"examples":    []string{`input.event_type`, `context.environment`},
			},
			"cases": map[string]any{
				"type":        "array",
				"description": "Case objects mapping a value to a branch label",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value": map[string]any{
							"description": "Value to match against the evaluated expression",
						},
						"branch": map[string]any{
							"type":        "string",
							"description": "Branch label announced when this value matches; defaults to the value",
						},
					},
					"required": []string{"value"},
				},
			},
		},
		"required": []string{"value"},
	}
}

// NewSwitchNodeFactory creates a new factory instance.
func NewSwitchNodeFactory() protocol.NodeFactory {
	return &SwitchNodeFactory{evaluator: expression.NewEvaluator()}
}
