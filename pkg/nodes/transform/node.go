// Package transform provides data transformation node implementation for workflow graph execution.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowcore/pkg/template"
)

// TransformNode renders a template into a new value.
type TransformNode struct {
	id         string
	expression string
}

// NewTransformNode creates a new data transformation node.
func NewTransformNode(id string, config map[string]any) (*TransformNode, error) {
	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	return &TransformNode{
		id:         id,
		expression: expression,
	}, nil
}

// ID returns the node ID.
func (n *TransformNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *TransformNode) Type() string {
	return "transform"
}

// Execute performs data transformation using Go templates.
func (n *TransformNode) Execute(_ context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	result, err := template.RenderWithContext(n.expression, input, executionContext)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	output := map[string]any{"result": result}

	// Object results are also spread into the output so successors can read them directly.
	if fields, ok := result.(map[string]any); ok {
		for key, value := range fields {
			if _, reserved := output[key]; !reserved {
				output[key] = value
			}
		}
	}

	return output, nil
}
