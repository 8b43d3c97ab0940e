package switchnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
)

func newTestSwitch(t *testing.T) *SwitchNode {
	t.Helper()

	node, err := NewSwitchNode("route", map[string]any{
		"value": "input.env",
		"cases": []any{
			map[string]any{"value": "prod", "branch": "production"},
			map[string]any{"value": "staging"},
			map[string]any{"value": 3},
		},
	}, nil)
	require.NoError(t, err)

	return node
}

func TestSwitchNode_Execute(t *testing.T) {
	node := newTestSwitch(t)

	tests := []struct {
		input  map[string]any
		branch string
	}{
		{map[string]any{"env": "prod"}, "production"},
		{map[string]any{"env": "staging"}, "staging"},
		{map[string]any{"env": 3}, "3"},
		{map[string]any{"env": "dev"}, BranchDefault},
	}

	for _, tt := range tests {
		output, err := node.Execute(context.Background(), tt.input, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.branch, output[models.OutputKeyBranch])
	}
}

func TestSwitchNode_DefaultMarksNoMatch(t *testing.T) {
	output, err := newTestSwitch(t).Execute(context.Background(), map[string]any{"env": "qa"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, output["no_match"])
	assert.Equal(t, "qa", output["matched_value"])
}

func TestNewSwitchNode_InvalidConfig(t *testing.T) {
	_, err := NewSwitchNode("route", map[string]any{}, nil)
	assert.Error(t, err)

	_, err = NewSwitchNode("route", map[string]any{"value": "input.a", "cases": []any{"bad"}}, nil)
	assert.ErrorContains(t, err, "case 0 must be an object")

	_, err = NewSwitchNode("route", map[string]any{"value": "input.a", "cases": []any{map[string]any{"branch": "x"}}}, nil)
	assert.ErrorContains(t, err, "missing 'value'")
}
