package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalNode_Execute(t *testing.T) {
	node, err := NewApprovalNode("gate", map[string]any{
		"title":           "Refund {{.input.amount}}",
		"approvers":       []any{"alice", "bob"},
		"timeout_seconds": float64(3600),
	})
	require.NoError(t, err)

	output, err := node.Execute(context.Background(), map[string]any{"amount": 120}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Refund 120", output[OutputKeyTitle])
	assert.Equal(t, []any{"alice", "bob"}, output[OutputKeyApprovers])
	assert.Equal(t, 3600, output[OutputKeyTimeoutSeconds])
}

func TestNewApprovalNode_InvalidConfig(t *testing.T) {
	_, err := NewApprovalNode("gate", map[string]any{"approvers": "alice"})
	assert.Error(t, err)

	_, err = NewApprovalNode("gate", map[string]any{"approvers": []any{1}})
	assert.Error(t, err)

	_, err = NewApprovalNode("gate", map[string]any{"timeout_seconds": "soon"})
	assert.Error(t, err)
}
