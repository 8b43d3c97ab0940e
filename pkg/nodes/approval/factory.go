package approval

import (
	"context"

	"github.com/dukex/flowcore/pkg/protocol"
)

// ApprovalNodeFactory creates ApprovalNode instances.
type ApprovalNodeFactory struct{}

// Create creates a new ApprovalNode instance.
func (f *ApprovalNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewApprovalNode(id, config)
}

// ID returns the factory ID.
func (f *ApprovalNodeFactory) ID() string {
	return "approval"
}

// Name returns the factory name.
func (f *ApprovalNodeFactory) Name() string {
	return "Approval"
}

// Description returns the factory description.
func (f *ApprovalNodeFactory) Description() string {
	return "Pauses the execution until the listed approvers approve or reject it"
}

// Schema returns the JSON schema for Approval node configuration.
func (f *ApprovalNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Title shown to approvers. Supports templating.",
			},
			"approvers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "User ids that must all approve. Empty means any user may resolve.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Seconds before a pending request expires and resolves as rejected",
			},
		},
	}
}

// NewApprovalNodeFactory creates a new factory instance.
func NewApprovalNodeFactory() protocol.NodeFactory {
	return &ApprovalNodeFactory{}
}
