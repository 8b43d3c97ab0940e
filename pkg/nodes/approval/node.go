// Package approval provides the human approval node. The engine pauses the
// execution after this node runs and resumes it once the request is resolved.
package approval

import (
	"context"
	"fmt"

	"github.com/dukex/flowcore/pkg/template"
)

// Output keys read by the approval service when it creates the request.
const (
	OutputKeyApprovers      = "approvers"
	OutputKeyTitle          = "title"
	OutputKeyTimeoutSeconds = "timeout_seconds"
)

// ApprovalNode describes who must approve and for how long the request stays open.
type ApprovalNode struct {
	id             string
	title          string
	approvers      []string
	timeoutSeconds int
}

// NewApprovalNode creates a new approval node.
func NewApprovalNode(id string, config map[string]any) (*ApprovalNode, error) {
	node := &ApprovalNode{id: id}

	node.title, _ = config["title"].(string)

	switch approvers := config["approvers"].(type) {
	case nil:
	case []string:
		node.approvers = approvers
	case []any:
		for i, approver := range approvers {
			s, ok := approver.(string)
			if !ok {
				return nil, fmt.Errorf("approver %d must be a string", i)
			}

			node.approvers = append(node.approvers, s)
		}
	default:
		return nil, fmt.Errorf("approvers must be a list, got %T", approvers)
	}

	switch timeout := config["timeout_seconds"].(type) {
	case nil:
	case int:
		node.timeoutSeconds = timeout
	case float64:
		node.timeoutSeconds = int(timeout)
	default:
		return nil, fmt.Errorf("timeout_seconds must be a number, got %T", timeout)
	}

	return node, nil
}

// ID returns the node ID.
func (n *ApprovalNode) ID() string {
	return n.id
}

// Type returns the node type.
func (n *ApprovalNode) Type() string {
	return "approval"
}

// Execute renders the request title and returns the approval descriptor.
func (n *ApprovalNode) Execute(_ context.Context, input map[string]any, executionContext map[string]any) (map[string]any, error) {
	title, err := template.RenderString(n.title, input, executionContext)
	if err != nil {
		return nil, fmt.Errorf("failed to render approval title: %w", err)
	}

	approvers := make([]any, 0, len(n.approvers))
	for _, approver := range n.approvers {
		approvers = append(approvers, approver)
	}

	return map[string]any{
		OutputKeyTitle:          title,
		OutputKeyApprovers:      approvers,
		OutputKeyTimeoutSeconds: n.timeoutSeconds,
	}, nil
}
