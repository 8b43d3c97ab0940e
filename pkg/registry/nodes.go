// Package registry provides node factory registration for the registry system.
package registry

import (
	"github.com/dukex/flowcore/pkg/nodes/approval"
	"github.com/dukex/flowcore/pkg/nodes/conditional"
	"github.com/dukex/flowcore/pkg/nodes/httprequest"
	"github.com/dukex/flowcore/pkg/nodes/log"
	"github.com/dukex/flowcore/pkg/nodes/loop"
	switchnode "github.com/dukex/flowcore/pkg/nodes/switch"
	"github.com/dukex/flowcore/pkg/nodes/transform"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes() {
	r.RegisterNode(httprequest.NewHTTPRequestNodeFactory())
	r.RegisterNode(transform.NewTransformNodeFactory())
	r.RegisterNode(log.NewLogNodeFactory(r.logger))
	r.RegisterNode(conditional.NewConditionalNodeFactory())
	r.RegisterNode(switchnode.NewSwitchNodeFactory())
	r.RegisterNode(approval.NewApprovalNodeFactory())
	r.RegisterNode(loop.NewLoopNodeFactory())
}
