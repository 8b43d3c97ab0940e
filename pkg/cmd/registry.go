// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/flowcore/pkg/registry"
)

// NewRegistry creates a registry with the built-in node types. A positive
// nodeTimeout bounds nodes that declare no timeout of their own.
func NewRegistry(log *slog.Logger, nodeTimeout time.Duration) *registry.Registry {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultNodes()

	if nodeTimeout > 0 {
		reg.SetDefaultTimeout(nodeTimeout)
	}

	return reg
}
