package engine

import (
	"context"

	"github.com/dukex/flowcore/pkg/models"
)

type createdKey struct{}

// WithCreated returns a context under which Start calls fn with a copy of the
// execution record once it is persisted and before any node runs.
func WithCreated(ctx context.Context, fn func(*models.ExecutionRecord)) context.Context {
	return context.WithValue(ctx, createdKey{}, fn)
}

func notifyCreated(ctx context.Context, record *models.ExecutionRecord) {
	if fn, ok := ctx.Value(createdKey{}).(func(*models.ExecutionRecord)); ok && fn != nil {
		fn(record.Clone())
	}
}
