package main

import (
	"context"
	"log/slog"
	"time"
)

type approvalExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// sweepApprovals resolves expired approval requests every interval until ctx ends.
func sweepApprovals(ctx context.Context, logger *slog.Logger, approvals approvalExpirer, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultApprovalSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		expired, err := approvals.ExpireStale(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to expire approval requests", "error", err)
		} else if expired > 0 {
			logger.InfoContext(ctx, "Expired approval requests", "count", expired)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
