// Package main provides the flowcore scheduler, which fires due cron
// schedules and expires stale approval requests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/flowcore/pkg/cmd"
	"github.com/dukex/flowcore/pkg/log"
	"github.com/dukex/flowcore/pkg/scheduler"
)

const (
	serviceName                  = "flowcore-scheduler"
	defaultApprovalSweepInterval = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:  serviceName,
		Usage: "Fire cron schedules and expire approval requests",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often due schedules are polled",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "approval-sweep-interval",
				Usage:   "How often expired approval requests are resolved",
				Value:   defaultApprovalSweepInterval,
				Sources: cli.EnvVars("APPROVAL_SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Schedules fired concurrently per tick",
				Value:   scheduler.DefaultConcurrency,
				Sources: cli.EnvVars("SCHEDULER_CONCURRENCY"),
			},
		}, cmd.RuntimeFlags()...),
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("scheduler").Error("Scheduler stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("scheduler")
	logger.InfoContext(ctx, "Initializing flowcore scheduler")

	shutdownTracing, err := cmd.SetupTracing(ctx, logger, command, serviceName)
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	config, err := cmd.RuntimeConfigFromCommand(command, serviceName)
	if err != nil {
		return err
	}

	config.Scheduler.Concurrency = command.Int("concurrency")

	runtime, err := cmd.NewRuntime(ctx, logger, config)
	if err != nil {
		return err
	}

	defer func() {
		if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runtime.Scheduler.Run(ctx, command.Duration("tick-interval"))
	})

	g.Go(func() error {
		return sweepApprovals(ctx, logger, runtime.Approvals, command.Duration("approval-sweep-interval"))
	})

	return g.Wait()
}
