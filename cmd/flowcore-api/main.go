package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/flowcore/pkg/cmd"
	"github.com/dukex/flowcore/pkg/log"
)

const (
	serviceName     = "flowcore-api"
	defaultPort     = 9091
	shutdownTimeout = 10 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Serve webhooks, manual runs, approvals and execution streams",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.RuntimeFlags()...),
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("API stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing flowcore API")

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

	runtime, err := cmd.NewRuntime(ctx, logger, config)
	if err != nil {
		return err
	}

	defer func() {
		if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	app := NewAPI(logger, runtime.Services()).App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down API")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return errors.Join(app.ShutdownWithContext(shutdownCtx), <-errs)
	}
}
