package cmd

import (
	"context"
	"fmt"
	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/otelhelper"
	"github.com/dukex/flowcore/pkg/scheduler"
)

// RuntimeFlags are the flags every binary running the execution core accepts.
func RuntimeFlags() []cli.Flag {
	defaults := dispatch.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "dead-letter-url",
			Usage:   "Dead letter sink URL (redis://...), empty to use the persistence store",
			Sources: cli.EnvVars("DEAD_LETTER_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "edge-fallback",
			Usage:   "Edge used when no conditional edge matches (first_unlabeled, first_edge, none)",
			Value:   string(engine.FallbackFirstUnlabeled),
			Sources: cli.EnvVars("EDGE_FALLBACK"),
		},
		&cli.BoolFlag{
			Name:    "parallel-fan-out",
			Usage:   "Run every matching sibling edge concurrently",
			Sources: cli.EnvVars("PARALLEL_FAN_OUT"),
		},
		&cli.DurationFlag{
			Name:    "node-timeout",
			Usage:   "Timeout for nodes without timeout_seconds",
			Sources: cli.EnvVars("NODE_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Dispatch retries before dead-lettering",
			Value:   defaults.MaxRetries,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "retry-base-delay",
			Usage:   "Delay after the first failed dispatch attempt",
			Value:   defaults.BaseDelay,
			Sources: cli.EnvVars("RETRY_BASE_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "retry-max-delay",
			Usage:   "Upper bound of the dispatch backoff",
			Value:   defaults.MaxDelay,
			Sources: cli.EnvVars("RETRY_MAX_DELAY"),
		},
		&cli.IntFlag{
			Name:    "rate-per-minute",
			Usage:   "Dispatches allowed per trigger per minute",
			Value:   dispatch.DefaultPerMinute,
			Sources: cli.EnvVars("RATE_PER_MINUTE"),
		},
		&cli.IntFlag{
			Name:    "rate-per-hour",
			Usage:   "Dispatches allowed per trigger per hour",
			Value:   dispatch.DefaultPerHour,
			Sources: cli.EnvVars("RATE_PER_HOUR"),
		},
		&cli.DurationFlag{
			Name:    "trigger-cache-ttl",
			Usage:   "How long trigger definitions are cached",
			Value:   dispatch.DefaultCacheTTL,
			Sources: cli.EnvVars("TRIGGER_CACHE_TTL"),
		},
		&cli.IntFlag{
			Name:    "schedule-retries",
			Usage:   "Retries of a due schedule before it is marked failed",
			Value:   scheduler.DefaultRetries,
			Sources: cli.EnvVars("SCHEDULE_RETRIES"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// RuntimeConfigFromCommand reads RuntimeFlags.
func RuntimeConfigFromCommand(command *cli.Command, serviceName string) (RuntimeConfig, error) {
	fallback, err := engine.ParseFallbackPolicy(command.String("edge-fallback"))
	if err != nil {
		return RuntimeConfig{}, err
	}

	dispatchConfig := dispatch.DefaultConfig()
	dispatchConfig.MaxRetries = command.Int("max-retries")
	dispatchConfig.BaseDelay = command.Duration("retry-base-delay")
	dispatchConfig.MaxDelay = command.Duration("retry-max-delay")
	dispatchConfig.PerMinute = command.Int("rate-per-minute")
	dispatchConfig.PerHour = command.Int("rate-per-hour")
	dispatchConfig.CacheTTL = command.Duration("trigger-cache-ttl")

	if dispatchConfig.MaxRetries < 0 {
		return RuntimeConfig{}, fmt.Errorf("max-retries must not be negative, got %d", dispatchConfig.MaxRetries)
	}

	retries := command.Int("schedule-retries")
	if retries == 0 {
		retries = -1
	}

	return RuntimeConfig{
		ServiceName:    serviceName,
		DatabaseURL:    command.String("database-url"),
		DeadLetterURL:  command.String("dead-letter-url"),
		EventBus:       command.String("event-bus"),
		KafkaBrokers:   command.String("kafka-brokers"),
		NodeTimeout:    command.Duration("node-timeout"),
		Fallback:       fallback,
		ParallelFanOut: command.Bool("parallel-fan-out"),
		Dispatch:       dispatchConfig,
		Scheduler:      scheduler.Config{Retries: retries},
	}, nil
}

// SetupTracing installs the OTLP exporter when --otel-enabled is set. The
// returned shutdown function is always safe to call.
func SetupTracing(ctx context.Context, logger *slog.Logger, command *cli.Command, serviceName string) (func(context.Context) error, error) {
	if !command.Bool("otel-enabled") {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := otelhelper.Setup(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Tracing enabled", "service", serviceName)

	return shutdown, nil
}
