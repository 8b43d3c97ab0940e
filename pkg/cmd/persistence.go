package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowcore/pkg/persistence"
	"github.com/dukex/flowcore/pkg/persistence/file"
	"github.com/dukex/flowcore/pkg/persistence/postgresql"
	"github.com/dukex/flowcore/pkg/persistence/redis"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence opens the store named by databaseURL: file://<dir>,
// postgres://... or a bare directory path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parseProvider(databaseURL)

	switch provider {
	case "file":
		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}
}

// NewDeadLetterRepository returns the redis dead-letter list when
// deadLetterURL is set and the store's own repository otherwise. The returned
// close function releases the redis client.
func NewDeadLetterRepository(
	ctx context.Context,
	logger *slog.Logger,
	deadLetterURL string,
	store persistence.Persistence,
) (persistence.DeadLetterRepository, func() error, error) {
	if deadLetterURL == "" {
		return store.DeadLetterRepository(), func() error { return nil }, nil
	}

	provider, _ := parseProvider(deadLetterURL)
	if provider != "redis" && provider != "rediss" {
		return nil, nil, fmt.Errorf("%w: dead letter sink %q", ErrUnsupportedProvider, provider)
	}

	client, err := redis.Connect(ctx, deadLetterURL)
	if err != nil {
		return nil, nil, err
	}

	return redis.NewDeadLetterRepository(client, logger, ""), client.Close, nil
}

func parseProvider(url string) (string, string) {
	provider, rest, found := strings.Cut(url, "://")
	if !found {
		return "file", url
	}

	return strings.ToLower(provider), rest
}
