// Package redis provides a Redis-backed dead letter queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence"
)

const defaultKeyPrefix = "flowcore:dead_letters"

// DeadLetterRepository keeps letters in a hash keyed by id and orders them
// with a sorted set scored by creation time.
type DeadLetterRepository struct {
	client goredis.UniversalClient
	logger *slog.Logger
	hash   string
	index  string
}

// NewDeadLetterRepository creates a dead letter repository on an existing client.
func NewDeadLetterRepository(client goredis.UniversalClient, logger *slog.Logger, keyPrefix string) *DeadLetterRepository {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &DeadLetterRepository{
		client: client,
		logger: logger.With("module", "redis_dead_letters"),
		hash:   keyPrefix + ":items",
		index:  keyPrefix + ":index",
	}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (r *DeadLetterRepository) Push(ctx context.Context, letter *models.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter %s: %w", letter.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, r.hash, letter.ID, data)
		pipe.ZAdd(ctx, r.index, goredis.Z{Score: float64(letter.CreatedAt.UnixMilli()), Member: letter.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push dead letter %s: %w", letter.ID, err)
	}

	r.logger.InfoContext(ctx, "Dead letter stored", "dead_letter_id", letter.ID, "workflow_id", letter.WorkflowID)

	return nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, deadLetterID string) (*models.DeadLetter, error) {
	data, err := r.client.HGet(ctx, r.hash, deadLetterID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewEntityError("GetByID", "dead letter", deadLetterID, persistence.ErrDeadLetterNotFound)
		}

		return nil, fmt.Errorf("failed to get dead letter %s: %w", deadLetterID, err)
	}

	var letter models.DeadLetter

	if err := json.Unmarshal(data, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter %s: %w", deadLetterID, err)
	}

	return &letter, nil
}

// List returns dead letters oldest first.
func (r *DeadLetterRepository) List(ctx context.Context) ([]*models.DeadLetter, error) {
	ids, err := r.client.ZRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	letters := make([]*models.DeadLetter, 0, len(ids))

	for _, id := range ids {
		letter, err := r.GetByID(ctx, id)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}

			return nil, err
		}

		letters = append(letters, letter)
	}

	return letters, nil
}

func (r *DeadLetterRepository) Delete(ctx context.Context, deadLetterID string) error {
	var removed *goredis.IntCmd

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.HDel(ctx, r.hash, deadLetterID)
		pipe.ZRem(ctx, r.index, deadLetterID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", deadLetterID, err)
	}

	if removed.Val() == 0 {
		return persistence.NewEntityError("Delete", "dead letter", deadLetterID, persistence.ErrDeadLetterNotFound)
	}

	return nil
}
