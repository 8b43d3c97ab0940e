package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowcore/pkg/persistence"
)

// table keeps each entity as a JSONB document next to the columns it is
// queried by.
type table[T any] struct {
	db       *sql.DB
	logger   *slog.Logger
	name     string
	entity   string
	key      string
	notFound error
	columns  []string
	values   func(*T) []any
}

func placeholders(from, count int) string {
	parts := make([]string, count)

	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}

	return strings.Join(parts, ", ")
}

func (t *table[T]) get(ctx context.Context, id string) (*T, error) {
	// #nosec G201 -- table and column names are constants
	query := fmt.Sprintf("SELECT document FROM %s WHERE %s = $1", t.name, t.key)

	var data []byte

	err := t.db.QueryRowContext(ctx, query, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", t.entity, id, t.notFound)
		}

		return nil, fmt.Errorf("failed to query %s %s: %w", t.entity, id, err)
	}

	var value T

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", t.entity, id, err)
	}

	return &value, nil
}

// find returns the documents matching where, which may reference args as $1..$n.
func (t *table[T]) find(ctx context.Context, where, orderBy string, args ...any) ([]*T, error) {
	// #nosec G201 -- clauses are built from constants
	query := fmt.Sprintf("SELECT document FROM %s", t.name)
	if where != "" {
		query += " WHERE " + where
	}

	query += " ORDER BY " + orderBy

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			t.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	values := []*T{}

	for rows.Next() {
		var data []byte

		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.entity, err)
		}

		var value T

		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", t.entity, err)
		}

		values = append(values, &value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", t.name, err)
	}

	return values, nil
}

func (t *table[T]) upsert(ctx context.Context, id string, value *T) error {
	document, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", t.entity, id, err)
	}

	columns := append(append([]string{t.key}, t.columns...), "document")
	updates := make([]string, 0, len(columns)-1)

	for _, column := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	// #nosec G201 -- table and column names are constants
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, updated_at) VALUES (%s, NOW()) ON CONFLICT (%s) DO UPDATE SET %s, updated_at = NOW()",
		t.name, strings.Join(columns, ", "), placeholders(1, len(columns)), t.key, strings.Join(updates, ", "),
	)

	args := append(append([]any{id}, t.values(value)...), document)

	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", t.entity, id, err)
	}

	return nil
}

// saveVersioned inserts when *version is 0 and otherwise updates only the row
// still holding *version. *version is incremented when the write lands.
func (t *table[T]) saveVersioned(ctx context.Context, id string, value *T, version *int64) error {
	expected := *version
	*version = expected + 1

	err := t.writeVersioned(ctx, id, value, expected)
	if err != nil {
		*version = expected
	}

	return err
}

func (t *table[T]) writeVersioned(ctx context.Context, id string, value *T, expected int64) error {
	document, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", t.entity, id, err)
	}

	var (
		query string
		args  []any
	)

	if expected == 0 {
		columns := append(append([]string{t.key}, t.columns...), "version", "document")

		// #nosec G201 -- table and column names are constants
		query = fmt.Sprintf(
			"INSERT INTO %s (%s, updated_at) VALUES (%s, NOW()) ON CONFLICT (%s) DO NOTHING",
			t.name, strings.Join(columns, ", "), placeholders(1, len(columns)), t.key,
		)
		args = append(append([]any{id}, t.values(value)...), expected+1, document)
	} else {
		columns := append(append([]string{}, t.columns...), "version", "document")
		sets := make([]string, 0, len(columns))

		for i, column := range columns {
			sets = append(sets, fmt.Sprintf("%s = $%d", column, i+3))
		}

		// #nosec G201 -- table and column names are constants
		query = fmt.Sprintf(
			"UPDATE %s SET %s, updated_at = NOW() WHERE %s = $1 AND version = $2",
			t.name, strings.Join(sets, ", "), t.key,
		)
		args = append(append([]any{id, expected}, t.values(value)...), expected+1, document)
	}

	result, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", t.entity, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", t.entity, id, err)
	}

	if affected > 0 {
		return nil
	}

	if expected == 0 {
		return persistence.NewEntityError("Save", t.entity, id, persistence.ErrVersionConflict)
	}

	return t.missingOrConflict(ctx, id)
}

func (t *table[T]) missingOrConflict(ctx context.Context, id string) error {
	// #nosec G201 -- table and column names are constants
	query := fmt.Sprintf("SELECT version FROM %s WHERE %s = $1", t.name, t.key)

	var stored int64

	err := t.db.QueryRowContext(ctx, query, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewEntityError("Save", t.entity, id, t.notFound)
	}

	if err != nil {
		return fmt.Errorf("failed to check %s %s version: %w", t.entity, id, err)
	}

	return persistence.NewEntityError("Save", t.entity, id, persistence.ErrVersionConflict)
}

func (t *table[T]) remove(ctx context.Context, id string) error {
	// #nosec G201 -- table and column names are constants
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.name, t.key)

	result, err := t.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t.entity, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t.entity, id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", t.entity, id, t.notFound)
	}

	return nil
}
