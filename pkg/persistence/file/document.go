package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/flowcore/pkg/persistence"
)

// documents stores one JSON file per entity under a directory.
type documents[T any] struct {
	dir      string
	entity   string
	notFound error
	mu       sync.RWMutex
}

func newDocuments[T any](root, dir, entity string, notFound error) *documents[T] {
	return &documents[T]{
		dir:      filepath.Join(root, dir),
		entity:   entity,
		notFound: notFound,
	}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: id contains invalid characters", persistence.ErrInvalidID)
	}

	return nil
}

func (d *documents[T]) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	return filepath.Join(d.dir, id+".json"), nil
}

func (d *documents[T]) get(id string) (*T, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.read(id)
}

func (d *documents[T]) read(id string) (*T, error) {
	filePath, err := d.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- filePath is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewEntityError("GetByID", d.entity, id, d.notFound)
		}

		return nil, fmt.Errorf("failed to read %s %s: %w", d.entity, id, err)
	}

	var value T

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", d.entity, id, err)
	}

	return &value, nil
}

func (d *documents[T]) put(id string, value *T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.write(id, value)
}

func (d *documents[T]) write(id string, value *T) error {
	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", d.entity, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", d.entity, id, err)
	}

	tmpPath := filePath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", d.entity, id, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", d.entity, id, err)
	}

	return nil
}

// putVersioned applies the optimistic save contract. version points at the
// entity's version field and is incremented only when the write succeeds.
func (d *documents[T]) putVersioned(id string, value *T, version *int64, storedVersion func(*T) int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.read(id)
	if err != nil && !errors.Is(err, d.notFound) {
		return err
	}

	switch {
	case *version == 0 && existing != nil:
		return persistence.NewEntityError("Save", d.entity, id, persistence.ErrVersionConflict)
	case *version != 0 && existing == nil:
		return persistence.NewEntityError("Save", d.entity, id, d.notFound)
	case existing != nil && storedVersion(existing) != *version:
		return persistence.NewEntityError("Save", d.entity, id, persistence.ErrVersionConflict)
	}

	*version++

	if err := d.write(id, value); err != nil {
		*version--

		return err
	}

	return nil
}

func (d *documents[T]) remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	filePath, err := d.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewEntityError("Delete", d.entity, id, d.notFound)
		}

		return fmt.Errorf("failed to delete %s %s: %w", d.entity, id, err)
	}

	return nil
}

// list returns every stored entity matching keep, ordered by id.
func (d *documents[T]) list(keep func(*T) bool) ([]*T, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read %s directory: %w", d.entity, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}

	sort.Strings(ids)

	values := make([]*T, 0, len(ids))

	for _, id := range ids {
		value, err := d.read(id)
		if err != nil {
			// Skip invalid files
			continue
		}

		if keep == nil || keep(value) {
			values = append(values, value)
		}
	}

	return values, nil
}
