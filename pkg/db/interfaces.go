package db

import (
	"context"
	"errors"
)

var (
	// ErrItemExists is returned by CreateItem when an item with the same key is already stored.
	ErrItemExists = errors.New("item already exists")
	// ErrTableNotFound is returned when the target table does not exist.
	ErrTableNotFound = errors.New("table not found")
)

// Item is a flat attribute map. Values are strings or integers.
type Item map[string]any

// Store is the keyed table backend the listener writes to.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateItem stores item as a new row. It never overwrites an existing key.
	CreateItem(ctx context.Context, table string, item Item) error
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, def TableDefinition) error
	DeleteTable(ctx context.Context, table string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
