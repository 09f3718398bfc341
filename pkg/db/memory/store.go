package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/truly-network/eventlistener/pkg/db"
)

// Store is an in-process db.Store. It enforces key schemas and create-only
// writes the same way the DynamoDB store does.
type Store struct {
	tables *xsync.Map[string, *table]
}

type table struct {
	def   db.TableDefinition
	items *xsync.Map[string, db.Item]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{tables: xsync.NewMap[string, *table]()}
}

var _ db.Store = (*Store)(nil)

func (s *Store) CreateItem(_ context.Context, name string, item db.Item) error {
	t, ok := s.tables.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", db.ErrTableNotFound, name)
	}
	key, err := itemKey(t.def, item)
	if err != nil {
		return err
	}

	stored := make(db.Item, len(item))
	for k, v := range item {
		stored[k] = v
	}
	if _, loaded := t.items.LoadOrStore(key, stored); loaded {
		return fmt.Errorf("%w: %s %s", db.ErrItemExists, name, key)
	}
	return nil
}

func (s *Store) TableExists(_ context.Context, name string) (bool, error) {
	_, ok := s.tables.Load(name)
	return ok, nil
}

func (s *Store) CreateTable(_ context.Context, def db.TableDefinition) error {
	if def.Name == "" || def.HashKey.Name == "" {
		return fmt.Errorf("invalid table definition %q", def.Name)
	}
	t := &table{def: def, items: xsync.NewMap[string, db.Item]()}
	if _, loaded := s.tables.LoadOrStore(def.Name, t); loaded {
		return fmt.Errorf("table %s already exists", def.Name)
	}
	return nil
}

func (s *Store) DeleteTable(_ context.Context, name string) error {
	if _, ok := s.tables.LoadAndDelete(name); !ok {
		return fmt.Errorf("%w: %s", db.ErrTableNotFound, name)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Items returns a copy of every item stored in table.
func (s *Store) Items(name string) []db.Item {
	t, ok := s.tables.Load(name)
	if !ok {
		return nil
	}
	out := make([]db.Item, 0, t.items.Size())
	t.items.Range(func(_ string, item db.Item) bool {
		out = append(out, item)
		return true
	})
	return out
}

func itemKey(def db.TableDefinition, item db.Item) (string, error) {
	parts := make([]string, 0, 2)
	for _, name := range def.KeyNames() {
		v, ok := item[name]
		if !ok {
			return "", fmt.Errorf("item for %s is missing key attribute %q", def.Name, name)
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "\x00"), nil
}
