package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// LoadResources inserts docs into the table for resourceType. Every
// document must be a resource of that type with an id. It returns the
// number of resources written.
func (s *Store) LoadResources(ctx context.Context, resourceType string, docs []json.RawMessage) (int, error) {
	resources := make([]Resource, 0, len(docs))
	for i, doc := range docs {
		r, err := resource(doc)
		if err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
		if r.Type != resourceType {
			return 0, fmt.Errorf("document %d: expected %s, got %s", i, resourceType, r.Type)
		}
		resources = append(resources, r)
	}
	return s.load(ctx, resourceType, "inline", resources)
}

// LoadFile loads every resource in a JSON, JSON array, Bundle or NDJSON
// file. It returns the number of resources written per resource type.
func (s *Store) LoadFile(ctx context.Context, path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	resources, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	groups := Group(resources)
	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	counts := make(map[string]int, len(groups))
	for _, kind := range kinds {
		n, err := s.load(ctx, kind, path, groups[kind])
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// EnsureTable creates the (possibly empty) table for resourceType, so
// expressions can run before any resource is loaded.
func (s *Store) EnsureTable(ctx context.Context, resourceType string) error {
	_, err := s.load(ctx, resourceType, "", nil)
	return err
}

func (s *Store) load(ctx context.Context, resourceType, source string, resources []Resource) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	table, err := ensureTable(ctx, tx, resourceType)
	if err != nil {
		return 0, err
	}

	if len(resources) > 0 {
		if err := insert(ctx, tx, table, resources); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO loads (resource_type, source, count) VALUES (?, ?, ?)`,
			resourceType, source, len(resources)); err != nil {
			return 0, fmt.Errorf("record load: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(resources), nil
}

func insert(ctx context.Context, tx *sql.Tx, table string, resources []Resource) error {
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, resource) VALUES (?, ?)`, table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range resources {
		if _, err := stmt.ExecContext(ctx, r.ID, string(r.JSON)); err != nil {
			return fmt.Errorf("insert %s/%s: %w", r.Type, r.ID, err)
		}
	}
	return nil
}

// Count returns the number of stored resources of resourceType.
func (s *Store) Count(ctx context.Context, resourceType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, TableName(resourceType))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", resourceType, err)
	}
	return n, nil
}
