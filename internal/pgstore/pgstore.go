// Package pgstore runs compiled statements against PostgreSQL through a
// pgx connection pool. It mirrors the store package: one table per
// resource type, named after the lower-cased type, with an id column and a
// jsonb resource column.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/fhirsql/internal/store"
)

var resourceTypePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// Store is a PostgreSQL database of FHIR resources.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Executor = (*Store)(nil)

// Open connects to databaseURL and verifies the connection. A maxConns of
// zero keeps the pgxpool default.
func Open(ctx context.Context, databaseURL string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ensureTable(ctx context.Context, db execer, resourceType string) (string, error) {
	if !resourceTypePattern.MatchString(resourceType) {
		return "", fmt.Errorf("invalid resource type %q", resourceType)
	}
	table := store.TableName(resourceType)
	_, err := db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       text PRIMARY KEY,
			resource jsonb NOT NULL
		)`, table))
	if err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}
	return table, nil
}

// EnsureTable creates the table for resourceType if needed.
func (s *Store) EnsureTable(ctx context.Context, resourceType string) error {
	_, err := ensureTable(ctx, s.pool, resourceType)
	return err
}

// LoadResources upserts docs into the table for resourceType.
func (s *Store) LoadResources(ctx context.Context, resourceType string, docs []json.RawMessage) (int, error) {
	resources := make([]store.Resource, 0, len(docs))
	for i, doc := range docs {
		rs, err := store.Decode(doc)
		if err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
		for _, r := range rs {
			if r.Type != resourceType {
				return 0, fmt.Errorf("document %d: expected %s, got %s", i, resourceType, r.Type)
			}
		}
		resources = append(resources, rs...)
	}
	return s.load(ctx, resourceType, resources)
}

// LoadFile loads a JSON, JSON array, Bundle or NDJSON file. It returns the
// number of resources written per resource type.
func (s *Store) LoadFile(ctx context.Context, path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	resources, err := store.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	groups := store.Group(resources)
	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	counts := make(map[string]int, len(groups))
	for _, kind := range kinds {
		n, err := s.load(ctx, kind, groups[kind])
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

func (s *Store) load(ctx context.Context, resourceType string, resources []store.Resource) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	table, err := ensureTable(ctx, tx, resourceType)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, resource) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET resource = EXCLUDED.resource`, table)
	for _, r := range resources {
		batch.Queue(upsert, r.ID, string(r.JSON))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert %s: %w", resourceType, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(resources), nil
}

// Query executes a compiled statement. Rows have the same shape as
// store.Row.
func (s *Store) Query(ctx context.Context, query string) ([]store.Row, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	withID := len(rows.FieldDescriptions()) == 2
	out := []store.Row{}
	for rows.Next() {
		var (
			id     *string
			result []byte
		)
		if withID {
			err = rows.Scan(&id, &result)
		} else {
			err = rows.Scan(&result)
		}
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := store.Row{Result: json.RawMessage("[]")}
		if id != nil {
			row.ID = *id
		}
		if result != nil {
			row.Result = store.Compact(result)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
