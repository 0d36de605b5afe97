package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - loads table
const currentSchemaVersion = 1

var resourceTypePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// Store is a SQLite database of FHIR resources.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path. Use ":memory:" for a
// private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite allows a single writer, and every connection
	// to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// TableName returns the table holding resources of resourceType.
func TableName(resourceType string) string {
	return strings.ToLower(resourceType)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// ensureTable creates the table for resourceType if needed.
func ensureTable(ctx context.Context, tx *sql.Tx, resourceType string) (string, error) {
	if !resourceTypePattern.MatchString(resourceType) {
		return "", fmt.Errorf("invalid resource type %q", resourceType)
	}
	table := TableName(resourceType)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       TEXT PRIMARY KEY,
			resource TEXT NOT NULL CHECK (json_valid(resource))
		)`, table))
	if err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}
	return table, nil
}

// Executor loads FHIR resources and runs compiled statements. Store and
// pgstore.Store implement it.
type Executor interface {
	LoadResources(ctx context.Context, resourceType string, docs []json.RawMessage) (int, error)
	LoadFile(ctx context.Context, path string) (map[string]int, error)
	EnsureTable(ctx context.Context, resourceType string) error
	Query(ctx context.Context, query string) ([]Row, error)
	Close() error
}

var _ Executor = (*Store)(nil)
