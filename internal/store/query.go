package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
)

// Row is one result row of a compiled expression: the record id and its
// result collection as a JSON array. Statements that read no table return
// a single row with an empty ID.
type Row struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Query executes a compiled statement.
func (s *Store) Query(ctx context.Context, query string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// ScanRows reads (id, result) or (result) rows.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	withID := len(cols) == 2
	if !withID && len(cols) != 1 {
		return nil, fmt.Errorf("expected 1 or 2 result columns, got %d", len(cols))
	}

	out := []Row{}
	for rows.Next() {
		var (
			id     sql.NullString
			result sql.NullString
		)
		if withID {
			err = rows.Scan(&id, &result)
		} else {
			err = rows.Scan(&result)
		}
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, Row{ID: id.String, Result: normalizeResult(result)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// normalizeResult re-encodes the result compactly so equal collections
// compare equal regardless of engine formatting.
func normalizeResult(result sql.NullString) json.RawMessage {
	if !result.Valid {
		return json.RawMessage("[]")
	}
	return Compact(json.RawMessage(result.String))
}

// Compact removes insignificant whitespace. Invalid JSON is returned as is.
func Compact(raw json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return slices.Clone(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return slices.Clone(raw)
	}
	return out
}
