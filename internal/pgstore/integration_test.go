//go:build integration

package pgstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/fhirsql/internal/compiler"
	pgdialect "github.com/roach88/fhirsql/internal/dialect/postgres"
	"github.com/roach88/fhirsql/internal/store"
	"github.com/roach88/fhirsql/internal/testutil"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error
)

// databaseURL starts one shared PostgreSQL container per test binary.
func databaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	pgOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"docker.io/postgres:16-alpine",
			postgres.WithDatabase("fhirsql_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			pgErr = err
			return
		}
		pgURL, pgErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgURL
}

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, databaseURL(t), 4, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.LoadResources(ctx, "Patient", patients())
	require.NoError(t, err)
	_, err = s.LoadResources(ctx, "Observation", testutil.Observations)
	require.NoError(t, err)
	return s
}

// patients adds a record with null given names to the shared population.
func patients() []json.RawMessage {
	return append(slices.Clone(testutil.Patients), testutil.NullGiven)
}

// sqliteRows runs the same expression on SQLite for comparison.
func sqliteRows(t *testing.T, resourceType, expr string) []store.Row {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.LoadResources(ctx, "Patient", patients())
	require.NoError(t, err)
	_, err = s.LoadResources(ctx, "Observation", testutil.Observations)
	require.NoError(t, err)

	c, err := compiler.New(compiler.Options{ResourceType: resourceType})
	require.NoError(t, err)
	res, err := c.CompileString(expr)
	require.NoError(t, err)
	rows, err := s.Query(ctx, res.SQL)
	require.NoError(t, err)
	return rows
}

func TestIntegration_DialectsAgree(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tests := []struct {
		resourceType string
		expr         string
	}{
		{"Patient", "Patient.birthDate"},
		{"Patient", "Patient.name.given"},
		{"Patient", "Patient.name.where(use = 'official').family.first()"},
		{"Patient", "Patient.name.given.skip(1).take(1)"},
		{"Patient", "Patient.name.count()"},
		{"Patient", "Patient.name.exists()"},
		{"Patient", "Patient.name.given.count()"},
		{"Patient", "Patient.name.given[1]"},
		{"Patient", "Patient.name.given.where($index = 2)"},
		{"Patient", "Patient.gender.ofType(code)"},
		{"Patient", "'a' & 'b'"},
		{"Patient", "1 / 0"},
		{"Patient", "{} & 'abc'"},
		{"Observation", "Observation.value.ofType(Quantity).value"},
		{"Observation", "Observation.value is Quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := compiler.New(compiler.Options{
				Dialect:      pgdialect.New(),
				ResourceType: tt.resourceType,
				SyntaxCheck:  pgdialect.Validate,
			})
			require.NoError(t, err)
			res, err := c.CompileString(tt.expr)
			require.NoError(t, err)

			got, err := s.Query(ctx, res.SQL)
			require.NoError(t, err, res.SQL)

			want := sqliteRows(t, tt.resourceType, tt.expr)
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].ID, got[i].ID)
				assert.JSONEq(t, string(want[i].Result), string(got[i].Result))
			}
		})
	}
}

func TestIntegration_LoadFileBundle(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, testutil.Bundle(), 0o644))

	counts, err := s.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Patient": 3, "Observation": 3}, counts)
	require.NoError(t, s.Ping(context.Background()))
}
