package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fhirsql/internal/cte"
	"github.com/roach88/fhirsql/internal/dialect/postgres"
	"github.com/roach88/fhirsql/internal/parser"
	"github.com/roach88/fhirsql/internal/store"
	"github.com/roach88/fhirsql/internal/testutil"
	"github.com/roach88/fhirsql/internal/translator"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_, err = s.LoadResources(ctx, "Patient", testutil.Patients)
	require.NoError(t, err)
	_, err = s.LoadResources(ctx, "Observation", testutil.Observations)
	require.NoError(t, err)
	return s
}

// run compiles expr for resourceType and returns results keyed by id.
func run(t *testing.T, s *store.Store, resourceType, expr string) map[string]string {
	t.Helper()
	c, err := New(Options{ResourceType: resourceType})
	require.NoError(t, err)

	res, err := c.CompileString(expr)
	require.NoError(t, err)

	rows, err := s.Query(context.Background(), res.SQL)
	require.NoError(t, err, res.SQL)

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = string(r.Result)
	}
	return out
}

func assertRows(t *testing.T, want map[string]string, got map[string]string) {
	t.Helper()
	require.Len(t, got, len(want))
	for id, w := range want {
		g, ok := got[id]
		require.True(t, ok, "missing row %q", id)
		assert.JSONEq(t, w, g, "row %q", id)
	}
}

func TestCompile_PathOnDrivingTable(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Patient", "Patient.birthDate")
	assertRows(t, map[string]string{
		"p1": `["1980-01-02"]`,
		"p2": `["1990-05-06"]`,
		"p3": `[]`,
	}, got)
}

func TestCompile_NestedArraysKeepDocumentOrder(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Patient", "Patient.name.given")
	assertRows(t, map[string]string{
		"p1": `["John", "Q", "Johnny"]`,
		"p2": `["Jane"]`,
		"p3": `[]`,
	}, got)
}

func TestCompile_WhereThenFirstYieldsOneRowPerRecord(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Patient", "Patient.name.where(use = 'official').family.first()")
	assertRows(t, map[string]string{
		"p1": `["Smith"]`,
		"p2": `["Doe"]`,
		"p3": `[]`,
	}, got)
}

func TestCompile_WhereMatchingNothing(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Patient", "Patient.name.where(use = 'maiden').given")
	assertRows(t, map[string]string{"p1": `[]`, "p2": `[]`, "p3": `[]`}, got)
}

func TestCompile_CountAndExists(t *testing.T) {
	s := newStore(t)

	assertRows(t, map[string]string{"p1": `[2]`, "p2": `[1]`, "p3": `[0]`},
		run(t, s, "Patient", "Patient.name.count()"))

	assertRows(t, map[string]string{"p1": `[true]`, "p2": `[true]`, "p3": `[false]`},
		run(t, s, "Patient", "Patient.name.exists()"))
}

func TestCompile_SkipTakeLaws(t *testing.T) {
	s := newStore(t)

	all := run(t, s, "Patient", "Patient.name.given")
	assertRows(t, map[string]string{"p1": `["Q", "Johnny"]`, "p2": `[]`, "p3": `[]`},
		run(t, s, "Patient", "Patient.name.given.skip(1)"))
	assertRows(t, map[string]string{"p1": `["John"]`, "p2": `["Jane"]`, "p3": `[]`},
		run(t, s, "Patient", "Patient.name.given.take(1)"))

	// skip(0) and take of at least the size are the identity
	assertRows(t, all, run(t, s, "Patient", "Patient.name.given.skip(0)"))
	assertRows(t, all, run(t, s, "Patient", "Patient.name.given.take(10)"))
}

func TestCompile_LiteralOnly(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"'abc'", `["abc"]`},
		{"1 / 0", `[]`},
		{"{} & 'abc'", `["abc"]`},
		{"'a' & 'b'", `["ab"]`},
		{"2 + 3", `[5]`},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			// An empty database: literal-only statements read no table.
			s, err := store.Open(":memory:")
			require.NoError(t, err)
			defer s.Close()

			c, err := New(Options{})
			require.NoError(t, err)
			res, err := c.CompileString(tt.expr)
			require.NoError(t, err)
			assert.Empty(t, res.CTEs)
			assert.NotContains(t, res.SQL, "FROM")

			rows, err := s.Query(context.Background(), res.SQL)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "", rows[0].ID)
			assert.JSONEq(t, tt.want, string(rows[0].Result))
		})
	}
}

func TestCompile_EmptyTable(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureTable(context.Background(), "Patient"))

	c, err := New(Options{})
	require.NoError(t, err)
	res, err := c.CompileString("Patient.name.given")
	require.NoError(t, err)

	rows, err := s.Query(context.Background(), res.SQL)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCompile_ChoiceNarrowing(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Observation", "Observation.value.ofType(Quantity).value")
	assertRows(t, map[string]string{"o1": `[72]`, "o2": `[]`, "o3": `[]`}, got)
}

func TestCompile_IsOnAbsentChoiceIsEmpty(t *testing.T) {
	s := newStore(t)
	got := run(t, s, "Observation", "Observation.value is Quantity")
	assertRows(t, map[string]string{"o1": `[true]`, "o2": `[false]`, "o3": `[]`}, got)
}

func TestCompile_IndexAndTotalSpanFlattenedCollection(t *testing.T) {
	s := newStore(t)

	tests := []struct {
		expr string
		want map[string]string
	}{
		{
			expr: "Patient.name.given.where($index = 2)",
			want: map[string]string{"p1": `["Johnny"]`, "p2": `[]`, "p3": `[]`},
		},
		{
			expr: "Patient.name.given.where($index = 0)",
			want: map[string]string{"p1": `["John"]`, "p2": `["Jane"]`, "p3": `[]`},
		},
		{
			expr: "Patient.name.given.where($total = 3)",
			want: map[string]string{"p1": `["John", "Q", "Johnny"]`, "p2": `[]`, "p3": `[]`},
		},
		{
			expr: "Patient.name.given.select($index)",
			want: map[string]string{"p1": `[0, 1, 2]`, "p2": `[0]`, "p3": `[]`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertRows(t, tt.want, run(t, s, "Patient", tt.expr))
		})
	}
}

func TestCompile_NullItemsAreDropped(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.LoadResources(context.Background(), "Patient", []json.RawMessage{testutil.NullGiven})
	require.NoError(t, err)

	tests := map[string]string{
		"Patient.name.given":         `["A", "C"]`,
		"Patient.name.given.count()": `[2]`,
		"Patient.name.given[1]":      `["C"]`,
	}
	for expr, want := range tests {
		t.Run(expr, func(t *testing.T) {
			assertRows(t, map[string]string{"p4": want}, run(t, s, "Patient", expr))
		})
	}
}

func TestCompile_OfTypeSpellingsAgree(t *testing.T) {
	c, err := New(Options{ResourceType: "Observation"})
	require.NoError(t, err)

	want, err := c.CompileString("Observation.value.ofType(Quantity)")
	require.NoError(t, err)
	for _, expr := range []string{
		"Observation.value.ofType(FHIR.Quantity)",
		"Observation.value.ofType(System.Quantity)",
		"Observation.value.ofType(quantity)",
	} {
		got, err := c.CompileString(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want.SQL, got.SQL, expr)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	const expr = "Patient.name.where(given.exists()).given.first()"
	first, err := c.CompileString(expr)
	require.NoError(t, err)
	for range 10 {
		again, err := c.CompileString(expr)
		require.NoError(t, err)
		assert.Equal(t, first.SQL, again.SQL)
		assert.Equal(t, first.CTEs, again.CTEs)
	}
}

func TestCompile_ConcurrentUse(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	want, err := c.CompileString("Patient.name.given")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.CompileString("Patient.name.given")
			if err == nil {
				results[i] = res.SQL
			}
		}()
	}
	wg.Wait()
	for _, sql := range results {
		assert.Equal(t, want.SQL, sql)
	}
}

func TestCompile_Errors(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	tests := []struct {
		expr string
		code translator.TranslationErrorCode
	}{
		{"Patient.nickname", translator.ErrCodeUnknownProperty},
		{"Patient.name.ofType(Banana)", translator.ErrCodeUnknownType},
		{"Patient.name.frobnicate()", translator.ErrCodeUnknownFunction},
		{"Patient.name.first(1)", translator.ErrCodeWrongArity},
		{"Patient.name | Patient.name", translator.ErrCodeUnsupported},
		{"%missing", translator.ErrCodeUnknownVariable},
		{"Observation.status", translator.ErrCodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res, err := c.CompileString(tt.expr)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.code, translator.ErrorCode(err))
		})
	}
}

func TestCompileString_SyntaxError(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	_, err = c.CompileString("Patient.name.where(")
	require.Error(t, err)
	assert.True(t, parser.IsSyntaxError(err))
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Table: "bad table"})
	assert.Error(t, err)

	_, err = New(Options{Variables: map[string]any{"x": struct{}{}}})
	assert.Error(t, err)
}

func TestCompile_Variables(t *testing.T) {
	s := newStore(t)
	c, err := New(Options{Variables: map[string]any{"minimum": 2}})
	require.NoError(t, err)

	res, err := c.CompileString("Patient.name.given.count() >= %minimum")
	require.NoError(t, err)
	rows, err := s.Query(context.Background(), res.SQL)
	require.NoError(t, err)

	got := map[string]string{}
	for _, r := range rows {
		got[r.ID] = string(r.Result)
	}
	assertRows(t, map[string]string{"p1": `[true]`, "p2": `[false]`, "p3": `[false]`}, got)
}

func TestCompile_IDsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	c, err := New(Options{
		IDs:    NewFixedGenerator("c-1", "c-2"),
		Logger: &logger,
	})
	require.NoError(t, err)

	res, err := c.CompileString("Patient.name.given")
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.ID)
	assert.Equal(t, "Patient.name.given", res.Expression)
	assert.NotContains(t, res.SQL, "c-1")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "c-1", event["compilation_id"])
	assert.Equal(t, "Patient.name.given", event["expression"])
	assert.Equal(t, "sqlite", event["dialect"])
	assert.EqualValues(t, len(res.CTEs), event["ctes"])
	assert.Contains(t, event, "duration")

	buf.Reset()
	_, err = c.CompileString("Patient.nickname")
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"compilation_id":"c-2"`)
	assert.Contains(t, buf.String(), "UNKNOWN_PROPERTY")
}

func TestCompile_UUIDv7ByDefault(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	res, err := c.CompileString("Patient.id")
	require.NoError(t, err)
	assert.Len(t, res.ID, 36)
}

func TestCompile_PostgresSyntaxCheck(t *testing.T) {
	c, err := New(Options{Dialect: postgres.New(), SyntaxCheck: postgres.Validate})
	require.NoError(t, err)

	for _, expr := range []string{
		"Patient.birthDate",
		"Patient.name.given",
		"Patient.name.where(use = 'official').family.first()",
		"Patient.name.given.skip(1).take(1)",
		"Patient.name.count() > 1",
		"'abc' & 'def'",
	} {
		res, err := c.CompileString(expr)
		require.NoError(t, err, expr)
		assert.NotEmpty(t, res.SQL)
	}
}

func TestCompile_SyntaxCheckFailure(t *testing.T) {
	c, err := New(Options{SyntaxCheck: func(string) error { return assert.AnError }})
	require.NoError(t, err)

	_, err = c.CompileString("Patient.id")
	require.ErrorIs(t, err, assert.AnError)
}

func TestCompile_CTEsAreOrdered(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	res, err := c.CompileString("Patient.name.where(use = 'official').given.first()")
	require.NoError(t, err)

	ordered, err := cte.Order(res.CTEs)
	require.NoError(t, err)
	assert.Equal(t, res.CTEs, ordered)

	seen := map[string]bool{}
	for _, ct := range res.CTEs {
		for _, dep := range ct.Dependencies {
			assert.True(t, seen[dep], "%s read before %s was defined", ct.Name, dep)
		}
		seen[ct.Name] = true
	}
}
