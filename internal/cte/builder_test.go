package cte

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fhirsql/internal/dialect/sqlite"
	"github.com/roach88/fhirsql/internal/translator"
)

func meta(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func TestFragmentToCTE_Unnest(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	f := translator.Fragment{
		Expression:     "e1.value",
		SourceTable:    "patient",
		RequiresUnnest: true,
		Metadata: meta(
			translator.MetaCTEName, "cte_1",
			translator.MetaIDColumn, "id",
			translator.MetaResultAlias, "val",
			translator.MetaArrayColumn, "patient.resource -> '$.name'",
			translator.MetaElementAlias, "e1",
			translator.MetaOrdinal, "e1.key",
			translator.MetaFilter, "e1.value IS NOT NULL",
		),
	}

	c, err := b.FragmentToCTE(f, "patient")
	require.NoError(t, err)
	assert.Equal(t, "cte_1", c.Name)
	assert.Empty(t, c.Dependencies)
	lines := strings.Split(c.Query, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "SELECT patient.id AS id, e1.value AS val, e1.key AS ord", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "FROM patient, json_each("))
	assert.True(t, strings.HasSuffix(lines[1], ") AS e1"))
	assert.Equal(t, "WHERE e1.value IS NOT NULL", lines[2])
}

func TestFragmentToCTE_UnnestOverCTE(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	f := translator.Fragment{
		Expression:     "e2.value",
		SourceTable:    "cte_1",
		RequiresUnnest: true,
		Dependencies:   []string{"cte_1"},
		Metadata: meta(
			translator.MetaCTEName, "cte_2",
			translator.MetaArrayColumn, "cte_1.val -> '$.given'",
			translator.MetaElementAlias, "e2",
		),
	}

	c, err := b.FragmentToCTE(f, "cte_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cte_1"}, c.Dependencies)
	assert.Contains(t, c.Query, "SELECT cte_1.id AS id, e2.value AS val, printf('%s%08d', '', e2.key) AS ord")
	assert.Contains(t, c.Query, "FROM cte_1, json_each(")
	assert.NotContains(t, c.Query, "WHERE")
}

func TestFragmentToCTE_AggregateJoinsDrivingTable(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	f := translator.Fragment{
		Expression:   "AGG(cte_1.val)",
		SourceTable:  "cte_1",
		IsAggregate:  true,
		Dependencies: []string{"cte_1"},
		Metadata:     meta(translator.MetaCTEName, "cte_2", translator.MetaIDColumn, "id"),
	}

	c, err := b.FragmentToCTE(f, "cte_1")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT patient.id AS id, AGG(cte_1.val) AS val\n"+
			"FROM patient\n"+
			"LEFT JOIN cte_1 ON cte_1.id = patient.id\n"+
			"GROUP BY patient.id",
		c.Query)
}

func TestFragmentToCTE_ProjectionKeepsOrdering(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	f := translator.Fragment{
		Expression:  "upper(cte_1.val)",
		SourceTable: "cte_1",
		Metadata: meta(
			translator.MetaCTEName, "cte_2",
			translator.MetaSourceOrd, "cte_1.ord",
			translator.MetaFilter, "cte_1.val IS NOT NULL",
		),
	}

	c, err := b.FragmentToCTE(f, "cte_1")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT cte_1.id AS id, upper(cte_1.val) AS val, cte_1.ord AS ord\n"+
			"FROM cte_1\n"+
			"WHERE cte_1.val IS NOT NULL",
		c.Query)
}

func TestFragmentToCTE_Errors(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	named := meta(translator.MetaCTEName, "cte_1")

	tests := []struct {
		name   string
		f      translator.Fragment
		source string
		code   AssemblyErrorCode
	}{
		{"missing array", translator.Fragment{RequiresUnnest: true, Metadata: named}, "patient", ErrCodeMissingArrayExpression},
		{"empty source", translator.Fragment{Metadata: named}, "", ErrCodeEmptySourceTable},
		{"missing name", translator.Fragment{Expression: "x"}, "patient", ErrCodeMissingName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.FragmentToCTE(tt.f, tt.source)
			var ae *AssemblyError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.code, ae.Code)
		})
	}
}

func TestBuildCTEChain_ThreadsSources(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")
	fragments := []translator.Fragment{
		{Expression: "1", Metadata: meta(translator.MetaCTEName, "cte_1")},
		{Expression: "cte_1.val + 1", Metadata: meta(translator.MetaCTEName, "cte_2")},
	}

	ctes, err := b.BuildCTEChain(fragments)
	require.NoError(t, err)
	require.Len(t, ctes, 2)
	assert.Contains(t, ctes[0].Query, "FROM patient")
	assert.Empty(t, ctes[0].Dependencies)
	assert.Contains(t, ctes[1].Query, "FROM cte_1")
	assert.Equal(t, []string{"cte_1"}, ctes[1].Dependencies)
}

func TestBuildFinalSelect(t *testing.T) {
	b := NewBuilder(sqlite.New(), "patient")

	t.Run("literal", func(t *testing.T) {
		sql := b.BuildFinalSelect(translator.Fragment{Expression: "'1'"})
		assert.Equal(t, "SELECT COALESCE(json_group_array(json('1')) FILTER (WHERE '1' IS NOT NULL), '[]') AS result", sql)
	})

	t.Run("driving table", func(t *testing.T) {
		sql := b.BuildFinalSelect(translator.Fragment{
			Expression:  "x",
			SourceTable: "patient",
			Metadata:    meta(translator.MetaIDColumn, "id", translator.MetaResultAlias, "result"),
		})
		assert.Contains(t, sql, "FROM patient\nGROUP BY patient.id\nORDER BY patient.id")
		assert.NotContains(t, sql, "JOIN")
	})

	t.Run("cte", func(t *testing.T) {
		sql := b.BuildFinalSelect(translator.Fragment{
			Expression:  "cte_2.val",
			SourceTable: "cte_2",
			Metadata:    meta(translator.MetaSourceOrd, "cte_2.ord"),
		})
		assert.Contains(t, sql, "ORDER BY cte_2.ord")
		assert.Contains(t, sql, "LEFT JOIN cte_2 ON cte_2.id = patient.id")
		assert.Contains(t, sql, "AS result")
	})
}
