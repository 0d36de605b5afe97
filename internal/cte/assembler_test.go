package cte

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleQuery_NoCTEs(t *testing.T) {
	sql, err := AssembleQuery(nil, "SELECT 1 AS result")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS result", sql)
}

func TestAssembleQuery_Layout(t *testing.T) {
	ctes := []CTE{
		{Name: "cte_2", Query: "SELECT id, val\nFROM cte_1", Dependencies: []string{"cte_1"}},
		{Name: "cte_1", Query: "SELECT id, val\nFROM patient"},
	}

	sql, err := AssembleQuery(ctes, "SELECT * FROM cte_2")
	require.NoError(t, err)

	want := strings.Join([]string{
		"WITH",
		"  cte_1 AS (",
		"    SELECT id, val",
		"    FROM patient",
		"  ),",
		"  cte_2 AS (",
		"    SELECT id, val",
		"    FROM cte_1",
		"  )",
		"SELECT * FROM cte_2",
	}, "\n")
	assert.Equal(t, want, sql)
}

func TestAssembleQuery_UndeclaredReference(t *testing.T) {
	ctes := []CTE{
		{Name: "cte_1", Query: "SELECT 1"},
		{Name: "cte_2", Query: "SELECT val FROM cte_1"},
	}

	_, err := AssembleQuery(ctes, "SELECT 1")
	var ae *AssemblyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ErrCodeUndeclaredReference, ae.Code)
	assert.Equal(t, "cte_2", ae.CTE)
}

func TestAssembleQuery_IgnoresNamesInStringsAndPrefixes(t *testing.T) {
	ctes := []CTE{
		{Name: "cte_1", Query: "SELECT 'cte_10 and cte_1' AS x"},
		{Name: "cte_10", Query: "SELECT 'it''s cte_1' AS x"},
	}

	_, err := AssembleQuery(ctes, "SELECT 1")
	assert.NoError(t, err)
}

func TestAssembleQuery_Cycle(t *testing.T) {
	ctes := []CTE{
		{Name: "a", Query: "SELECT * FROM b", Dependencies: []string{"b"}},
		{Name: "b", Query: "SELECT * FROM a", Dependencies: []string{"a"}},
	}

	_, err := AssembleQuery(ctes, "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")
	assert.Contains(t, err.Error(), "a → b → a")
}
