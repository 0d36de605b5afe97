package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: basic
description: "d"
expression: Patient.id
expect:
  rows: {p1: [p1]}
`))
	require.NoError(t, err)
	assert.Equal(t, "Patient", s.ResourceType)
	assert.Equal(t, []any{"p1"}, s.Expect.Rows["p1"])
	assert.Nil(t, s.Expect.CTECount)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "name: a\ndescription: d\nexpression: x\nexpect: {rows: {}}\nexpectation: {}\n",
			want: "field expectation not found",
		},
		{
			name: "missing name",
			doc:  "description: d\nexpression: x\nexpect: {rows: {}}\n",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: a\nexpression: x\nexpect: {rows: {}}\n",
			want: "description is required",
		},
		{
			name: "missing expression",
			doc:  "name: a\ndescription: d\nexpect: {rows: {}}\n",
			want: "expression is required",
		},
		{
			name: "no expectation",
			doc:  "name: a\ndescription: d\nexpression: x\n",
			want: "rows or error_code is required",
		},
		{
			name: "both expectations",
			doc:  "name: a\ndescription: d\nexpression: x\nexpect: {rows: {}, error_code: UNSUPPORTED}\n",
			want: "mutually exclusive",
		},
		{
			name: "negative cte count",
			doc:  "name: a\ndescription: d\nexpression: x\nexpect: {rows: {}, cte_count: -1}\n",
			want: "cte_count must be non-negative",
		},
		{
			name: "unknown fixture",
			doc:  "name: a\ndescription: d\nfixtures: [encounters]\nexpression: x\nexpect: {rows: {}}\n",
			want: `unknown fixture "encounters"`,
		},
		{
			name: "resource without id",
			doc:  "name: a\ndescription: d\nresources: [{resourceType: Patient}]\nexpression: x\nexpect: {rows: {}}\n",
			want: "resources[0]: id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedAndUnique(t *testing.T) {
	dir := t.TempDir()
	write := func(file, name string) {
		doc := "name: " + name + "\ndescription: d\nexpression: x\nexpect: {rows: {}}\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644))
	}
	write("b.yaml", "second")
	write("a.yaml", "first")

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)

	write("c.yaml", "first")
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "first" already used by a.yaml`)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files found")
}
