package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveToCanonical_Spellings(t *testing.T) {
	r := Default()

	tests := []struct {
		input string
		want  string
	}{
		{"string", "string"},
		{"String", "string"},
		{"STRING", "string"},
		{"code", "string"},
		{"Code", "string"},
		{"FHIR.code", "string"},
		{"System.String", "string"},
		{"uri", "string"},
		{"positiveInt", "integer"},
		{"Integer", "integer"},
		{"instant", "dateTime"},
		{"DateTime", "dateTime"},
		{"quantity", "Quantity"},
		{"FHIR.Quantity", "Quantity"},
		{"humanname", "HumanName"},
		{"Patient", "Patient"},
		{"  boolean ", "boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := r.ResolveToCanonical(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveToCanonical_Unknown(t *testing.T) {
	r := Default()

	for _, name := range []string{"", "Banana", "FHIR.", "System.Nope"} {
		_, ok := r.ResolveToCanonical(name)
		assert.False(t, ok, name)
	}
}

func TestResolveToCanonical_NormalizesUnicode(t *testing.T) {
	r := NewRegistry(nil)

	// "ſtring" folds the long s to "s"
	got, ok := r.ResolveToCanonical("ſtring")
	require.True(t, ok)
	assert.Equal(t, "string", got)
}

func TestAllTypeNames_SortedCanonicalOnly(t *testing.T) {
	names := Default().AllTypeNames()

	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "string")
	assert.Contains(t, names, "Quantity")
	assert.Contains(t, names, "Patient")
	assert.NotContains(t, names, "code")

	// Quantity is both a primitive and a schema type; listed once
	count := 0
	for _, n := range names {
		if n == "Quantity" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAllTypeNames_ReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	names := r.AllTypeNames()
	names[0] = "mutated"
	assert.NotEqual(t, "mutated", r.AllTypeNames()[0])
}

func TestIsPrimitive(t *testing.T) {
	assert.True(t, IsPrimitive("string"))
	assert.True(t, IsPrimitive("Quantity"))
	assert.False(t, IsPrimitive("HumanName"))
}
