package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PatientElements(t *testing.T) {
	s := Default()

	require.True(t, s.IsResource("Patient"))
	assert.False(t, s.IsResource("HumanName"))
	assert.True(t, s.HasType("HumanName"))

	name, ok := s.Lookup("Patient", "name")
	require.True(t, ok)
	assert.True(t, name.Repeating())
	assert.Equal(t, "HumanName", name.Type())

	birthDate, ok := s.Lookup("Patient", "birthDate")
	require.True(t, ok)
	assert.False(t, birthDate.Repeating())
	assert.Equal(t, "date", birthDate.Type())

	// Inherited from the resource base
	_, ok = s.Lookup("Patient", "meta")
	assert.True(t, ok)

	_, ok = s.Lookup("Patient", "nickname")
	assert.False(t, ok)
}

func TestDefault_HumanNameCardinality(t *testing.T) {
	s := Default()

	given, ok := s.Lookup("HumanName", "given")
	require.True(t, ok)
	assert.True(t, given.Repeating())

	family, ok := s.Lookup("HumanName", "family")
	require.True(t, ok)
	assert.False(t, family.Repeating())
	assert.Equal(t, "string", family.Type())

	// Inherited from the element base
	_, ok = s.Lookup("HumanName", "extension")
	assert.True(t, ok)
}

func TestLookup_ChoiceElements(t *testing.T) {
	s := Default()

	value, ok := s.Lookup("Observation", "value")
	require.True(t, ok)
	assert.True(t, value.Choice)
	assert.Contains(t, value.Types, "Quantity")
	assert.Equal(t, "", value.Type())

	quantity, ok := s.Lookup("Observation", "valueQuantity")
	require.True(t, ok)
	assert.False(t, quantity.Choice)
	assert.Equal(t, "Quantity", quantity.Type())
	assert.Equal(t, "valueQuantity", quantity.Name)

	_, ok = s.Lookup("Observation", "valueBanana")
	assert.False(t, ok)
}

func TestElements_SortedWithChoiceBaseNames(t *testing.T) {
	elems := Default().Elements("Patient")
	require.NotEmpty(t, elems)
	assert.IsIncreasing(t, elems)
	assert.Contains(t, elems, "deceased")
	assert.NotContains(t, elems, "deceased[x]")

	assert.Nil(t, Default().Elements("Unknown"))
}

func TestChoiceProperty(t *testing.T) {
	assert.Equal(t, "valueQuantity", ChoiceProperty("value", "Quantity"))
	assert.Equal(t, "deceasedBoolean", ChoiceProperty("deceased", "boolean"))
	assert.Equal(t, "effectiveDateTime", ChoiceProperty("effective", "dateTime"))
	assert.Equal(t, "value", ChoiceProperty("value", ""))
}

func TestParse_CustomCatalogue(t *testing.T) {
	src := []byte(`
types: Device: {
	kind: "resource"
	elements: {
		serialNumber: {type: "string"}
		note: {type: "Annotation", max: "*"}
	}
}
`)
	s, err := Parse(src, "device.cue")
	require.NoError(t, err)

	assert.True(t, s.IsResource("Device"))
	note, ok := s.Lookup("Device", "note")
	require.True(t, ok)
	assert.True(t, note.Repeating())
	assert.Equal(t, []string{"Device"}, s.TypeNames())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing types", `other: 1`},
		{"bad max", `types: X: elements: a: {type: "string", max: "2"}`},
		{"choice without types", `types: X: elements: "a[x]": {type: "string"}`},
		{"element without type", `types: X: elements: a: {max: "*"}`},
		{"invalid cue", `types: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogue.cue")
	require.NoError(t, os.WriteFile(path, []byte(`types: Basic: elements: code: {type: "CodeableConcept"}`), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, s.HasType("Basic"))
	assert.False(t, s.IsResource("Basic"))

	_, err = LoadFile(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err)
}
