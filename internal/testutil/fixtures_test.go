package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtures_ValidJSON(t *testing.T) {
	for _, docs := range [][]json.RawMessage{Patients, Observations, {NullGiven}} {
		for _, d := range docs {
			assert.True(t, json.Valid(d), string(d))
		}
	}
}

func TestBundle_HoldsEveryFixture(t *testing.T) {
	var b struct {
		ResourceType string            `json:"resourceType"`
		Entry        []json.RawMessage `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(Bundle(), &b))
	assert.Equal(t, "Bundle", b.ResourceType)
	assert.Len(t, b.Entry, len(Patients)+len(Observations))
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "test-compilation", NewFixedIDGenerator("").Generate())
	g := NewFixedIDGenerator("c-1")
	assert.Equal(t, "c-1", g.Generate())
	assert.Equal(t, "c-1", g.Generate())
}
