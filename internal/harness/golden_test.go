package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fhirsql/internal/store"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			RunWithGolden(t, s)
		})
	}
}

func TestSnapshot(t *testing.T) {
	s := &Scenario{Name: "n", Expression: "2 + 3"}

	got := Snapshot(s, &Result{Rows: []store.Row{{ID: "", Result: []byte(`[5]`)}}})
	assert.Equal(t, "# n\n# 2 + 3\n- [5]\n", string(got))

	got = Snapshot(s, &Result{ErrorCode: "UNSUPPORTED"})
	assert.Equal(t, "# n\n# 2 + 3\nerror UNSUPPORTED\n", string(got))
}
