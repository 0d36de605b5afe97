package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadVariables(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    map[string]any
		wantErr string
	}{
		{"yaml", "minimum: 2\nlabel: high\nratio: 0.5\nflag: true\n",
			map[string]any{"minimum": 2, "label": "high", "ratio": 0.5, "flag": true}, ""},
		{"json", `{"minimum": 2, "label": "high"}`,
			map[string]any{"minimum": 2, "label": "high"}, ""},
		{"empty", "  \n", map[string]any{}, ""},
		{"nested", "codes: [a, b]\n", nil, `variable "codes": []interface {} is not a scalar`},
		{"not a mapping", "- a\n", nil, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vars")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))

			got, err := loadVariables(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadVariables_MissingFile(t *testing.T) {
	_, err := loadVariables(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSchemaFileFromConfig(t *testing.T) {
	t.Setenv("FHIRSQL_SCHEMA_FILE", filepath.Join(t.TempDir(), "missing.cue"))

	_, stderr, code := execute(t, "types")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "loading schema")
}
