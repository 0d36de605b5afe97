package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplain_Text(t *testing.T) {
	stdout, stderr, code := execute(t, "explain", "Patient.name.given")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "expression: Patient.name.given")
	assert.Contains(t, stdout, " 2. cte_2  unnest      from cte_1  <- cte_1")
}

func TestExplain_JSON(t *testing.T) {
	stdout, stderr, code := execute(t, "--format", "json", "explain", "Patient.name.given")
	require.Equal(t, ExitSuccess, code, stderr)

	var resp struct {
		Data struct {
			SQL   string `json:"sql"`
			Steps []struct {
				Name   string `json:"name"`
				Kind   string `json:"kind"`
				Source string `json:"source"`
			} `json:"steps"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data.Steps, 2)
	assert.Equal(t, "patient", resp.Data.Steps[0].Source)
	assert.Equal(t, "cte_1", resp.Data.Steps[1].Source)
	assert.NotEmpty(t, resp.Data.SQL)
}

func TestExplain_Error(t *testing.T) {
	stdout, _, code := execute(t, "explain", "Patient.name.ofType(Banana)")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "Error [UNKNOWN_TYPE]")
}

func TestTypes_Text(t *testing.T) {
	stdout, stderr, code := execute(t, "types")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Quantity\n")
	assert.NotContains(t, stdout, "where()")

	stdout, _, code = execute(t, "types", "--functions")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "where()\n")
}

func TestTypes_JSON(t *testing.T) {
	stdout, _, code := execute(t, "--format", "json", "types")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data TypesResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Contains(t, resp.Data.Types, "Patient")
	assert.Empty(t, resp.Data.Functions)
}
