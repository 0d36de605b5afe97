package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: given
description: d
fixtures: [patients]
expression: Patient.name.given
expect:
  rows:
    p1: [John, Q, Johnny]
    p2: [Jane]
    p3: []
`

const failingScenario = `name: wrong
description: d
fixtures: [patients]
expression: Patient.name.given
expect:
  rows:
    p1: [John]
    p2: [Jane]
    p3: []
`

func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
	}
	return dir
}

func TestTest_AllPass(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"given.yaml": passingScenario, "notes.txt": "ignored"})

	stdout, stderr, code := execute(t, "test", dir)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "✓ given")
	assert.Contains(t, stdout, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTest_Failure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"a.yaml": passingScenario, "b.yaml": failingScenario})

	stdout, stderr, code := execute(t, "test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ wrong")
	assert.Contains(t, stdout, `row "p1": expected ["John"], got ["John","Q","Johnny"]`)
	assert.Contains(t, stdout, "Test Summary: 1 passed, 1 failed, 2 total")
	assert.Empty(t, stderr)
}

func TestTest_JSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"a.yaml": passingScenario, "b.yaml": failingScenario})

	stdout, _, code := execute(t, "--format", "json", "test", dir)
	assert.Equal(t, ExitFailure, code)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTest_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"a.yaml": passingScenario, "b.yaml": failingScenario})

	stdout, _, code := execute(t, "test", dir, "--filter", "a*")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "1 total")
}

func TestTest_GoldenUpdateAndMismatch(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"given.yaml": passingScenario})

	stdout, _, code := execute(t, "test", dir, "--update")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "✓ given (golden updated)")

	golden := filepath.Join(dir, "golden", "given.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, "# given\n# Patient.name.given\np1 [\"John\",\"Q\",\"Johnny\"]\np2 [\"Jane\"]\np3 []\n", string(data))

	_, _, code = execute(t, "test", dir)
	assert.Equal(t, ExitSuccess, code)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	stdout, _, code = execute(t, "test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "rows do not match golden file")
}

func TestTest_InvalidScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"bad.yaml": "name: x\n"})

	stdout, _, code := execute(t, "test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ bad.yaml")
	assert.Contains(t, stdout, "failed to load scenario")
}

func TestTest_MissingDirectory(t *testing.T) {
	_, stderr, code := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")
}
