package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result for golden comparison: the scenario name and
// expression, then one "<id> <result>" line per row in query order. Failed
// compilations render their error code instead of rows.
func Snapshot(s *Scenario, r *Result) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n", s.Name)
	fmt.Fprintf(&b, "# %s\n", s.Expression)
	if r.ErrorCode != "" {
		fmt.Fprintf(&b, "error %s\n", r.ErrorCode)
		return b.Bytes()
	}
	for _, row := range r.Rows {
		id := row.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(&b, "%s %s\n", id, row.Result)
	}
	return b.Bytes()
}

// RunWithGolden executes a scenario, fails the test on any failed
// expectation and compares the rows with testdata/golden/<name>.golden.
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		t.Fatalf("scenario %s: %v", s.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("scenario %s: %s", s.Name, e)
	}
	AssertGolden(t, s, result)
	return result
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, s *Scenario, r *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, Snapshot(s, r))
}
