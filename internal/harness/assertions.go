package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/fhirsql/internal/translator"
)

func assertError(r *Result, want Expect, got *translator.TranslationError) {
	if want.ErrorCode == "" {
		r.AddError(fmt.Sprintf("unexpected translation error: %v", got))
		return
	}
	if string(got.Code) != want.ErrorCode {
		r.AddError(fmt.Sprintf("error code: expected %s, got %s (%v)", want.ErrorCode, got.Code, got))
	}
}

func assertSQL(r *Result, want Expect) {
	if want.CTECount != nil && len(r.CTEs) != *want.CTECount {
		r.AddError(fmt.Sprintf("cte count: expected %d, got %d", *want.CTECount, len(r.CTEs)))
	}
	for _, s := range want.SQLContains {
		if !strings.Contains(r.SQL, s) {
			r.AddError(fmt.Sprintf("sql does not contain %q", s))
		}
	}
}

// assertRows compares results by value: expected and actual collections
// are both decoded from JSON, so 72 and 72.0 compare equal.
func assertRows(r *Result, want map[string][]any) {
	got := make(map[string]any, len(r.Rows))
	for _, row := range r.Rows {
		var v any
		if err := json.Unmarshal(row.Result, &v); err != nil {
			r.AddError(fmt.Sprintf("row %q: invalid result %s: %v", row.ID, row.Result, err))
			continue
		}
		got[row.ID] = v
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		exp, err := normalize(want[id])
		if err != nil {
			r.AddError(fmt.Sprintf("row %q: invalid expectation: %v", id, err))
			continue
		}
		act, ok := got[id]
		if !ok {
			r.AddError(fmt.Sprintf("row %q: missing from results", id))
			continue
		}
		if !reflect.DeepEqual(exp, act) {
			r.AddError(fmt.Sprintf("row %q: expected %s, got %s", id, mustJSON(exp), mustJSON(act)))
		}
	}

	for _, row := range r.Rows {
		if _, ok := want[row.ID]; !ok {
			r.AddError(fmt.Sprintf("row %q: unexpected result %s", row.ID, row.Result))
		}
	}
}

// normalize round-trips a YAML value through JSON so it has the same Go
// representation as a decoded result.
func normalize(v []any) (any, error) {
	if v == nil {
		v = []any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(data, &out)
	return out, err
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
