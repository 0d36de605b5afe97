package harness

import (
	"github.com/roach88/fhirsql/internal/store"
)

// Result is the outcome of one scenario.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	Scenario string `json:"scenario"`

	// SQL is the compiled statement. Empty when compilation failed.
	SQL string `json:"sql,omitempty"`

	// CTEs lists the CTE names in assembly order.
	CTEs []string `json:"ctes,omitempty"`

	Rows []store.Row `json:"rows,omitempty"`

	// ErrorCode is the TranslationError code of a failed compilation.
	ErrorCode string `json:"error_code,omitempty"`

	// Errors lists every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(name string) *Result {
	return &Result{Pass: true, Scenario: name, Errors: []string{}}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
