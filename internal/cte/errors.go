package cte

import (
	"errors"
	"fmt"
	"strings"
)

// AssemblyErrorCode categorizes assembly failures.
type AssemblyErrorCode string

const (
	// ErrCodeCycle indicates CTEs that depend on each other.
	ErrCodeCycle AssemblyErrorCode = "CYCLE_DETECTED"

	// ErrCodeDanglingReference indicates a dependency on an unknown CTE.
	ErrCodeDanglingReference AssemblyErrorCode = "DANGLING_REFERENCE"

	// ErrCodeUndeclaredReference indicates a query that mentions another
	// CTE without declaring the dependency.
	ErrCodeUndeclaredReference AssemblyErrorCode = "UNDECLARED_REFERENCE"

	// ErrCodeDuplicateName indicates two CTEs with one name.
	ErrCodeDuplicateName AssemblyErrorCode = "DUPLICATE_NAME"

	// ErrCodeMissingName indicates a fragment with no reserved CTE name.
	ErrCodeMissingName AssemblyErrorCode = "MISSING_NAME"

	// ErrCodeMissingArrayExpression indicates an unnest fragment without
	// the array to flatten.
	ErrCodeMissingArrayExpression AssemblyErrorCode = "MISSING_ARRAY_EXPRESSION"

	// ErrCodeEmptySourceTable indicates a fragment with nothing to read.
	ErrCodeEmptySourceTable AssemblyErrorCode = "EMPTY_SOURCE_TABLE"
)

// AssemblyError reports a broken CTE graph. Valid expressions never produce
// one; it always points at a translator defect.
type AssemblyError struct {
	Code    AssemblyErrorCode
	Message string

	// CTE names the offending CTE, when there is one.
	CTE string

	// Cycle holds the cycle path for ErrCodeCycle, first name repeated at
	// the end: [cte_1, cte_2, cte_1].
	Cycle []string
}

func (e *AssemblyError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Code, e.Message)
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(e.Cycle, " → "))
	}
	return sb.String()
}

// IsAssemblyError reports whether err wraps an AssemblyError.
func IsAssemblyError(err error) bool {
	var ae *AssemblyError
	return errors.As(err, &ae)
}

func newAssemblyError(code AssemblyErrorCode, cte, format string, args ...any) *AssemblyError {
	return &AssemblyError{Code: code, CTE: cte, Message: fmt.Sprintf(format, args...)}
}
