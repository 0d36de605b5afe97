package translator

import (
	"errors"
	"fmt"
	"strings"
)

// TranslationError reports an expression the translator cannot compile:
// bad arity, unknown function, property or type, or a construct the target
// dialect cannot express. It always names the offending construct.
type TranslationError struct {
	// Code identifies the error category.
	Code TranslationErrorCode

	// Construct is the source text of the failing sub-expression.
	Construct string

	// Message is a human-readable description.
	Message string

	// Expected and Actual describe arity mismatches ("1", "0-1").
	Expected string
	Actual   string

	// Candidates lists valid alternatives (sibling properties, type names).
	Candidates []string
}

// TranslationErrorCode categorizes translation errors.
type TranslationErrorCode string

const (
	// ErrCodeWrongArity indicates a function called with the wrong number
	// of arguments.
	ErrCodeWrongArity TranslationErrorCode = "WRONG_ARITY"

	// ErrCodeUnknownFunction indicates a function name that is not defined.
	ErrCodeUnknownFunction TranslationErrorCode = "UNKNOWN_FUNCTION"

	// ErrCodeUnknownProperty indicates navigation to a property the schema
	// does not define for the current type.
	ErrCodeUnknownProperty TranslationErrorCode = "UNKNOWN_PROPERTY"

	// ErrCodeUnknownType indicates a type specifier that does not resolve.
	ErrCodeUnknownType TranslationErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnsupported indicates a valid construct the translator or the
	// target dialect cannot express.
	ErrCodeUnsupported TranslationErrorCode = "UNSUPPORTED"

	// ErrCodeUnknownVariable indicates a $ or % variable with no binding.
	ErrCodeUnknownVariable TranslationErrorCode = "UNKNOWN_VARIABLE"

	// ErrCodeInvalidArgument indicates an argument of the wrong form, such
	// as a non-integer index.
	ErrCodeInvalidArgument TranslationErrorCode = "INVALID_ARGUMENT"
)

// maxListedCandidates bounds the candidates rendered by Error(). The full
// list stays available in Candidates.
const maxListedCandidates = 12

// Error implements the error interface.
func (e *TranslationError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Construct != "" {
		fmt.Fprintf(&sb, " (in %q)", e.Construct)
	}
	if len(e.Candidates) > 0 {
		shown := e.Candidates
		if len(shown) > maxListedCandidates {
			shown = shown[:maxListedCandidates]
		}
		sb.WriteString("; valid: ")
		sb.WriteString(strings.Join(shown, ", "))
		if len(e.Candidates) > len(shown) {
			fmt.Fprintf(&sb, ", ... (%d more)", len(e.Candidates)-len(shown))
		}
	}
	return sb.String()
}

// IsTranslationError reports whether err wraps a TranslationError.
func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

// ErrorCode returns the code of a wrapped TranslationError, "" otherwise.
func ErrorCode(err error) TranslationErrorCode {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// NewArityError creates a TranslationError for a wrong argument count.
func NewArityError(construct, function, expected string, actual int) *TranslationError {
	return &TranslationError{
		Code:      ErrCodeWrongArity,
		Construct: construct,
		Message:   fmt.Sprintf("%s() takes %s argument(s), got %d", function, expected, actual),
		Expected:  expected,
		Actual:    fmt.Sprintf("%d", actual),
	}
}

// NewUnknownFunctionError creates a TranslationError for an undefined
// function.
func NewUnknownFunctionError(construct, function string, candidates []string) *TranslationError {
	return &TranslationError{
		Code:       ErrCodeUnknownFunction,
		Construct:  construct,
		Message:    fmt.Sprintf("unknown function %s()", function),
		Candidates: candidates,
	}
}

// NewUnknownPropertyError creates a TranslationError for a property that
// is not defined on typeName. Candidates are the valid sibling properties.
func NewUnknownPropertyError(construct, typeName, property string, candidates []string) *TranslationError {
	return &TranslationError{
		Code:       ErrCodeUnknownProperty,
		Construct:  construct,
		Message:    fmt.Sprintf("%s has no property %q", typeName, property),
		Candidates: candidates,
	}
}

// NewUnknownTypeError creates a TranslationError for an unresolvable type
// specifier. Candidates are the canonical type names.
func NewUnknownTypeError(construct, typeName string, candidates []string) *TranslationError {
	return &TranslationError{
		Code:       ErrCodeUnknownType,
		Construct:  construct,
		Message:    fmt.Sprintf("unknown type %q", typeName),
		Candidates: candidates,
	}
}

// NewUnsupportedError creates a TranslationError for a construct that
// cannot be expressed.
func NewUnsupportedError(construct, message string) *TranslationError {
	return &TranslationError{
		Code:      ErrCodeUnsupported,
		Construct: construct,
		Message:   message,
	}
}

func newUnknownVariableError(construct, name string) *TranslationError {
	return &TranslationError{
		Code:      ErrCodeUnknownVariable,
		Construct: construct,
		Message:   fmt.Sprintf("variable %s is not defined", name),
	}
}

func newInvalidArgumentError(construct, message string) *TranslationError {
	return &TranslationError{
		Code:      ErrCodeInvalidArgument,
		Construct: construct,
		Message:   message,
	}
}
