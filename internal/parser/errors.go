package parser

import (
	"errors"
	"fmt"
)

// SyntaxError reports a malformed FHIRPath expression.
type SyntaxError struct {
	// Pos is the byte offset of the offending token.
	Pos int

	// Message is a human-readable description.
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

func newSyntaxError(pos int, message string) *SyntaxError {
	return &SyntaxError{Pos: pos, Message: message}
}

// IsSyntaxError returns true if the error is a parse failure.
// Uses errors.As to handle wrapped errors.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}
