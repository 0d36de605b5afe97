// Package ast defines the closed FHIRPath expression tree consumed by the
// translator.
//
// Node is a sealed interface: only types declared in this package implement
// it. The unexported marker method keeps the vocabulary closed so that
// translators can use exhaustive type switches instead of open-ended dynamic
// dispatch.
//
// Node vocabulary:
//   - Literal: scalar constants ('abc', 42, 3.14, true, @2024-01-01, 5 'mg', {})
//   - Identifier: a member name navigated from the current focus
//   - Variable: $this, $index, $total and %environment variables
//   - Invocation: Target.Member where Member is an Identifier or FunctionCall
//   - FunctionCall: name(args...), always applied to an implicit or explicit focus
//   - Indexer: Target[Index]
//   - BinaryOp: Left op Right
//   - UnaryOp: -Operand, +Operand
//   - TypeOp: Operand is Type, Operand as Type
//
// Every node keeps the source text it was parsed from so diagnostics can
// name the exact failing sub-expression.
//
// Trees are immutable after construction. The parser builds them once and
// every later stage only reads them, which makes a tree safe to share across
// concurrent compilations.
package ast
