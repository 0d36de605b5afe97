// Package translator turns a FHIRPath AST into SQL fragments.
//
// Translation runs in two modes. The top-level invocation chain (the
// "spine") is translated into a sequence of row sources: navigation that
// must iterate an array emits an unnest fragment, filtering emits a
// projection fragment, and collection-level functions regroup rows per
// record with an aggregate fragment. Every such fragment becomes a CTE.
// Function arguments and operator operands are translated inline as
// correlated expressions over the current row, so they never add CTEs.
//
// All per-compilation state lives in a Context: the current row source,
// the variable scope stack, CTE and alias counters, and the fragments
// emitted so far. A Translator holds configuration only and may be shared
// between goroutines; a Context may not.
//
// Population-first: no translation selects "the first element" by limiting
// rows. first() indexes the JSON path, and collection-level functions group
// by the record identity column from the driving table, so every record
// yields a row.
package translator
