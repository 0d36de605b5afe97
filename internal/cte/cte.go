// Package cte turns translator fragments into common table expressions and
// assembles them into one WITH ... SELECT statement.
//
// The Builder wraps each fragment into a CTE query (unnest, projection or
// per-record aggregate) using dialect syntax only. The assembler orders CTEs
// so that every CTE follows the ones it reads, breaking ties by creation
// order, and refuses graphs that reference unknown names or contain cycles.
package cte

// CTE is one named query of a WITH clause.
type CTE struct {
	// Name is unique within a compilation.
	Name string `json:"name"`

	// Query is the SELECT statement, without surrounding parentheses.
	Query string `json:"query"`

	// Dependencies lists the CTE names Query reads, in first-use order.
	Dependencies []string `json:"dependencies,omitempty"`
}
