// Package harness runs end-to-end conformance scenarios: an expression is
// compiled for SQLite, executed against an in-memory population and its
// per-record results are compared with the expected ones.
//
// # Scenario Format
//
//	name: official_family
//	description: "where() keeps element order and drops non-matching names"
//	resource_type: Patient          # default Patient
//	fixtures: [patients]            # shared populations from testutil
//	resources:                      # inline resources, any type
//	  - {resourceType: Patient, id: x1, birthDate: "2001-02-03"}
//	variables: {minimum: 2}         # bound as %minimum
//	expression: "Patient.name.where(use = 'official').family"
//	expect:
//	  rows:                         # record id -> result collection
//	    p1: [Smith]
//	    p2: [Doe]
//	    p3: []
//	  cte_count: 2                  # optional
//	  sql_contains: ["json_each"]   # optional
//
// A scenario expecting a translation failure names the code instead of
// rows:
//
//	expect:
//	  error_code: UNKNOWN_PROPERTY
//
// # Golden Results
//
// RunWithGolden snapshots the result rows to testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
