// Package store provides a SQLite fixture database for FHIR resources and
// executes compiled FHIRPath SQL against it.
//
// Each resource type lives in its own table named after the lower-cased
// type, with two columns:
//
//	id       TEXT PRIMARY KEY  -- the resource's logical id
//	resource TEXT NOT NULL     -- the resource as JSON
//
// This is the table layout the compiler assumes by default. Loading a
// resource whose id already exists replaces it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every load is recorded in the loads table for provenance.
package store
