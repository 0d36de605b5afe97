package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fhirsql/internal/dialect"
	"github.com/roach88/fhirsql/internal/dialect/postgres"
	"github.com/roach88/fhirsql/internal/dialect/sqlite"
)

var dialects = map[string]func() dialect.Dialect{
	"sqlite":   func() dialect.Dialect { return sqlite.New() },
	"postgres": func() dialect.Dialect { return postgres.New() },
}

// DialectByName returns a dialect by name, case-insensitively. "" selects
// SQLite.
func DialectByName(name string) (dialect.Dialect, error) {
	if name == "" {
		return sqlite.New(), nil
	}
	mk, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (available: %s)", name, strings.Join(DialectNames(), ", "))
	}
	return mk(), nil
}

// DialectNames lists the supported dialects, sorted.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyntaxCheckFor returns the statement validator for a dialect, or nil
// when none exists.
func SyntaxCheckFor(d dialect.Dialect) func(string) error {
	if _, ok := d.(postgres.Dialect); ok {
		return postgres.Validate
	}
	return nil
}
