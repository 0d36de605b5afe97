// Package types resolves FHIRPath type specifiers to canonical type names.
//
// Every spelling of a type (System.String, FHIR.code, "STRING") resolves to
// the one canonical name the translator and dialects use to generate type
// syntax. Resolution is case-insensitive after Unicode NFC normalization.
package types

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fhirsql/internal/schema"
)

// Canonical primitive type names.
const (
	Boolean  = "boolean"
	String   = "string"
	Integer  = "integer"
	Decimal  = "decimal"
	Date     = "date"
	DateTime = "dateTime"
	Time     = "time"
	Quantity = "Quantity"
)

// Primitives lists the canonical primitive names in declaration order.
var Primitives = []string{Boolean, String, Integer, Decimal, Date, DateTime, Time, Quantity}

// aliases maps FHIR primitive types onto the canonical primitive they are
// represented as in JSON.
var aliases = map[string]string{
	"code":         String,
	"id":           String,
	"uri":          String,
	"url":          String,
	"canonical":    String,
	"oid":          String,
	"uuid":         String,
	"markdown":     String,
	"base64Binary": String,
	"xhtml":        String,
	"unsignedInt":  Integer,
	"positiveInt":  Integer,
	"integer64":    Integer,
	"instant":      DateTime,
}

// namespaces are the qualifier prefixes stripped before lookup.
var namespaces = []string{"System.", "FHIR."}

// Registry resolves type names. Immutable after construction and safe for
// concurrent use.
type Registry struct {
	// byKey maps folded spelling to canonical name.
	byKey map[string]string

	// canonical holds every canonical name, sorted.
	canonical []string
}

// NewRegistry builds a registry over the primitive types plus every type the
// schema catalogues. A nil schema registers primitives only.
func NewRegistry(s *schema.Schema) *Registry {
	r := &Registry{byKey: make(map[string]string)}

	for _, name := range Primitives {
		r.add(name, name)
	}
	if s != nil {
		for _, name := range s.TypeNames() {
			r.add(name, name)
		}
	}
	for alias, canonical := range aliases {
		r.byKey[fold(alias)] = canonical
	}

	sort.Strings(r.canonical)
	return r
}

// Default returns a registry over the embedded schema.
func Default() *Registry {
	return NewRegistry(schema.Default())
}

func (r *Registry) add(spelling, canonical string) {
	key := fold(spelling)
	if _, exists := r.byKey[key]; exists {
		return
	}
	r.byKey[key] = canonical
	r.canonical = append(r.canonical, canonical)
}

// ResolveToCanonical resolves a type specifier. The second result is false
// when the name is unknown.
func (r *Registry) ResolveToCanonical(name string) (string, bool) {
	name = strings.TrimSpace(norm.NFC.String(name))
	name = strings.Trim(name, "`")
	for _, ns := range namespaces {
		if len(name) > len(ns) && strings.EqualFold(name[:len(ns)], ns) {
			name = name[len(ns):]
			break
		}
	}
	if name == "" {
		return "", false
	}
	canonical, ok := r.byKey[fold(name)]
	return canonical, ok
}

// AllTypeNames returns every canonical name, sorted. Aliases are not listed.
func (r *Registry) AllTypeNames() []string {
	out := make([]string, len(r.canonical))
	copy(out, r.canonical)
	return out
}

// IsPrimitive reports whether canonical is one of the primitive names.
func IsPrimitive(canonical string) bool {
	for _, p := range Primitives {
		if p == canonical {
			return true
		}
	}
	return false
}

// fold produces the lookup key for a spelling. A fresh caser per call keeps
// Registry free of shared mutable state; cases.Caser is not goroutine-safe.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
