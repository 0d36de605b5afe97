package translator

import (
	"maps"
	"slices"
)

// Kind describes how a fragment's expression evaluates.
type Kind int

const (
	// KindJSON expressions evaluate to JSON (or NULL for empty).
	KindJSON Kind = iota

	// KindScalar expressions evaluate to a native SQL value.
	KindScalar
)

func (k Kind) String() string {
	if k == KindScalar {
		return "scalar"
	}
	return "json"
}

// Metadata keys understood by the CTE builder.
const (
	MetaArrayColumn  = "array_column"  // array expression to unnest
	MetaResultAlias  = "result_alias"  // output column holding the value
	MetaIDColumn     = "id_column"     // record identity column
	MetaCTEName      = "cte_name"      // name reserved for the fragment's CTE
	MetaElementAlias = "element_alias" // lateral alias of the unnested item
	MetaSourceOrd    = "source_ord"    // ordering column of the source rows
	MetaFilter       = "filter"        // boolean predicate restricting rows
	MetaOrdinal      = "ordinal"       // ordering key expression of the output rows
)

// Fragment is one translated SQL expression plus the facts needed to embed
// it. Fragments are values: methods that change a field return a copy.
type Fragment struct {
	// Expression is the SQL expression text.
	Expression string

	// SourceTable is the row source the expression reads from, "" when it
	// reads no table (literals and their combinations).
	SourceTable string

	// RequiresUnnest marks a fragment that flattens an array into rows.
	RequiresUnnest bool

	// IsAggregate marks a fragment that regroups rows per record.
	IsAggregate bool

	// Dependencies lists CTE names the fragment reads, in first-use order.
	Dependencies []string

	// Metadata carries builder instructions (see the Meta* keys).
	Metadata map[string]string

	// Kind tells whether Expression is JSON or a native scalar.
	Kind Kind

	// Type is the canonical type of the value, "" when unknown.
	Type string

	// Collection is true when the expression may hold several items and is
	// therefore read as a JSON array.
	Collection bool
}

// Meta returns a metadata value, "" when absent.
func (f Fragment) Meta(key string) string {
	return f.Metadata[key]
}

// WithMeta returns a copy with one metadata entry set.
func (f Fragment) WithMeta(key, value string) Fragment {
	out := f.clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string)
	}
	out.Metadata[key] = value
	return out
}

// WithExpression returns a copy with a new expression and the same facts.
func (f Fragment) WithExpression(expr string) Fragment {
	out := f.clone()
	out.Expression = expr
	return out
}

func (f Fragment) clone() Fragment {
	out := f
	out.Dependencies = slices.Clone(f.Dependencies)
	out.Metadata = maps.Clone(f.Metadata)
	return out
}

// mergeSources combines the source tables and dependencies of operands into
// a result fragment. The first operand that reads a table wins; compiled
// operands always share a row source.
func mergeSources(result Fragment, operands ...Fragment) Fragment {
	for _, op := range operands {
		if result.SourceTable == "" {
			result.SourceTable = op.SourceTable
		}
		for _, dep := range op.Dependencies {
			if !slices.Contains(result.Dependencies, dep) {
				result.Dependencies = append(result.Dependencies, dep)
			}
		}
	}
	return result
}

// VariableBinding is a fragment bound to a name ($this, $total, %var) for
// the lifetime of a scope.
type VariableBinding struct {
	Expression     string
	SourceTable    string
	RequiresUnnest bool
	IsAggregate    bool
	Dependencies   []string
	Kind           Kind
	Type           string
	Collection     bool
}

// Binding converts a fragment into a variable binding.
func (f Fragment) Binding() VariableBinding {
	return VariableBinding{
		Expression:     f.Expression,
		SourceTable:    f.SourceTable,
		RequiresUnnest: f.RequiresUnnest,
		IsAggregate:    f.IsAggregate,
		Dependencies:   slices.Clone(f.Dependencies),
		Kind:           f.Kind,
		Type:           f.Type,
		Collection:     f.Collection,
	}
}

// Fragment converts the binding back into a fragment.
func (b VariableBinding) Fragment() Fragment {
	return Fragment{
		Expression:     b.Expression,
		SourceTable:    b.SourceTable,
		RequiresUnnest: b.RequiresUnnest,
		IsAggregate:    b.IsAggregate,
		Dependencies:   slices.Clone(b.Dependencies),
		Kind:           b.Kind,
		Type:           b.Type,
		Collection:     b.Collection,
	}
}
