// Package dialect defines the syntax boundary between the translator and a
// target SQL engine.
//
// A Dialect is a set of pure, stateless functions that turn SQL expression
// text into other SQL expression text. Dialects make no decisions: the
// translator decides what to compute, the dialect only spells it. Two
// conforming dialects given equivalent inputs must produce logically
// equivalent results when executed, even though the emitted text differs.
//
// Value conventions shared by every method:
//
//   - A JSON expression evaluates to a JSON document (TEXT holding JSON in
//     SQLite, jsonb in PostgreSQL) or SQL NULL, which stands for the empty
//     collection.
//   - An array expression is a JSON expression read as a collection. A JSON
//     array is the collection itself, a JSON null or SQL NULL is empty, and
//     any other value is a single-item collection.
//   - A scalar expression evaluates to a native SQL value.
//   - Canonical type names are the ones produced by the types package.
package dialect

// Dialect generates engine-specific SQL syntax.
type Dialect interface {
	// Name identifies the dialect in diagnostics. The translator never
	// branches on it.
	Name() string

	// ExtractJSONField navigates a JSON expression along a path written as
	// "$.name[0].given". The result is a JSON expression, NULL when the path
	// does not exist.
	ExtractJSONField(source, path string) string

	// GenerateLateralUnnest returns a complete FROM clause body joining
	// sourceTable with one row per item of arrayExpr, exposed under alias.
	// Pure syntax: it performs no validation and may ignore sourceTable when
	// arrayExpr is already qualified.
	GenerateLateralUnnest(sourceTable, arrayExpr, alias string) string

	// UnnestElement is the JSON expression for the current item of an unnest
	// or map alias.
	UnnestElement(alias string) string

	// UnnestOrdinal is the zero-based integer position of the current item.
	UnnestOrdinal(alias string) string

	// GenerateOrdinalKey extends a text ordering key with one more ordinal
	// so that keys sort lexically in document order across nested unnests.
	GenerateOrdinalKey(parentKey, ordinal string) string

	// GenerateArrayAggregate is an aggregate expression collecting the
	// non-NULL JSON values of valueExpr into a JSON array, ordered by
	// orderExpr when it is non-empty. Zero rows yield an empty array.
	GenerateArrayAggregate(valueExpr, orderExpr string) string

	// GenerateArrayMap is a correlated sub-query evaluating projection once
	// per item of arrayExpr (items exposed under alias) where predicate holds.
	// NULL projections are dropped. With flatten set, array projections are
	// spliced into the result. The result is always a JSON array.
	GenerateArrayMap(arrayExpr, alias, projection, predicate string, flatten bool) string

	// GenerateArraySum sums a numeric scalar projection over the items of
	// arrayExpr. The empty collection yields NULL.
	GenerateArraySum(arrayExpr, alias, projection string) string

	// GenerateArraySkip drops the first skipCount items. Counts at or below
	// zero return every item.
	GenerateArraySkip(arrayExpr, skipCount string) string

	// GenerateArrayTake keeps the first takeCount items.
	GenerateArrayTake(arrayExpr, takeCount string) string

	// GenerateArrayLast selects the final item as a JSON expression.
	GenerateArrayLast(arrayExpr string) string

	// GetJSONArrayLength counts the items of arrayExpr.
	GetJSONArrayLength(expr string) string

	// GenerateTypeCheck is a boolean test of whether a single JSON value is
	// an instance of the canonical type.
	GenerateTypeCheck(expr, canonical string) string

	// GenerateTypeCast converts a scalar to the native type of canonical.
	GenerateTypeCast(expr, canonical string) string

	// GenerateCollectionFilter keeps the items of arrayExpr that are
	// instances of canonical. The result is a JSON array.
	GenerateCollectionFilter(arrayExpr, canonical string) string

	// JSONToScalar reads a single JSON value as a native scalar of the
	// canonical type.
	JSONToScalar(expr, canonical string) string

	// ScalarToJSON wraps a native scalar of the canonical type as JSON.
	// NULL stays NULL.
	ScalarToJSON(expr, canonical string) string

	// StringConcat concatenates two string scalars.
	StringConcat(left, right string) string

	// GenerateStringFunction spells a FHIRPath string function. args[0] is
	// the input string. The second result is false when the dialect cannot
	// express the function.
	GenerateStringFunction(name string, args []string) (string, bool)

	// GenerateMathFunction spells a FHIRPath math function. args[0] is the
	// input number.
	GenerateMathFunction(name string, args []string) (string, bool)

	// NativeType maps a canonical primitive type to the engine's type name.
	NativeType(canonical string) (string, bool)
}

// QuoteString renders a SQL string literal. Both supported engines accept
// standard single-quoted literals with doubled quotes.
func QuoteString(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
