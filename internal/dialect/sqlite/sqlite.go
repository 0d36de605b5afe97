// Package sqlite implements the SQLite dialect on top of the JSON1
// functions and the -> / ->> operators (SQLite 3.44 or newer, for ORDER BY
// inside aggregate calls).
//
// JSON values are TEXT. Items produced by json_each are re-encoded as JSON
// text so that every value the translator handles is valid JSON.
package sqlite

import (
	"fmt"

	"github.com/roach88/fhirsql/internal/dialect"
)

// Dialect is the SQLite dialect. The zero value is ready to use.
type Dialect struct{}

var _ dialect.Dialect = Dialect{}

// New returns the SQLite dialect.
func New() Dialect { return Dialect{} }

// Name implements dialect.Dialect.
func (Dialect) Name() string { return "sqlite" }

// ExtractJSONField implements dialect.Dialect.
func (Dialect) ExtractJSONField(source, path string) string {
	return fmt.Sprintf("(%s -> %s)", source, dialect.QuoteString(path))
}

// normalize reads any JSON expression as a JSON array.
func normalize(expr string) string {
	return fmt.Sprintf(
		"(CASE WHEN %[1]s IS NULL OR json_type(%[1]s) = 'null' THEN '[]' WHEN json_type(%[1]s) = 'array' THEN %[1]s ELSE json_array(json(%[1]s)) END)",
		expr)
}

// GenerateLateralUnnest implements dialect.Dialect. json_each correlates
// with tables to its left, so a comma join is lateral.
func (Dialect) GenerateLateralUnnest(sourceTable, arrayExpr, alias string) string {
	return fmt.Sprintf("%s, json_each(%s) AS %s", sourceTable, normalize(arrayExpr), alias)
}

// UnnestElement implements dialect.Dialect. json_each exposes strings and
// numbers as SQL values, so they are quoted back into JSON.
func (Dialect) UnnestElement(alias string) string {
	return fmt.Sprintf(
		"(CASE %[1]s.type WHEN 'object' THEN %[1]s.value WHEN 'array' THEN %[1]s.value WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' WHEN 'null' THEN NULL ELSE json_quote(%[1]s.value) END)",
		alias)
}

// UnnestOrdinal implements dialect.Dialect.
func (Dialect) UnnestOrdinal(alias string) string {
	return alias + ".key"
}

// GenerateOrdinalKey implements dialect.Dialect.
func (Dialect) GenerateOrdinalKey(parentKey, ordinal string) string {
	return fmt.Sprintf("printf('%%s%%08d', %s, %s)", parentKey, ordinal)
}

// GenerateArrayAggregate implements dialect.Dialect.
func (Dialect) GenerateArrayAggregate(valueExpr, orderExpr string) string {
	order := ""
	if orderExpr != "" {
		order = " ORDER BY " + orderExpr
	}
	return fmt.Sprintf("COALESCE(json_group_array(json(%[1]s)%[2]s) FILTER (WHERE %[1]s IS NOT NULL), '[]')", valueExpr, order)
}

// GenerateArrayMap implements dialect.Dialect.
func (d Dialect) GenerateArrayMap(arrayExpr, alias, projection, predicate string, flatten bool) string {
	where := ""
	if predicate != "" {
		where = " WHERE " + predicate
	}
	if flatten {
		inner := alias + "_f"
		return fmt.Sprintf("(SELECT %s FROM json_each(%s) AS %s, json_each(%s) AS %s%s)",
			d.GenerateArrayAggregate(d.UnnestElement(inner), alias+".key, "+inner+".key"),
			normalize(arrayExpr), alias, normalize(projection), inner, where)
	}
	return fmt.Sprintf("(SELECT %s FROM json_each(%s) AS %s%s)",
		d.GenerateArrayAggregate(projection, alias+".key"),
		normalize(arrayExpr), alias, where)
}

// GenerateArraySum implements dialect.Dialect.
func (Dialect) GenerateArraySum(arrayExpr, alias, projection string) string {
	return fmt.Sprintf("(SELECT SUM(%s) FROM json_each(%s) AS %s)", projection, normalize(arrayExpr), alias)
}

func (d Dialect) slice(arrayExpr, cond string) string {
	const alias = "slice_e"
	return fmt.Sprintf("(SELECT %s FROM json_each(%s) AS %s WHERE %s.key %s)",
		d.GenerateArrayAggregate(d.UnnestElement(alias), alias+".key"),
		normalize(arrayExpr), alias, alias, cond)
}

// GenerateArraySkip implements dialect.Dialect.
func (d Dialect) GenerateArraySkip(arrayExpr, skipCount string) string {
	return d.slice(arrayExpr, ">= "+skipCount)
}

// GenerateArrayTake implements dialect.Dialect.
func (d Dialect) GenerateArrayTake(arrayExpr, takeCount string) string {
	return d.slice(arrayExpr, "< "+takeCount)
}

// GenerateArrayLast implements dialect.Dialect.
func (Dialect) GenerateArrayLast(arrayExpr string) string {
	return fmt.Sprintf("(%s -> '$[#-1]')", normalize(arrayExpr))
}

// GetJSONArrayLength implements dialect.Dialect.
func (Dialect) GetJSONArrayLength(expr string) string {
	return fmt.Sprintf("json_array_length(%s)", normalize(expr))
}

// GenerateTypeCheck implements dialect.Dialect.
func (Dialect) GenerateTypeCheck(expr, canonical string) string {
	text := fmt.Sprintf("(%s ->> '$')", expr)
	switch canonical {
	case "boolean":
		return fmt.Sprintf("(json_type(%s) IN ('true', 'false'))", expr)
	case "integer":
		return fmt.Sprintf("(json_type(%s) = 'integer')", expr)
	case "decimal":
		return fmt.Sprintf("(json_type(%s) IN ('integer', 'real'))", expr)
	case "string":
		return fmt.Sprintf("(json_type(%s) = 'text')", expr)
	case "date":
		return fmt.Sprintf("(json_type(%s) = 'text' AND %s GLOB '[0-9][0-9][0-9][0-9]*' AND instr(%s, 'T') = 0)", expr, text, text)
	case "dateTime":
		return fmt.Sprintf("(json_type(%s) = 'text' AND %s GLOB '[0-9][0-9][0-9][0-9]*')", expr, text)
	case "time":
		return fmt.Sprintf("(json_type(%s) = 'text' AND %s GLOB '[0-9][0-9]:[0-9][0-9]*')", expr, text)
	case "Quantity":
		return fmt.Sprintf("(json_type(%s) = 'object' AND json_type(%s, '$.value') IN ('integer', 'real'))", expr, expr)
	}
	// Complex types: resources must carry a matching resourceType,
	// datatypes carry none.
	quoted := dialect.QuoteString(canonical)
	return fmt.Sprintf("(json_type(%s) = 'object' AND COALESCE(%s ->> '$.resourceType', %s) = %s)", expr, expr, quoted, quoted)
}

// GenerateTypeCast implements dialect.Dialect.
func (d Dialect) GenerateTypeCast(expr, canonical string) string {
	if canonical == "boolean" {
		return fmt.Sprintf(
			"(CASE lower(CAST(%[1]s AS TEXT)) WHEN 'true' THEN TRUE WHEN 't' THEN TRUE WHEN 'yes' THEN TRUE WHEN 'y' THEN TRUE WHEN '1' THEN TRUE WHEN '1.0' THEN TRUE WHEN 'false' THEN FALSE WHEN 'f' THEN FALSE WHEN 'no' THEN FALSE WHEN 'n' THEN FALSE WHEN '0' THEN FALSE WHEN '0.0' THEN FALSE END)",
			expr)
	}
	native, ok := d.NativeType(canonical)
	if !ok {
		native = "TEXT"
	}
	return fmt.Sprintf("CAST(%s AS %s)", expr, native)
}

// GenerateCollectionFilter implements dialect.Dialect.
func (d Dialect) GenerateCollectionFilter(arrayExpr, canonical string) string {
	const alias = "type_e"
	elem := d.UnnestElement(alias)
	return fmt.Sprintf("(SELECT %s FROM json_each(%s) AS %s WHERE %s)",
		d.GenerateArrayAggregate(elem, alias+".key"),
		normalize(arrayExpr), alias, d.GenerateTypeCheck(elem, canonical))
}

// JSONToScalar implements dialect.Dialect. SQLite is dynamically typed, so
// ->> already yields INTEGER, REAL or TEXT; booleans come back as 0 or 1.
func (Dialect) JSONToScalar(expr, canonical string) string {
	if canonical == "Quantity" {
		return fmt.Sprintf("(%s ->> '$.value')", expr)
	}
	return fmt.Sprintf("(%s ->> '$')", expr)
}

// ScalarToJSON implements dialect.Dialect.
func (Dialect) ScalarToJSON(expr, canonical string) string {
	if canonical == "boolean" {
		return fmt.Sprintf("(CASE WHEN %[1]s THEN 'true' WHEN NOT %[1]s THEN 'false' END)", expr)
	}
	// json_quote(NULL) is the JSON text null; keep SQL NULL instead.
	return fmt.Sprintf("NULLIF(json_quote(%s), 'null')", expr)
}

// StringConcat implements dialect.Dialect.
func (Dialect) StringConcat(left, right string) string {
	return fmt.Sprintf("(%s || %s)", left, right)
}

// GenerateStringFunction implements dialect.Dialect.
func (Dialect) GenerateStringFunction(name string, args []string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s := args[0]
	switch {
	case name == "upper" && len(args) == 1:
		return fmt.Sprintf("upper(%s)", s), true
	case name == "lower" && len(args) == 1:
		return fmt.Sprintf("lower(%s)", s), true
	case name == "length" && len(args) == 1:
		return fmt.Sprintf("length(%s)", s), true
	case name == "trim" && len(args) == 1:
		return fmt.Sprintf("trim(%s)", s), true
	case name == "startsWith" && len(args) == 2:
		return fmt.Sprintf("(substr(%s, 1, length(%s)) = %s)", s, args[1], args[1]), true
	case name == "endsWith" && len(args) == 2:
		return fmt.Sprintf("(%[2]s = '' OR substr(%[1]s, -length(%[2]s)) = %[2]s)", s, args[1]), true
	case name == "contains" && len(args) == 2:
		return fmt.Sprintf("(instr(%s, %s) > 0)", s, args[1]), true
	case name == "indexOf" && len(args) == 2:
		return fmt.Sprintf("(instr(%s, %s) - 1)", s, args[1]), true
	case name == "replace" && len(args) == 3:
		return fmt.Sprintf("replace(%s, %s, %s)", s, args[1], args[2]), true
	case name == "substring" && (len(args) == 2 || len(args) == 3):
		length := ""
		if len(args) == 3 {
			length = ", " + args[2]
		}
		return fmt.Sprintf("(CASE WHEN %[2]s >= 0 AND %[2]s < length(%[1]s) THEN substr(%[1]s, %[2]s + 1%[3]s) END)", s, args[1], length), true
	}
	// No REGEXP operator is registered by default.
	return "", false
}

// GenerateMathFunction implements dialect.Dialect. The math extension
// (sqrt, ln, exp, power) is a compile-time option of SQLite and is not
// assumed.
func (Dialect) GenerateMathFunction(name string, args []string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	x := args[0]
	switch {
	case name == "abs" && len(args) == 1:
		return fmt.Sprintf("abs(%s)", x), true
	case name == "round" && len(args) == 1:
		return fmt.Sprintf("round(%s)", x), true
	case name == "round" && len(args) == 2:
		return fmt.Sprintf("round(%s, %s)", x, args[1]), true
	case name == "truncate" && len(args) == 1:
		return fmt.Sprintf("CAST(%s AS INTEGER)", x), true
	case name == "ceiling" && len(args) == 1:
		return fmt.Sprintf("(CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) OR %[1]s < 0 THEN CAST(%[1]s AS INTEGER) ELSE CAST(%[1]s AS INTEGER) + 1 END)", x), true
	case name == "floor" && len(args) == 1:
		return fmt.Sprintf("(CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) OR %[1]s > 0 THEN CAST(%[1]s AS INTEGER) ELSE CAST(%[1]s AS INTEGER) - 1 END)", x), true
	}
	return "", false
}

// NativeType implements dialect.Dialect. Temporal values stay TEXT: FHIR
// dates may be partial ("2024", "2024-03") and ISO text sorts correctly.
func (Dialect) NativeType(canonical string) (string, bool) {
	switch canonical {
	case "boolean", "integer":
		return "INTEGER", true
	case "decimal", "Quantity":
		return "REAL", true
	case "string", "date", "dateTime", "time":
		return "TEXT", true
	}
	return "", false
}
