// Package postgres implements the PostgreSQL dialect over jsonb.
//
// JSON values are jsonb. Arrays are unnested with jsonb_array_elements WITH
// ORDINALITY, so ordinals are one-based in SQL and shifted to zero-based
// where the translator observes them.
package postgres

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/dialect"
)

// Dialect is the PostgreSQL dialect. The zero value is ready to use.
type Dialect struct{}

var _ dialect.Dialect = Dialect{}

// New returns the PostgreSQL dialect.
func New() Dialect { return Dialect{} }

// Name implements dialect.Dialect.
func (Dialect) Name() string { return "postgres" }

// ExtractJSONField implements dialect.Dialect. The "$.a[0].b" path is
// rewritten to the text-array form '{a,0,b}' used by #>.
func (Dialect) ExtractJSONField(source, path string) string {
	return fmt.Sprintf("(%s #> %s)", source, dialect.QuoteString(pathArray(path)))
}

func pathArray(path string) string {
	path = strings.TrimPrefix(path, "$")
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.', '[', ']':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return "{" + strings.Join(parts, ",") + "}"
}

func normalize(expr string) string {
	return fmt.Sprintf(
		"(CASE WHEN %[1]s IS NULL THEN '[]'::jsonb WHEN jsonb_typeof(%[1]s) = 'array' THEN %[1]s WHEN jsonb_typeof(%[1]s) = 'null' THEN '[]'::jsonb ELSE jsonb_build_array(%[1]s) END)",
		expr)
}

func elements(arrayExpr, alias string) string {
	return fmt.Sprintf("jsonb_array_elements(%s) WITH ORDINALITY AS %s(value, ordinality)", normalize(arrayExpr), alias)
}

// GenerateLateralUnnest implements dialect.Dialect.
func (Dialect) GenerateLateralUnnest(sourceTable, arrayExpr, alias string) string {
	return fmt.Sprintf("%s CROSS JOIN LATERAL %s", sourceTable, elements(arrayExpr, alias))
}

// UnnestElement implements dialect.Dialect. JSON null items read as SQL
// NULL so that aggregates drop them.
func (Dialect) UnnestElement(alias string) string {
	return fmt.Sprintf("NULLIF(%s.value, 'null'::jsonb)", alias)
}

// UnnestOrdinal implements dialect.Dialect.
func (Dialect) UnnestOrdinal(alias string) string {
	return fmt.Sprintf("(%s.ordinality - 1)", alias)
}

// GenerateOrdinalKey implements dialect.Dialect.
func (Dialect) GenerateOrdinalKey(parentKey, ordinal string) string {
	return fmt.Sprintf("(%s || lpad(CAST(%s AS TEXT), 8, '0'))", parentKey, ordinal)
}

// GenerateArrayAggregate implements dialect.Dialect.
func (Dialect) GenerateArrayAggregate(valueExpr, orderExpr string) string {
	order := ""
	if orderExpr != "" {
		order = " ORDER BY " + orderExpr
	}
	return fmt.Sprintf("COALESCE(jsonb_agg(%[1]s%[2]s) FILTER (WHERE %[1]s IS NOT NULL), '[]'::jsonb)", valueExpr, order)
}

// GenerateArrayMap implements dialect.Dialect.
func (d Dialect) GenerateArrayMap(arrayExpr, alias, projection, predicate string, flatten bool) string {
	where := ""
	if predicate != "" {
		where = " WHERE " + predicate
	}
	if flatten {
		inner := alias + "_f"
		return fmt.Sprintf("(SELECT %s FROM %s CROSS JOIN LATERAL %s%s)",
			d.GenerateArrayAggregate(d.UnnestElement(inner), alias+".ordinality, "+inner+".ordinality"),
			elements(arrayExpr, alias), elements(projection, inner), where)
	}
	return fmt.Sprintf("(SELECT %s FROM %s%s)",
		d.GenerateArrayAggregate(projection, alias+".ordinality"),
		elements(arrayExpr, alias), where)
}

// GenerateArraySum implements dialect.Dialect.
func (Dialect) GenerateArraySum(arrayExpr, alias, projection string) string {
	return fmt.Sprintf("(SELECT SUM(%s) FROM %s)", projection, elements(arrayExpr, alias))
}

func (d Dialect) slice(arrayExpr, cond string) string {
	const alias = "slice_e"
	return fmt.Sprintf("(SELECT %s FROM %s WHERE %s.ordinality %s)",
		d.GenerateArrayAggregate(d.UnnestElement(alias), alias+".ordinality"),
		elements(arrayExpr, alias), alias, cond)
}

// GenerateArraySkip implements dialect.Dialect.
func (d Dialect) GenerateArraySkip(arrayExpr, skipCount string) string {
	return d.slice(arrayExpr, "> "+skipCount)
}

// GenerateArrayTake implements dialect.Dialect.
func (d Dialect) GenerateArrayTake(arrayExpr, takeCount string) string {
	return d.slice(arrayExpr, "<= "+takeCount)
}

// GenerateArrayLast implements dialect.Dialect.
func (Dialect) GenerateArrayLast(arrayExpr string) string {
	return fmt.Sprintf("(%s -> -1)", normalize(arrayExpr))
}

// GetJSONArrayLength implements dialect.Dialect.
func (Dialect) GetJSONArrayLength(expr string) string {
	return fmt.Sprintf("jsonb_array_length(%s)", normalize(expr))
}

// GenerateTypeCheck implements dialect.Dialect.
func (Dialect) GenerateTypeCheck(expr, canonical string) string {
	text := fmt.Sprintf("(%s #>> '{}')", expr)
	switch canonical {
	case "boolean":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'boolean')", expr)
	case "integer":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND %s ~ '^-?[0-9]+$')", expr, text)
	case "decimal":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number')", expr)
	case "string":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'string')", expr)
	case "date":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND %s ~ '^[0-9]{4}' AND strpos(%s, 'T') = 0)", expr, text, text)
	case "dateTime":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND %s ~ '^[0-9]{4}')", expr, text)
	case "time":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND %s ~ '^[0-9]{2}:[0-9]{2}')", expr, text)
	case "Quantity":
		return fmt.Sprintf("(jsonb_typeof(%s) = 'object' AND jsonb_typeof(%s -> 'value') = 'number')", expr, expr)
	}
	quoted := dialect.QuoteString(canonical)
	return fmt.Sprintf("(jsonb_typeof(%s) = 'object' AND COALESCE(%s ->> 'resourceType', %s) = %s)", expr, expr, quoted, quoted)
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
	return fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
		d.GenerateArrayAggregate(d.UnnestElement(alias), alias+".ordinality"),
		elements(arrayExpr, alias), d.GenerateTypeCheck(alias+".value", canonical))
}

// JSONToScalar implements dialect.Dialect. JSON numbers are read as NUMERIC
// whatever their declared type so that a decimal in an integer position
// does not abort the query.
func (Dialect) JSONToScalar(expr, canonical string) string {
	switch canonical {
	case "integer", "decimal":
		return fmt.Sprintf("CAST((%s #>> '{}') AS NUMERIC)", expr)
	case "boolean":
		return fmt.Sprintf("CAST((%s #>> '{}') AS BOOLEAN)", expr)
	case "Quantity":
		return fmt.Sprintf("CAST((%s #>> '{value}') AS NUMERIC)", expr)
	}
	return fmt.Sprintf("(%s #>> '{}')", expr)
}

// ScalarToJSON implements dialect.Dialect.
func (d Dialect) ScalarToJSON(expr, canonical string) string {
	native, ok := d.NativeType(canonical)
	if !ok {
		native = "TEXT"
	}
	return fmt.Sprintf("to_jsonb(CAST(%s AS %s))", expr, native)
}

// StringConcat implements dialect.Dialect.
func (Dialect) StringConcat(left, right string) string {
	return fmt.Sprintf("(CAST(%s AS TEXT) || CAST(%s AS TEXT))", left, right)
}

func text(expr string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}

func integer(expr string) string {
	return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
}

// GenerateStringFunction implements dialect.Dialect.
func (Dialect) GenerateStringFunction(name string, args []string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s := text(args[0])
	switch {
	case name == "upper" && len(args) == 1:
		return fmt.Sprintf("upper(%s)", s), true
	case name == "lower" && len(args) == 1:
		return fmt.Sprintf("lower(%s)", s), true
	case name == "length" && len(args) == 1:
		return fmt.Sprintf("length(%s)", s), true
	case name == "trim" && len(args) == 1:
		return fmt.Sprintf("btrim(%s)", s), true
	case name == "startsWith" && len(args) == 2:
		p := text(args[1])
		return fmt.Sprintf("(left(%s, length(%s)) = %s)", s, p, p), true
	case name == "endsWith" && len(args) == 2:
		p := text(args[1])
		return fmt.Sprintf("(right(%s, length(%s)) = %s)", s, p, p), true
	case name == "contains" && len(args) == 2:
		return fmt.Sprintf("(strpos(%s, %s) > 0)", s, text(args[1])), true
	case name == "indexOf" && len(args) == 2:
		return fmt.Sprintf("(strpos(%s, %s) - 1)", s, text(args[1])), true
	case name == "replace" && len(args) == 3:
		return fmt.Sprintf("replace(%s, %s, %s)", s, text(args[1]), text(args[2])), true
	case name == "matches" && len(args) == 2:
		return fmt.Sprintf("(%s ~ %s)", s, text(args[1])), true
	case name == "substring" && (len(args) == 2 || len(args) == 3):
		start := integer(args[1])
		length := ""
		if len(args) == 3 {
			length = ", " + integer(args[2])
		}
		return fmt.Sprintf("(CASE WHEN %[2]s >= 0 AND %[2]s < length(%[1]s) THEN substr(%[1]s, %[2]s + 1%[3]s) END)", s, start, length), true
	}
	return "", false
}

// GenerateMathFunction implements dialect.Dialect.
func (Dialect) GenerateMathFunction(name string, args []string) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	x := args[0]
	switch {
	case name == "abs" && len(args) == 1:
		return fmt.Sprintf("abs(%s)", x), true
	case name == "ceiling" && len(args) == 1:
		return fmt.Sprintf("ceil(%s)", x), true
	case name == "floor" && len(args) == 1:
		return fmt.Sprintf("floor(%s)", x), true
	case name == "truncate" && len(args) == 1:
		return fmt.Sprintf("trunc(%s)", x), true
	case name == "round" && len(args) == 1:
		return fmt.Sprintf("round(CAST(%s AS NUMERIC))", x), true
	case name == "round" && len(args) == 2:
		return fmt.Sprintf("round(CAST(%s AS NUMERIC), %s)", x, integer(args[1])), true
	case name == "sqrt" && len(args) == 1:
		return fmt.Sprintf("sqrt(%s)", x), true
	case name == "ln" && len(args) == 1:
		return fmt.Sprintf("ln(%s)", x), true
	case name == "exp" && len(args) == 1:
		return fmt.Sprintf("exp(%s)", x), true
	case name == "power" && len(args) == 2:
		return fmt.Sprintf("power(%s, %s)", x, args[1]), true
	}
	return "", false
}

// NativeType implements dialect.Dialect. Temporal values stay TEXT because
// FHIR permits partial dates that DATE cannot hold.
func (Dialect) NativeType(canonical string) (string, bool) {
	switch canonical {
	case "boolean":
		return "BOOLEAN", true
	case "integer":
		return "BIGINT", true
	case "decimal", "Quantity":
		return "NUMERIC", true
	case "string", "date", "dateTime", "time":
		return "TEXT", true
	}
	return "", false
}
