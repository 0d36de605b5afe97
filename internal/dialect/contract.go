package dialect

import (
	"errors"
	"fmt"
	"strings"
)

// ContractViolation reports dialect output that breaks an invariant the
// translator relies on. It indicates a defect in the dialect, not in the
// expression being compiled.
type ContractViolation struct {
	// Dialect is the Name() of the offending dialect.
	Dialect string

	// Method is the Dialect method that produced the output.
	Method string

	// Message describes the broken invariant.
	Message string

	// Output is the offending SQL text.
	Output string
}

// Error implements the error interface.
func (e *ContractViolation) Error() string {
	return fmt.Sprintf("dialect %s: %s: %s", e.Dialect, e.Method, e.Message)
}

// IsContractViolation reports whether err wraps a ContractViolation.
func IsContractViolation(err error) bool {
	var cv *ContractViolation
	return errors.As(err, &cv)
}

// Guard wraps a dialect so that every method's output is checked. A broken
// invariant panics with a *ContractViolation; the translator recovers it at
// its entry point and returns it as an error.
func Guard(d Dialect) Dialect {
	if g, ok := d.(*guarded); ok {
		return g
	}
	return &guarded{inner: d}
}

type guarded struct {
	inner Dialect
}

func (g *guarded) violate(method, message, output string) {
	panic(&ContractViolation{
		Dialect: g.inner.Name(),
		Method:  method,
		Message: message,
		Output:  output,
	})
}

// expr checks the invariants every generated expression shares: it is not
// empty, its single quotes pair up, and its parentheses balance outside of
// string literals.
func (g *guarded) expr(method, out string) string {
	if strings.TrimSpace(out) == "" {
		g.violate(method, "empty output", out)
	}
	if msg := checkBalanced(out); msg != "" {
		g.violate(method, msg, out)
	}
	return out
}

// mentions checks that out references every required identifier.
func (g *guarded) mentions(method, out string, required ...string) string {
	for _, r := range required {
		if r != "" && !strings.Contains(out, r) {
			g.violate(method, fmt.Sprintf("output does not reference %q", r), out)
		}
	}
	return out
}

func checkBalanced(s string) string {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "unbalanced parentheses"
			}
		}
	}
	if inString {
		return "unterminated string literal"
	}
	if depth != 0 {
		return "unbalanced parentheses"
	}
	return ""
}

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) ExtractJSONField(source, path string) string {
	if !strings.HasPrefix(path, "$") {
		g.violate("ExtractJSONField", fmt.Sprintf("path %q must start with $", path), "")
	}
	out := g.expr("ExtractJSONField", g.inner.ExtractJSONField(source, path))
	return g.mentions("ExtractJSONField", out, source)
}

func (g *guarded) GenerateLateralUnnest(sourceTable, arrayExpr, alias string) string {
	out := g.expr("GenerateLateralUnnest", g.inner.GenerateLateralUnnest(sourceTable, arrayExpr, alias))
	return g.mentions("GenerateLateralUnnest", out, alias)
}

func (g *guarded) UnnestElement(alias string) string {
	out := g.expr("UnnestElement", g.inner.UnnestElement(alias))
	return g.mentions("UnnestElement", out, alias)
}

func (g *guarded) UnnestOrdinal(alias string) string {
	out := g.expr("UnnestOrdinal", g.inner.UnnestOrdinal(alias))
	return g.mentions("UnnestOrdinal", out, alias)
}

func (g *guarded) GenerateOrdinalKey(parentKey, ordinal string) string {
	return g.expr("GenerateOrdinalKey", g.inner.GenerateOrdinalKey(parentKey, ordinal))
}

func (g *guarded) GenerateArrayAggregate(valueExpr, orderExpr string) string {
	return g.expr("GenerateArrayAggregate", g.inner.GenerateArrayAggregate(valueExpr, orderExpr))
}

func (g *guarded) GenerateArrayMap(arrayExpr, alias, projection, predicate string, flatten bool) string {
	out := g.expr("GenerateArrayMap", g.inner.GenerateArrayMap(arrayExpr, alias, projection, predicate, flatten))
	return g.mentions("GenerateArrayMap", out, alias)
}

func (g *guarded) GenerateArraySum(arrayExpr, alias, projection string) string {
	out := g.expr("GenerateArraySum", g.inner.GenerateArraySum(arrayExpr, alias, projection))
	return g.mentions("GenerateArraySum", out, alias)
}

func (g *guarded) GenerateArraySkip(arrayExpr, skipCount string) string {
	return g.expr("GenerateArraySkip", g.inner.GenerateArraySkip(arrayExpr, skipCount))
}

func (g *guarded) GenerateArrayTake(arrayExpr, takeCount string) string {
	return g.expr("GenerateArrayTake", g.inner.GenerateArrayTake(arrayExpr, takeCount))
}

func (g *guarded) GenerateArrayLast(arrayExpr string) string {
	return g.expr("GenerateArrayLast", g.inner.GenerateArrayLast(arrayExpr))
}

func (g *guarded) GetJSONArrayLength(expr string) string {
	return g.expr("GetJSONArrayLength", g.inner.GetJSONArrayLength(expr))
}

func (g *guarded) GenerateTypeCheck(expr, canonical string) string {
	return g.expr("GenerateTypeCheck", g.inner.GenerateTypeCheck(expr, canonical))
}

func (g *guarded) GenerateTypeCast(expr, canonical string) string {
	return g.expr("GenerateTypeCast", g.inner.GenerateTypeCast(expr, canonical))
}

func (g *guarded) GenerateCollectionFilter(arrayExpr, canonical string) string {
	return g.expr("GenerateCollectionFilter", g.inner.GenerateCollectionFilter(arrayExpr, canonical))
}

func (g *guarded) JSONToScalar(expr, canonical string) string {
	return g.expr("JSONToScalar", g.inner.JSONToScalar(expr, canonical))
}

func (g *guarded) ScalarToJSON(expr, canonical string) string {
	return g.expr("ScalarToJSON", g.inner.ScalarToJSON(expr, canonical))
}

func (g *guarded) StringConcat(left, right string) string {
	return g.expr("StringConcat", g.inner.StringConcat(left, right))
}

func (g *guarded) GenerateStringFunction(name string, args []string) (string, bool) {
	out, ok := g.inner.GenerateStringFunction(name, args)
	if !ok {
		return "", false
	}
	return g.expr("GenerateStringFunction", out), true
}

func (g *guarded) GenerateMathFunction(name string, args []string) (string, bool) {
	out, ok := g.inner.GenerateMathFunction(name, args)
	if !ok {
		return "", false
	}
	return g.expr("GenerateMathFunction", out), true
}

func (g *guarded) NativeType(canonical string) (string, bool) {
	out, ok := g.inner.NativeType(canonical)
	if ok && strings.TrimSpace(out) == "" {
		g.violate("NativeType", fmt.Sprintf("empty native type for %s", canonical), out)
	}
	return out, ok
}
