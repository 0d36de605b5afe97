package translator

import (
	"fmt"
	"math"
	"strconv"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/dialect"
	"github.com/roach88/fhirsql/internal/types"
)

func stringLiteral(s string) Fragment {
	return Fragment{Expression: dialect.QuoteString(s), Kind: KindScalar, Type: types.String}
}

// literal renders a constant as SQL. Temporal literals are ISO strings,
// which compare correctly against FHIR JSON text. Quantities keep only
// their value.
func (t *Translator) literal(lit *ast.Literal) (Fragment, error) {
	f := Fragment{Kind: KindScalar}
	switch lit.Kind {
	case ast.LiteralEmpty:
		f.Expression = "NULL"
	case ast.LiteralBoolean:
		f.Expression, f.Type = "FALSE", types.Boolean
		if lit.Value == "true" {
			f.Expression = "TRUE"
		}
	case ast.LiteralString:
		return stringLiteral(lit.Value), nil
	case ast.LiteralInteger, ast.LiteralDecimal, ast.LiteralQuantity:
		if _, err := strconv.ParseFloat(lit.Value, 64); err != nil {
			return Fragment{}, newInvalidArgumentError(lit.Source(), fmt.Sprintf("malformed number %q", lit.Value))
		}
		f.Expression = lit.Value
		f.Type = map[ast.LiteralKind]string{
			ast.LiteralInteger:  types.Integer,
			ast.LiteralDecimal:  types.Decimal,
			ast.LiteralQuantity: types.Quantity,
		}[lit.Kind]
	case ast.LiteralDate:
		f.Expression, f.Type = dialect.QuoteString(lit.Value), types.Date
	case ast.LiteralDateTime:
		f.Expression, f.Type = dialect.QuoteString(lit.Value), types.DateTime
	case ast.LiteralTime:
		f.Expression, f.Type = dialect.QuoteString(lit.Value), types.Time
	default:
		return Fragment{}, NewUnsupportedError(lit.Source(), "unknown literal kind "+lit.Kind.String())
	}
	return f, nil
}

// variableFragment converts an external variable value into a constant.
func variableFragment(value any) (Fragment, error) {
	f := Fragment{Kind: KindScalar}
	switch v := value.(type) {
	case nil:
		f.Expression = "NULL"
	case string:
		return stringLiteral(v), nil
	case bool:
		f.Expression, f.Type = "FALSE", types.Boolean
		if v {
			f.Expression = "TRUE"
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f.Expression, f.Type = fmt.Sprint(v), types.Integer
	case float32, float64:
		n := reflectFloat(v)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Fragment{}, fmt.Errorf("%v is not a finite number", n)
		}
		f.Expression, f.Type = strconv.FormatFloat(n, 'f', -1, 64), types.Decimal
		if n == math.Trunc(n) {
			f.Expression = strconv.FormatFloat(n, 'f', 1, 64)
		}
	default:
		return Fragment{}, fmt.Errorf("unsupported value type %T", value)
	}
	return f, nil
}

func reflectFloat(v any) float64 {
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	return v.(float64)
}
