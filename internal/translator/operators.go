package translator

import (
	"fmt"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/types"
)

var comparisonOps = map[string]string{
	"=":  "=",
	"!=": "<>",
	"<":  "<",
	">":  ">",
	"<=": "<=",
	">=": ">=",
}

func isTemporal(typ string) bool {
	return typ == types.Date || typ == types.DateTime || typ == types.Time
}

func (t *Translator) binary(ctx *Context, n *ast.BinaryOp) (Fragment, error) {
	if n.Op == "|" {
		return Fragment{}, NewUnsupportedError(n.Source(), "union (|) is not supported")
	}

	left, err := t.inline(ctx, n.Left)
	if err != nil {
		return Fragment{}, err
	}
	right, err := t.inline(ctx, n.Right)
	if err != nil {
		return Fragment{}, err
	}

	switch n.Op {
	case "and", "or", "xor", "implies":
		return t.logic(n.Op, left, right), nil
	case "=", "!=", "<", ">", "<=", ">=", "~", "!~":
		return t.compare(n, left, right)
	case "in":
		return t.membership(ctx, left, right), nil
	case "contains":
		return t.membership(ctx, right, left), nil
	case "&":
		return mergeSources(Fragment{
			Expression: t.d.StringConcat(
				fmt.Sprintf("COALESCE(%s, '')", t.toScalar(left, types.String)),
				fmt.Sprintf("COALESCE(%s, '')", t.toScalar(right, types.String))),
			Kind: KindScalar,
			Type: types.String,
		}, left, right), nil
	case "+", "-", "*", "/", "div", "mod":
		return t.arithmetic(n, left, right)
	}
	return Fragment{}, NewUnsupportedError(n.Source(), fmt.Sprintf("operator %q is not supported", n.Op))
}

// logic follows SQL three-valued logic, which matches FHIRPath's treatment
// of empty operands.
func (t *Translator) logic(op string, left, right Fragment) Fragment {
	l, r := t.toBoolean(left), t.toBoolean(right)
	var expr string
	switch op {
	case "and":
		expr = fmt.Sprintf("(%s AND %s)", l, r)
	case "or":
		expr = fmt.Sprintf("(%s OR %s)", l, r)
	case "xor":
		expr = fmt.Sprintf("(%s <> %s)", l, r)
	case "implies":
		expr = fmt.Sprintf("(NOT %s OR %s)", l, r)
	}
	return boolean(expr, left, right)
}

// comparisonType picks the type both operands are read as: the left
// operand's, else the right's, else string.
func (t *Translator) comparisonType(left, right Fragment) string {
	l, r := t.canonical(left.Type), t.canonical(right.Type)
	switch {
	case l == types.Integer && r == types.Decimal:
		return types.Decimal
	case l != "":
		return l
	case r != "":
		return r
	}
	return types.String
}

func (t *Translator) compare(n *ast.BinaryOp, left, right Fragment) (Fragment, error) {
	typ := t.comparisonType(left, right)

	if !types.IsPrimitive(typ) {
		if n.Op != "=" && n.Op != "!=" {
			return Fragment{}, NewUnsupportedError(n.Source(), fmt.Sprintf("%s values cannot be ordered", typ))
		}
		l := t.toJSON(t.singleton(left)).Expression
		r := t.toJSON(t.singleton(right)).Expression
		return boolean(fmt.Sprintf("(%s %s %s)", l, comparisonOps[n.Op], r), left, right), nil
	}

	l, r := t.toScalar(left, typ), t.toScalar(right, typ)
	var expr string
	switch n.Op {
	case "~", "!~":
		if typ == types.String {
			l, r = fmt.Sprintf("lower(%s)", l), fmt.Sprintf("lower(%s)", r)
		}
		expr = fmt.Sprintf("(%s = %s)", l, r)
		if n.Op == "!~" {
			expr = fmt.Sprintf("(NOT %s)", expr)
		}
	default:
		expr = fmt.Sprintf("(%s %s %s)", l, comparisonOps[n.Op], r)
	}
	return boolean(expr, left, right), nil
}

// membership tests whether item equals any member of coll.
func (t *Translator) membership(ctx *Context, item, coll Fragment) Fragment {
	typ := t.comparisonType(item, coll)
	c := t.toJSON(coll)
	alias := ctx.NextAlias()
	elem := t.d.UnnestElement(alias)

	var pred string
	if types.IsPrimitive(typ) {
		pred = fmt.Sprintf("%s = %s", t.d.JSONToScalar(elem, typ), t.toScalar(item, typ))
	} else {
		pred = fmt.Sprintf("%s = %s", elem, t.toJSON(t.singleton(item)).Expression)
	}
	matches := t.d.GenerateArrayMap(c.Expression, alias, elem, pred, false)
	return boolean(fmt.Sprintf("(%s > 0)", t.d.GetJSONArrayLength(matches)), item, coll)
}

func (t *Translator) arithmetic(n *ast.BinaryOp, left, right Fragment) (Fragment, error) {
	lt, rt := t.canonical(left.Type), t.canonical(right.Type)
	if isTemporal(lt) || isTemporal(rt) {
		return Fragment{}, NewUnsupportedError(n.Source(), "date and time arithmetic is not supported")
	}

	if n.Op == "+" && (lt == types.String || rt == types.String) {
		return mergeSources(Fragment{
			Expression: t.d.StringConcat(t.toScalar(left, types.String), t.toScalar(right, types.String)),
			Kind:       KindScalar,
			Type:       types.String,
		}, left, right), nil
	}

	ln, rn := t.numericType(left), t.numericType(right)
	l, r := t.toScalar(left, ln), t.toScalar(right, rn)

	typ := types.Integer
	if ln != types.Integer || rn != types.Integer {
		typ = types.Decimal
	}

	var expr string
	switch n.Op {
	case "+", "-", "*":
		expr = fmt.Sprintf("(%s %s %s)", l, n.Op, r)
	case "/":
		expr = fmt.Sprintf("(%s / NULLIF(%s, 0))", t.d.GenerateTypeCast(l, types.Decimal), r)
		typ = types.Decimal
	case "div":
		quotient := fmt.Sprintf("(%s / NULLIF(%s, 0))", t.d.GenerateTypeCast(l, types.Decimal), r)
		truncated, ok := t.d.GenerateMathFunction("truncate", []string{quotient})
		if !ok {
			return Fragment{}, NewUnsupportedError(n.Source(), fmt.Sprintf("div is not available in the %s dialect", t.d.Name()))
		}
		expr = t.d.GenerateTypeCast(truncated, types.Integer)
		typ = types.Integer
	case "mod":
		expr = fmt.Sprintf("(%s %% NULLIF(%s, 0))", l, r)
	}
	return mergeSources(Fragment{Expression: expr, Kind: KindScalar, Type: typ}, left, right), nil
}

func (t *Translator) unary(ctx *Context, n *ast.UnaryOp) (Fragment, error) {
	operand, err := t.inline(ctx, n.Operand)
	if err != nil {
		return Fragment{}, err
	}
	typ := t.numericType(operand)
	if isTemporal(t.canonical(operand.Type)) || t.canonical(operand.Type) == types.String {
		return Fragment{}, NewUnsupportedError(n.Source(), "polarity applies to numbers only")
	}
	expr := t.toScalar(operand, typ)
	if n.Op == "-" {
		expr = fmt.Sprintf("(-%s)", expr)
	}
	out := mergeSources(Fragment{Expression: expr, Kind: KindScalar, Type: operand.Type}, operand)
	if out.Type == "" {
		out.Type = typ
	}
	return out, nil
}
