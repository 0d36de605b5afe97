package translator

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/schema"
)

// resolveType resolves a type specifier to its canonical name.
func (t *Translator) resolveType(spec, construct string) (string, error) {
	canonical, ok := t.types.ResolveToCanonical(spec)
	if !ok {
		return "", NewUnknownTypeError(construct, spec, t.types.AllTypeNames())
	}
	return canonical, nil
}

// typeArgument reads the type specifier argument of ofType, is and as.
func (t *Translator) typeArgument(call *ast.FunctionCall) (string, error) {
	spec, ok := typeSpecifier(call.Args[0])
	if !ok {
		return "", newInvalidArgumentError(call.Source(), call.Name+"() expects a type name")
	}
	return t.resolveType(spec, call.Source())
}

// typeSpecifier renders an identifier chain such as FHIR.string.
func typeSpecifier(node ast.Node) (string, bool) {
	switch n := node.(type) {
	case *ast.Identifier:
		return n.Name, true
	case *ast.Invocation:
		prefix, ok := typeSpecifier(n.Target)
		member, isIdent := n.Member.(*ast.Identifier)
		if !ok || !isIdent {
			return "", false
		}
		return prefix + "." + member.Name, true
	}
	return "", false
}

func (t *Translator) typeOp(ctx *Context, n *ast.TypeOp) (Fragment, error) {
	operand, err := t.inline(ctx, n.Operand)
	if err != nil {
		return Fragment{}, err
	}
	canonical, err := t.resolveType(n.Type, n.Source())
	if err != nil {
		return Fragment{}, err
	}
	if n.Op == "is" {
		return t.isType(operand, canonical), nil
	}
	return t.filterType(operand, canonical), nil
}

// filterType keeps the items of focus that are instances of canonical. It
// never removes rows: on a single value it yields the value or empty.
func (t *Translator) filterType(focus Fragment, canonical string) Fragment {
	if ref := choiceFrom(focus); ref != nil {
		return mergeSources(t.narrowChoice(*ref, canonical), focus)
	}

	if focus.Kind == KindScalar {
		if t.canonical(focus.Type) == canonical {
			return focus
		}
		return mergeSources(Fragment{Expression: "NULL", Kind: KindScalar, Type: canonical}, focus)
	}

	out := focus.clone()
	out.Type = canonical
	if focus.Collection {
		out.Expression = t.d.GenerateCollectionFilter(focus.Expression, canonical)
		return out
	}
	out.Expression = fmt.Sprintf("(CASE WHEN %s THEN %s END)",
		t.d.GenerateTypeCheck(focus.Expression, canonical), focus.Expression)
	return out
}

// isType tests a single value against canonical.
func (t *Translator) isType(focus Fragment, canonical string) Fragment {
	if ref := choiceFrom(focus); ref != nil {
		elem, ok := t.schema.Lookup(ref.owner, ref.base)
		var tests []string
		for _, typ := range elem.Types {
			if ok && t.canonical(typ) == canonical {
				prop := t.d.ExtractJSONField(ref.parent, "$."+schema.ChoiceProperty(elem.Name, typ))
				tests = append(tests, fmt.Sprintf("%s IS NOT NULL", prop))
			}
		}
		if len(tests) == 0 {
			return boolean(fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN FALSE END)", focus.Expression), focus)
		}
		return boolean(fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN (%s) END)",
			focus.Expression, strings.Join(tests, " OR ")), focus)
	}

	if focus.Kind == KindScalar {
		result := "FALSE"
		if t.canonical(focus.Type) == canonical {
			result = "TRUE"
		}
		return boolean(fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN %s END)", focus.Expression, result), focus)
	}
	return boolean(t.d.GenerateTypeCheck(t.singleton(focus).Expression, canonical), focus)
}
