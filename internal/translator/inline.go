package translator

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/schema"
	"github.com/roach88/fhirsql/internal/types"
)

// Well-known code system constants.
var systemVariables = map[string]string{
	"%ucum":  "http://unitsofmeasure.org",
	"%sct":   "http://snomed.info/sct",
	"%loinc": "http://loinc.org",
}

// Choice metadata travels with inline fragments so that a following type
// operator can select the typed property.
const (
	metaChoiceParent = "choice_parent"
	metaChoiceOwner  = "choice_owner"
	metaChoiceBase   = "choice_base"
)

func withChoice(f Fragment, ref choiceRef) Fragment {
	f = f.WithMeta(metaChoiceParent, ref.parent)
	f = f.WithMeta(metaChoiceOwner, ref.owner)
	return f.WithMeta(metaChoiceBase, ref.base)
}

func choiceFrom(f Fragment) *choiceRef {
	if f.Meta(metaChoiceBase) == "" {
		return nil
	}
	return &choiceRef{
		parent: f.Meta(metaChoiceParent),
		owner:  f.Meta(metaChoiceOwner),
		base:   f.Meta(metaChoiceBase),
	}
}

// inline translates an expression as a correlated SQL expression over the
// current row. It never emits fragments.
func (t *Translator) inline(ctx *Context, node ast.Node) (Fragment, error) {
	switch n := node.(type) {
	case *ast.Literal:
		return t.literal(n)

	case *ast.Identifier:
		focus := t.this(ctx)
		if n.Name == t.base.ResourceType {
			if focus.Type == t.base.ResourceType {
				return focus, nil
			}
			return t.resourceRef(ctx), nil
		}
		if t.schema.IsResource(n.Name) {
			return Fragment{}, t.resourceMismatch(n)
		}
		return t.navigate(ctx, focus, n.Name, n)

	case *ast.Variable:
		return t.variable(ctx, n)

	case *ast.Invocation:
		target, err := t.inline(ctx, n.Target)
		if err != nil {
			return Fragment{}, err
		}
		switch m := n.Member.(type) {
		case *ast.Identifier:
			return t.navigate(ctx, target, m.Name, m)
		case *ast.FunctionCall:
			return t.function(ctx, m, target)
		}
		return Fragment{}, fmt.Errorf("translator: unexpected member %T", n.Member)

	case *ast.FunctionCall:
		return t.function(ctx, n, t.this(ctx))

	case *ast.Indexer:
		target, err := t.inline(ctx, n.Target)
		if err != nil {
			return Fragment{}, err
		}
		idx, err := indexArgument(n)
		if err != nil {
			return Fragment{}, err
		}
		return t.item(target, idx), nil

	case *ast.BinaryOp:
		return t.binary(ctx, n)

	case *ast.UnaryOp:
		return t.unary(ctx, n)

	case *ast.TypeOp:
		return t.typeOp(ctx, n)
	}
	return Fragment{}, fmt.Errorf("translator: unexpected node %T", node)
}

// this is the current focus: the innermost $this binding, or the resource
// at the top level.
func (t *Translator) this(ctx *Context) Fragment {
	if b, ok := ctx.Lookup("$this"); ok {
		return b.Fragment()
	}
	return t.resourceRef(ctx)
}

// resourceRef reads the whole resource of the record the current row
// belongs to.
func (t *Translator) resourceRef(ctx *Context) Fragment {
	table := t.host(ctx.source)
	f := Fragment{
		Expression:  t.column(table, t.base.ResourceColumn),
		SourceTable: table,
		Kind:        KindJSON,
		Type:        t.base.ResourceType,
	}
	if table == t.base.Table {
		return f
	}

	const alias = "root_r"
	f.Expression = fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s = %s)",
		t.column(alias, t.base.ResourceColumn), t.base.Table, alias,
		t.column(alias, t.base.IDColumn), t.column(table, t.base.IDColumn))
	f.Dependencies = t.deps(table)
	return f
}

func (t *Translator) variable(ctx *Context, v *ast.Variable) (Fragment, error) {
	switch v.Name {
	case "$this":
		return t.this(ctx), nil
	case "%resource", "%context", "%rootResource":
		return t.resourceRef(ctx), nil
	}
	if url, ok := systemVariables[v.Name]; ok {
		return stringLiteral(url), nil
	}
	if b, ok := ctx.Lookup(v.Name); ok {
		return b.Fragment(), nil
	}
	return Fragment{}, newUnknownVariableError(v.Source(), v.Name)
}

// navigate reads a child property of every item of focus.
func (t *Translator) navigate(ctx *Context, focus Fragment, name string, node ast.Node) (Fragment, error) {
	if focus.Kind == KindScalar {
		return Fragment{}, NewUnknownPropertyError(node.Source(), typeLabel(focus.Type), name, nil)
	}
	prop, err := t.property(focus.Type, name, node)
	if err != nil {
		return Fragment{}, err
	}

	out := Fragment{
		SourceTable:  focus.SourceTable,
		Dependencies: focus.Dependencies,
		Kind:         KindJSON,
		Type:         prop.typ,
		Collection:   prop.repeating,
	}

	if !focus.Collection {
		if prop.choice != nil {
			out.Expression = t.choiceValue(focus.Expression, prop.choice)
			return withChoice(out, choiceRef{parent: focus.Expression, owner: focus.Type, base: prop.name}), nil
		}
		out.Expression = t.d.ExtractJSONField(focus.Expression, "$."+prop.name)
		return out, nil
	}

	alias := ctx.NextAlias()
	elem := t.d.UnnestElement(alias)
	projection := t.d.ExtractJSONField(elem, "$."+prop.name)
	if prop.choice != nil {
		projection = t.choiceValue(elem, prop.choice)
	}
	out.Expression = t.d.GenerateArrayMap(focus.Expression, alias, projection, "", prop.repeating)
	out.Collection = true
	return out, nil
}

// Value conversions

// empty is the empty collection as a typed JSON NULL.
func (t *Translator) empty(typ string) Fragment {
	return Fragment{Expression: t.d.ScalarToJSON("NULL", types.String), Kind: KindJSON, Type: typ}
}

// item selects the item at n of a collection. A single value is its own
// first item.
func (t *Translator) item(f Fragment, n int) Fragment {
	if !f.Collection {
		if n == 0 {
			return f
		}
		return t.empty(f.Type).withSource(f)
	}
	arr := f.Expression
	if f.Type == "" {
		arr = t.d.GenerateArraySkip(arr, fmt.Sprint(n))
		n = 0
	}
	out := f.WithExpression(t.d.ExtractJSONField(arr, fmt.Sprintf("$[%d]", n)))
	out.Collection = false
	return withoutChoice(out)
}

func (f Fragment) withSource(src Fragment) Fragment {
	return mergeSources(f, src)
}

func withoutChoice(f Fragment) Fragment {
	if f.Metadata == nil {
		return f
	}
	out := f.clone()
	delete(out.Metadata, metaChoiceParent)
	delete(out.Metadata, metaChoiceOwner)
	delete(out.Metadata, metaChoiceBase)
	return out
}

// singleton reads a value as one item. Collections contribute their first
// item.
func (t *Translator) singleton(f Fragment) Fragment {
	if f.Kind == KindScalar {
		return f
	}
	return t.item(f, 0)
}

// toJSON returns f as a JSON expression.
func (t *Translator) toJSON(f Fragment) Fragment {
	if f.Kind == KindJSON {
		return f
	}
	out := f.WithExpression(t.d.ScalarToJSON(f.Expression, scalarType(f.Type)))
	out.Kind = KindJSON
	return out
}

// toScalar reads f as a native value of typ.
func (t *Translator) toScalar(f Fragment, typ string) string {
	if f.Kind == KindScalar {
		return f.Expression
	}
	return t.d.JSONToScalar(t.singleton(f).Expression, typ)
}

// toBoolean reads f as a condition. Booleans (or values of unknown type)
// are read as booleans; anything else tests for existence.
func (t *Translator) toBoolean(f Fragment) string {
	typ := t.canonical(f.Type)
	if f.Kind == KindScalar {
		if typ == "" || typ == types.Boolean {
			return f.Expression
		}
		return fmt.Sprintf("(%s IS NOT NULL)", f.Expression)
	}
	if typ == "" || typ == types.Boolean {
		return t.d.JSONToScalar(t.singleton(f).Expression, types.Boolean)
	}
	return fmt.Sprintf("(%s > 0)", t.d.GetJSONArrayLength(f.Expression))
}

// ownScalar reads a value as a native scalar of its own type, strings when
// the type is unknown.
func (t *Translator) ownScalar(f Fragment) (string, string) {
	typ := scalarType(t.canonical(f.Type))
	return t.toScalar(f, typ), typ
}

func scalarType(typ string) string {
	if typ == "" {
		return types.String
	}
	return typ
}

// numericType picks the arithmetic type of a value.
func (t *Translator) numericType(f Fragment) string {
	switch typ := t.canonical(f.Type); typ {
	case types.Integer, types.Quantity:
		return typ
	}
	return types.Decimal
}

// Choice narrowing

// narrowChoice selects the typed properties of a choice element whose type
// resolves to canonical.
func (t *Translator) narrowChoice(ref choiceRef, canonical string) Fragment {
	elem, ok := t.schema.Lookup(ref.owner, ref.base)
	if !ok || !elem.Choice {
		return t.empty(canonical)
	}

	var exprs []string
	for _, typ := range elem.Types {
		if t.canonical(typ) == canonical {
			exprs = append(exprs, t.d.ExtractJSONField(ref.parent, "$."+schema.ChoiceProperty(elem.Name, typ)))
		}
	}

	out := Fragment{Kind: KindJSON, Type: canonical, Collection: elem.Repeating()}
	switch len(exprs) {
	case 0:
		return t.empty(canonical)
	case 1:
		out.Expression = exprs[0]
	default:
		out.Expression = "COALESCE(" + strings.Join(exprs, ", ") + ")"
	}
	return out
}
