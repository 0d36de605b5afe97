package translator

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/dialect"
	"github.com/roach88/fhirsql/internal/schema"
	"github.com/roach88/fhirsql/internal/types"
)

// Output columns of every emitted relation.
const (
	ValueColumn = "val"
	OrdColumn   = "ord"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a Translator.
type Config struct {
	// Dialect spells the SQL. Required.
	Dialect dialect.Dialect

	// Schema answers property and cardinality questions. Defaults to the
	// embedded catalogue.
	Schema *schema.Schema

	// Types resolves type specifiers. Defaults to a registry over Schema.
	Types *types.Registry

	// Base describes the driving table. ResourceType is required; the
	// table defaults to the lower-cased resource type.
	Base Base

	// Variables are external constants referenced as %name. Values may be
	// string, bool, any integer or float type, or nil for the empty
	// collection.
	Variables map[string]any
}

// Translator compiles FHIRPath ASTs into SQL fragments. It holds
// configuration only and is safe for concurrent use; per-compilation state
// lives in a Context.
type Translator struct {
	d      dialect.Dialect
	schema *schema.Schema
	types  *types.Registry
	base   Base
	vars   map[string]VariableBinding
}

// New validates cfg and returns a Translator. The dialect is wrapped in a
// contract guard so malformed dialect output surfaces as an error from
// Translate.
func New(cfg Config) (*Translator, error) {
	if cfg.Dialect == nil {
		return nil, errors.New("translator: dialect is required")
	}
	base := cfg.Base
	if base.ResourceType == "" {
		return nil, errors.New("translator: resource type is required")
	}
	if base.Table == "" {
		base.Table = strings.ToLower(base.ResourceType)
	}
	if base.IDColumn == "" {
		base.IDColumn = "id"
	}
	if base.ResourceColumn == "" {
		base.ResourceColumn = "resource"
	}
	for _, ident := range []string{base.Table, base.IDColumn, base.ResourceColumn} {
		if !identPattern.MatchString(ident) {
			return nil, fmt.Errorf("translator: %q is not a valid SQL identifier", ident)
		}
	}

	s := cfg.Schema
	if s == nil {
		s = schema.Default()
	}
	reg := cfg.Types
	if reg == nil {
		reg = types.NewRegistry(s)
	}

	vars := make(map[string]VariableBinding, len(cfg.Variables))
	for name, value := range cfg.Variables {
		f, err := variableFragment(value)
		if err != nil {
			return nil, fmt.Errorf("translator: variable %s: %w", name, err)
		}
		vars["%"+strings.TrimPrefix(name, "%")] = f.Binding()
	}

	return &Translator{
		d:      dialect.Guard(cfg.Dialect),
		schema: s,
		types:  reg,
		base:   base,
		vars:   vars,
	}, nil
}

// Base returns the driving table description after defaults.
func (t *Translator) Base() Base {
	return t.base
}

// NewContext creates the state for one compilation.
func (t *Translator) NewContext() *Context {
	return NewContext(t.base, t.vars)
}

// Translate compiles root against ctx. It returns the final value fragment,
// a single JSON item per row of its SourceTable, and leaves the emitted
// CTE fragments in ctx.Fragments().
func (t *Translator) Translate(ctx *Context, root ast.Node) (result Fragment, err error) {
	if root == nil {
		return Fragment{}, errors.New("translator: nil expression")
	}
	defer func() {
		if r := recover(); r != nil {
			cv, ok := r.(*dialect.ContractViolation)
			if !ok {
				panic(r)
			}
			result, err = Fragment{}, cv
		}
	}()

	steps := ast.Chain(root)
	if err := t.spineRoot(ctx, steps[0]); err != nil {
		return Fragment{}, err
	}
	for _, step := range steps[1:] {
		if err := t.spineStep(ctx, step); err != nil {
			return Fragment{}, err
		}
	}
	return t.finish(ctx), nil
}

func (t *Translator) spineRoot(ctx *Context, node ast.Node) error {
	ctx.source = ctx.baseSource()

	switch n := node.(type) {
	case *ast.Identifier:
		if n.Name == t.base.ResourceType {
			return nil
		}
		if t.schema.IsResource(n.Name) {
			return t.resourceMismatch(n)
		}
		return t.spineNavigate(ctx, n.Name, n)

	case *ast.FunctionCall:
		return t.spineFunction(ctx, n)
	}

	f, err := t.inline(ctx, node)
	if err != nil {
		return err
	}
	ctx.source = t.sourceFrom(f)
	return nil
}

func (t *Translator) spineStep(ctx *Context, node ast.Node) error {
	switch n := node.(type) {
	case *ast.Identifier:
		return t.spineNavigate(ctx, n.Name, n)
	case *ast.FunctionCall:
		return t.spineFunction(ctx, n)
	case *ast.Indexer:
		return t.spineIndex(ctx, n)
	}
	return fmt.Errorf("translator: unexpected chain step %T", node)
}

func (t *Translator) resourceMismatch(n *ast.Identifier) error {
	return newInvalidArgumentError(n.Source(),
		fmt.Sprintf("expression starts at %s but the source holds %s resources", n.Name, t.base.ResourceType))
}

// sourceFrom starts a dense row source from an inline value.
func (t *Translator) sourceFrom(f Fragment) rowSource {
	return rowSource{
		table:      f.SourceTable,
		expr:       f.Expression,
		dense:      true,
		collection: f.Collection,
		typ:        f.Type,
		kind:       f.Kind,
		choice:     choiceFrom(f),
	}
}

// replaceValue keeps the rows of the current source and swaps the value
// they carry.
func (t *Translator) replaceValue(ctx *Context, f Fragment) {
	src := ctx.source
	table := src.table
	if table == "" {
		table = f.SourceTable
	}
	ctx.source = rowSource{
		table:      table,
		expr:       f.Expression,
		ord:        src.ord,
		dense:      src.dense,
		collection: f.Collection,
		typ:        f.Type,
		kind:       f.Kind,
		choice:     choiceFrom(f),
	}
}

// value returns the value carried by a row source as a fragment.
func (t *Translator) value(src rowSource) Fragment {
	expr := src.expr
	if len(src.path) > 0 {
		expr = t.d.ExtractJSONField(expr, pathString(src.path))
	}
	f := Fragment{
		Expression:   expr,
		SourceTable:  src.table,
		Dependencies: t.deps(src.table),
		Kind:         src.kind,
		Type:         src.typ,
		Collection:   src.collection,
	}
	if src.choice != nil {
		f = withChoice(f, *src.choice)
	}
	return f
}

// host is the relation that rows are read from. Sources that read no
// table are anchored to the driving table.
func (t *Translator) host(src rowSource) string {
	if src.table == "" {
		return t.base.Table
	}
	return src.table
}

func (t *Translator) deps(table string) []string {
	if table == "" || table == t.base.Table {
		return nil
	}
	return []string{table}
}

func (t *Translator) column(table, col string) string {
	return table + "." + col
}

func (t *Translator) meta(name string) map[string]string {
	return map[string]string{
		MetaCTEName:     name,
		MetaResultAlias: ValueColumn,
		MetaIDColumn:    t.base.IDColumn,
	}
}

// Navigation

type property struct {
	name      string
	typ       string
	repeating bool
	choice    *schema.Element
}

// property resolves a child of typ. Types the schema does not describe are
// open: any child is allowed and assumed to repeat. Primitives have no
// children.
func (t *Translator) property(typ, name string, node ast.Node) (property, error) {
	if typ == "" || !t.schema.HasType(typ) {
		if types.IsPrimitive(typ) {
			return property{}, NewUnknownPropertyError(node.Source(), typ, name, nil)
		}
		return property{name: name, repeating: true}, nil
	}

	elem, ok := t.schema.Lookup(typ, name)
	if !ok {
		return property{}, NewUnknownPropertyError(node.Source(), typ, name, t.schema.Elements(typ))
	}
	if elem.Choice {
		return property{name: elem.Name, repeating: elem.Repeating(), choice: &elem}, nil
	}
	return property{name: elem.Name, typ: t.canonical(elem.Type()), repeating: elem.Repeating()}, nil
}

// canonical resolves a schema type name; complex types the registry does
// not know keep their name.
func (t *Translator) canonical(name string) string {
	if name == "" {
		return ""
	}
	if c, ok := t.types.ResolveToCanonical(name); ok {
		return c
	}
	return name
}

// choiceValue reads whichever typed property of a choice element is
// present.
func (t *Translator) choiceValue(parent string, elem *schema.Element) string {
	exprs := make([]string, 0, len(elem.Types))
	for _, typ := range elem.Types {
		exprs = append(exprs, t.d.ExtractJSONField(parent, "$."+schema.ChoiceProperty(elem.Name, typ)))
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	return "COALESCE(" + strings.Join(exprs, ", ") + ")"
}

func (t *Translator) spineNavigate(ctx *Context, name string, node ast.Node) error {
	if ctx.source.kind == KindScalar {
		return NewUnknownPropertyError(node.Source(), typeLabel(ctx.source.typ), name, nil)
	}
	if ctx.source.collection {
		t.unnest(ctx)
	}
	src := ctx.source

	prop, err := t.property(src.typ, name, node)
	if err != nil {
		return err
	}

	if prop.choice != nil {
		parent := t.value(src).Expression
		ctx.source = rowSource{
			table:      src.table,
			expr:       t.choiceValue(parent, prop.choice),
			ord:        src.ord,
			dense:      src.dense,
			collection: prop.repeating,
			kind:       KindJSON,
			choice:     &choiceRef{parent: parent, owner: src.typ, base: prop.name},
		}
		return nil
	}

	src.path = append(slices.Clone(src.path), prop.name)
	src.collection = prop.repeating
	src.typ = prop.typ
	src.choice = nil
	ctx.source = src
	return nil
}

func typeLabel(typ string) string {
	if typ == "" {
		return "value"
	}
	return typ
}

// Row source transitions

type unnestPlan struct {
	host      string
	arrayExpr string
	alias     string
	parentOrd string
	typ       string
}

func (t *Translator) beginUnnest(ctx *Context) unnestPlan {
	src := ctx.source
	return unnestPlan{
		host:      t.host(src),
		arrayExpr: t.toJSON(t.value(src)).Expression,
		alias:     ctx.NextAlias(),
		parentOrd: src.ord,
		typ:       src.typ,
	}
}

func (t *Translator) planElement(p unnestPlan) Fragment {
	return Fragment{
		Expression:   t.d.UnnestElement(p.alias),
		SourceTable:  p.host,
		Dependencies: t.deps(p.host),
		Kind:         KindJSON,
		Type:         p.typ,
	}
}

func (t *Translator) planIndex(p unnestPlan) Fragment {
	return Fragment{Expression: t.d.UnnestOrdinal(p.alias), Kind: KindScalar, Type: types.Integer}
}

func (t *Translator) planTotal(p unnestPlan) Fragment {
	return Fragment{Expression: t.d.GetJSONArrayLength(p.arrayExpr), Kind: KindScalar, Type: types.Integer}
}

// endUnnest emits the unnest fragment: one row per item, carrying
// projection (usually the item itself) and a composite ordering key.
func (t *Translator) endUnnest(ctx *Context, p unnestPlan, projection Fragment, filter string) {
	parentKey := p.parentOrd
	if parentKey == "" {
		parentKey = "''"
	}
	proj := t.toJSON(projection)

	name := ctx.NextCTEName()
	meta := t.meta(name)
	meta[MetaArrayColumn] = p.arrayExpr
	meta[MetaElementAlias] = p.alias
	meta[MetaOrdinal] = t.d.GenerateOrdinalKey(parentKey, t.d.UnnestOrdinal(p.alias))
	if filter != "" {
		meta[MetaFilter] = filter
	}

	ctx.emit(Fragment{
		Expression:     proj.Expression,
		SourceTable:    p.host,
		RequiresUnnest: true,
		Dependencies:   t.deps(p.host),
		Metadata:       meta,
		Kind:           KindJSON,
		Type:           proj.Type,
		Collection:     proj.Collection,
	})
	ctx.source = rowSource{
		table:      name,
		expr:       t.column(name, ValueColumn),
		ord:        t.column(name, OrdColumn),
		collection: proj.Collection,
		typ:        proj.Type,
		kind:       KindJSON,
	}
}

// unnest turns the current collection into one row per item.
func (t *Translator) unnest(ctx *Context) {
	p := t.beginUnnest(ctx)
	t.endUnnest(ctx, p, t.planElement(p), "")
}

// project emits a projection fragment over src: same rows (restricted by
// filter), new value.
func (t *Translator) project(ctx *Context, src rowSource, value Fragment, filter string) {
	host := t.host(src)
	name := ctx.NextCTEName()
	meta := t.meta(name)
	if src.ord != "" {
		meta[MetaSourceOrd] = src.ord
	}
	if filter != "" {
		meta[MetaFilter] = filter
	}

	ctx.emit(Fragment{
		Expression:   value.Expression,
		SourceTable:  host,
		Dependencies: t.deps(host),
		Metadata:     meta,
		Kind:         value.Kind,
		Type:         value.Type,
		Collection:   value.Collection,
	})

	next := rowSource{
		table:      name,
		expr:       t.column(name, ValueColumn),
		dense:      src.dense && filter == "",
		collection: value.Collection,
		typ:        value.Type,
		kind:       value.Kind,
	}
	if src.ord != "" {
		next.ord = t.column(name, OrdColumn)
	}
	ctx.source = next
}

// collect makes the current source dense: one row per record holding the
// record's whole collection. Sparse sources are regrouped by an aggregate
// fragment driven from the base table, so records without rows get an
// empty array instead of disappearing.
func (t *Translator) collect(ctx *Context) Fragment {
	if ctx.source.dense {
		return t.value(ctx.source)
	}
	if ctx.source.collection {
		t.unnest(ctx)
	}
	src := ctx.source
	value := t.toJSON(t.value(src))

	name := ctx.NextCTEName()
	ctx.emit(Fragment{
		Expression:   t.d.GenerateArrayAggregate(value.Expression, src.ord),
		SourceTable:  src.table,
		IsAggregate:  true,
		Dependencies: t.deps(src.table),
		Metadata:     t.meta(name),
		Kind:         KindJSON,
		Type:         value.Type,
		Collection:   true,
	})
	ctx.source = rowSource{
		table:      name,
		expr:       t.column(name, ValueColumn),
		dense:      true,
		collection: true,
		typ:        value.Type,
		kind:       KindJSON,
	}
	return t.value(ctx.source)
}

// finish reduces the current source to one JSON item per row.
func (t *Translator) finish(ctx *Context) Fragment {
	if ctx.source.collection {
		t.unnest(ctx)
	}
	src := ctx.source
	value := t.toJSON(t.value(src))
	value.Collection = false
	value.Metadata = map[string]string{MetaIDColumn: t.base.IDColumn, MetaResultAlias: "result"}
	if src.ord != "" {
		value.Metadata[MetaSourceOrd] = src.ord
	}
	return value
}

// Spine functions

func (t *Translator) spineFunction(ctx *Context, call *ast.FunctionCall) error {
	spec, err := lookupFunction(call)
	if err != nil {
		return err
	}

	switch call.Name {
	case "where":
		return t.spineWhere(ctx, call)
	case "select":
		return t.spineSelect(ctx, call)
	case "first":
		return t.spineFirst(ctx)
	case "last", "tail", "skip", "take":
		return t.spineSlice(ctx, call)
	case "ofType":
		return t.spineOfType(ctx, call)
	}

	var focus Fragment
	if spec.class == classCollection {
		focus = t.collect(ctx)
	} else {
		if ctx.source.collection {
			t.unnest(ctx)
		}
		focus = t.value(ctx.source)
	}

	f, err := t.function(ctx, call, focus)
	if err != nil {
		return err
	}
	t.replaceValue(ctx, f)
	return nil
}

func (t *Translator) spineWhere(ctx *Context, call *ast.FunctionCall) error {
	t.denseCollection(ctx)
	src := ctx.source
	if src.collection {
		p := t.beginUnnest(ctx)
		elem := t.planElement(p)
		cond, err := t.lambdaCondition(ctx, call.Args[0], elem, t.planIndex(p), t.planTotal(p))
		if err != nil {
			return err
		}
		t.endUnnest(ctx, p, elem, cond)
		return nil
	}

	index, total := t.rowPosition(ctx, src)
	value := t.value(src)
	cond, err := t.lambdaCondition(ctx, call.Args[0], value, index, total)
	if err != nil {
		return err
	}
	t.project(ctx, src, value, cond)
	return nil
}

// denseCollection regroups collections spread over several rows of a
// record, so that $index and $total range over the record's whole input
// collection rather than one inner array.
func (t *Translator) denseCollection(ctx *Context) {
	if ctx.source.collection && !ctx.source.dense {
		t.collect(ctx)
	}
}

// rowPosition gives $index and $total for a source read one row at a
// time.
func (t *Translator) rowPosition(ctx *Context, src rowSource) (index, total Fragment) {
	index = Fragment{Expression: "0", Kind: KindScalar, Type: types.Integer}
	total = Fragment{Expression: "1", Kind: KindScalar, Type: types.Integer}
	if src.dense {
		return index, total
	}

	alias := ctx.NextAlias()
	id := t.base.IDColumn
	same := fmt.Sprintf("%s = %s", t.column(alias, id), t.column(src.table, id))
	total.Expression = fmt.Sprintf("(SELECT COUNT(*) FROM %s AS %s WHERE %s)", src.table, alias, same)
	if src.ord != "" {
		index.Expression = fmt.Sprintf("(SELECT COUNT(*) FROM %s AS %s WHERE %s AND %s < %s)",
			src.table, alias, same, t.column(alias, OrdColumn), src.ord)
	}
	return index, total
}

func (t *Translator) spineSelect(ctx *Context, call *ast.FunctionCall) error {
	t.denseCollection(ctx)
	src := ctx.source
	if src.collection {
		p := t.beginUnnest(ctx)
		proj, err := t.lambdaValue(ctx, call.Args[0], t.planElement(p), t.planIndex(p), t.planTotal(p))
		if err != nil {
			return err
		}
		t.endUnnest(ctx, p, proj, "")
	} else {
		index, total := t.rowPosition(ctx, src)
		proj, err := t.lambdaValue(ctx, call.Args[0], t.value(src), index, total)
		if err != nil {
			return err
		}
		t.project(ctx, src, t.toJSON(proj), "")
	}

	if ctx.source.collection {
		t.unnest(ctx)
	}
	t.collect(ctx)
	return nil
}

func (t *Translator) spineFirst(ctx *Context) error {
	t.collect(ctx)
	src := ctx.source
	if src.kind == KindScalar || !src.collection {
		return nil
	}
	t.selectItem(ctx, 0)
	return nil
}

// selectItem narrows the dense collection of the current source to the
// item at n. Known arrays are indexed through the path; values of open
// types may not be arrays, so they are normalized first.
func (t *Translator) selectItem(ctx *Context, n int) {
	src := ctx.source
	if src.typ == "" {
		arr := t.d.GenerateArraySkip(t.value(src).Expression, strconv.Itoa(n))
		src.expr = t.d.ExtractJSONField(arr, "$[0]")
		src.path = nil
	} else {
		src.path = append(slices.Clone(src.path), fmt.Sprintf("[%d]", n))
	}
	src.collection = false
	src.choice = nil
	ctx.source = src
}

func (t *Translator) spineSlice(ctx *Context, call *ast.FunctionCall) error {
	focus := t.collect(ctx)
	src := ctx.source
	if call.Name == "last" && !focus.Collection {
		return nil
	}

	f, err := t.slice(ctx, call, focus)
	if err != nil {
		return err
	}
	t.project(ctx, src, f, "")
	return nil
}

func (t *Translator) spineOfType(ctx *Context, call *ast.FunctionCall) error {
	canonical, err := t.typeArgument(call)
	if err != nil {
		return err
	}
	t.replaceValue(ctx, t.filterType(t.value(ctx.source), canonical))
	return nil
}

func (t *Translator) spineIndex(ctx *Context, idx *ast.Indexer) error {
	n, err := indexArgument(idx)
	if err != nil {
		return err
	}
	t.collect(ctx)
	src := ctx.source
	if !src.collection {
		if n != 0 {
			t.replaceValue(ctx, t.empty(src.typ))
		}
		return nil
	}
	t.selectItem(ctx, n)
	return nil
}

func indexArgument(idx *ast.Indexer) (int, error) {
	switch n := idx.Index.(type) {
	case *ast.Literal:
		if n.Kind == ast.LiteralInteger {
			return strconv.Atoi(n.Value)
		}
	case *ast.UnaryOp:
		if lit, ok := n.Operand.(*ast.Literal); ok && n.Op == "-" && lit.Kind == ast.LiteralInteger {
			return 0, newInvalidArgumentError(idx.Source(), "index must not be negative")
		}
	}
	return 0, NewUnsupportedError(idx.Source(), "index must be an integer literal")
}

// Lambdas

func (t *Translator) lambdaBindings(this, index, total Fragment) map[string]VariableBinding {
	return map[string]VariableBinding{
		"$this":  this.Binding(),
		"$index": index.Binding(),
		"$total": total.Binding(),
	}
}

func (t *Translator) lambdaCondition(ctx *Context, arg ast.Node, this, index, total Fragment) (string, error) {
	var cond string
	err := ctx.WithScope(true, t.lambdaBindings(this, index, total), func() error {
		f, err := t.inline(ctx, arg)
		if err != nil {
			return err
		}
		cond = t.toBoolean(f)
		return nil
	})
	return cond, err
}

func (t *Translator) lambdaValue(ctx *Context, arg ast.Node, this, index, total Fragment) (Fragment, error) {
	var out Fragment
	err := ctx.WithScope(true, t.lambdaBindings(this, index, total), func() error {
		f, err := t.inline(ctx, arg)
		out = f
		return err
	})
	return out, err
}
