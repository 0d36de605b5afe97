package translator

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/fhirsql/internal/ast"
	"github.com/roach88/fhirsql/internal/types"
)

type functionClass int

const (
	// classItem functions apply to each item independently.
	classItem functionClass = iota

	// classCollection functions read the whole collection of a record.
	classCollection

	// classRow functions have a row-level rendition on the spine.
	classRow
)

type functionSpec struct {
	min, max int
	class    functionClass
}

func (s functionSpec) arity() string {
	if s.min == s.max {
		return fmt.Sprint(s.min)
	}
	return fmt.Sprintf("%d-%d", s.min, s.max)
}

var functions = map[string]functionSpec{
	// Filtering and projection
	"where":  {1, 1, classRow},
	"select": {1, 1, classRow},
	"ofType": {1, 1, classRow},

	// Subsetting
	"first":  {0, 0, classRow},
	"last":   {0, 0, classRow},
	"tail":   {0, 0, classRow},
	"skip":   {1, 1, classRow},
	"take":   {1, 1, classRow},
	"single": {0, 0, classCollection},

	// Existence and aggregates
	"exists":    {0, 1, classCollection},
	"empty":     {0, 0, classCollection},
	"count":     {0, 0, classCollection},
	"all":       {1, 1, classCollection},
	"aggregate": {1, 2, classCollection},
	"hasValue":  {0, 0, classItem},

	// Logic and types
	"not": {0, 0, classItem},
	"iif": {2, 3, classItem},
	"is":  {1, 1, classItem},
	"as":  {1, 1, classItem},

	// Conversions
	"toString":  {0, 0, classItem},
	"toInteger": {0, 0, classItem},
	"toDecimal": {0, 0, classItem},
	"toBoolean": {0, 0, classItem},

	// Strings
	"startsWith": {1, 1, classItem},
	"endsWith":   {1, 1, classItem},
	"contains":   {1, 1, classItem},
	"upper":      {0, 0, classItem},
	"lower":      {0, 0, classItem},
	"length":     {0, 0, classItem},
	"substring":  {1, 2, classItem},
	"replace":    {2, 2, classItem},
	"indexOf":    {1, 1, classItem},
	"trim":       {0, 0, classItem},
	"matches":    {1, 1, classItem},

	// Math
	"abs":      {0, 0, classItem},
	"ceiling":  {0, 0, classItem},
	"floor":    {0, 0, classItem},
	"round":    {0, 1, classItem},
	"truncate": {0, 0, classItem},
	"sqrt":     {0, 0, classItem},
	"ln":       {0, 0, classItem},
	"exp":      {0, 0, classItem},
	"power":    {1, 1, classItem},
}

var stringResultTypes = map[string]string{
	"startsWith": types.Boolean,
	"endsWith":   types.Boolean,
	"contains":   types.Boolean,
	"matches":    types.Boolean,
	"length":     types.Integer,
	"indexOf":    types.Integer,
}

var mathFunctions = map[string]bool{
	"abs": true, "ceiling": true, "floor": true, "round": true, "truncate": true,
	"sqrt": true, "ln": true, "exp": true, "power": true,
}

// FunctionNames returns every supported function name, sorted.
func FunctionNames() []string {
	return slices.Sorted(maps.Keys(functions))
}

func lookupFunction(call *ast.FunctionCall) (functionSpec, error) {
	spec, ok := functions[call.Name]
	if !ok {
		return functionSpec{}, NewUnknownFunctionError(call.Source(), call.Name, FunctionNames())
	}
	if n := len(call.Args); n < spec.min || n > spec.max {
		return functionSpec{}, NewArityError(call.Source(), call.Name, spec.arity(), n)
	}
	return spec, nil
}

// function applies call to focus inline.
func (t *Translator) function(ctx *Context, call *ast.FunctionCall, focus Fragment) (Fragment, error) {
	if _, err := lookupFunction(call); err != nil {
		return Fragment{}, err
	}

	switch call.Name {
	case "where", "select", "all", "exists", "aggregate":
		if call.Name == "exists" && len(call.Args) == 0 {
			return t.existence(call.Name, focus), nil
		}
		return t.lambda(ctx, call, focus)

	case "empty", "count", "hasValue":
		return t.existence(call.Name, focus), nil

	case "first":
		return t.item(focus, 0), nil

	case "last", "tail", "skip", "take":
		if call.Name == "last" && !focus.Collection {
			return focus, nil
		}
		return t.slice(ctx, call, focus)

	case "single":
		if !focus.Collection {
			return focus, nil
		}
		f := t.toJSON(focus)
		first := t.item(f, 0)
		return first.WithExpression(fmt.Sprintf("(CASE WHEN %s = 1 THEN %s END)",
			t.d.GetJSONArrayLength(f.Expression), first.Expression)), nil

	case "not":
		return boolean(fmt.Sprintf("(NOT %s)", t.toBoolean(focus)), focus), nil

	case "iif":
		return t.iif(ctx, call)

	case "ofType", "as", "is":
		canonical, err := t.typeArgument(call)
		if err != nil {
			return Fragment{}, err
		}
		if call.Name == "is" {
			return t.isType(focus, canonical), nil
		}
		return t.filterType(focus, canonical), nil

	case "toString", "toInteger", "toDecimal", "toBoolean":
		return t.convert(call.Name, focus), nil
	}

	if mathFunctions[call.Name] {
		return t.math(ctx, call, focus)
	}
	return t.stringFunction(ctx, call, focus)
}

func boolean(expr string, operands ...Fragment) Fragment {
	return mergeSources(Fragment{Expression: expr, Kind: KindScalar, Type: types.Boolean}, operands...)
}

// existence implements the collection tests that need no lambda.
func (t *Translator) existence(name string, focus Fragment) Fragment {
	if focus.Kind == KindScalar {
		switch name {
		case "exists", "hasValue":
			return boolean(fmt.Sprintf("(%s IS NOT NULL)", focus.Expression), focus)
		case "empty":
			return boolean(fmt.Sprintf("(%s IS NULL)", focus.Expression), focus)
		}
		return mergeSources(Fragment{
			Expression: fmt.Sprintf("(CASE WHEN %s IS NULL THEN 0 ELSE 1 END)", focus.Expression),
			Kind:       KindScalar,
			Type:       types.Integer,
		}, focus)
	}

	length := t.d.GetJSONArrayLength(focus.Expression)
	switch name {
	case "exists":
		return boolean(fmt.Sprintf("(%s > 0)", length), focus)
	case "empty":
		return boolean(fmt.Sprintf("(%s = 0)", length), focus)
	case "hasValue":
		return boolean(fmt.Sprintf("(%s IS NOT NULL)", t.singleton(focus).Expression), focus)
	}
	return mergeSources(Fragment{Expression: length, Kind: KindScalar, Type: types.Integer}, focus)
}

// slice implements last, tail, skip and take over a collection value.
func (t *Translator) slice(ctx *Context, call *ast.FunctionCall, focus Fragment) (Fragment, error) {
	f := t.toJSON(focus)
	out := withoutChoice(f)
	out.Collection = true

	switch call.Name {
	case "last":
		out.Expression = t.d.GenerateArrayLast(f.Expression)
		out.Collection = false
	case "tail":
		out.Expression = t.d.GenerateArraySkip(f.Expression, "1")
	default:
		count, err := t.inline(ctx, call.Args[0])
		if err != nil {
			return Fragment{}, err
		}
		n := t.toScalar(count, types.Integer)
		if call.Name == "skip" {
			out.Expression = t.d.GenerateArraySkip(f.Expression, n)
		} else {
			out.Expression = t.d.GenerateArrayTake(f.Expression, n)
		}
	}
	return out, nil
}

// lambda implements the functions that evaluate their argument once per
// item with $this, $index and $total bound.
func (t *Translator) lambda(ctx *Context, call *ast.FunctionCall, focus Fragment) (Fragment, error) {
	f := t.toJSON(focus)
	alias := ctx.NextAlias()
	elem := Fragment{
		Expression:   t.d.UnnestElement(alias),
		SourceTable:  f.SourceTable,
		Dependencies: f.Dependencies,
		Kind:         KindJSON,
		Type:         f.Type,
	}
	index := Fragment{Expression: t.d.UnnestOrdinal(alias), Kind: KindScalar, Type: types.Integer}
	total := Fragment{Expression: t.d.GetJSONArrayLength(f.Expression), Kind: KindScalar, Type: types.Integer}

	if call.Name == "aggregate" {
		return t.aggregate(ctx, call, f, alias, elem, index)
	}

	var body Fragment
	err := ctx.WithScope(true, t.lambdaBindings(elem, index, total), func() error {
		var err error
		body, err = t.inline(ctx, call.Args[0])
		return err
	})
	if err != nil {
		return Fragment{}, err
	}

	switch call.Name {
	case "where":
		out := withoutChoice(f)
		out.Expression = t.d.GenerateArrayMap(f.Expression, alias, elem.Expression, t.toBoolean(body), false)
		out.Collection = true
		return out, nil

	case "select":
		proj := t.toJSON(body)
		return mergeSources(Fragment{
			Expression: t.d.GenerateArrayMap(f.Expression, alias, proj.Expression, "", proj.Collection),
			Kind:       KindJSON,
			Type:       proj.Type,
			Collection: true,
		}, f), nil

	case "all":
		failing := t.d.GenerateArrayMap(f.Expression, alias, elem.Expression,
			fmt.Sprintf("NOT COALESCE(%s, FALSE)", t.toBoolean(body)), false)
		return boolean(fmt.Sprintf("(%s = 0)", t.d.GetJSONArrayLength(failing)), f), nil
	}

	// exists(criteria)
	matching := t.d.GenerateArrayMap(f.Expression, alias, elem.Expression, t.toBoolean(body), false)
	return boolean(fmt.Sprintf("(%s > 0)", t.d.GetJSONArrayLength(matching)), f), nil
}

// aggregate supports the running-sum form: aggregate($total + expr, init).
// The argument is translated in its own scope either way so that scope
// depth is unaffected by the outcome.
func (t *Translator) aggregate(ctx *Context, call *ast.FunctionCall, f Fragment, alias string, elem, index Fragment) (Fragment, error) {
	var init *Fragment
	if len(call.Args) == 2 {
		v, err := t.inline(ctx, call.Args[1])
		if err != nil {
			return Fragment{}, err
		}
		init = &v
	}

	running := Fragment{Expression: "0", Kind: KindScalar, Type: types.Integer}
	if init != nil {
		running = *init
	}

	var out Fragment
	err := ctx.WithScope(true, t.lambdaBindings(elem, index, running), func() error {
		term := additiveTerm(call.Args[0])
		if term == nil {
			return NewUnsupportedError(call.Source(), "aggregate() supports only the form $total + <expression>")
		}
		body, err := t.inline(ctx, term)
		if err != nil {
			return err
		}

		typ := t.numericType(body)
		sum := t.d.GenerateArraySum(f.Expression, alias, t.toScalar(body, typ))
		if init != nil {
			sum = fmt.Sprintf("(%s + COALESCE(%s, 0))", t.toScalar(*init, t.numericType(*init)), sum)
		}
		if typ == types.Quantity {
			typ = types.Decimal
		}
		out = mergeSources(Fragment{Expression: sum, Kind: KindScalar, Type: typ}, f)
		return nil
	})
	return out, err
}

// additiveTerm returns E for `$total + E` or `E + $total` when E does not
// itself read $total.
func additiveTerm(node ast.Node) ast.Node {
	bin, ok := node.(*ast.BinaryOp)
	if !ok || bin.Op != "+" {
		return nil
	}
	isTotal := func(n ast.Node) bool {
		v, ok := n.(*ast.Variable)
		return ok && v.Name == "$total"
	}
	switch {
	case isTotal(bin.Left) && !ast.UsesVariable(bin.Right, "$total"):
		return bin.Right
	case isTotal(bin.Right) && !ast.UsesVariable(bin.Left, "$total"):
		return bin.Left
	}
	return nil
}

func (t *Translator) iif(ctx *Context, call *ast.FunctionCall) (Fragment, error) {
	cond, err := t.inline(ctx, call.Args[0])
	if err != nil {
		return Fragment{}, err
	}
	then, err := t.inline(ctx, call.Args[1])
	if err != nil {
		return Fragment{}, err
	}
	otherwise := Fragment{Expression: "NULL", Kind: then.Kind, Type: then.Type}
	if then.Kind == KindJSON {
		otherwise = t.empty(then.Type)
	}
	if len(call.Args) == 3 {
		if otherwise, err = t.inline(ctx, call.Args[2]); err != nil {
			return Fragment{}, err
		}
	}

	if then.Kind != otherwise.Kind {
		then, otherwise = t.toJSON(then), t.toJSON(otherwise)
	}
	typ := then.Type
	if len(call.Args) == 3 && otherwise.Type != typ {
		typ = ""
	}
	return mergeSources(Fragment{
		Expression: fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)", t.toBoolean(cond), then.Expression, otherwise.Expression),
		Kind:       then.Kind,
		Type:       typ,
		Collection: then.Collection || otherwise.Collection,
	}, cond, then, otherwise), nil
}

func (t *Translator) convert(name string, focus Fragment) Fragment {
	value, typ := t.ownScalar(focus)
	var out Fragment
	switch name {
	case "toString":
		expr := t.d.GenerateTypeCast(value, types.String)
		if typ == types.Boolean {
			expr = fmt.Sprintf("(CASE WHEN %[1]s THEN 'true' WHEN NOT %[1]s THEN 'false' END)", value)
		}
		out = Fragment{Expression: expr, Type: types.String}
	case "toInteger":
		out = Fragment{Expression: t.d.GenerateTypeCast(value, types.Integer), Type: types.Integer}
	case "toDecimal":
		out = Fragment{Expression: t.d.GenerateTypeCast(value, types.Decimal), Type: types.Decimal}
	case "toBoolean":
		out = Fragment{Expression: t.d.GenerateTypeCast(value, types.Boolean), Type: types.Boolean}
	}
	out.Kind = KindScalar
	return mergeSources(out, focus)
}

func (t *Translator) stringFunction(ctx *Context, call *ast.FunctionCall, focus Fragment) (Fragment, error) {
	args := []string{t.toScalar(focus, types.String)}
	operands := []Fragment{focus}
	for _, arg := range call.Args {
		f, err := t.inline(ctx, arg)
		if err != nil {
			return Fragment{}, err
		}
		typ := types.String
		if call.Name == "substring" {
			typ = types.Integer
		}
		args = append(args, t.toScalar(f, typ))
		operands = append(operands, f)
	}

	expr, ok := t.d.GenerateStringFunction(call.Name, args)
	if !ok {
		return Fragment{}, NewUnsupportedError(call.Source(),
			fmt.Sprintf("%s() is not available in the %s dialect", call.Name, t.d.Name()))
	}
	typ, ok := stringResultTypes[call.Name]
	if !ok {
		typ = types.String
	}
	return mergeSources(Fragment{Expression: expr, Kind: KindScalar, Type: typ}, operands...), nil
}

func (t *Translator) math(ctx *Context, call *ast.FunctionCall, focus Fragment) (Fragment, error) {
	inputType := t.numericType(focus)
	args := []string{t.toScalar(focus, inputType)}
	operands := []Fragment{focus}
	for _, arg := range call.Args {
		f, err := t.inline(ctx, arg)
		if err != nil {
			return Fragment{}, err
		}
		args = append(args, t.toScalar(f, t.numericType(f)))
		operands = append(operands, f)
	}

	expr, ok := t.d.GenerateMathFunction(call.Name, args)
	if !ok {
		return Fragment{}, NewUnsupportedError(call.Source(),
			fmt.Sprintf("%s() is not available in the %s dialect", call.Name, t.d.Name()))
	}

	typ := types.Decimal
	switch call.Name {
	case "ceiling", "floor", "truncate":
		typ = types.Integer
	case "abs":
		typ = inputType
		if typ == types.Quantity {
			typ = types.Decimal
		}
	}
	return mergeSources(Fragment{Expression: expr, Kind: KindScalar, Type: typ}, operands...), nil
}
