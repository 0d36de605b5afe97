package ast

// Node is any FHIRPath expression node.
type Node interface {
	// Source returns the original expression text for this node.
	Source() string

	// Children returns direct child nodes in evaluation order.
	Children() []Node

	exprNode() // Marker method - seals interface to this package
}

// LiteralKind identifies the FHIRPath type of a literal.
type LiteralKind int

const (
	LiteralEmpty LiteralKind = iota // {}
	LiteralBoolean
	LiteralString
	LiteralInteger
	LiteralDecimal
	LiteralDate
	LiteralDateTime
	LiteralTime
	LiteralQuantity
)

var literalKindNames = [...]string{
	LiteralEmpty:    "empty",
	LiteralBoolean:  "boolean",
	LiteralString:   "string",
	LiteralInteger:  "integer",
	LiteralDecimal:  "decimal",
	LiteralDate:     "date",
	LiteralDateTime: "dateTime",
	LiteralTime:     "time",
	LiteralQuantity: "Quantity",
}

// String returns the FHIRPath type name of the literal kind.
func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return "unknown"
}

// Literal is a scalar constant.
//
// Value holds the literal in its unquoted, unescaped form: string contents
// without quotes, numbers as written, dates without the leading '@'.
// Unit is only set for quantities (e.g. "mg", "days").
type Literal struct {
	Kind  LiteralKind
	Value string
	Unit  string
	Text  string
}

// Identifier is a member name navigated from the current focus.
type Identifier struct {
	Name string
	Text string
}

// Variable is a reference to $this, $index, $total or an %environment
// variable. Name keeps its sigil ("$this", "%resource").
type Variable struct {
	Name string
	Text string
}

// Invocation applies Member to the result of Target.
// Member is always an *Identifier or a *FunctionCall.
type Invocation struct {
	Target Node
	Member Node
	Text   string
}

// FunctionCall is a function invocation. When it appears as the Member of an
// Invocation, its focus is the Invocation target; otherwise its focus is the
// implicit input ($this).
type FunctionCall struct {
	Name string
	Args []Node
	Text string
}

// Indexer selects a single element: Target[Index].
type Indexer struct {
	Target Node
	Index  Node
	Text   string
}

// BinaryOp is an infix operator application. Op holds the operator token as
// written in FHIRPath ("=", "!=", "and", "div", "&", ...).
type BinaryOp struct {
	Op    string
	Left  Node
	Right Node
	Text  string
}

// UnaryOp is a prefix polarity operator ("-" or "+").
type UnaryOp struct {
	Op      string
	Operand Node
	Text    string
}

// TypeOp is the "is" or "as" operator with a type specifier. Type keeps the
// specifier as written, possibly namespace-qualified ("FHIR.string").
type TypeOp struct {
	Op      string
	Operand Node
	Type    string
	Text    string
}

func (*Literal) exprNode()      {}
func (*Identifier) exprNode()   {}
func (*Variable) exprNode()     {}
func (*Invocation) exprNode()   {}
func (*FunctionCall) exprNode() {}
func (*Indexer) exprNode()      {}
func (*BinaryOp) exprNode()     {}
func (*UnaryOp) exprNode()      {}
func (*TypeOp) exprNode()       {}

func (n *Literal) Source() string      { return sourceOr(n.Text, n) }
func (n *Identifier) Source() string   { return sourceOr(n.Text, n) }
func (n *Variable) Source() string     { return sourceOr(n.Text, n) }
func (n *Invocation) Source() string   { return sourceOr(n.Text, n) }
func (n *FunctionCall) Source() string { return sourceOr(n.Text, n) }
func (n *Indexer) Source() string      { return sourceOr(n.Text, n) }
func (n *BinaryOp) Source() string     { return sourceOr(n.Text, n) }
func (n *UnaryOp) Source() string      { return sourceOr(n.Text, n) }
func (n *TypeOp) Source() string       { return sourceOr(n.Text, n) }

func (n *Literal) Children() []Node    { return nil }
func (n *Identifier) Children() []Node { return nil }
func (n *Variable) Children() []Node   { return nil }

func (n *Invocation) Children() []Node {
	return []Node{n.Target, n.Member}
}

func (n *FunctionCall) Children() []Node {
	out := make([]Node, len(n.Args))
	copy(out, n.Args)
	return out
}

func (n *Indexer) Children() []Node {
	return []Node{n.Target, n.Index}
}

func (n *BinaryOp) Children() []Node {
	return []Node{n.Left, n.Right}
}

func (n *UnaryOp) Children() []Node {
	return []Node{n.Operand}
}

func (n *TypeOp) Children() []Node {
	return []Node{n.Operand}
}

// sourceOr falls back to the canonical rendering for hand-built nodes that
// carry no source text.
func sourceOr(text string, n Node) string {
	if text != "" {
		return text
	}
	return String(n)
}
