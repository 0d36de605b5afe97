package ast

import (
	"strings"
)

// Visitor is called for each node by Walk. If it returns false, the node's
// children are skipped.
type Visitor func(n Node) bool

// Walk traverses the tree depth-first in source order.
func Walk(n Node, visit Visitor) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, child := range n.Children() {
		Walk(child, visit)
	}
}

// Inspect collects every node for which match returns true.
func Inspect(n Node, match func(Node) bool) []Node {
	var out []Node
	Walk(n, func(node Node) bool {
		if match(node) {
			out = append(out, node)
		}
		return true
	})
	return out
}

// UsesVariable reports whether the tree references the named variable.
func UsesVariable(n Node, name string) bool {
	found := false
	Walk(n, func(node Node) bool {
		if v, ok := node.(*Variable); ok && v.Name == name {
			found = true
		}
		return !found
	})
	return found
}

// Chain flattens a left-nested invocation chain into its steps.
//
// For Patient.name.where(use = 'official').family the steps are
// [Identifier(Patient), Identifier(name), FunctionCall(where), Identifier(family)].
// Indexers appear as their own step. The root is the first element and may be
// any node (for example a parenthesized binary expression).
func Chain(n Node) []Node {
	var steps []Node
	for {
		switch node := n.(type) {
		case *Invocation:
			steps = append(steps, node.Member)
			n = node.Target
			continue
		case *Indexer:
			steps = append(steps, node)
			n = node.Target
			continue
		}
		break
	}
	steps = append(steps, n)

	// Reverse into source order
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

// String renders a node as canonical FHIRPath text.
func String(n Node) string {
	var sb strings.Builder
	write(&sb, n)
	return sb.String()
}

func write(sb *strings.Builder, n Node) {
	switch node := n.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Literal:
		writeLiteral(sb, node)
	case *Identifier:
		sb.WriteString(node.Name)
	case *Variable:
		sb.WriteString(node.Name)
	case *Invocation:
		write(sb, node.Target)
		sb.WriteByte('.')
		write(sb, node.Member)
	case *FunctionCall:
		sb.WriteString(node.Name)
		sb.WriteByte('(')
		for i, arg := range node.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			write(sb, arg)
		}
		sb.WriteByte(')')
	case *Indexer:
		write(sb, node.Target)
		sb.WriteByte('[')
		write(sb, node.Index)
		sb.WriteByte(']')
	case *BinaryOp:
		sb.WriteByte('(')
		write(sb, node.Left)
		sb.WriteByte(' ')
		sb.WriteString(node.Op)
		sb.WriteByte(' ')
		write(sb, node.Right)
		sb.WriteByte(')')
	case *UnaryOp:
		sb.WriteString(node.Op)
		write(sb, node.Operand)
	case *TypeOp:
		write(sb, node.Operand)
		sb.WriteByte(' ')
		sb.WriteString(node.Op)
		sb.WriteByte(' ')
		sb.WriteString(node.Type)
	}
}

func writeLiteral(sb *strings.Builder, lit *Literal) {
	switch lit.Kind {
	case LiteralEmpty:
		sb.WriteString("{}")
	case LiteralString:
		sb.WriteByte('\'')
		sb.WriteString(strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(lit.Value))
		sb.WriteByte('\'')
	case LiteralDate, LiteralDateTime:
		sb.WriteByte('@')
		sb.WriteString(lit.Value)
	case LiteralTime:
		sb.WriteString("@T")
		sb.WriteString(lit.Value)
	case LiteralQuantity:
		sb.WriteString(lit.Value)
		sb.WriteString(" '")
		sb.WriteString(lit.Unit)
		sb.WriteByte('\'')
	default:
		sb.WriteString(lit.Value)
	}
}
