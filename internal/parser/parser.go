// Package parser turns FHIRPath expression text into an ast.Node tree.
//
// The parser is a precedence-climbing recursive-descent parser over a
// byte-oriented tokenizer. It accepts the FHIRPath operator set and literal
// forms; evaluation semantics live entirely in the translator.
package parser

import (
	"fmt"
	"strings"

	"github.com/roach88/fhirsql/internal/ast"
)

// calendarUnits are the unquoted quantity units FHIRPath accepts after a
// number literal (4 days, 1 year).
var calendarUnits = map[string]bool{
	"year": true, "years": true,
	"month": true, "months": true,
	"week": true, "weeks": true,
	"day": true, "days": true,
	"hour": true, "hours": true,
	"minute": true, "minutes": true,
	"second": true, "seconds": true,
	"millisecond": true, "milliseconds": true,
}

// Parse parses a complete FHIRPath expression.
func Parse(input string) (ast.Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, newSyntaxError(0, "empty expression")
	}

	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{input: input, tokens: tokens}
	node, err := p.parseExpression(1)
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tkEOF {
		return nil, newSyntaxError(tok.pos, fmt.Sprintf("unexpected %s %q", tok.kind, tok.value))
	}
	return node, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(input string) ast.Node {
	node, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return node
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF, pos: len(p.input), end: len(p.input)}
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return token{kind: tkEOF, pos: len(p.input), end: len(p.input)}
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.advance()
	if t.kind != kind {
		found := t.value
		if t.kind == tkEOF {
			found = "end of expression"
		}
		return t, newSyntaxError(t.pos, fmt.Sprintf("expected %s but found %q", kind, found))
	}
	return t, nil
}

// text returns the source text spanning from start to the end of the last
// consumed token.
func (p *parser) text(start int) string {
	end := start
	if p.pos > 0 {
		end = p.tokens[p.pos-1].end
	}
	if end < start {
		return ""
	}
	return p.input[start:end]
}

// Operator precedence (lowest to highest):
//
//	implies            (1)
//	or xor             (2)
//	and                (3)
//	in contains        (4)
//	= ~ != !~          (5)
//	< > <= >=          (6)
//	|                  (7)
//	is as              (8)
//	+ - &              (9)
//	* / div mod        (10)
//	unary + -          (11)
//	. [] ()            (12)
func infixPrecedence(tok token) int {
	switch tok.kind {
	case tkIdent:
		if tok.quoted {
			return -1
		}
		switch tok.value {
		case "implies":
			return 1
		case "or", "xor":
			return 2
		case "and":
			return 3
		case "in", "contains":
			return 4
		case "is", "as":
			return 8
		case "div", "mod":
			return 10
		}
	case tkOp:
		switch tok.value {
		case "=", "~", "!=", "!~":
			return 5
		case "<", ">", "<=", ">=":
			return 6
		case "|":
			return 7
		case "+", "-", "&":
			return 9
		case "*", "/":
			return 10
		}
	}
	return -1
}

func (p *parser) parseExpression(minPrec int) (ast.Node, error) {
	start := p.peek().pos
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		prec := infixPrecedence(tok)
		if prec < minPrec {
			break
		}
		p.advance()

		if tok.value == "is" || tok.value == "as" {
			typeName, err := p.parseTypeSpecifier()
			if err != nil {
				return nil, err
			}
			left = &ast.TypeOp{Op: tok.value, Operand: left, Type: typeName, Text: p.text(start)}
			continue
		}

		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: tok.value, Left: left, Right: right, Text: p.text(start)}
	}
	return left, nil
}

// parseTypeSpecifier reads a possibly qualified type name (FHIR.string).
func (p *parser) parseTypeSpecifier() (string, error) {
	first, err := p.expect(tkIdent)
	if err != nil {
		return "", newSyntaxError(first.pos, "expected type name")
	}
	name := first.value
	for p.peek().kind == tkDot && p.peekAt(1).kind == tkIdent {
		p.advance()
		name += "." + p.advance().value
	}
	return name, nil
}

func (p *parser) parseUnary() (ast.Node, error) {
	tok := p.peek()
	if tok.kind == tkOp && (tok.value == "-" || tok.value == "+") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: tok.value, Operand: operand, Text: p.text(tok.pos)}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (ast.Node, error) {
	start := p.peek().pos
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		switch tok.kind {
		case tkDot:
			p.advance() // consume '.'
			ident := p.peek()
			if ident.kind != tkIdent {
				return nil, newSyntaxError(ident.pos, "expected identifier after '.'")
			}
			p.advance()

			var member ast.Node
			if p.peek().kind == tkLParen && !ident.quoted {
				args, err := p.parseCallArgs()
				if err != nil {
					return nil, err
				}
				member = &ast.FunctionCall{Name: ident.value, Args: args, Text: p.text(ident.pos)}
			} else {
				member = &ast.Identifier{Name: ident.value, Text: p.text(ident.pos)}
			}
			node = &ast.Invocation{Target: node, Member: member, Text: p.text(start)}

		case tkLBrack:
			p.advance() // consume '['
			index, err := p.parseExpression(1)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRBrack); err != nil {
				return nil, err
			}
			node = &ast.Indexer{Target: node, Index: index, Text: p.text(start)}

		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (ast.Node, error) {
	tok := p.peek()

	switch tok.kind {
	case tkLParen:
		p.advance()
		inner, err := p.parseExpression(1)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case tkLBrace:
		p.advance()
		if _, err := p.expect(tkRBrace); err != nil {
			return nil, err
		}
		return &ast.Literal{Kind: ast.LiteralEmpty, Text: p.text(tok.pos)}, nil

	case tkString:
		p.advance()
		return &ast.Literal{Kind: ast.LiteralString, Value: tok.value, Text: p.text(tok.pos)}, nil

	case tkNumber:
		p.advance()
		kind := ast.LiteralInteger
		if strings.Contains(tok.value, ".") {
			kind = ast.LiteralDecimal
		}

		// Quantity: 5 'mg' or 4 days
		next := p.peek()
		if next.kind == tkString {
			p.advance()
			return &ast.Literal{Kind: ast.LiteralQuantity, Value: tok.value, Unit: next.value, Text: p.text(tok.pos)}, nil
		}
		if next.kind == tkIdent && !next.quoted && calendarUnits[next.value] {
			p.advance()
			return &ast.Literal{Kind: ast.LiteralQuantity, Value: tok.value, Unit: next.value, Text: p.text(tok.pos)}, nil
		}
		return &ast.Literal{Kind: kind, Value: tok.value, Text: p.text(tok.pos)}, nil

	case tkDateTime:
		p.advance()
		kind := ast.LiteralDate
		if strings.Contains(tok.value, "T") {
			kind = ast.LiteralDateTime
		}
		return &ast.Literal{Kind: kind, Value: tok.value, Text: p.text(tok.pos)}, nil

	case tkTime:
		p.advance()
		return &ast.Literal{Kind: ast.LiteralTime, Value: tok.value, Text: p.text(tok.pos)}, nil

	case tkVariable, tkEnvVar:
		p.advance()
		return &ast.Variable{Name: tok.value, Text: p.text(tok.pos)}, nil

	case tkIdent:
		p.advance()

		if !tok.quoted {
			// Boolean literals
			if tok.value == "true" || tok.value == "false" {
				return &ast.Literal{Kind: ast.LiteralBoolean, Value: tok.value, Text: p.text(tok.pos)}, nil
			}

			// Function on the implicit focus: exists(), iif(...), today()
			if p.peek().kind == tkLParen {
				args, err := p.parseCallArgs()
				if err != nil {
					return nil, err
				}
				return &ast.FunctionCall{Name: tok.value, Args: args, Text: p.text(tok.pos)}, nil
			}
		}

		return &ast.Identifier{Name: tok.value, Text: p.text(tok.pos)}, nil

	case tkEOF:
		return nil, newSyntaxError(tok.pos, "unexpected end of expression")

	default:
		return nil, newSyntaxError(tok.pos, fmt.Sprintf("unexpected %s %q", tok.kind, tok.value))
	}
}

// parseCallArgs parses '(' [expr {',' expr}] ')'.
func (p *parser) parseCallArgs() ([]ast.Node, error) {
	if _, err := p.expect(tkLParen); err != nil {
		return nil, err
	}

	var args []ast.Node
	if p.peek().kind == tkRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(1)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tkComma {
			break
		}
		p.advance() // consume ','
	}
	if _, err := p.expect(tkRParen); err != nil {
		return nil, err
	}
	return args, nil
}
