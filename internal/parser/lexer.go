package parser

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tkIdent    tokenKind = iota // identifier or keyword
	tkNumber                    // integer or decimal
	tkString                    // 'single-quoted'
	tkDateTime                  // @2024-01-01, @2024-01-01T10:00:00Z
	tkTime                      // @T10:00
	tkVariable                  // $this, $index, $total
	tkEnvVar                    // %resource, %`vs-name`
	tkDot                       // .
	tkLParen                    // (
	tkRParen                    // )
	tkLBrack                    // [
	tkRBrack                    // ]
	tkLBrace                    // {
	tkRBrace                    // }
	tkComma                     // ,
	tkOp                        // = != ~ !~ < > <= >= + - * / & |
	tkEOF                       // end-of-input
)

var tokenKindNames = map[tokenKind]string{
	tkIdent:    "identifier",
	tkNumber:   "number",
	tkString:   "string",
	tkDateTime: "date/time literal",
	tkTime:     "time literal",
	tkVariable: "variable",
	tkEnvVar:   "environment variable",
	tkDot:      "'.'",
	tkLParen:   "'('",
	tkRParen:   "')'",
	tkLBrack:   "'['",
	tkRBrack:   "']'",
	tkLBrace:   "'{'",
	tkRBrace:   "'}'",
	tkComma:    "','",
	tkOp:       "operator",
	tkEOF:      "end of expression",
}

func (k tokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return "token"
}

type token struct {
	kind   tokenKind
	value  string
	pos    int // byte offset of the first character
	end    int // byte offset just past the last character
	quoted bool
}

// tokenize splits a FHIRPath expression into tokens.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]

		// skip whitespace
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		// skip comments
		if ch == '/' && i+1 < n && input[i+1] == '/' {
			for i < n && input[i] != '\n' {
				i++
			}
			continue
		}
		if ch == '/' && i+1 < n && input[i+1] == '*' {
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return nil, newSyntaxError(i, "unterminated comment")
			}
			i += end + 4
			continue
		}

		start := i

		switch {
		case ch == '.':
			tokens = append(tokens, token{kind: tkDot, value: ".", pos: start, end: i + 1})
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tkLParen, value: "(", pos: start, end: i + 1})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tkRParen, value: ")", pos: start, end: i + 1})
			i++
		case ch == '[':
			tokens = append(tokens, token{kind: tkLBrack, value: "[", pos: start, end: i + 1})
			i++
		case ch == ']':
			tokens = append(tokens, token{kind: tkRBrack, value: "]", pos: start, end: i + 1})
			i++
		case ch == '{':
			tokens = append(tokens, token{kind: tkLBrace, value: "{", pos: start, end: i + 1})
			i++
		case ch == '}':
			tokens = append(tokens, token{kind: tkRBrace, value: "}", pos: start, end: i + 1})
			i++
		case ch == ',':
			tokens = append(tokens, token{kind: tkComma, value: ",", pos: start, end: i + 1})
			i++
		case ch == '=' || ch == '~' || ch == '+' || ch == '-' || ch == '*' || ch == '/' || ch == '&' || ch == '|':
			tokens = append(tokens, token{kind: tkOp, value: string(ch), pos: start, end: i + 1})
			i++
		case ch == '!':
			if i+1 < n && (input[i+1] == '=' || input[i+1] == '~') {
				tokens = append(tokens, token{kind: tkOp, value: input[i : i+2], pos: start, end: i + 2})
				i += 2
			} else {
				return nil, newSyntaxError(start, "unexpected character '!'")
			}
		case ch == '<' || ch == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tkOp, value: input[i : i+2], pos: start, end: i + 2})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tkOp, value: string(ch), pos: start, end: i + 1})
				i++
			}
		case ch == '\'':
			s, next, err := scanQuoted(input, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkString, value: s, pos: start, end: next})
			i = next
		case ch == '`':
			s, next, err := scanQuoted(input, i, '`')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkIdent, value: s, pos: start, end: next, quoted: true})
			i = next
		case ch == '@':
			i++ // skip @
			kind := tkDateTime
			if i < n && input[i] == 'T' {
				kind = tkTime
				i++
			}
			j := i
			for j < n && isDateTimeChar(input[j]) {
				// A '.' only belongs to the literal as a fractional-seconds separator
				if input[j] == '.' && (j+1 >= n || input[j+1] < '0' || input[j+1] > '9') {
					break
				}
				j++
			}
			if j == i {
				return nil, newSyntaxError(start, "empty date/time literal")
			}
			tokens = append(tokens, token{kind: kind, value: input[i:j], pos: start, end: j})
			i = j
		case ch == '$':
			j := i + 1
			for j < n && isIdentChar(input[j]) {
				j++
			}
			if j == i+1 {
				return nil, newSyntaxError(start, "expected variable name after '$'")
			}
			tokens = append(tokens, token{kind: tkVariable, value: input[i:j], pos: start, end: j})
			i = j
		case ch == '%':
			if i+1 < n && (input[i+1] == '`' || input[i+1] == '\'') {
				s, next, err := scanQuoted(input, i+1, input[i+1])
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tkEnvVar, value: "%" + s, pos: start, end: next})
				i = next
				continue
			}
			j := i + 1
			for j < n && (isIdentChar(input[j]) || input[j] == '-') {
				j++
			}
			if j == i+1 {
				return nil, newSyntaxError(start, "expected variable name after '%'")
			}
			tokens = append(tokens, token{kind: tkEnvVar, value: input[i:j], pos: start, end: j})
			i = j
		case ch >= '0' && ch <= '9':
			j := i
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			if j < n && input[j] == '.' {
				// Could be a decimal OR a dot-navigation after a number.
				// Look ahead: if the next char after '.' is a digit, it's a decimal.
				if j+1 < n && input[j+1] >= '0' && input[j+1] <= '9' {
					j++ // skip .
					for j < n && input[j] >= '0' && input[j] <= '9' {
						j++
					}
				}
			}
			tokens = append(tokens, token{kind: tkNumber, value: input[i:j], pos: start, end: j})
			i = j
		case ch == '_' || isLetterAt(input, i):
			j := i
			for j < n {
				r, size := utf8.DecodeRuneInString(input[j:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += size
			}
			tokens = append(tokens, token{kind: tkIdent, value: input[i:j], pos: start, end: j})
			i = j
		default:
			r, _ := utf8.DecodeRuneInString(input[i:])
			return nil, newSyntaxError(start, "unexpected character "+strconv.QuoteRune(r))
		}
	}

	tokens = append(tokens, token{kind: tkEOF, pos: n, end: n})
	return tokens, nil
}

// scanQuoted reads a quoted string or delimited identifier starting at the
// opening delimiter and returns its unescaped contents and the offset after
// the closing delimiter.
func scanQuoted(input string, start int, delim byte) (string, int, error) {
	i := start + 1 // skip opening delimiter
	n := len(input)
	var sb strings.Builder
	for i < n && input[i] != delim {
		if input[i] == '\\' && i+1 < n {
			i++
			switch input[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'f':
				sb.WriteByte('\f')
			case 'u':
				if i+4 < n {
					if cp, err := strconv.ParseUint(input[i+1:i+5], 16, 32); err == nil {
						sb.WriteRune(rune(cp))
						i += 5
						continue
					}
				}
				return "", 0, newSyntaxError(i-1, "invalid unicode escape")
			default:
				// \\ \' \" \` \/ and any other escaped character map to themselves
				sb.WriteByte(input[i])
			}
		} else {
			sb.WriteByte(input[i])
		}
		i++
	}
	if i >= n {
		return "", 0, newSyntaxError(start, "unterminated "+quotedKind(delim))
	}
	return sb.String(), i + 1, nil
}

func quotedKind(delim byte) string {
	if delim == '`' {
		return "delimited identifier"
	}
	return "string"
}

func isDateTimeChar(c byte) bool {
	return c == '-' || c == ':' || c == 'T' || c == '+' || c == 'Z' || c == '.' || (c >= '0' && c <= '9')
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isLetterAt(input string, i int) bool {
	r, _ := utf8.DecodeRuneInString(input[i:])
	return unicode.IsLetter(r)
}
