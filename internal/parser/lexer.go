// Package parser is the thin Javalette front end: a hand-written lexer
// and recursive-descent parser producing the validated ast.Program the
// code-generation core consumes, plus a light name-resolution pass
// that accumulates SourceErrors so broken programs never reach IR
// construction.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lukaszcz/javalette/internal/diag"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokDouble
	tokString
	tokPunct
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	pos  diag.Pos

	intVal int64
	dblVal float64
	strVal string
}

var keywords = map[string]bool{
	"int": true, "double": true, "boolean": true, "string": true,
	"void": true, "if": true, "else": true, "while": true, "for": true,
	"return": true, "true": true, "false": true,
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
	bag  *diag.Bag
}

func newLexer(src string, bag *diag.Bag) *lexer {
	return &lexer{src: src, line: 1, col: 1, bag: bag}
}

func (lx *lexer) pos() diag.Pos { return diag.Pos{Line: lx.line, Col: lx.col} }

func (lx *lexer) advance() byte {
	c := lx.src[lx.off]
	lx.off++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func (lx *lexer) peek() byte {
	if lx.off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off]
}

func (lx *lexer) peek2() byte {
	if lx.off+1 >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+1]
}

// skipSpace consumes whitespace and //, /* */ and # comments.
func (lx *lexer) skipSpace() {
	for lx.off < len(lx.src) {
		c := lx.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		case c == '#':
			for lx.off < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}
		case c == '/' && lx.peek2() == '/':
			for lx.off < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}
		case c == '/' && lx.peek2() == '*':
			lx.advance()
			lx.advance()
			for lx.off < len(lx.src) {
				if lx.peek() == '*' && lx.peek2() == '/' {
					lx.advance()
					lx.advance()
					break
				}
				lx.advance()
			}
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// next scans one token.
func (lx *lexer) next() token {
	lx.skipSpace()
	pos := lx.pos()
	if lx.off >= len(lx.src) {
		return token{kind: tokEOF, pos: pos}
	}
	c := lx.peek()

	switch {
	case isIdentStart(c):
		start := lx.off
		for lx.off < len(lx.src) && isIdentCont(lx.peek()) {
			lx.advance()
		}
		text := lx.src[start:lx.off]
		if keywords[text] {
			return token{kind: tokKeyword, text: text, pos: pos}
		}
		return token{kind: tokIdent, text: text, pos: pos}

	case isDigit(c):
		start := lx.off
		for lx.off < len(lx.src) && isDigit(lx.peek()) {
			lx.advance()
		}
		isDouble := false
		if lx.peek() == '.' && isDigit(lx.peek2()) {
			isDouble = true
			lx.advance()
			for lx.off < len(lx.src) && isDigit(lx.peek()) {
				lx.advance()
			}
		}
		if lx.peek() == 'e' || lx.peek() == 'E' {
			isDouble = true
			lx.advance()
			if lx.peek() == '+' || lx.peek() == '-' {
				lx.advance()
			}
			for lx.off < len(lx.src) && isDigit(lx.peek()) {
				lx.advance()
			}
		}
		text := lx.src[start:lx.off]
		if isDouble {
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				lx.bag.Errorf(pos, "malformed double literal %q", text)
			}
			return token{kind: tokDouble, text: text, pos: pos, dblVal: v}
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			lx.bag.Errorf(pos, "integer literal %q out of range", text)
		}
		return token{kind: tokInt, text: text, pos: pos, intVal: v}

	case c == '"':
		lx.advance()
		var sb strings.Builder
		for lx.off < len(lx.src) && lx.peek() != '"' {
			ch := lx.advance()
			if ch == '\\' && lx.off < len(lx.src) {
				esc := lx.advance()
				switch esc {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case '"':
					sb.WriteByte('"')
				case '\\':
					sb.WriteByte('\\')
				default:
					lx.bag.Errorf(pos, "unknown escape sequence \\%c in string literal", esc)
				}
				continue
			}
			sb.WriteByte(ch)
		}
		if lx.off >= len(lx.src) {
			lx.bag.Errorf(pos, "unterminated string literal")
		} else {
			lx.advance()
		}
		return token{kind: tokString, text: sb.String(), pos: pos, strVal: sb.String()}

	default:
		// Longest-match punctuation.
		two := ""
		if lx.off+1 < len(lx.src) {
			two = lx.src[lx.off : lx.off+2]
		}
		switch two {
		case "==", "!=", "<=", ">=", "&&", "||", "++", "--":
			lx.advance()
			lx.advance()
			return token{kind: tokPunct, text: two, pos: pos}
		}
		lx.advance()
		return token{kind: tokPunct, text: string(c), pos: pos}
	}
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}
