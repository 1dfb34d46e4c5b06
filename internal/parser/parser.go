package parser

import (
	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/diag"
)

// Parse turns Javalette source text into an ast.Program, accumulating
// syntax and name-resolution diagnostics in bag. The returned program
// is only meaningful when bag.HasErrors() is false.
func Parse(src string, bag *diag.Bag) *ast.Program {
	p := &parser{lx: newLexer(src, bag), bag: bag}
	p.advance()
	prog := p.parseProgram()
	check(prog, bag)
	return prog
}

type parser struct {
	lx  *lexer
	bag *diag.Bag
	tok token
}

func (p *parser) advance() { p.tok = p.lx.next() }

func (p *parser) at(kind tokenKind, text string) bool {
	return p.tok.kind == kind && p.tok.text == text
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.at(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) token {
	if !p.at(kind, text) {
		p.bag.Errorf(p.tok.pos, "expected %q, found %s", text, p.tok)
		return p.tok
	}
	t := p.tok
	p.advance()
	return t
}

func (p *parser) expectIdent() token {
	t := p.tok
	if t.kind != tokIdent {
		p.bag.Errorf(t.pos, "expected an identifier, found %s", t)
	}
	p.advance()
	return t
}

func (p *parser) atType() bool {
	if p.tok.kind != tokKeyword {
		return false
	}
	switch p.tok.text {
	case "int", "double", "boolean", "string", "void":
		return true
	}
	return false
}

func (p *parser) parseType() ast.Type {
	switch p.tok.text {
	case "int":
		p.advance()
		return ast.Type{Kind: ast.Int}
	case "double":
		p.advance()
		return ast.Type{Kind: ast.Double}
	case "boolean":
		p.advance()
		return ast.Type{Kind: ast.Bool}
	case "string":
		p.advance()
		return ast.Type{Kind: ast.String}
	case "void":
		p.advance()
		return ast.Type{Kind: ast.Void}
	default:
		p.bag.Errorf(p.tok.pos, "expected a type, found %s", p.tok)
		p.advance()
		return ast.Type{Kind: ast.Int}
	}
}

func (p *parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.tok.kind != tokEOF {
		if !p.atType() {
			p.bag.Errorf(p.tok.pos, "expected a function definition, found %s", p.tok)
			p.advance()
			continue
		}
		prog.Functions = append(prog.Functions, p.parseFunction())
	}
	return prog
}

func (p *parser) parseFunction() ast.Function {
	pos := p.tok.pos
	ret := p.parseType()
	name := p.expectIdent()

	fn := ast.Function{P: pos, RetType: ret, Name: name.text}
	p.expect(tokPunct, "(")
	for !p.at(tokPunct, ")") && p.tok.kind != tokEOF {
		typ := p.parseType()
		pname := p.expectIdent()
		fn.Params = append(fn.Params, ast.Param{Typ: typ, Name: pname.text})
		if !p.accept(tokPunct, ",") {
			break
		}
	}
	p.expect(tokPunct, ")")

	p.expect(tokPunct, "{")
	for !p.at(tokPunct, "}") && p.tok.kind != tokEOF {
		fn.Body = append(fn.Body, p.parseStmt())
	}
	p.expect(tokPunct, "}")
	return fn
}

func (p *parser) parseBlock() ast.Stmt {
	pos := p.tok.pos
	p.expect(tokPunct, "{")
	var stmts []ast.Stmt
	for !p.at(tokPunct, "}") && p.tok.kind != tokEOF {
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(tokPunct, "}")
	return ast.Block{P: pos, Stmts: stmts}
}

func (p *parser) parseStmt() ast.Stmt {
	pos := p.tok.pos
	switch {
	case p.at(tokPunct, "{"):
		return p.parseBlock()

	case p.at(tokPunct, ";"):
		p.advance()
		return ast.Empty{P: pos}

	case p.at(tokKeyword, "return"):
		p.advance()
		if p.accept(tokPunct, ";") {
			return ast.Return{P: pos}
		}
		val := p.parseExpr()
		p.expect(tokPunct, ";")
		return ast.Return{P: pos, Value: val}

	case p.at(tokKeyword, "if"):
		p.advance()
		p.expect(tokPunct, "(")
		cond := p.parseExpr()
		p.expect(tokPunct, ")")
		then := p.parseStmt()
		if p.accept(tokKeyword, "else") {
			return ast.IfElse{P: pos, Cond: cond, Then: then, Else: p.parseStmt()}
		}
		return ast.If{P: pos, Cond: cond, Then: then}

	case p.at(tokKeyword, "while"):
		p.advance()
		p.expect(tokPunct, "(")
		cond := p.parseExpr()
		p.expect(tokPunct, ")")
		return ast.While{P: pos, Cond: cond, Body: p.parseStmt()}

	case p.at(tokKeyword, "for"):
		return p.parseFor(pos)

	case p.atType():
		return p.parseDecl(pos)

	default:
		return p.parseSimpleStmt(pos)
	}
}

// parseDecl parses `T name;`, `T name = expr;` and `T name[len];`.
func (p *parser) parseDecl(pos diag.Pos) ast.Stmt {
	typ := p.parseType()
	name := p.expectIdent()
	d := ast.Decl{P: pos, Typ: typ, Name: name.text}
	if p.accept(tokPunct, "[") {
		d.ArrayLen = p.parseExpr()
		p.expect(tokPunct, "]")
		d.Typ = ast.ArrayOf(typ)
	} else if p.accept(tokPunct, "=") {
		d.Init = p.parseExpr()
	}
	p.expect(tokPunct, ";")
	return d
}

// parseFor handles both forms: the C-style `for (init; cond; step)`
// is desugared into a declaration plus a while loop, and the
// `for (T x : arr)` element iteration maps onto ast.For directly.
func (p *parser) parseFor(pos diag.Pos) ast.Stmt {
	p.advance()
	p.expect(tokPunct, "(")

	if p.atType() {
		typ := p.parseType()
		name := p.expectIdent()
		if p.accept(tokPunct, ":") {
			arr := p.parseExpr()
			p.expect(tokPunct, ")")
			return ast.For{P: pos, ElemType: typ, VarName: name.text, Array: arr, Body: p.parseStmt()}
		}
		var init ast.Stmt = ast.Decl{P: pos, Typ: typ, Name: name.text}
		if p.accept(tokPunct, "=") {
			init = ast.Decl{P: pos, Typ: typ, Name: name.text, Init: p.parseExpr()}
		}
		p.expect(tokPunct, ";")
		return p.parseForTail(pos, init)
	}

	init := p.parseSimpleStmt(pos)
	return p.parseForTail(pos, init)
}

func (p *parser) parseForTail(pos diag.Pos, init ast.Stmt) ast.Stmt {
	cond := p.parseExpr()
	p.expect(tokPunct, ";")
	step := p.parseSimpleStmtNoSemi(p.tok.pos)
	p.expect(tokPunct, ")")
	body := p.parseStmt()
	return ast.Block{P: pos, Stmts: []ast.Stmt{
		init,
		ast.While{P: pos, Cond: cond, Body: ast.Block{P: pos, Stmts: []ast.Stmt{body, step}}},
	}}
}

// parseSimpleStmt parses assignment, ++/--, or an expression
// statement, consuming the trailing semicolon.
func (p *parser) parseSimpleStmt(pos diag.Pos) ast.Stmt {
	s := p.parseSimpleStmtNoSemi(pos)
	p.expect(tokPunct, ";")
	return s
}

func (p *parser) parseSimpleStmtNoSemi(pos diag.Pos) ast.Stmt {
	e := p.parseExpr()
	switch {
	case p.accept(tokPunct, "="):
		return ast.Assign{P: pos, Target: e, Value: p.parseExpr()}
	case p.accept(tokPunct, "++"):
		id, ok := e.(ast.Ident)
		if !ok {
			p.bag.Errorf(pos, "++ requires a variable")
			return ast.Empty{P: pos}
		}
		return ast.Incr{P: pos, Name: id.Name}
	case p.accept(tokPunct, "--"):
		id, ok := e.(ast.Ident)
		if !ok {
			p.bag.Errorf(pos, "-- requires a variable")
			return ast.Empty{P: pos}
		}
		return ast.Decr{P: pos, Name: id.Name}
	default:
		return ast.ExprStmt{P: pos, Expr: e}
	}
}

// Expression grammar, loosest to tightest: || && relational additive
// multiplicative unary postfix primary.

func (p *parser) parseExpr() ast.Expr { return p.parseOr() }

func (p *parser) parseOr() ast.Expr {
	e := p.parseAnd()
	for p.at(tokPunct, "||") {
		pos := p.tok.pos
		p.advance()
		e = ast.Binary{P: pos, Op: ast.Or, Left: e, Right: p.parseAnd()}
	}
	return e
}

func (p *parser) parseAnd() ast.Expr {
	e := p.parseRel()
	for p.at(tokPunct, "&&") {
		pos := p.tok.pos
		p.advance()
		e = ast.Binary{P: pos, Op: ast.And, Left: e, Right: p.parseRel()}
	}
	return e
}

var relOps = map[string]ast.BinOp{
	"==": ast.Eq, "!=": ast.Neq, "<": ast.Lt, ">": ast.Gt, "<=": ast.Leq, ">=": ast.Geq,
}

func (p *parser) parseRel() ast.Expr {
	e := p.parseAdd()
	if p.tok.kind == tokPunct {
		if op, ok := relOps[p.tok.text]; ok {
			pos := p.tok.pos
			p.advance()
			return ast.Binary{P: pos, Op: op, Left: e, Right: p.parseAdd()}
		}
	}
	return e
}

func (p *parser) parseAdd() ast.Expr {
	e := p.parseMul()
	for p.at(tokPunct, "+") || p.at(tokPunct, "-") {
		pos := p.tok.pos
		op := ast.Add
		if p.tok.text == "-" {
			op = ast.Sub
		}
		p.advance()
		e = ast.Binary{P: pos, Op: op, Left: e, Right: p.parseMul()}
	}
	return e
}

func (p *parser) parseMul() ast.Expr {
	e := p.parseUnary()
	for p.at(tokPunct, "*") || p.at(tokPunct, "/") || p.at(tokPunct, "%") {
		pos := p.tok.pos
		var op ast.BinOp
		switch p.tok.text {
		case "*":
			op = ast.Mul
		case "/":
			op = ast.Div
		default:
			op = ast.Mod
		}
		p.advance()
		e = ast.Binary{P: pos, Op: op, Left: e, Right: p.parseUnary()}
	}
	return e
}

func (p *parser) parseUnary() ast.Expr {
	pos := p.tok.pos
	switch {
	case p.accept(tokPunct, "-"):
		return ast.Unary{P: pos, Op: ast.Neg, Expr: p.parseUnary()}
	case p.accept(tokPunct, "!"):
		return ast.Unary{P: pos, Op: ast.Not, Expr: p.parseUnary()}
	case p.accept(tokPunct, "+"):
		return ast.Unary{P: pos, Op: ast.Plus, Expr: p.parseUnary()}
	default:
		return p.parsePostfix()
	}
}

func (p *parser) parsePostfix() ast.Expr {
	e := p.parsePrimary()
	for {
		pos := p.tok.pos
		switch {
		case p.accept(tokPunct, "["):
			idx := p.parseExpr()
			p.expect(tokPunct, "]")
			e = ast.ArrayIndex{P: pos, Base: e, Index: idx}
		case p.at(tokPunct, "("):
			id, ok := e.(ast.Ident)
			if !ok {
				p.bag.Errorf(pos, "only named functions can be called")
				return e
			}
			p.advance()
			call := ast.Call{P: id.P, Name: id.Name}
			for !p.at(tokPunct, ")") && p.tok.kind != tokEOF {
				call.Args = append(call.Args, p.parseExpr())
				if !p.accept(tokPunct, ",") {
					break
				}
			}
			p.expect(tokPunct, ")")
			e = call
		default:
			return e
		}
	}
}

func (p *parser) parsePrimary() ast.Expr {
	pos := p.tok.pos
	switch p.tok.kind {
	case tokInt:
		v := p.tok.intVal
		p.advance()
		return ast.IntLit{P: pos, Value: v}
	case tokDouble:
		v := p.tok.dblVal
		p.advance()
		return ast.DoubleLit{P: pos, Value: v}
	case tokString:
		v := p.tok.strVal
		p.advance()
		return ast.StringLit{P: pos, Value: v}
	case tokKeyword:
		switch p.tok.text {
		case "true":
			p.advance()
			return ast.BoolLit{P: pos, Value: true}
		case "false":
			p.advance()
			return ast.BoolLit{P: pos, Value: false}
		}
	case tokIdent:
		name := p.tok.text
		p.advance()
		return ast.Ident{P: pos, Name: name}
	case tokPunct:
		if p.tok.text == "(" {
			p.advance()
			e := p.parseExpr()
			p.expect(tokPunct, ")")
			return e
		}
	}
	p.bag.Errorf(pos, "expected an expression, found %s", p.tok)
	p.advance()
	return ast.IntLit{P: pos}
}
