package parser

import (
	"github.com/lukaszcz/javalette/internal/ast"
	"github.com/lukaszcz/javalette/internal/diag"
)

// builtins the runtime always provides, by arity.
var builtinArity = map[string]int{
	"printInt": 1, "printDouble": 1, "printString": 1,
	"error": 0, "readInt": 0, "readDouble": 0,
}

// check is the light semantic pass that keeps invalid programs out of
// the IR builder: every identifier must resolve to a declaration in
// scope, every call to a declared function with matching arity, and a
// main function must exist. It does no type checking; it only guards
// what would otherwise crash IR construction.
func check(prog *ast.Program, bag *diag.Bag) {
	funcs := map[string]int{}
	for i := range prog.Functions {
		f := &prog.Functions[i]
		if _, dup := funcs[f.Name]; dup {
			bag.Errorf(f.P, "function %s redefined", f.Name)
		}
		funcs[f.Name] = len(f.Params)
	}
	if _, ok := funcs["main"]; !ok {
		bag.Errorf(diag.Pos{}, "no main function defined")
	}

	for i := range prog.Functions {
		f := &prog.Functions[i]
		c := &checker{bag: bag, funcs: funcs}
		c.pushScope()
		for _, p := range f.Params {
			c.declare(p.Name, f.P)
		}
		for _, s := range f.Body {
			c.stmt(s)
		}
		c.popScope()
	}
}

type checker struct {
	bag    *diag.Bag
	funcs  map[string]int
	scopes []map[string]bool
}

func (c *checker) pushScope() { c.scopes = append(c.scopes, map[string]bool{}) }
func (c *checker) popScope()  { c.scopes = c.scopes[:len(c.scopes)-1] }

func (c *checker) declare(name string, pos diag.Pos) {
	top := c.scopes[len(c.scopes)-1]
	if top[name] {
		c.bag.Errorf(pos, "variable %s redeclared in the same scope", name)
	}
	top[name] = true
}

func (c *checker) resolved(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if c.scopes[i][name] {
			return true
		}
	}
	return false
}

func (c *checker) useVar(name string, pos diag.Pos) {
	if !c.resolved(name) {
		c.bag.Errorf(pos, "undeclared variable %s", name)
	}
}

func (c *checker) stmt(s ast.Stmt) {
	switch st := s.(type) {
	case ast.Block:
		c.pushScope()
		for _, inner := range st.Stmts {
			c.stmt(inner)
		}
		c.popScope()
	case ast.Decl:
		if st.Init != nil {
			c.expr(st.Init)
		}
		if st.ArrayLen != nil {
			c.expr(st.ArrayLen)
		}
		c.declare(st.Name, st.P)
	case ast.Assign:
		c.expr(st.Target)
		c.expr(st.Value)
	case ast.Incr:
		c.useVar(st.Name, st.P)
	case ast.Decr:
		c.useVar(st.Name, st.P)
	case ast.If:
		c.expr(st.Cond)
		c.stmt(st.Then)
	case ast.IfElse:
		c.expr(st.Cond)
		c.stmt(st.Then)
		c.stmt(st.Else)
	case ast.While:
		c.expr(st.Cond)
		c.stmt(st.Body)
	case ast.For:
		c.expr(st.Array)
		c.pushScope()
		c.declare(st.VarName, st.P)
		c.stmt(st.Body)
		c.popScope()
	case ast.Return:
		if st.Value != nil {
			c.expr(st.Value)
		}
	case ast.ExprStmt:
		c.expr(st.Expr)
	case ast.Empty:
	}
}

func (c *checker) expr(e ast.Expr) {
	switch ex := e.(type) {
	case ast.Ident:
		c.useVar(ex.Name, ex.P)
	case ast.ArrayIndex:
		c.expr(ex.Base)
		c.expr(ex.Index)
	case ast.Binary:
		c.expr(ex.Left)
		c.expr(ex.Right)
	case ast.Unary:
		c.expr(ex.Expr)
	case ast.Call:
		arity, ok := c.funcs[ex.Name]
		if !ok {
			arity, ok = builtinArity[ex.Name]
		}
		if !ok {
			c.bag.Errorf(ex.P, "call to undeclared function %s", ex.Name)
		} else if arity != len(ex.Args) {
			c.bag.Errorf(ex.P, "function %s expects %d argument(s), got %d", ex.Name, arity, len(ex.Args))
		}
		for _, a := range ex.Args {
			c.expr(a)
		}
	}
}
