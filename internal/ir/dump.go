package ir

import (
	"fmt"
	"io"
)

// Dump writes mod's quadruples as human-readable three-address text,
// one function at a time, before any location assignment has happened
// (variables print by name or arena id, not by register). This is the
// --icode output.
func Dump(w io.Writer, mod *Module) {
	for _, fn := range mod.Functions {
		if fn.Category == FuncBuiltin {
			continue
		}
		fmt.Fprintf(w, "function %s:\n", fn.Name)
		for _, b := range fn.Blocks {
			fmt.Fprintf(w, "b%d:\n", b.ID)
			for q := b.Head(); q != nil; q = q.Next() {
				fmt.Fprintf(w, "\t%s\n", FormatQuadruple(q))
			}
		}
		fmt.Fprintf(w, "function end\n")
	}
}

// FormatQuadruple renders one quadruple in the dump's instruction
// forms.
func FormatQuadruple(q *Quadruple) string {
	switch q.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		sym := map[Op]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%"}[q.Op]
		return fmt.Sprintf("%s := %s %s %s", operandText(q.Result), operandText(q.Arg1), sym, operandText(q.Arg2))
	case OpCopy:
		return fmt.Sprintf("%s := %s", operandText(q.Result), operandText(q.Arg1))
	case OpReadPtr:
		return fmt.Sprintf("%s := [%s]", operandText(q.Result), operandText(q.Arg1))
	case OpWritePtr:
		return fmt.Sprintf("[%s + %s] := %s", operandText(q.Result), operandText(q.Arg1), operandText(q.Arg2))
	case OpGetAddr:
		return fmt.Sprintf("%s := &%s[%s]", operandText(q.Result), operandText(q.Arg1), operandText(q.Arg2))
	case OpReturn:
		if q.Arg1.Kind == OperandNone {
			return "return"
		}
		return fmt.Sprintf("return %s", operandText(q.Arg1))
	case OpParam:
		return fmt.Sprintf("param %s", operandText(q.Arg1))
	case OpCall:
		if q.Result.Kind == OperandVar {
			return fmt.Sprintf("%s := call %s", operandText(q.Result), q.Arg1.Func.Name)
		}
		return fmt.Sprintf("call %s", q.Arg1.Func.Name)
	case OpGoto:
		return fmt.Sprintf("goto b%d", q.Arg1.Label.ID)
	default:
		if q.Op.IsRelational() {
			return fmt.Sprintf("if %s %s %s goto b%d",
				operandText(q.Arg1), q.Op.RelString(), operandText(q.Arg2), q.Result.Label.ID)
		}
		return fmt.Sprintf("?%v", q.Op)
	}
}

func operandText(o Operand) string {
	switch o.Kind {
	case OperandVar:
		if o.Var.Name != "" {
			return o.Var.Name
		}
		return fmt.Sprintf("t%d", o.Var.ID)
	case OperandInt:
		return fmt.Sprintf("%d", o.Int)
	case OperandDouble:
		return fmt.Sprintf("%g", o.Double)
	case OperandLabel:
		return fmt.Sprintf("b%d", o.Label.ID)
	case OperandFunc:
		return o.Func.Name
	case OperandStr:
		return fmt.Sprintf("%q", o.Str)
	default:
		return "_"
	}
}
