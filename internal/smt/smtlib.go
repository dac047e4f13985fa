package smt

import (
	"fmt"
	"strings"
)

// 中间项的名字带 '!'，sanitize 过的变量名不会含有它
func temp(ref VarRef) string {
	return fmt.Sprintf("t!%d", ref)
}

// reachable 从约束出发可达的节点，按下标升序
func (f *Formula) reachable() []VarRef {
	seen := make([]bool, len(f.nodes))
	stack := append([]VarRef(nil), f.constraints...)
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[ref] {
			continue
		}
		seen[ref] = true
		stack = append(stack, f.nodes[ref].Operands...)
	}
	var refs []VarRef
	for i, ok := range seen {
		if ok {
			refs = append(refs, VarRef(i))
		}
	}
	return refs
}

func (f *Formula) term(ref VarRef) string {
	n := f.nodes[ref]
	switch n.Op {
	case OpVar:
		return n.Name
	case OpConst:
		return fmt.Sprintf("(_ bv%d %d)", n.Value, n.Sort.Width)
	case OpTrue:
		return "true"
	case OpFalse:
		return "false"
	case OpConstArray:
		return fmt.Sprintf("((as const %s) (_ bv%d %d))", n.Sort, n.Value, n.Sort.Width)
	}
	return temp(ref)
}

func (f *Formula) define(ref VarRef) string {
	n := f.nodes[ref]
	var head string
	switch n.Op {
	case OpExtract:
		head = fmt.Sprintf("(_ extract %d %d)", n.Params[0], n.Params[1])
	case OpZeroExtend, OpSignExtend, OpRotateLeft, OpRotateRight:
		head = fmt.Sprintf("(_ %s %d)", n.Op, n.Params[0])
	default:
		head = n.Op.String()
	}
	args := make([]string, len(n.Operands))
	for i, o := range n.Operands {
		args[i] = f.term(o)
	}
	return fmt.Sprintf("(define-fun %s () %s (%s %s))", temp(ref), n.Sort, head, strings.Join(args, " "))
}

// SMTLib2 renders declarations, one define-fun per reachable operation and the assertions.
// Every declared variable is emitted so that models cover all symbols.
func (f *Formula) SMTLib2() string {
	var sb strings.Builder
	for _, ref := range f.vars {
		n := f.nodes[ref]
		fmt.Fprintf(&sb, "(declare-fun %s () %s)\n", n.Name, n.Sort)
	}
	for _, ref := range f.reachable() {
		switch f.nodes[ref].Op {
		case OpVar, OpConst, OpTrue, OpFalse, OpConstArray:
			continue
		}
		sb.WriteString(f.define(ref))
		sb.WriteByte('\n')
	}
	for _, ref := range f.constraints {
		fmt.Fprintf(&sb, "(assert %s)\n", f.term(ref))
	}
	return sb.String()
}
