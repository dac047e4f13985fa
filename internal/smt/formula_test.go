package smt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Fold(t *testing.T) {
	f := NewFormula()
	a := f.NewConst(250, 8)
	b := f.NewConst(10, 8)

	sum := f.Apply(OpBvAdd, a, b)
	v, ok := f.ConstValue(sum)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), v)

	div := f.Apply(OpBvUDiv, a, f.NewConst(0, 8))
	v, _ = f.ConstValue(div)
	assert.Equal(t, uint64(0xff), v)

	lt := f.Apply(OpBvULt, b, a)
	assert.Equal(t, OpTrue, f.Node(lt).Op)

	ite := f.Apply(OpIte, lt, a, b)
	assert.Equal(t, a, ite)

	ext := f.Extract(15, 8, f.NewConst(0xdeadbeef, 32))
	v, _ = f.ConstValue(ext)
	assert.Equal(t, uint64(0xbe), v)
	assert.Equal(t, uint32(8), f.Width(ext))

	sx := f.SignExtend(8, f.NewConst(0xfc, 8))
	v, _ = f.ConstValue(sx)
	assert.Equal(t, uint64(0xfffc), v)

	cat := f.Apply(OpConcat, f.NewConst(0xab, 8), f.NewConst(0xcd, 8))
	v, _ = f.ConstValue(cat)
	assert.Equal(t, uint64(0xabcd), v)

	rol := f.Rotate(OpRotateLeft, 4, f.NewConst(0x12, 8))
	v, _ = f.ConstValue(rol)
	assert.Equal(t, uint64(0x21), v)
}

func Test_FoldSelect(t *testing.T) {
	f := NewFormula()
	mem := f.NewConstArray(Array(64, 64), 0)
	x := f.NewVar("x", BitVec(64))
	mem = f.Apply(OpStore, mem, f.NewConst(0x10, 64), x)
	mem = f.Apply(OpStore, mem, f.NewConst(0x20, 64), f.NewConst(7, 64))

	assert.Equal(t, x, f.Apply(OpSelect, mem, f.NewConst(0x10, 64)))
	v, ok := f.ConstValue(f.Apply(OpSelect, mem, f.NewConst(0x30, 64)))
	assert.True(t, ok)
	assert.Equal(t, uint64(0), v)

	y := f.NewVar("y", BitVec(64))
	sym := f.Apply(OpStore, mem, y, x)
	read := f.Apply(OpSelect, sym, f.NewConst(0x20, 64))
	_, ok = f.ConstValue(read)
	assert.False(t, ok)
	assert.Equal(t, OpSelect, f.Node(read).Op)
}

func Test_SortChecks(t *testing.T) {
	f := NewFormula()
	a := f.NewVar("a", BitVec(32))
	b := f.NewVar("b", BitVec(64))
	assert.Panics(t, func() { f.Apply(OpBvAdd, a, b) })
	assert.Panics(t, func() { f.Extract(32, 0, a) })
	assert.Panics(t, func() { f.Assert(a) })
	assert.Panics(t, func() { f.Apply(OpExtract, a) })
	assert.Equal(t, uint32(64), f.Width(f.Resize(a, 64)))
	assert.Equal(t, uint32(8), f.Width(f.Resize(a, 8)))
}

func Test_Names(t *testing.T) {
	f := NewFormula()
	a := f.NewVar("rax", BitVec(64))
	b := f.NewVar("rax", BitVec(64))
	c := f.NewVar("0x1000", BitVec(64))
	assert.Equal(t, "rax", f.Name(a))
	assert.NotEqual(t, f.Name(a), f.Name(b))
	assert.Equal(t, "v_0x1000", f.Name(c))
	ref, ok := f.VarByName(f.Name(b))
	assert.True(t, ok)
	assert.Equal(t, b, ref)
}

func Test_CloneIsolation(t *testing.T) {
	f := NewFormula()
	x := f.NewVar("x", BitVec(64))
	f.Assert(f.Apply(OpBvUGt, x, f.NewConst(1, 64)))

	g := f.Clone()
	g.Assert(g.Apply(OpEq, x, g.NewConst(5, 64)))
	f.Assert(f.Apply(OpEq, x, f.NewConst(6, 64)))

	assert.Len(t, f.Constraints(), 2)
	assert.Len(t, g.Constraints(), 2)
	assert.Contains(t, f.SMTLib2(), "(_ bv6 64)")
	assert.NotContains(t, f.SMTLib2(), "(_ bv5 64)")
	assert.Contains(t, g.SMTLib2(), "(_ bv5 64)")
	assert.NotContains(t, g.SMTLib2(), "(_ bv6 64)")

	y := g.NewVar("y", BitVec(8))
	_, ok := f.VarByName("y")
	assert.False(t, ok)
	assert.Equal(t, "y", g.Name(y))
}

func Test_SMTLib2(t *testing.T) {
	f := NewFormula()
	rdi := f.NewVar("rdi", BitVec(64))
	mem := f.NewConstArray(Array(64, 64), 0)
	mem = f.Apply(OpStore, mem, rdi, f.NewConst(1, 64))
	read := f.Extract(7, 0, f.Apply(OpSelect, mem, f.NewConst(8, 64)))
	f.Assert(f.Apply(OpEq, read, f.NewConst(1, 8)))

	text := f.SMTLib2()
	lines := strings.Split(strings.TrimSpace(text), "\n")
	assert.Equal(t, "(declare-fun rdi () (_ BitVec 64))", lines[0])
	assert.Contains(t, text, "((as const (Array (_ BitVec 64) (_ BitVec 64))) (_ bv0 64))")
	assert.Contains(t, text, "((_ extract 7 0) t")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "(assert t"))
}

func Test_SMTLib2TempNames(t *testing.T) {
	f := NewFormula()
	x := f.NewVar("x", BitVec(64))
	sum := f.Apply(OpBvAdd, x, f.NewConst(1, 64))
	// 与中间项下标同名的变量
	t1 := f.NewVar(fmt.Sprintf("t%d", sum), BitVec(64))
	f.Assert(f.Apply(OpEq, sum, t1))

	text := f.SMTLib2()
	assert.Contains(t, text, fmt.Sprintf("(declare-fun t%d () (_ BitVec 64))", sum))
	assert.Contains(t, text, fmt.Sprintf("(define-fun t!%d () (_ BitVec 64) (bvadd x (_ bv1 64)))", sum))
	assert.Equal(t, 1, strings.Count(text, fmt.Sprintf("(define-fun t!%d ", sum)))
	assert.NotContains(t, text, fmt.Sprintf("(define-fun t%d ", sum))
}
