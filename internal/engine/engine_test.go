package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"bscanner/internal/arch"
	"bscanner/internal/console"
	"bscanner/internal/module"
	"bscanner/internal/smt"
	"bscanner/internal/smt/yices"
	"bscanner/internal/state"
	"bscanner/internal/strategy"
	"bscanner/internal/stream"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// program lays out one 4-byte instruction per expression from 0x1000.
func program(exprs ...string) *stream.Table {
	ins := make([]stream.Instruction, len(exprs))
	for i, expr := range exprs {
		ins[i] = stream.Instruction{
			Address:  0x1000 + uint64(i)*4,
			Size:     4,
			Mnemonic: fmt.Sprintf("ins%d", i),
			ESIL:     expr,
		}
	}
	return stream.NewTable(ins)
}

func newContext(t *testing.T, syms ...string) *state.Context {
	c := state.NewContext(arch.MustLoad("x86-64"), nil)
	c.SetIP(0x1000)
	for _, s := range syms {
		_, err := c.SetRegAsSym(s)
		require.Nil(t, err)
	}
	c.ZeroRegisters()
	return c
}

func reg(t *testing.T, c *state.Context, name string) uint64 {
	ref, err := c.RegRead(name)
	require.Nil(t, err)
	v, ok := c.ConstValue(ref)
	require.True(t, ok, "%s is symbolic", name)
	return v
}

func run(t *testing.T, c *state.Context, s stream.Stream, x strategy.Explorer) *Engine {
	e := New(c, s, x, Options{})
	require.Nil(t, e.Run())
	return e
}

func Test_Arithmetic(t *testing.T) {
	c := newContext(t)
	e := run(t, c, program(
		"0x10,rax,=",
		"0x5,rax,+=",
		"rax,rbx,=",
		"3,rbx,*=",
		"2,rbx,-=",
		"1,rbx,>>=",
		"rbx,rcx,=,rcx,++=",
	), strategy.NewAlways())

	assert.Equal(t, uint64(0x15), reg(t, c, "rax"))
	assert.Equal(t, uint64((0x15*3-2)>>1), reg(t, c, "rbx"))
	assert.Equal(t, uint64((0x15*3-2)>>1+1), reg(t, c, "rcx"))
	assert.Equal(t, 7, e.Stats().Instructions)
	assert.Equal(t, 1, e.Stats().Paths)
}

func Test_SubRegisterWrite(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"0x1122334455667788,rax,=",
		"0xff,al,=",
		"0xaa,ah,=",
		"al,bl,=",
		"0x1122334455667788,rcx,=",
		"0x1,ecx,=",
	), strategy.NewAlways())

	assert.Equal(t, uint64(0x112233445566aaff), reg(t, c, "rax"))
	assert.Equal(t, uint64(0x5566aaff), reg(t, c, "eax"))
	assert.Equal(t, uint64(0xff), reg(t, c, "rbx"))
	// 32 位写零扩展到整个寄存器
	assert.Equal(t, uint64(1), reg(t, c, "rcx"))
}

func Test_CompareFlags(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"5,rax,=",
		"5,rax,==,$z,zf,:=,$b64,cf,:=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(1), reg(t, c, "zf"))
	assert.Equal(t, uint64(0), reg(t, c, "cf"))

	c = newContext(t)
	run(t, c, program(
		"5,rax,=",
		"6,rax,==,$z,zf,:=,$b64,cf,:=,$s,sf,:=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(0), reg(t, c, "zf"))
	assert.Equal(t, uint64(1), reg(t, c, "cf"))
	assert.Equal(t, uint64(1), reg(t, c, "sf"))

	// 标志寄存器的写不改变 old/cur
	old, err := c.Old()
	require.Nil(t, err)
	v, ok := c.ConstValue(old)
	require.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func Test_AddCarry(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"0xff,al,=",
		"1,al,+=,$z,zf,:=,$c7,cf,:=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(0), reg(t, c, "al"))
	assert.Equal(t, uint64(1), reg(t, c, "zf"))
	assert.Equal(t, uint64(1), reg(t, c, "cf"))
}

func Test_Compare(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"3,rax,=",
		"5,rax,<,rbx,=",
		"5,rax,>,rcx,=",
		"3,rax,>=,rdx,=",
		"0,!,rsi,=",
		"1,1,>>>,rdi,=",
		"rax,!,r8,=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(1), reg(t, c, "rbx"))
	assert.Equal(t, uint64(0), reg(t, c, "rcx"))
	assert.Equal(t, uint64(1), reg(t, c, "rdx"))
	assert.Equal(t, uint64(1), reg(t, c, "rsi"))
	assert.Equal(t, uint64(1)<<63, reg(t, c, "rdi"))
	// ! 是逻辑非：非零得 0，不是取负
	assert.Equal(t, uint64(0), reg(t, c, "r8"))
}

func Test_Memory(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"0x2000,rsp,=",
		"0xdeadbeef,rsp,=[8]",
		"rsp,[8],rax,=",
		"rsp,[2],rbx,=",
		"0x11,rsp,=[1]",
		"rsp,[8],rcx,=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(0xdeadbeef), reg(t, c, "rax"))
	assert.Equal(t, uint64(0xbeef), reg(t, c, "rbx"))
	assert.Equal(t, uint64(0xdeadbe11), reg(t, c, "rcx"))
}

func Test_PushPop(t *testing.T) {
	c := newContext(t)
	run(t, c, program(
		"0x8000,rsp,=",
		"0x42,rax,=",
		"8,rsp,-=,rax,rsp,=[8]",
		"rsp,[8],rbx,=,8,rsp,+=",
	), strategy.NewAlways())
	assert.Equal(t, uint64(0x42), reg(t, c, "rbx"))
	assert.Equal(t, uint64(0x8000), reg(t, c, "rsp"))
}

func Test_ProgramCounter(t *testing.T) {
	c := newContext(t)
	s := stream.NewTable([]stream.Instruction{
		{Address: 0x1000, Size: 2, ESIL: "0x1010,rip,="},
		{Address: 0x1002, Size: 2, ESIL: "2,rax,="},
		{Address: 0x1010, Size: 3, ESIL: "1,rax,=,rip,rbx,=,$$,rcx,="},
	})
	e := run(t, c, s, strategy.NewAlways())

	assert.Equal(t, uint64(1), reg(t, c, "rax"))
	// rip 与 $$ 读到的都是已经前进过的 IP
	assert.Equal(t, uint64(0x1013), reg(t, c, "rbx"))
	assert.Equal(t, uint64(0x1013), reg(t, c, "rcx"))
	assert.Equal(t, uint64(0x1013), c.IP())
	assert.Equal(t, uint64(0x1010), c.At())
	assert.Equal(t, 2, e.Stats().Instructions)
}

// leaves 收集每条路径结束时 rax 的值
func leaves(t *testing.T, c *state.Context, s stream.Stream, x strategy.Explorer) ([]uint64, *Engine) {
	var got []uint64
	e := New(c, s, x, Options{})
	e.OnPathEnd = func(ctx *state.Context, end PathEnd) {
		assert.Equal(t, Exhausted, end)
		got = append(got, reg(t, ctx, "rax"))
	}
	require.Nil(t, e.Run())
	return got, e
}

func branches(n int) *stream.Table {
	exprs := make([]string, n)
	for i := range exprs {
		exprs[i] = fmt.Sprintf("%#x,rdi,&,?{,%#x,rax,|=,}", uint64(1)<<i, uint64(1)<<i)
	}
	return program(exprs...)
}

func Test_DFSExhaustive(t *testing.T) {
	const n = 4
	got, e := leaves(t, newContext(t, "rdi"), branches(n), strategy.NewDFSExplorer())

	require.Len(t, got, 1<<n)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, v := range got {
		assert.Equal(t, uint64(i), v)
	}
	assert.Equal(t, 1<<n, e.Stats().Paths)
	assert.Equal(t, 1<<n-1, e.Stats().Branches)
	assert.Len(t, e.Context().Trail(), n)
}

func Test_DFSOrder(t *testing.T) {
	got, _ := leaves(t, newContext(t, "rdi"), branches(2), strategy.NewDFSExplorer())
	// 先走真分支，最近的假分支先恢复
	assert.Equal(t, []uint64{3, 1, 2, 0}, got)

	got, _ = leaves(t, newContext(t, "rdi"), branches(2), strategy.NewBFSExplorer())
	require.Len(t, got, 4)
	assert.Equal(t, uint64(3), got[0])
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint64{0, 1, 2, 3}, got)
}

func Test_ElseBlock(t *testing.T) {
	s := program("1,rdi,&,?{,1,rax,=,}{,2,rax,=,},4,rbx,=")
	got, _ := leaves(t, newContext(t, "rdi"), s, strategy.NewDFSExplorer())
	assert.Equal(t, []uint64{1, 2}, got)

	c := newContext(t, "rdi")
	run(t, c, s, strategy.NewDirected(map[uint64]bool{0x1000: false}))
	assert.Equal(t, uint64(2), reg(t, c, "rax"))
	assert.Equal(t, uint64(4), reg(t, c, "rbx"))
	assert.Equal(t, []state.Decision{{Address: 0x1000, Taken: false}}, c.Trail())
}

func Test_NestedBlocks(t *testing.T) {
	s := program("1,rdi,&,?{,2,rdi,&,?{,3,rax,=,}{,2,rax,=,},}{,1,rax,=,}")
	got, _ := leaves(t, newContext(t, "rdi"), s, strategy.NewDFSExplorer())
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func Test_DirectedNoPolicy(t *testing.T) {
	c := newContext(t, "rdi")
	e := New(c, branches(1), strategy.NewDirected(nil), Options{})
	err := e.Run()
	require.NotNil(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, Explorer, kind)
	assert.Equal(t, strategy.ErrNoPolicy, errors.Cause(err))
}

func Test_Errors(t *testing.T) {
	cases := []struct {
		expr string
		kind Kind
	}{
		{"TODO", Unsupported},
		{"0x1000,GOTO", Unsupported},
		{"1,foo,=", Undefined},
		{"1,2,=", IncorrectOperand},
		{"rdi,[8],rax,=", SymbolicAddress},
		{"1,rdi,=[8]", SymbolicAddress},
		{"rdi,rip,=", SymbolicJump},
		{"+", IncorrectOperand},
		{"$z", Undefined},
	}
	for _, tc := range cases {
		e := New(newContext(t, "rdi"), program(tc.expr), strategy.NewAlways(), Options{})
		err := e.Run()
		require.NotNil(t, err, tc.expr)
		kind, ok := KindOf(err)
		require.True(t, ok, tc.expr)
		assert.Equal(t, tc.kind, kind, "%s: %v", tc.expr, err)
		assert.Equal(t, uint64(0x1000), err.(*Error).Address)
	}
}

func Test_SymbolicMemoryOption(t *testing.T) {
	c := newContext(t, "rdi")
	e := New(c, program("rdi,[8],rax,=", "1,rdi,=[8]"), strategy.NewAlways(), Options{SymbolicMemory: true})
	require.Nil(t, e.Run())

	// 分段内存只接受常数地址
	c = state.NewContext(arch.MustLoad("x86-64"), state.NewSegmentedMemory())
	c.SetIP(0x1000)
	_, err := c.SetRegAsSym("rdi")
	require.Nil(t, err)
	c.ZeroRegisters()
	e = New(c, program("rdi,[8],rax,="), strategy.NewAlways(), Options{SymbolicMemory: true})
	err = e.Run()
	kind, _ := KindOf(err)
	assert.Equal(t, SymbolicAddress, kind)
}

func Test_Break(t *testing.T) {
	c := newContext(t)
	run(t, c, program("1,rax,=,BREAK,2,rax,=", "NOP,3,rbx,="), strategy.NewAlways())
	assert.Equal(t, uint64(1), reg(t, c, "rax"))
	assert.Equal(t, uint64(3), reg(t, c, "rbx"))
}

func Test_MaxInstructions(t *testing.T) {
	c := newContext(t)
	e := New(c, program("1,rax,+=,0x1000,rip,="), strategy.NewAlways(), Options{MaxInstructions: 10})
	require.Nil(t, e.Run())
	assert.Equal(t, 10, e.Stats().Instructions)
	assert.Equal(t, uint64(10), reg(t, c, "rax"))
}

func Test_Hooks(t *testing.T) {
	mm := module.NewModuleManager()
	mm.AddModule(module.NewDivideByZero(nil))
	mm.AddModule(module.NewWriteWatch(nil, 0x2008))

	c := newContext(t)
	e := New(c, program(
		"7,rax,=",
		"0,rax,/,rbx,=",
		"2,rax,/,rcx,=",
		"0x2000,rsp,=",
		"1,rsp,=[8]",
		"2,8,rsp,+,=[8]",
	), strategy.NewAlways(), Options{})
	e.SetModuleManager(mm)
	require.Nil(t, e.Run())

	assert.Equal(t, ^uint64(0), reg(t, c, "rbx"))
	assert.Equal(t, uint64(3), reg(t, c, "rcx"))
	issues := mm.RetrieveIssuses()
	require.Len(t, issues, 2)
	assert.Equal(t, "369", issues[0].ID)
	assert.Equal(t, uint64(0x1004), issues[0].Address)
	assert.Equal(t, "787", issues[1].ID)
	assert.Equal(t, uint64(0x1014), issues[1].Address)
}

func Test_InteractiveSession(t *testing.T) {
	script := strings.NewReader("F\nT\n")
	var out strings.Builder
	x := strategy.NewInteractive(console.NewLines(script), &out, nil)

	got, _ := leaves(t, newContext(t, "rdi"), branches(2), x)
	assert.Equal(t, []uint64{2}, got)
	assert.Contains(t, out.String(), "Encountered branch at 0x1000")

	// 输入用完即停止
	x = strategy.NewInteractive(console.NewLines(strings.NewReader("T\n")), &out, nil)
	e := New(newContext(t, "rdi"), branches(2), x, Options{})
	require.Nil(t, e.Run())
	assert.Len(t, e.Context().Trail(), 1)
}

func solver(t *testing.T) smt.Backend {
	yices2.Init()
	t.Cleanup(yices2.Exit)
	return yices.NewSolver()
}

// buf = rbp - 0xa; mem[buf + rdi] = rsi; mem[rbp + 4] 应当等于 0xcafebabe
func Test_Overflow(t *testing.T) {
	backend := solver(t)
	c := state.NewContext(arch.MustLoad("x86-64"), nil)
	c.SetIP(0x1000)
	_, err := c.SetRegAsConst("rbp", 0x9000)
	require.Nil(t, err)
	for _, r := range []string{"rdi", "rsi"} {
		_, err = c.SetRegAsSym(r)
		require.Nil(t, err)
	}
	c.ZeroRegisters()

	mm := module.NewModuleManager()
	mm.AddModule(module.NewWriteWatch(backend, 0x9004))
	e := New(c, program(
		"0xa,rbp,-,rax,=",
		"rdi,rax,+=",
		"rsi,rax,=[8]",
		"4,rbp,+,rcx,=",
		"rcx,[8],rdx,=",
	), strategy.NewAlways(), Options{SymbolicMemory: true})
	e.SetModuleManager(mm)
	require.Nil(t, e.Run())

	rdx, err := c.RegRead("rdx")
	require.Nil(t, err)
	c.Assert(smt.OpEq, rdx, c.DefineConst(0xcafebabe, 64))
	values, err := c.SymbolValues(context.Background(), backend)
	require.Nil(t, err)
	assert.Equal(t, uint64(0xe), values["rdi"])
	assert.Equal(t, uint64(0xcafebabe), values["rsi"])

	issues := mm.RetrieveIssuses()
	require.Len(t, issues, 1)
	assert.Equal(t, uint64(0x1008), issues[0].Address)
	assert.Equal(t, uint64(0xe), issues[0].Values["rdi"])
}

func Test_DFSPruning(t *testing.T) {
	backend := solver(t)
	// 与第一个分支矛盾的方向被剪掉
	s := program(
		"1,rdi,&,?{,1,rax,=,}",
		"1,rdi,&,?{,2,rax,|=,}{,4,rax,|=,}",
	)
	x := strategy.NewExhaustive(strategy.NewDFS(), backend)
	var got []uint64
	ends := map[PathEnd]int{}
	e := New(newContext(t, "rdi"), s, x, Options{})
	e.OnPathEnd = func(ctx *state.Context, end PathEnd) {
		ends[end]++
		if end == Exhausted {
			got = append(got, reg(t, ctx, "rax"))
		}
	}
	require.Nil(t, e.Run())

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint64{3, 4}, got)
	assert.Equal(t, 1, ends[Pruned])
	assert.Equal(t, 2, x.Pruned())
	assert.Equal(t, 1, e.Stats().Pruned)
	assert.Equal(t, 3, e.Stats().Paths)
}

func Test_BreakAtEntry(t *testing.T) {
	backend := solver(t)
	c := newContext(t, "rdi")
	x := strategy.NewDirected(nil)
	x.BreakAt(context.Background(), 0x1000, backend)
	e := New(c, program("1,rax,="), x, Options{})
	require.Nil(t, e.Run())

	result, ok := x.Result()
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), result.Address)
	assert.Equal(t, 0, e.Stats().Instructions)
	assert.Equal(t, uint64(0), reg(t, c, "rax"))

	var out strings.Builder
	i := strategy.NewInteractive(console.NewLines(strings.NewReader("c\n")), &out, nil)
	i.AddBreakpoint(0x1000)
	c = newContext(t)
	e = New(c, program("1,rax,="), i, Options{})
	require.Nil(t, e.Run())
	assert.Contains(t, out.String(), "Halted at 0x1000")
	assert.Equal(t, 1, e.Stats().Instructions)
	assert.Equal(t, uint64(1), reg(t, c, "rax"))
}
