package strategy

import (
	"context"
	"strings"
	"testing"

	"bscanner/internal/arch"
	"bscanner/internal/console"
	"bscanner/internal/smt"
	"bscanner/internal/smt/yices"
	"bscanner/internal/state"

	"github.com/fatih/color"
	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T) *state.Context {
	c := state.NewContext(arch.MustLoad("x86-64"), nil)
	c.SetAt(0x1000)
	c.SetIP(0x1004)
	_, err := c.SetRegAsSym("rdi")
	require.Nil(t, err)
	c.ZeroRegisters()
	return c
}

// cond 1 位条件 rdi[0]
func cond(c *state.Context) smt.VarRef {
	rdi, _ := c.RegRead("rdi")
	return c.Extract(0, 0, rdi)
}

// solver 进程内的 yices 后端
func solver(t *testing.T) smt.Backend {
	yices2.Init()
	t.Cleanup(yices2.Exit)
	return yices.NewSolver()
}

func Test_ParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want []Command
	}{
		{"", nil},
		{"T", []Command{{Kind: FollowTrue}}},
		{"TTF", []Command{{Kind: FollowTrue}, {Kind: FollowTrue}, {Kind: FollowFalse}}},
		{"s 3", []Command{{Kind: Step}, {Kind: Step}, {Kind: Step}}},
		{"  c  ", []Command{{Kind: ContinueRun}}},
		{"F2", []Command{{Kind: FollowFalse}, {Kind: FollowFalse}}},
		{"E rax=0x10", []Command{{Kind: SetContext, Arg: "rax=0x10"}}},
		{"Erdi=SYM", []Command{{Kind: SetContext, Arg: "rdi=SYM"}}},
		{"? = rax 0x5", []Command{{Kind: Assertion, Arg: "= rax 0x5"}}},
		{"?", []Command{{Kind: Assertion}}},
		{"b 0x1010", []Command{{Kind: Breakpoint, Arg: "0x1010"}}},
		{"q", []Command{{Kind: Exit}}},
		{"quit", []Command{{Kind: Exit}}},
		{"S x", []Command{{Kind: Invalid, Arg: "S x"}}},
		{"T 0", []Command{{Kind: Invalid, Arg: "T 0"}}},
		{"zzz", []Command{{Kind: Invalid, Arg: "zzz"}}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseCommand(tc.line), tc.line)
	}
}

func Test_Queues(t *testing.T) {
	jobs := []*Job{{Cond: 1}, {Cond: 2}, {Cond: 3}}

	dfs := NewDFS()
	require.Nil(t, dfs.Push(jobs...))
	assert.Equal(t, 3, dfs.Size())
	for _, want := range []smt.VarRef{3, 2, 1} {
		job, err := dfs.Pop()
		require.Nil(t, err)
		assert.Equal(t, want, job.Cond)
	}
	assert.False(t, dfs.HasNext())
	_, err := dfs.Pop()
	assert.NotNil(t, err)

	bfs := NewBFS()
	require.Nil(t, bfs.Push(jobs...))
	for _, want := range []smt.VarRef{1, 2, 3} {
		job, err := bfs.Pop()
		require.Nil(t, err)
		assert.Equal(t, want, job.Cond)
	}
	assert.False(t, bfs.HasNext())
}

func Test_Always(t *testing.T) {
	c := newContext(t)
	x := NewAlways()
	assert.Equal(t, Continue, x.Next(c))
	n := len(c.Formula().Constraints())
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))
	assert.Len(t, c.Formula().Constraints(), n+1)
	_, _, ok := x.NextJob(c)
	assert.False(t, ok)
}

func Test_Exhaustive(t *testing.T) {
	c := newContext(t)
	x := NewDFSExplorer()
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))
	assert.Equal(t, 1, x.Pending())

	next, ctrl, ok := x.NextJob(c)
	require.True(t, ok)
	assert.Equal(t, ExploreFalse, ctrl)
	assert.NotSame(t, c, next)
	assert.Equal(t, c.At(), next.At())
	assert.Equal(t, 0, x.Pending())

	_, _, ok = x.NextJob(next)
	assert.False(t, ok)
}

func Test_ExhaustivePrune(t *testing.T) {
	backend := solver(t)
	c := newContext(t)
	b := cond(c)
	c.Assert(smt.OpEq, b, c.DefineConst(0, 1))

	x := NewExhaustive(NewBFS(), backend)
	assert.Equal(t, Prune, x.RegisterBranch(c, b))
	next, ctrl, ok := x.NextJob(c)
	require.True(t, ok)
	assert.Equal(t, ExploreFalse, ctrl)
	assert.NotNil(t, next)
	assert.Equal(t, 1, x.Pruned())
}

func Test_ParsePolicy(t *testing.T) {
	policy, err := ParsePolicy([]string{"0x1000=T", "0x1010=f", "4096=false"})
	require.Nil(t, err)
	assert.Equal(t, map[uint64]bool{0x1000: false, 0x1010: false}, policy)

	for _, bad := range []string{"0x1000", "zz=T", "0x1000=maybe"} {
		_, err = ParsePolicy([]string{bad})
		assert.NotNil(t, err, bad)
	}
}

func Test_Directed(t *testing.T) {
	c := newContext(t)
	x := NewDirected(map[uint64]bool{0x1000: false})
	assert.Equal(t, ExploreFalse, x.RegisterBranch(c, cond(c)))

	c.SetAt(0x2000)
	assert.Equal(t, Halt, x.RegisterBranch(c, cond(c)))
	assert.Equal(t, ErrNoPolicy, errors.Cause(x.Err()))

	x.Set(0x2000, true)
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))

	// 没有求解器时停在断点上并记录错误
	x = NewDirected(nil)
	x.BreakAt(context.Background(), 0x1004, nil)
	assert.Equal(t, Halt, x.Next(c))
	assert.NotNil(t, x.Err())
	_, ok := x.Result()
	assert.False(t, ok)
}

func Test_DirectedBreak(t *testing.T) {
	backend := solver(t)
	c := newContext(t)
	rdi, _ := c.RegRead("rdi")
	c.Assert(smt.OpEq, rdi, c.DefineConst(0x41, 64))

	x := NewDirected(nil)
	x.BreakAt(context.Background(), 0x2000, backend)
	assert.Equal(t, Continue, x.Next(c))
	c.SetIP(0x2000)
	assert.Equal(t, Halt, x.Next(c))
	require.Nil(t, x.Err())
	result, ok := x.Result()
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), result.Address)
	assert.Equal(t, uint64(0x41), result.Values["rdi"])
}

func interactive(script string) (*Interactive, *strings.Builder) {
	color.NoColor = true
	out := &strings.Builder{}
	return NewInteractive(console.NewLines(strings.NewReader(script)), out, nil), out
}

func Test_InteractiveBranch(t *testing.T) {
	c := newContext(t)
	x, out := interactive("S\nH\nzzz\nF\n")
	assert.Equal(t, ExploreFalse, x.RegisterBranch(c, cond(c)))
	assert.Contains(t, out.String(), "Encountered branch at 0x1000")
	assert.Contains(t, out.String(), "choose a direction first")
	assert.Contains(t, out.String(), "follow the true/false side")
	assert.Contains(t, out.String(), `invalid command "zzz"`)

	// 读完输入即停止
	assert.Equal(t, Halt, x.RegisterBranch(c, cond(c)))
}

func Test_InteractiveChain(t *testing.T) {
	c := newContext(t)
	x, _ := interactive("TFT\n")
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))
	assert.Equal(t, ExploreFalse, x.RegisterBranch(c, cond(c)))
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))
}

func Test_InteractiveNext(t *testing.T) {
	c := newContext(t)
	x, out := interactive("b 0x1004\nT\ns\nc\nR\nq\n")
	assert.Equal(t, Continue, x.Next(c))

	x.SingleStep(true)
	// b 0x1004 加断点，T 报错，s 继续单步
	assert.Equal(t, Continue, x.Next(c))
	assert.Equal(t, []uint64{0x1004}, x.Breakpoints())
	assert.Contains(t, out.String(), "Halted at 0x1004")
	assert.Contains(t, out.String(), "no branch pending")

	// c 取消单步，之后只停在断点
	assert.Equal(t, Continue, x.Next(c))
	c.SetIP(0x1008)
	assert.Equal(t, Continue, x.Next(c))
	c.SetIP(0x1004)
	// R 之后不再停
	assert.Equal(t, Continue, x.Next(c))
	assert.Equal(t, Continue, x.Next(c))
}

func Test_InteractiveExit(t *testing.T) {
	c := newContext(t)
	x, _ := interactive("q\n")
	x.AddBreakpoint(0x1004)
	assert.Equal(t, Halt, x.Next(c))
}

func Test_InteractiveSetContext(t *testing.T) {
	c := newContext(t)
	x, out := interactive("E rax=0x10\nE rbx=SYM\nE 0x2000=0x41\nE 0x2008=sym\nE rax\nE zz=1\nX\nT\n")
	x.Session = state.NewInitialState(0x1000)
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))

	rax, err := c.RegRead("rax")
	require.Nil(t, err)
	v, ok := c.ConstValue(rax)
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), v)

	_, ok = c.Symbol("rbx")
	assert.True(t, ok)
	_, ok = c.Symbol("mem_2008")
	assert.True(t, ok)

	cell, err := c.MemRead(c.DefineConst(0x2000, 64), 64)
	require.Nil(t, err)
	v, ok = c.ConstValue(cell)
	require.True(t, ok)
	assert.Equal(t, uint64(0x41), v)

	assert.Contains(t, out.String(), "want KEY=VALUE")
	assert.True(t, x.Safe())
	assert.ElementsMatch(t, []state.Constant{{Key: "rax", Value: 0x10}, {Key: "0x2000", Value: 0x41}}, x.Session.Constants)
	assert.ElementsMatch(t, []state.Key{"rbx", "0x2008"}, x.Session.SymbolicVars)
}

func Test_InteractiveAssertion(t *testing.T) {
	c := newContext(t)
	x, out := interactive("? = rdi 0x5\n?\n< rdi [0x2000]\n? ~ rdi 0x1\n? = rdi\nQ\nD\nT\n")
	n := len(c.Formula().Constraints())
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))

	// 两条断言加上分支条件
	assert.Len(t, c.Formula().Constraints(), n+3)
	assert.Contains(t, out.String(), "no solver to check it")
	assert.Contains(t, out.String(), `invalid operation "~"`)
	assert.Contains(t, out.String(), "want 3 fields")
	assert.Contains(t, out.String(), "no solver backend")
	assert.Contains(t, out.String(), "(assert")
}

func Test_InteractiveSolve(t *testing.T) {
	backend := solver(t)
	color.NoColor = true
	c := newContext(t)
	out := &strings.Builder{}
	x := NewInteractive(console.NewLines(strings.NewReader("? = rdi 0x5\nX\n? = rdi 0x6\nQ\nT\n")), out, backend)
	assert.Equal(t, ExploreTrue, x.RegisterBranch(c, cond(c)))

	assert.Contains(t, out.String(), "rdi = 0x5")
	assert.Contains(t, out.String(), "not added")
	values, err := c.SymbolValues(context.Background(), backend)
	require.Nil(t, err)
	assert.Equal(t, uint64(5), values["rdi"])
}
