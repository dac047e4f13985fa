package smt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func z3(t *testing.T) *Process {
	if _, err := exec.LookPath("z3"); err != nil {
		t.Skip("z3 not found in PATH")
	}
	return NewZ3()
}

func Test_ProcessSolve(t *testing.T) {
	p := z3(t)
	f := NewFormula()
	rdi := f.NewVar("rdi", BitVec(64))
	rsi := f.NewVar("rsi", BitVec(64))
	f.Assert(f.Apply(OpEq, f.Apply(OpBvXor, rdi, rsi), f.NewConst(0x0000dead0000beef, 64)))
	f.Assert(f.Apply(OpEq, f.Extract(31, 0, rdi), f.NewConst(0, 32)))
	f.Assert(f.Apply(OpEq, f.Extract(63, 32, rsi), f.NewConst(0, 32)))

	model, err := p.Solve(context.Background(), f)
	require.Nil(t, err)
	assert.Equal(t, uint64(0xdead00000000), model[rdi])
	assert.Equal(t, uint64(0xbeef), model[rsi])
}

func Test_ProcessUnsat(t *testing.T) {
	p := z3(t)
	f := NewFormula()
	x := f.NewVar("x", BitVec(64))
	f.Assert(f.Apply(OpEq, x, f.NewConst(5, 64)))
	f.Assert(f.Apply(OpEq, x, f.NewConst(6, 64)))

	_, err := p.Solve(context.Background(), f)
	assert.Equal(t, ErrUnsat, errors.Cause(err))

	ok, err := Feasible(context.Background(), p, f)
	assert.Nil(t, err)
	assert.False(t, ok)
}

// script 写一个按固定输出应答的假求解器
func script(t *testing.T, body string) *Process {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "solver")
	require.Nil(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return &Process{Path: path, Logic: "QF_ABV", Timeout: 5 * time.Second}
}

func Test_ProcessScripted(t *testing.T) {
	p := script(t, `echo sat
echo '(model'
echo '  (define-fun rdi () (_ BitVec 64) #x0000dead00000000)'
echo '  (define-fun rsi () (_ BitVec 64) (_ bv48879 64)))'
cat > /dev/null
`)
	f := NewFormula()
	rdi := f.NewVar("rdi", BitVec(64))
	rsi := f.NewVar("rsi", BitVec(64))
	f.Assert(f.Apply(OpEq, f.Apply(OpBvXor, rdi, rsi), f.NewConst(0x0000dead0000beef, 64)))

	model, err := p.Solve(context.Background(), f)
	require.Nil(t, err)
	assert.Equal(t, uint64(0xdead00000000), model[rdi])
	assert.Equal(t, uint64(0xbeef), model[rsi])
}

func Test_ProcessScriptedUnsat(t *testing.T) {
	p := script(t, "echo unsat\ncat > /dev/null\n")
	f := NewFormula()
	f.Assert(f.Apply(OpEq, f.NewVar("x", BitVec(8)), f.NewConst(1, 8)))

	ok, err := Feasible(context.Background(), p, f)
	require.Nil(t, err)
	assert.False(t, ok)

	p = script(t, "echo unknown\ncat > /dev/null\n")
	_, err = p.Solve(context.Background(), f)
	assert.Equal(t, ErrUnknown, errors.Cause(err))
}

func Test_ProcessTimeout(t *testing.T) {
	p := script(t, "exec sleep 10\n")
	p.Timeout = 200 * time.Millisecond
	start := time.Now()
	_, err := p.Solve(context.Background(), NewFormula())
	assert.Equal(t, ErrSolverProcess, errors.Cause(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func Test_ProcessMissingBinary(t *testing.T) {
	p := &Process{Path: "definitely-not-a-solver", Timeout: time.Second}
	_, err := p.Solve(context.Background(), NewFormula())
	assert.Equal(t, ErrSolverProcess, errors.Cause(err))
}

func Test_NewProcess(t *testing.T) {
	p, err := NewProcess("cvc5")
	require.Nil(t, err)
	assert.Equal(t, "cvc5", p.Path)
	_, err = NewProcess("nope")
	assert.NotNil(t, err)
}

type countingBackend struct {
	calls int
	unsat bool
}

func (b *countingBackend) Solve(_ context.Context, f *Formula) (Model, error) {
	b.calls++
	if b.unsat {
		return nil, ErrUnsat
	}
	model := make(Model)
	for i, ref := range f.Vars() {
		model[ref] = uint64(i + 1)
	}
	return model, nil
}

func Test_Cache(t *testing.T) {
	backend := &countingBackend{}
	cache := NewCache(backend)

	build := func() (*Formula, VarRef) {
		f := NewFormula()
		x := f.NewVar("x", BitVec(64))
		f.Assert(f.Apply(OpBvUGt, x, f.NewConst(3, 64)))
		return f, x
	}

	f1, x1 := build()
	m1, err := cache.Solve(context.Background(), f1)
	require.Nil(t, err)
	f2, x2 := build()
	m2, err := cache.Solve(context.Background(), f2)
	require.Nil(t, err)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, 1, cache.Hits())
	assert.Equal(t, m1[x1], m2[x2])

	backend.unsat = true
	f3, _ := build()
	f3.Assert(f3.NewBool(false))
	_, err = cache.Solve(context.Background(), f3)
	assert.Equal(t, ErrUnsat, err)
	_, err = cache.Solve(context.Background(), f3)
	assert.Equal(t, ErrUnsat, err)
	assert.Equal(t, 2, backend.calls)
}
