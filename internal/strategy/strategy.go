// Package strategy 实现路径探索的策略
package strategy

import (
	"fmt"

	"bscanner/internal/smt"
	"bscanner/internal/state"
)

// Control 探索器返回给引擎的控制信号
type Control uint8

const (
	Continue Control = iota
	Skip
	ExploreTrue
	ExploreFalse
	Halt
	Break
	Prune
)

var controlNames = [...]string{"continue", "skip", "explore-true", "explore-false", "halt", "break", "prune"}

func (c Control) String() string {
	if int(c) < len(controlNames) {
		return controlNames[c]
	}
	return fmt.Sprintf("control(%d)", uint8(c))
}

// Explorer decides branch directions and owns the deferred paths.
//
// Next is asked at every instruction boundary. NextJob is asked when the live path has no
// instruction left; it returns the path to resume together with the direction to take at its
// suspended branch. RegisterBranch is asked at every conditional block with a 1-bit condition.
type Explorer interface {
	Next(ctx *state.Context) Control
	NextJob(ctx *state.Context) (*state.Context, Control, bool)
	RegisterBranch(ctx *state.Context, cond smt.VarRef) Control
}

// Job 延迟执行的分支：条件在 Ctx 的公式里
type Job struct {
	Ctx   *state.Context
	Cond  smt.VarRef
	Taken bool
}

// Strategy 待处理分支的队列，决定取出顺序
type Strategy interface {
	Size() int
	HasNext() bool
	Pop() (*Job, error)
	Push(...*Job) error
}

// follow 在条件上断言方向
func follow(ctx *state.Context, cond smt.VarRef, taken bool) Control {
	v := uint64(0)
	if taken {
		v = 1
	}
	ctx.Assert(smt.OpEq, cond, ctx.DefineConst(v, ctx.Width(cond)))
	if taken {
		return ExploreTrue
	}
	return ExploreFalse
}

// Always follows every branch's true side and drops the other.
type Always struct{}

func NewAlways() *Always { return &Always{} }

func (*Always) Next(*state.Context) Control { return Continue }

func (*Always) NextJob(*state.Context) (*state.Context, Control, bool) { return nil, Halt, false }

func (*Always) RegisterBranch(ctx *state.Context, cond smt.VarRef) Control {
	return follow(ctx, cond, true)
}
