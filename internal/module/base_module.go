package module

import (
	"context"

	"bscanner/internal/esil"
	"bscanner/internal/issuse"
	"bscanner/internal/smt"
	"bscanner/internal/state"
)

// Operand 运算符的一个操作数；赋值目标没有值，Value 为 smt.NoRef
type Operand struct {
	Token esil.Token
	Value smt.VarRef
}

// Event is one operator about to run (pre hooks) or just run (post hooks).
type Event struct {
	Ctx      *state.Context
	Address  uint64
	Token    esil.Token
	Operands [2]Operand // 栈顶在前
}

type BaseModule struct {
	cweData   *CWEData
	preHooks  []string // 在这些运算符执行前，执行本模块的hook
	postHooks []string // 在这些运算符执行后，执行本模块的hook
	backend   smt.Backend
	ctx       context.Context
	Issuses   []*issuse.Issuse
}

func newBaseModule(cwe string, backend smt.Backend) *BaseModule {
	return &BaseModule{
		cweData: CWEDataMap[cwe],
		backend: backend,
		ctx:     context.Background(),
		Issuses: make([]*issuse.Issuse, 0),
	}
}

func (bm *BaseModule) Execute(*Event) ([]*issuse.Issuse, error) {
	return nil, nil
}

func (bm *BaseModule) GetPreHooks() []string {
	return bm.preHooks
}

func (bm *BaseModule) GetPostHooks() []string {
	return bm.postHooks
}

func (bm *BaseModule) GetCWEData() *CWEData {
	return bm.cweData
}

func (bm *BaseModule) GetIssuses() []*issuse.Issuse {
	return bm.Issuses
}

// SetContext bounds the solver queries the module makes.
func (bm *BaseModule) SetContext(ctx context.Context) {
	bm.ctx = ctx
}

func (bm *BaseModule) issue(event *Event, values map[string]uint64) *issuse.Issuse {
	return &issuse.Issuse{
		ID:          bm.cweData.ID,
		Title:       bm.cweData.Title,
		Description: bm.cweData.Description,
		Address:     event.Address,
		Trail:       append([]state.Decision(nil), event.Ctx.Trail()...),
		Values:      values,
	}
}

// solve returns the symbol values of one model of the path, or nil when it is infeasible.
func (bm *BaseModule) solve(ctx *state.Context) (map[string]uint64, error) {
	values, err := ctx.SymbolValues(bm.ctx, bm.backend)
	if err != nil {
		if isUnsat(err) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

// solveWith 在路径约束上加一条断言求解；不可满足时返回 nil
func (bm *BaseModule) solveWith(ctx *state.Context, op smt.Op, a, b smt.VarRef) (map[string]uint64, error) {
	probe := ctx.Clone()
	probe.Assert(op, a, b)
	values, err := probe.SymbolValues(bm.ctx, bm.backend)
	if err != nil {
		if isUnsat(err) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

// valueOf returns one feasible value of v, or false when the path is infeasible.
func (bm *BaseModule) valueOf(ctx *state.Context, v smt.VarRef) (uint64, bool, error) {
	probe := ctx.Clone()
	f := probe.Formula()
	t := f.NewVar("probe", smt.BitVec(f.Width(v)))
	probe.Assert(smt.OpEq, t, v)
	model, err := probe.Solve(bm.ctx, bm.backend)
	if err != nil {
		if isUnsat(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model[t], true, nil
}

// isUnique reports whether v can take only one value on this path.
func (bm *BaseModule) isUnique(ctx *state.Context, v smt.VarRef) (bool, error) {
	if _, ok := ctx.ConstValue(v); ok {
		return true, nil
	}
	value, ok, err := bm.valueOf(ctx, v)
	if err != nil || !ok {
		return true, err
	}
	other, err := bm.solveWith(ctx, smt.OpDistinct, v, ctx.DefineConst(value, ctx.Width(v)))
	if err != nil {
		return true, err
	}
	return other == nil, nil
}

type DetectionModule interface {
	Execute(*Event) ([]*issuse.Issuse, error)
	GetPreHooks() []string
	GetPostHooks() []string
	GetCWEData() *CWEData
	GetIssuses() []*issuse.Issuse
}
