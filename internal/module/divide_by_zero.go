package module

import (
	"bscanner/internal/esil"
	"bscanner/internal/issuse"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
)

// DivideByZero 除数在路径约束下可以为零
type DivideByZero struct {
	*BaseModule
}

func NewDivideByZero(backend smt.Backend) *DivideByZero {
	dz := &DivideByZero{
		BaseModule: newBaseModule("369", backend),
	}
	dz.preHooks = []string{esil.Div.String(), esil.Mod.String()}
	return dz
}

func (dz *DivideByZero) Execute(event *Event) (issuses []*issuse.Issuse, err error) {
	defer func() {
		dz.Issuses = append(dz.Issuses, issuses...)
	}()

	// "a,b,/" 计算 b / a，除数在栈顶之下
	divisor := event.Operands[1].Value
	if v, ok := event.Ctx.ConstValue(divisor); ok {
		if v != 0 {
			return nil, nil
		}
		if dz.backend == nil {
			return []*issuse.Issuse{dz.issue(event, nil)}, nil
		}
		values, err := dz.solve(event.Ctx)
		if err != nil {
			return nil, errors.Wrap(err, "solve")
		}
		return []*issuse.Issuse{dz.issue(event, values)}, nil
	}
	if dz.backend == nil {
		return nil, nil
	}
	values, err := dz.solveWith(event.Ctx, smt.OpEq, divisor, event.Ctx.DefineConst(0, event.Ctx.Width(divisor)))
	if err != nil {
		return nil, errors.Wrap(err, "solveWith")
	}
	if values == nil {
		return nil, nil
	}
	return []*issuse.Issuse{dz.issue(event, values)}, nil
}
