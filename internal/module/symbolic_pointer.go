package module

import (
	"bscanner/internal/esil"
	"bscanner/internal/issuse"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
)

// SymbolicPointer 访存地址依赖输入
type SymbolicPointer struct {
	*BaseModule
}

func NewSymbolicPointer(backend smt.Backend) *SymbolicPointer {
	sp := &SymbolicPointer{
		BaseModule: newBaseModule("822", backend),
	}
	sp.preHooks = []string{esil.Peek.String(), esil.Poke.String()}
	return sp
}

func (sp *SymbolicPointer) Execute(event *Event) (issuses []*issuse.Issuse, err error) {
	defer func() {
		sp.Issuses = append(sp.Issuses, issuses...)
	}()

	addr := event.Operands[0].Value
	if _, ok := event.Ctx.ConstValue(addr); ok {
		return nil, nil
	}
	if sp.backend == nil {
		return []*issuse.Issuse{sp.issue(event, nil)}, nil
	}
	unique, err := sp.isUnique(event.Ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "isUnique")
	}
	if unique {
		return nil, nil
	}
	values, err := sp.solve(event.Ctx)
	if err != nil {
		return nil, errors.Wrap(err, "solve")
	}
	return []*issuse.Issuse{sp.issue(event, values)}, nil
}
