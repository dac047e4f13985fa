package module

import (
	"bscanner/internal/esil"
	"bscanner/internal/issuse"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ArbitraryJump 程序计数器被写入一个不唯一的符号值
type ArbitraryJump struct {
	*BaseModule
}

func NewArbitraryJump(backend smt.Backend) *ArbitraryJump {
	arbitraryJump := &ArbitraryJump{
		BaseModule: newBaseModule("691", backend),
	}
	arbitraryJump.preHooks = []string{esil.Eq.String()}
	return arbitraryJump
}

func (arbitraryJump *ArbitraryJump) Execute(event *Event) (issuses []*issuse.Issuse, err error) {
	defer func() {
		arbitraryJump.Issuses = append(arbitraryJump.Issuses, issuses...)
	}()

	dst, src := event.Operands[0], event.Operands[1]
	if dst.Token.Kind != esil.Register {
		return nil, nil
	}
	if role, ok := event.Ctx.Registers().AliasOf(dst.Token.Name); !ok || role != "PC" {
		return nil, nil
	}
	if _, ok := event.Ctx.ConstValue(src.Value); ok {
		return nil, nil
	}
	log.Debugf("symbolic jump at %#x", event.Address)
	if arbitraryJump.backend == nil {
		return []*issuse.Issuse{arbitraryJump.issue(event, nil)}, nil
	}

	unique, err := arbitraryJump.isUnique(event.Ctx, src.Value)
	if err != nil {
		return nil, errors.Wrap(err, "isUnique")
	}
	if unique {
		return nil, nil
	}
	values, err := arbitraryJump.solve(event.Ctx)
	if err != nil {
		return nil, errors.Wrap(err, "solve")
	}
	return []*issuse.Issuse{arbitraryJump.issue(event, values)}, nil
}
