package module

import (
	"bscanner/internal/esil"
	"bscanner/internal/issuse"
	"bscanner/internal/smt"
	"bscanner/internal/state"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WriteWatch 内存写可能落到被监视的地址上，比如保存的返回地址
type WriteWatch struct {
	*BaseModule
	watch []uint64
}

func NewWriteWatch(backend smt.Backend, watch ...uint64) *WriteWatch {
	ww := &WriteWatch{
		BaseModule: newBaseModule("787", backend),
		watch:      watch,
	}
	ww.postHooks = []string{esil.Poke.String()}
	return ww
}

func (ww *WriteWatch) Watch(addr uint64) { ww.watch = append(ww.watch, addr) }

func (ww *WriteWatch) Execute(event *Event) (issuses []*issuse.Issuse, err error) {
	defer func() {
		ww.Issuses = append(ww.Issuses, issuses...)
	}()

	addr := event.Ctx.Resize(event.Operands[0].Value, state.AddressBits)
	concrete, isConst := event.Ctx.ConstValue(addr)
	for _, w := range ww.watch {
		if isConst && concrete != w {
			continue
		}
		if ww.backend == nil {
			if isConst {
				issuses = append(issuses, ww.issue(event, nil))
			}
			continue
		}
		values, err := ww.solveWith(event.Ctx, smt.OpEq, addr, event.Ctx.DefineConst(w, state.AddressBits))
		if err != nil {
			return issuses, errors.Wrapf(err, "watch %#x", w)
		}
		if values == nil {
			continue
		}
		log.Infof("write at %#x reaches %#x", event.Address, w)
		issuses = append(issuses, ww.issue(event, values))
	}
	return issuses, nil
}
