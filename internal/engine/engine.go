// Package engine 逐条解释指令语义表达式，把每个运算折叠进路径公式
package engine

import (
	"bscanner/internal/esil"
	"bscanner/internal/module"
	"bscanner/internal/smt"
	"bscanner/internal/state"
	"bscanner/internal/strategy"
	"bscanner/internal/stream"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	// SymbolicMemory lets peek and poke use symbolic addresses when the memory model
	// accepts them.
	SymbolicMemory bool
	// MaxInstructions bounds one Run; 0 means no bound.
	MaxInstructions int
}

// PathEnd 路径结束的原因
type PathEnd uint8

const (
	Exhausted PathEnd = iota // 当前 IP 没有指令
	Pruned
	Halted
)

func (p PathEnd) String() string {
	switch p {
	case Exhausted:
		return "exhausted"
	case Pruned:
		return "pruned"
	}
	return "halted"
}

type Stats struct {
	Instructions int `json:"instructions"`
	Branches     int `json:"branches"`
	Paths        int `json:"paths"`
	Pruned       int `json:"pruned"`
}

// frame 一条正在执行的指令；停在分支处时作为延续存进上下文
type frame struct {
	ins    stream.Instruction
	parser *esil.Parser
	temps  []smt.VarRef
	branch bool
}

func (f *frame) Clone() state.Continuation {
	return &frame{
		ins:    f.ins,
		parser: f.parser.Clone(),
		temps:  append([]smt.VarRef(nil), f.temps...),
		branch: f.branch,
	}
}

type Engine struct {
	ctx           *state.Context
	stream        stream.Stream
	explorer      strategy.Explorer
	opts          Options
	moduleManager *module.ModuleManager
	stats         Stats

	// OnPathEnd 每条路径结束时调用
	OnPathEnd func(ctx *state.Context, end PathEnd)
}

func New(ctx *state.Context, s stream.Stream, explorer strategy.Explorer, opts Options) *Engine {
	return &Engine{
		ctx:      ctx,
		stream:   s,
		explorer: explorer,
		opts:     opts,
	}
}

// SetModuleManager installs the detection hooks.
func (e *Engine) SetModuleManager(mm *module.ModuleManager) {
	e.moduleManager = mm
}

// Context is the live path; after Run it is the last path executed.
func (e *Engine) Context() *state.Context { return e.ctx }

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) isRegister(name string) bool {
	return e.ctx.Registers().Has(name)
}

func (e *Engine) Run() error {
	log.Infof("run from %#x", e.ctx.IP())
	defer func() {
		log.Infof("run done: %d instructions, %d branches, %d paths", e.stats.Instructions, e.stats.Branches, e.stats.Paths)
	}()

	// 入口地址上的断点在第一条指令之前检查
	switch e.explorer.Next(e.ctx) {
	case strategy.Halt, strategy.Break:
		e.endPath(Halted)
		return e.explorerErr()
	}

	var fr *frame
	for {
		if fr == nil {
			if e.opts.MaxInstructions > 0 && e.stats.Instructions >= e.opts.MaxInstructions {
				log.Warnf("instruction limit %d reached at %#x", e.opts.MaxInstructions, e.ctx.IP())
				e.endPath(Halted)
				return nil
			}
			ins, ok := e.stream.At(e.ctx.IP())
			if !ok {
				e.endPath(Exhausted)
				next, ok := e.nextJob()
				if !ok {
					return e.explorerErr()
				}
				fr = next
				continue
			}
			e.ctx.SetAt(ins.Address)
			e.ctx.IncrementIP(ins.Size)
			e.stats.Instructions++
			log.Debugf("%#x: %-24s %s", ins.Address, ins.Mnemonic, ins.ESIL)
			fr = &frame{ins: ins, parser: esil.NewParser(e.isRegister)}
		}

		ctrl, err := e.execute(fr)
		fr = nil
		if err != nil {
			log.Errorf("execute: %v", err)
			return err
		}
		if ctrl == strategy.Continue {
			ctrl = e.explorer.Next(e.ctx)
		}
		switch ctrl {
		case strategy.Halt, strategy.Break:
			e.endPath(Halted)
			return e.explorerErr()
		case strategy.Prune:
			e.stats.Pruned++
			e.endPath(Pruned)
			next, ok := e.nextJob()
			if !ok {
				return e.explorerErr()
			}
			fr = next
		}
	}
}

// nextJob 换到探索器给出的下一条路径；返回的 frame 为空时从新上下文的 IP 开始取指
func (e *Engine) nextJob() (*frame, bool) {
	ctx, ctrl, ok := e.explorer.NextJob(e.ctx)
	if !ok {
		return nil, false
	}
	e.ctx = ctx
	fr, _ := ctx.Resume.(*frame)
	ctx.Resume = nil
	log.Debugf("resume path at %#x (%s)", ctx.At(), ctrl)
	if fr != nil && fr.branch {
		fr.branch = false
		e.follow(fr, ctrl)
	}
	return fr, true
}

func (e *Engine) endPath(end PathEnd) {
	e.stats.Paths++
	log.Debugf("path %d %s at %#x", e.stats.Paths, end, e.ctx.IP())
	if e.OnPathEnd != nil {
		e.OnPathEnd(e.ctx, end)
	}
}

func (e *Engine) explorerErr() error {
	if x, ok := e.explorer.(interface{ Err() error }); ok && x.Err() != nil {
		return &Error{Kind: Explorer, Address: e.ctx.At(), Err: x.Err()}
	}
	return nil
}

// execute 折叠一条指令剩余的 token
func (e *Engine) execute(fr *frame) (strategy.Control, error) {
	for {
		tok, ok, err := fr.parser.Parse(fr.ins.ESIL)
		if err != nil {
			return strategy.Halt, e.fail(Undefined, tok, errors.Wrapf(err, "parse %q", fr.ins.ESIL))
		}
		if !ok {
			return strategy.Continue, nil
		}
		ctrl, err := e.step(fr, tok)
		if err != nil {
			return strategy.Halt, err
		}
		switch ctrl {
		case strategy.Skip:
			return strategy.Continue, nil
		case strategy.Halt, strategy.Break, strategy.Prune:
			return ctrl, nil
		}
	}
}

// follow 记录分支方向；走假分支时跳过条件块
func (e *Engine) follow(fr *frame, ctrl strategy.Control) strategy.Control {
	switch ctrl {
	case strategy.ExploreTrue:
		e.ctx.Decide(fr.ins.Address, true)
		return strategy.Continue
	case strategy.ExploreFalse:
		e.ctx.Decide(fr.ins.Address, false)
		fr.parser.SkipBlock()
		return strategy.Continue
	}
	return ctrl
}

func (e *Engine) fail(kind Kind, tok esil.Token, err error) error {
	return &Error{Kind: kind, Token: tok, Address: e.ctx.At(), Err: err}
}
