package engine

import (
	"bscanner/internal/esil"
	"bscanner/internal/module"
	"bscanner/internal/smt"
	"bscanner/internal/state"
	"bscanner/internal/strategy"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var binaryOps = map[esil.Kind]smt.Op{
	esil.Add: smt.OpBvAdd,
	esil.Sub: smt.OpBvSub,
	esil.Mul: smt.OpBvMul,
	esil.Div: smt.OpBvUDiv,
	esil.Mod: smt.OpBvURem,
	esil.And: smt.OpBvAnd,
	esil.Or:  smt.OpBvOr,
	esil.Xor: smt.OpBvXor,
	esil.Lsl: smt.OpBvShl,
	esil.Lsr: smt.OpBvLShr,
	esil.Asr: smt.OpBvAShr,
}

var compareOps = map[esil.Kind]smt.Op{
	esil.Lt: smt.OpBvULt,
	esil.Gt: smt.OpBvUGt,
	esil.Le: smt.OpBvULe,
	esil.Ge: smt.OpBvUGe,
}

// value 解析后的操作数；literal 表示来自表达式里的常数
type value struct {
	ref     smt.VarRef
	literal bool
}

// processIn resolves an operand token.
func (e *Engine) processIn(fr *frame, tok esil.Token) (value, error) {
	c := e.ctx
	switch tok.Kind {
	case esil.Register:
		if role, ok := c.Registers().AliasOf(tok.Name); ok && role == "PC" {
			entry, _ := c.Registers().Entry(tok.Name)
			return value{ref: c.DefineConst(c.IP(), entry.Width())}, nil
		}
		ref, err := c.RegRead(tok.Name)
		if err != nil {
			return value{}, e.fail(Undefined, tok, err)
		}
		return value{ref: ref}, nil
	case esil.Identifier:
		return value{}, e.fail(Undefined, tok, errors.Errorf("unknown identifier %s", tok.Name))
	case esil.Entry:
		if tok.Value >= uint64(len(fr.temps)) {
			return value{}, e.fail(IncorrectOperand, tok, errors.Errorf("no intermediate %d", tok.Value))
		}
		return value{ref: fr.temps[tok.Value]}, nil
	case esil.Constant:
		return value{ref: c.DefineConst(tok.Value, 64), literal: true}, nil
	case esil.Address:
		return value{ref: c.DefineConst(c.IP(), 64), literal: true}, nil
	case esil.Old:
		ref, err := c.Old()
		if err != nil {
			return value{}, e.fail(Undefined, tok, err)
		}
		return value{ref: ref}, nil
	case esil.Cur:
		ref, err := c.Cur()
		if err != nil {
			return value{}, e.fail(Undefined, tok, err)
		}
		return value{ref: ref}, nil
	case esil.Lastsz:
		return value{ref: c.DefineConst(uint64(c.LastSize()), 64), literal: true}, nil
	}
	return value{}, e.fail(IncorrectOperand, tok, errors.New("not an operand"))
}

// processOut pushes a produced value back as an intermediate reference.
func (e *Engine) processOut(fr *frame, ref smt.VarRef) {
	idx := len(fr.temps)
	fr.temps = append(fr.temps, ref)
	fr.parser.Push(esil.Token{Kind: esil.Entry, Value: uint64(idx)})
}

// coerce 常数跟随另一侧的宽度，否则较窄的一侧零扩展
func (e *Engine) coerce(a, b value) (smt.VarRef, smt.VarRef) {
	wa, wb := e.ctx.Width(a.ref), e.ctx.Width(b.ref)
	switch {
	case wa == wb:
		return a.ref, b.ref
	case b.literal && !a.literal:
		return a.ref, e.ctx.Resize(b.ref, wa)
	case a.literal && !b.literal:
		return e.ctx.Resize(a.ref, wb), b.ref
	case wa < wb:
		return e.ctx.ZeroExtend(wb-wa, a.ref), b.ref
	}
	return a.ref, e.ctx.ZeroExtend(wa-wb, b.ref)
}

// boolean 把谓词变成 1 位的 0/1
func (e *Engine) boolean(pred smt.VarRef) smt.VarRef {
	return e.ctx.Eval(smt.OpIte, pred, e.ctx.DefineConst(1, 1), e.ctx.DefineConst(0, 1))
}

func (e *Engine) isZero(x smt.VarRef) smt.VarRef {
	return e.ctx.Eval(smt.OpEq, x, e.ctx.DefineConst(0, e.ctx.Width(x)))
}

func (e *Engine) step(fr *frame, tok esil.Token) (strategy.Control, error) {
	log.Debugf("  token %s", tok)
	switch tok.Kind {
	case esil.Nop, esil.EndIf:
		return strategy.Continue, nil
	case esil.Break:
		return strategy.Skip, nil
	case esil.Else:
		// 真分支执行完，跳过 else 块
		fr.parser.SkipBlock()
		return strategy.Continue, nil
	case esil.Goto, esil.Todo:
		return strategy.Halt, e.fail(Unsupported, tok, errors.Errorf("%s in %q", tok, fr.ins.ESIL))
	}

	lhsTok, rhsTok, err := fr.parser.FetchOperands(tok)
	if err != nil {
		return strategy.Halt, e.fail(IncorrectOperand, tok, err)
	}
	arity := tok.Kind.Arity()
	event := &module.Event{Ctx: e.ctx, Address: fr.ins.Address, Token: tok}
	event.Operands[0] = module.Operand{Token: lhsTok, Value: smt.NoRef}
	event.Operands[1] = module.Operand{Token: rhsTok, Value: smt.NoRef}

	var lhs, rhs value
	assigns := tok.Kind == esil.Eq || tok.Kind == esil.WeakEq
	if arity >= 1 && !assigns {
		if lhs, err = e.processIn(fr, lhsTok); err != nil {
			return strategy.Halt, err
		}
		event.Operands[0].Value = lhs.ref
	}
	if arity == 2 {
		if rhs, err = e.processIn(fr, rhsTok); err != nil {
			return strategy.Halt, err
		}
		event.Operands[1].Value = rhs.ref
	}

	if e.moduleManager != nil {
		e.moduleManager.Fire(e.moduleManager.PreHooks, event)
	}
	ctrl, err := e.processOp(fr, tok, lhsTok, lhs, rhs)
	if err != nil {
		return strategy.Halt, err
	}
	if e.moduleManager != nil {
		e.moduleManager.Fire(e.moduleManager.PostHooks, event)
	}
	return ctrl, nil
}

func (e *Engine) processOp(fr *frame, tok, lhsTok esil.Token, lhs, rhs value) (strategy.Control, error) {
	c := e.ctx
	if op, ok := binaryOps[tok.Kind]; ok {
		a, b := e.coerce(lhs, rhs)
		e.processOut(fr, c.Eval(op, a, b))
		return strategy.Continue, nil
	}
	if op, ok := compareOps[tok.Kind]; ok {
		a, b := e.coerce(lhs, rhs)
		e.processOut(fr, e.boolean(c.Eval(op, a, b)))
		return strategy.Continue, nil
	}

	switch tok.Kind {
	case esil.Cmp:
		a, b := e.coerce(lhs, rhs)
		c.SetCompare(a, c.Eval(smt.OpBvSub, a, b))
	case esil.Ror, esil.Rol:
		a, b := e.coerce(lhs, rhs)
		e.processOut(fr, e.rotate(tok.Kind, a, b))
	case esil.Neg:
		e.processOut(fr, e.boolean(e.isZero(lhs.ref)))
	case esil.Inc, esil.Dec:
		op := smt.OpBvAdd
		if tok.Kind == esil.Dec {
			op = smt.OpBvSub
		}
		e.processOut(fr, c.Eval(op, lhs.ref, c.DefineConst(1, c.Width(lhs.ref))))
	case esil.Eq, esil.WeakEq:
		return strategy.Continue, e.assign(tok, lhsTok, rhs)
	case esil.Peek:
		addr, err := e.address(tok, lhs.ref)
		if err != nil {
			return strategy.Halt, err
		}
		v, err := c.MemRead(addr, tok.Size*8)
		if err != nil {
			return strategy.Halt, e.memErr(tok, err)
		}
		e.processOut(fr, v)
	case esil.Poke:
		addr, err := e.address(tok, lhs.ref)
		if err != nil {
			return strategy.Halt, err
		}
		bits := tok.Size * 8
		if err = c.MemWrite(addr, c.Resize(rhs.ref, bits), bits); err != nil {
			return strategy.Halt, e.memErr(tok, err)
		}
	case esil.If:
		return e.branch(fr, lhs.ref), nil
	default:
		return strategy.Halt, e.fail(Unsupported, tok, errors.New("no semantics"))
	}
	return strategy.Continue, nil
}

// rotate 循环移位；位数不是常数时用两次移位拼出来
func (e *Engine) rotate(kind esil.Kind, x, n smt.VarRef) smt.VarRef {
	c := e.ctx
	w := c.Width(x)
	op := smt.OpRotateRight
	if kind == esil.Rol {
		op = smt.OpRotateLeft
	}
	if v, ok := c.ConstValue(n); ok {
		return c.Formula().Rotate(op, uint32(v%uint64(w)), x)
	}
	n = c.Eval(smt.OpBvURem, n, c.DefineConst(uint64(w), w))
	back := c.Eval(smt.OpBvSub, c.DefineConst(uint64(w), w), n)
	first, second := smt.OpBvLShr, smt.OpBvShl
	if kind == esil.Rol {
		first, second = smt.OpBvShl, smt.OpBvLShr
	}
	return c.Eval(smt.OpBvOr, c.Eval(first, x, n), c.Eval(second, x, back))
}

func (e *Engine) address(tok esil.Token, addr smt.VarRef) (smt.VarRef, error) {
	addr = e.ctx.Resize(addr, state.AddressBits)
	if _, ok := e.ctx.ConstValue(addr); !ok && !e.opts.SymbolicMemory {
		return smt.NoRef, e.fail(SymbolicAddress, tok, state.ErrSymbolicAddress)
	}
	return addr, nil
}

func (e *Engine) memErr(tok esil.Token, err error) error {
	if errors.Cause(err) == state.ErrSymbolicAddress {
		return e.fail(SymbolicAddress, tok, err)
	}
	return e.fail(IncorrectOperand, tok, err)
}

// assign 写寄存器；写程序计数器即跳转
func (e *Engine) assign(tok, dst esil.Token, src value) error {
	c := e.ctx
	switch dst.Kind {
	case esil.Register:
	case esil.Identifier:
		return e.fail(Undefined, dst, errors.Errorf("unknown register %s", dst.Name))
	default:
		return e.fail(IncorrectOperand, tok, errors.Errorf("cannot assign to %s", dst))
	}
	entry, err := c.Registers().Entry(dst.Name)
	if err != nil {
		return e.fail(Undefined, dst, err)
	}
	v := c.Resize(src.ref, entry.Width())

	if role, _ := c.Registers().AliasOf(dst.Name); role == "PC" {
		target, ok := c.ConstValue(v)
		if !ok {
			return e.fail(SymbolicJump, tok, errors.New("program counter set to a symbolic value"))
		}
		log.Debugf("jump %#x -> %#x", c.At(), target)
		c.SetIP(target)
		return nil
	}

	if tok.Kind == esil.WeakEq {
		err = c.RegWriteWeak(dst.Name, v)
	} else {
		err = c.RegWrite(dst.Name, v)
	}
	if err != nil {
		return e.fail(Undefined, dst, err)
	}
	return nil
}

// branch 条件归一成 0/1，把剩下的指令存为延续后交给探索器
func (e *Engine) branch(fr *frame, cond smt.VarRef) strategy.Control {
	c := e.ctx
	bit := e.boolean(c.Eval(smt.OpNot, e.isZero(cond)))
	e.stats.Branches++

	fr.branch = true
	c.Resume = fr.Clone()
	ctrl := e.explorer.RegisterBranch(c, bit)
	c.Resume = nil
	fr.branch = false
	return e.follow(fr, ctrl)
}
