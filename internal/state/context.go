// Package state 单条执行路径的符号状态：寄存器、内存、公式与符号表
package state

import (
	"context"
	"fmt"
	"sort"

	"bscanner/internal/arch"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Continuation is an instruction suspended at a branch, owned by the engine.
type Continuation interface {
	Clone() Continuation
}

// Decision 一次分支选择
type Decision struct {
	Address uint64 `json:"address"`
	Taken   bool   `json:"taken"`
}

func (d Decision) String() string {
	if d.Taken {
		return fmt.Sprintf("%#x:T", d.Address)
	}
	return fmt.Sprintf("%#x:F", d.Address)
}

type Context struct {
	ip      uint64
	at      uint64 // 正在执行的指令地址
	formula *smt.Formula
	regs    *RegisterFile
	mem     Memory

	old    smt.VarRef
	cur    smt.VarRef
	lastsz uint32

	syms    map[string]smt.VarRef
	memInit map[uint64]uint32
	trail   []Decision

	// Resume 分支处挂起的指令，恢复路径时由引擎继续执行
	Resume Continuation
}

// NewContext builds an empty path over the profile's registers. A nil mem selects ArrayMemory.
func NewContext(p *arch.Profile, mem Memory) *Context {
	if mem == nil {
		mem = NewArrayMemory()
	}
	return &Context{
		formula: smt.NewFormula(),
		regs:    NewRegisterFile(p),
		mem:     mem,
		old:     smt.NoRef,
		cur:     smt.NoRef,
		syms:    make(map[string]smt.VarRef),
		memInit: make(map[uint64]uint32),
	}
}

func (c *Context) Clone() *Context {
	syms := make(map[string]smt.VarRef, len(c.syms))
	for k, v := range c.syms {
		syms[k] = v
	}
	memInit := make(map[uint64]uint32, len(c.memInit))
	for k, v := range c.memInit {
		memInit[k] = v
	}
	clone := &Context{
		ip:      c.ip,
		at:      c.at,
		formula: c.formula.Clone(),
		regs:    c.regs.Clone(),
		mem:     c.mem.Clone(),
		old:     c.old,
		cur:     c.cur,
		lastsz:  c.lastsz,
		syms:    syms,
		memInit: memInit,
		trail:   append([]Decision(nil), c.trail...),
	}
	if c.Resume != nil {
		clone.Resume = c.Resume.Clone()
	}
	return clone
}

func (c *Context) Formula() *smt.Formula { return c.formula }
func (c *Context) Registers() *RegisterFile { return c.regs }
func (c *Context) Memory() Memory { return c.mem }
func (c *Context) IP() uint64 { return c.ip }
func (c *Context) SetIP(ip uint64) { c.ip = ip }
func (c *Context) IncrementIP(n uint64) { c.ip += n }

// At is the address of the instruction being executed; IP has already moved past it.
func (c *Context) At() uint64 { return c.at }

func (c *Context) SetAt(addr uint64) { c.at = addr }
func (c *Context) Trail() []Decision { return c.trail }
func (c *Context) Width(ref smt.VarRef) uint32 { return c.formula.Width(ref) }

// Decide records a branch decision at addr.
func (c *Context) Decide(addr uint64, taken bool) {
	c.trail = append(c.trail, Decision{Address: addr, Taken: taken})
}

func (c *Context) DefineConst(value uint64, width uint32) smt.VarRef {
	return c.formula.NewConst(value, width)
}

// Eval 所有指令语义都经由这里变成公式节点
func (c *Context) Eval(op smt.Op, operands ...smt.VarRef) smt.VarRef {
	return c.formula.Apply(op, operands...)
}

// Assert adds op(operands...) to the path constraints.
func (c *Context) Assert(op smt.Op, operands ...smt.VarRef) smt.VarRef {
	ref := c.formula.Apply(op, operands...)
	c.formula.Assert(ref)
	return ref
}

func (c *Context) Extract(hi, lo uint32, x smt.VarRef) smt.VarRef {
	return c.formula.Extract(hi, lo, x)
}

func (c *Context) ZeroExtend(n uint32, x smt.VarRef) smt.VarRef {
	return c.formula.ZeroExtend(n, x)
}

func (c *Context) SignExtend(n uint32, x smt.VarRef) smt.VarRef {
	return c.formula.SignExtend(n, x)
}

func (c *Context) Resize(x smt.VarRef, width uint32) smt.VarRef {
	return c.formula.Resize(x, width)
}

func (c *Context) ConstValue(ref smt.VarRef) (uint64, bool) {
	return c.formula.ConstValue(ref)
}

func (c *Context) RegRead(name string) (smt.VarRef, error) {
	return c.regs.Read(c.formula, name)
}

// RegWrite assigns a register and, unless it is a flag, records old/current.
func (c *Context) RegWrite(name string, v smt.VarRef) error {
	if c.regs.IsFlag(name) {
		return c.RegWriteWeak(name, v)
	}
	prev, err := c.regs.Read(c.formula, name)
	if err != nil && errors.Cause(err) != ErrUninitialized {
		return err
	}
	if err = c.RegWriteWeak(name, v); err != nil {
		return err
	}
	if prev == smt.NoRef {
		prev = c.formula.NewConst(0, c.formula.Width(v))
	}
	c.SetCompare(prev, v)
	return nil
}

// RegWriteWeak assigns without touching old/current.
func (c *Context) RegWriteWeak(name string, v smt.VarRef) error {
	if _, err := c.regs.Write(c.formula, name, v); err != nil {
		return errors.Wrap(err, "RegWrite")
	}
	return nil
}

func (c *Context) MemRead(addr smt.VarRef, bits uint32) (smt.VarRef, error) {
	return c.mem.Read(c.formula, addr, bits)
}

func (c *Context) MemWrite(addr, data smt.VarRef, bits uint32) error {
	return c.mem.Write(c.formula, addr, data, bits)
}

func (c *Context) Old() (smt.VarRef, error) {
	if c.old == smt.NoRef {
		return smt.NoRef, errors.New("old value accessed before any write")
	}
	return c.old, nil
}

func (c *Context) Cur() (smt.VarRef, error) {
	if c.cur == smt.NoRef {
		return smt.NoRef, errors.New("current value accessed before any write")
	}
	return c.cur, nil
}

// LastSize is the width in bits of the last tracked write.
func (c *Context) LastSize() uint32 { return c.lastsz }

func (c *Context) SetCompare(old, cur smt.VarRef) {
	c.old, c.cur = old, cur
	c.lastsz = c.formula.Width(cur)
}

// NewSymbol declares a named free bit-vector and adds it to the symbol table.
func (c *Context) NewSymbol(name string, width uint32) smt.VarRef {
	ref := c.formula.NewVar(name, smt.BitVec(width))
	c.syms[c.formula.Name(ref)] = ref
	return ref
}

// Symbols returns the symbol names, sorted.
func (c *Context) Symbols() []string {
	names := make([]string, 0, len(c.syms))
	for name := range c.syms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Context) Symbol(name string) (smt.VarRef, bool) {
	ref, ok := c.syms[name]
	return ref, ok
}

func (c *Context) regInit(name string) (*Entry, error) {
	e, err := c.regs.Entry(name)
	if err != nil {
		return nil, err
	}
	if c.regs.Initialized(name) {
		return nil, errors.Wrapf(ErrAlreadyInitialized, "register %s", name)
	}
	return e, nil
}

func (c *Context) SetRegAsSym(name string) (smt.VarRef, error) {
	e, err := c.regInit(name)
	if err != nil {
		return smt.NoRef, err
	}
	sym := c.NewSymbol(name, e.Width())
	return sym, c.initReg(e, sym)
}

func (c *Context) SetRegAsConst(name string, value uint64) (smt.VarRef, error) {
	e, err := c.regInit(name)
	if err != nil {
		return smt.NoRef, err
	}
	v := c.formula.NewConst(value, e.Width())
	return v, c.initReg(e, v)
}

// initReg 子寄存器初始化时整个槽的其余位置零
func (c *Context) initReg(e *Entry, v smt.VarRef) error {
	if !e.Whole {
		w := c.regs.wholes[e.Slot]
		if err := c.RegWriteWeak(w.Name, c.formula.NewConst(0, w.Width())); err != nil {
			return err
		}
	}
	return c.RegWriteWeak(e.Name, v)
}

func (c *Context) memInitCheck(addr uint64, bits uint32) (smt.VarRef, error) {
	if err := checkWidth(bits); err != nil {
		return smt.NoRef, err
	}
	if _, ok := c.memInit[addr]; ok {
		return smt.NoRef, errors.Wrapf(ErrAlreadyInitialized, "memory %#x", addr)
	}
	c.memInit[addr] = bits
	return c.formula.NewConst(addr, AddressBits), nil
}

func (c *Context) SetMemAsSym(addr uint64, bits uint32) (smt.VarRef, error) {
	a, err := c.memInitCheck(addr, bits)
	if err != nil {
		return smt.NoRef, err
	}
	sym := c.NewSymbol(fmt.Sprintf("mem_%x", addr), bits)
	return sym, c.MemWrite(a, sym, bits)
}

func (c *Context) SetMemAsConst(addr, value uint64, bits uint32) (smt.VarRef, error) {
	a, err := c.memInitCheck(addr, bits)
	if err != nil {
		return smt.NoRef, err
	}
	v := c.formula.NewConst(value, bits)
	return v, c.MemWrite(a, v, bits)
}

// ZeroRegisters 未初始化的整寄存器置零，已有值的不动
func (c *Context) ZeroRegisters() {
	for _, name := range c.regs.Wholes() {
		if c.regs.Initialized(name) {
			continue
		}
		e, _ := c.regs.Entry(name)
		if err := c.RegWriteWeak(name, c.formula.NewConst(0, e.Width())); err != nil {
			log.Warnf("zero %s: %v", name, err)
		}
	}
}

// Solve returns a model over every declared variable, or smt.ErrUnsat.
func (c *Context) Solve(ctx context.Context, backend smt.Backend) (smt.Model, error) {
	if backend == nil {
		return nil, errors.New("Solve: no solver backend")
	}
	model, err := backend.Solve(ctx, c.formula)
	if err != nil {
		return nil, errors.Wrap(err, "Solve")
	}
	return model, nil
}

// SymbolValues solves and maps each symbol name to its value.
func (c *Context) SymbolValues(ctx context.Context, backend smt.Backend) (map[string]uint64, error) {
	model, err := c.Solve(ctx, backend)
	if err != nil {
		return nil, err
	}
	values := make(map[string]uint64, len(c.syms))
	for name, ref := range c.syms {
		values[name] = model[ref]
	}
	return values, nil
}
