package strategy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"bscanner/internal/console"
	"bscanner/internal/smt"
	"bscanner/internal/state"
	"bscanner/internal/util"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var assertOps = map[string]smt.Op{
	"=":  smt.OpEq,
	"<":  smt.OpBvULt,
	">":  smt.OpBvUGt,
	"<=": smt.OpBvULe,
	">=": smt.OpBvUGe,
}

// Interactive 在断点、单步和每个分支处停下来读命令
type Interactive struct {
	in      console.LineReader
	out     *console.Printer
	backend smt.Backend
	ctx     context.Context

	queue       []Command
	singleStep  bool
	running     bool
	safe        bool
	breakpoints map[uint64]bool

	// Session 不为空时 E 命令同时写入会话
	Session *state.InitialState
}

func NewInteractive(in console.LineReader, out io.Writer, backend smt.Backend) *Interactive {
	return &Interactive{
		in:          in,
		out:         console.NewPrinter(out),
		backend:     backend,
		ctx:         context.Background(),
		breakpoints: make(map[uint64]bool),
	}
}

func (i *Interactive) WithContext(ctx context.Context) *Interactive {
	i.ctx = ctx
	return i
}

func (i *Interactive) AddBreakpoint(addr uint64) {
	i.breakpoints[addr] = true
	if i.Session != nil {
		i.Session.AddBreakpoint(addr)
	}
}

// SingleStep makes the explorer stop at every instruction boundary.
func (i *Interactive) SingleStep(on bool) { i.singleStep = on }

func (i *Interactive) Safe() bool { return i.safe }

// command 先取队列里的命令，队列空了再读一行
func (i *Interactive) command() (Command, bool) {
	for len(i.queue) == 0 {
		line, err := i.in.ReadLine()
		if err != nil {
			if err != io.EOF {
				log.Errorf("ReadLine: %v", err)
			}
			return Command{Kind: Exit}, false
		}
		i.queue = ParseCommand(line)
	}
	cmd := i.queue[0]
	i.queue = i.queue[1:]
	return cmd, true
}

func (i *Interactive) Next(ctx *state.Context) Control {
	if i.running || !(i.singleStep || i.breakpoints[ctx.IP()]) {
		return Continue
	}
	i.out.Info("Halted at %#x", ctx.IP())
	for {
		cmd, ok := i.command()
		if !ok {
			return Halt
		}
		switch cmd.Kind {
		case Step:
			i.singleStep = true
			return Continue
		case ContinueRun:
			i.singleStep = false
			return Continue
		case Run:
			i.singleStep, i.running = false, true
			return Continue
		case Exit:
			return Halt
		case FollowTrue, FollowFalse:
			i.out.Error("no branch pending at %#x", ctx.IP())
		default:
			i.handle(ctx, cmd)
		}
	}
}

func (*Interactive) NextJob(*state.Context) (*state.Context, Control, bool) { return nil, Halt, false }

func (i *Interactive) RegisterBranch(ctx *state.Context, cond smt.VarRef) Control {
	if len(i.queue) == 0 {
		i.out.Info("Encountered branch at %#x", ctx.At())
	}
	for {
		cmd, ok := i.command()
		if !ok {
			return Halt
		}
		switch cmd.Kind {
		case FollowTrue:
			return follow(ctx, cond, true)
		case FollowFalse:
			return follow(ctx, cond, false)
		case Exit:
			return Halt
		case Step, ContinueRun, Run:
			i.out.Error("choose a direction first (T or F)")
		default:
			i.handle(ctx, cmd)
		}
	}
}

// handle 不推进执行的命令
func (i *Interactive) handle(ctx *state.Context, cmd Command) {
	var err error
	switch cmd.Kind {
	case Debug:
		i.out.Info("Constraints:")
		i.out.Raw(ctx.Formula().SMTLib2())
	case Assertion:
		err = i.assertion(ctx, cmd.Arg)
	case Query:
		err = i.query(ctx)
	case SetContext:
		err = i.setContext(ctx, cmd.Arg)
	case Breakpoint:
		addr, ok := util.ParseUint64(cmd.Arg)
		if !ok {
			err = errors.Errorf("bad breakpoint %q", cmd.Arg)
			break
		}
		i.AddBreakpoint(addr)
		i.out.Success("breakpoint at %#x", addr)
	case Safety:
		i.safe = !i.safe
		i.out.Info("safe mode %v", i.safe)
	case Help:
		i.out.Raw(helpText)
	default:
		i.out.Error("invalid command %q, H for help", cmd.Arg)
	}
	if err != nil {
		i.out.Error("%v", err)
	}
}

func (i *Interactive) operand(ctx *state.Context, s string) (smt.VarRef, bool, error) {
	switch {
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		addr, ok := util.ParseUint64(s[1 : len(s)-1])
		if !ok {
			return smt.NoRef, false, errors.Errorf("bad address %q", s)
		}
		v, err := ctx.MemRead(ctx.DefineConst(addr, state.AddressBits), state.CellBits)
		return v, false, err
	case strings.HasPrefix(s, "0x"):
		v, ok := util.ParseUint64(s)
		if !ok {
			return smt.NoRef, false, errors.Errorf("bad constant %q", s)
		}
		return ctx.DefineConst(v, 64), true, nil
	}
	v, err := ctx.RegRead(s)
	return v, false, err
}

// assertion 形如 "<op> <a> <b>"；参数为空时另读一行
func (i *Interactive) assertion(ctx *state.Context, arg string) error {
	if arg == "" {
		i.out.Info("(operation) (register|[0xADDR]) (register|0xCONST)")
		i.out.Info("Valid operations: = < > <= >=")
		line, err := i.in.ReadLine()
		if err != nil {
			return errors.Wrap(err, "ReadLine")
		}
		arg = line
	}
	fields := strings.Fields(arg)
	if len(fields) != 3 {
		return errors.Errorf("want 3 fields, got %q", arg)
	}
	op, ok := assertOps[fields[0]]
	if !ok {
		return errors.Errorf("invalid operation %q", fields[0])
	}
	a, aConst, err := i.operand(ctx, fields[1])
	if err != nil {
		return err
	}
	b, bConst, err := i.operand(ctx, fields[2])
	if err != nil {
		return err
	}
	a, b = coerce(ctx, a, aConst, b, bConst)
	if i.backend == nil {
		ctx.Assert(op, a, b)
		i.out.Info("assertion added, no solver to check it")
		return nil
	}

	probe := ctx.Clone()
	probe.Assert(op, a, b)
	values, err := probe.SymbolValues(i.ctx, i.backend)
	if err != nil && errors.Cause(err) != smt.ErrUnsat {
		return err
	}
	if err != nil && i.safe {
		i.out.Error("assertion makes the path unsat, not added")
		return nil
	}
	ctx.Assert(op, a, b)
	if err != nil {
		i.out.Error("path is unsat")
		return nil
	}
	i.printValues(values)
	return nil
}

// coerce 常量跟随另一侧的宽度，否则窄的一侧零扩展
func coerce(ctx *state.Context, a smt.VarRef, aConst bool, b smt.VarRef, bConst bool) (smt.VarRef, smt.VarRef) {
	wa, wb := ctx.Width(a), ctx.Width(b)
	switch {
	case wa == wb:
	case bConst:
		b = ctx.Resize(b, wa)
	case aConst:
		a = ctx.Resize(a, wb)
	case wa < wb:
		a = ctx.ZeroExtend(wb-wa, a)
	default:
		b = ctx.ZeroExtend(wa-wb, b)
	}
	return a, b
}

func (i *Interactive) query(ctx *state.Context) error {
	values, err := ctx.SymbolValues(i.ctx, i.backend)
	if err != nil {
		return err
	}
	i.printValues(values)
	log.Debugf("model: %s", spew.Sdump(values))
	return nil
}

func (i *Interactive) printValues(values map[string]uint64) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	i.out.Success("Results:")
	for _, name := range names {
		i.out.Success("%s = %#x", name, values[name])
	}
}

// setContext 形如 key=value，value 为 SYM 时引入新的符号
func (i *Interactive) setContext(ctx *state.Context, arg string) error {
	k, v, ok := strings.Cut(arg, "=")
	if !ok {
		return errors.Errorf("want KEY=VALUE, got %q", arg)
	}
	key, value := state.Key(strings.TrimSpace(k)), strings.TrimSpace(v)
	symbolic := strings.EqualFold(value, "SYM")
	var concrete uint64
	if !symbolic {
		if concrete, ok = util.ParseUint64(value); !ok {
			return errors.Errorf("bad value %q", value)
		}
	}

	if key.IsMemory() {
		addr, err := key.Address()
		if err != nil {
			return err
		}
		data := ctx.DefineConst(concrete, state.CellBits)
		if symbolic {
			data = ctx.NewSymbol(fmt.Sprintf("mem_%x", addr), state.CellBits)
		}
		if err = ctx.MemWrite(ctx.DefineConst(addr, state.AddressBits), data, state.CellBits); err != nil {
			return err
		}
	} else {
		e, err := ctx.Registers().Entry(string(key))
		if err != nil {
			return err
		}
		data := ctx.DefineConst(concrete, e.Width())
		if symbolic {
			data = ctx.NewSymbol(string(key), e.Width())
		}
		if err = ctx.RegWriteWeak(string(key), data); err != nil {
			return err
		}
	}

	if i.Session != nil {
		if symbolic {
			i.Session.SetSymbolic(key)
		} else {
			i.Session.SetConst(key, concrete)
		}
	}
	i.out.Success("%s = %s", key, value)
	return nil
}

// Breakpoints returns the breakpoint addresses, sorted.
func (i *Interactive) Breakpoints() []uint64 {
	addrs := make([]uint64, 0, len(i.breakpoints))
	for a := range i.breakpoints {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(x, y int) bool { return addrs[x] < addrs[y] })
	return addrs
}
