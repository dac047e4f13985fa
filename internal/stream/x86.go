package stream

import (
	"fmt"
	"strings"

	"bscanner/internal/opcode"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

var errUnsupported = errors.New("unsupported instruction form")

// X86 按需解码的 x86-64 代码镜像
type X86 struct {
	base  uint64
	code  []byte
	cache map[uint64]Instruction
}

func NewX86(base uint64, code []byte) *X86 {
	return &X86{base: base, code: code, cache: make(map[uint64]Instruction)}
}

func (x *X86) At(addr uint64) (Instruction, bool) {
	if addr < x.base || addr-x.base >= uint64(len(x.code)) {
		return Instruction{}, false
	}
	if ins, ok := x.cache[addr]; ok {
		return ins, true
	}
	ins := decodeAt(x.code[addr-x.base:], addr)
	x.cache[addr] = ins
	return ins, true
}

// LiftX86 linearly sweeps code from base.
func LiftX86(base uint64, code []byte) []Instruction {
	var instructions []Instruction
	for off := uint64(0); off < uint64(len(code)); {
		ins := decodeAt(code[off:], base+off)
		instructions = append(instructions, ins)
		off += ins.Size
	}
	return instructions
}

func decodeAt(code []byte, addr uint64) Instruction {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return Instruction{Address: addr, Size: 1, Bytes: code[:1], Mnemonic: "(bad)", ESIL: "TODO"}
	}
	ins := Instruction{
		Address:  addr,
		Size:     uint64(inst.Len),
		Bytes:    code[:inst.Len],
		Mnemonic: x86asm.IntelSyntax(inst, addr, nil),
	}
	if ins.ESIL, err = Lift(inst, addr); err != nil {
		log.Debugf("lift %#x %s: %v", addr, ins.Mnemonic, err)
		ins.ESIL = "TODO"
	}
	return ins
}

func regName(r x86asm.Reg) string {
	switch r {
	case x86asm.SPB:
		return "spl"
	case x86asm.BPB:
		return "bpl"
	case x86asm.SIB:
		return "sil"
	case x86asm.DIB:
		return "dil"
	}
	name := strings.ToLower(r.String())
	if r >= x86asm.R8L && r <= x86asm.R15L {
		// r8l -> r8d
		name = name[:len(name)-1] + "d"
	}
	return name
}

func regWidth(r x86asm.Reg) uint32 {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 8
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 16
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 32
	}
	return 64
}

type lifter struct {
	inst x86asm.Inst
	addr uint64
}

func (l *lifter) memSize() (uint32, error) {
	switch n := l.inst.MemBytes; n {
	case 1, 2, 4, 8:
		return uint32(n), nil
	}
	return 0, errors.Wrapf(errUnsupported, "%d-byte memory operand", l.inst.MemBytes)
}

// address 内存操作数的地址表达式；rip 读到的已经是下一条指令地址
func (l *lifter) address(m x86asm.Mem) (string, error) {
	if m.Segment != 0 {
		return "", errors.Wrapf(errUnsupported, "segment %s", m.Segment)
	}
	var terms []string
	if m.Base != 0 {
		terms = append(terms, regName(m.Base))
	}
	if m.Index != 0 {
		if m.Scale > 1 {
			terms = append(terms, fmt.Sprintf("%d,%s,*", m.Scale, regName(m.Index)))
		} else {
			terms = append(terms, regName(m.Index))
		}
	}
	if len(terms) == 0 {
		return fmt.Sprintf("%#x", uint64(m.Disp)), nil
	}
	expr := terms[0]
	for _, t := range terms[1:] {
		expr = t + "," + expr + ",+"
	}
	switch {
	case m.Disp > 0:
		expr = fmt.Sprintf("%#x,%s,+", m.Disp, expr)
	case m.Disp < 0:
		expr = fmt.Sprintf("%#x,%s,-", -m.Disp, expr)
	}
	return expr, nil
}

func (l *lifter) value(arg x86asm.Arg) (string, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		return regName(a), nil
	case x86asm.Imm:
		return fmt.Sprintf("%#x", uint64(a)), nil
	case x86asm.Rel:
		return fmt.Sprintf("%#x", l.addr+uint64(l.inst.Len)+uint64(int64(a))), nil
	case x86asm.Mem:
		addr, err := l.address(a)
		if err != nil {
			return "", err
		}
		n, err := l.memSize()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s,[%d]", addr, n), nil
	}
	return "", errors.Wrapf(errUnsupported, "operand %v", arg)
}

func (l *lifter) width(arg x86asm.Arg) uint32 {
	switch a := arg.(type) {
	case x86asm.Reg:
		return regWidth(a)
	case x86asm.Mem:
		return uint32(l.inst.MemBytes) * 8
	}
	return 64
}

// assign 写回目的操作数：寄存器用 op=，内存读改写
func (l *lifter) assign(dst x86asm.Arg, src, op string) (string, error) {
	switch d := dst.(type) {
	case x86asm.Reg:
		if op == "" {
			return fmt.Sprintf("%s,%s,=", src, regName(d)), nil
		}
		return fmt.Sprintf("%s,%s,%s=", src, regName(d), op), nil
	case x86asm.Mem:
		addr, err := l.address(d)
		if err != nil {
			return "", err
		}
		n, err := l.memSize()
		if err != nil {
			return "", err
		}
		if op == "" {
			return fmt.Sprintf("%s,%s,=[%d]", src, addr, n), nil
		}
		return fmt.Sprintf("%s,%s,[%d],%s,%s,=[%d]", src, addr, n, op, addr, n), nil
	}
	return "", errors.Wrapf(errUnsupported, "destination %v", dst)
}

func zs() string { return ",$z,zf,:=,$s,sf,:=" }

// Lift translates one decoded instruction into ESIL.
func Lift(inst x86asm.Inst, addr uint64) (string, error) {
	info, ok := opcode.GetOPCodeInfo(opcode.Operation(inst.Op.String()))
	if !ok {
		return "", errors.Wrapf(errUnsupported, "%s", inst.Op)
	}
	if inst.AddrSize != 0 && inst.AddrSize != 64 {
		return "", errors.Wrapf(errUnsupported, "%d-bit addressing", inst.AddrSize)
	}
	l := &lifter{inst: inst, addr: addr}
	var args []x86asm.Arg
	for _, a := range inst.Args {
		if a != nil {
			args = append(args, a)
		}
	}
	operand := func(i int) (string, error) {
		if i >= len(args) {
			return "", errors.Wrapf(errUnsupported, "%s missing operand %d", inst.Op, i)
		}
		return l.value(args[i])
	}
	if len(args) == 0 && info.Class != opcode.Nop && info.Class != opcode.Return && info.OPCode != opcode.LEAVE {
		return "", errors.Wrapf(errUnsupported, "%s without operands", inst.Op)
	}
	isReg := false
	if len(args) > 0 {
		_, isReg = args[0].(x86asm.Reg)
	}

	switch info.OPCode {
	case opcode.NOP:
		return "", nil
	case opcode.MOV, opcode.MOVZX:
		src, err := operand(1)
		if err != nil {
			return "", err
		}
		return l.assign(args[0], src, "")
	case opcode.LEA:
		if len(args) < 2 {
			return "", errUnsupported
		}
		m, ok := args[1].(x86asm.Mem)
		if !ok {
			return "", errUnsupported
		}
		src, err := l.address(m)
		if err != nil {
			return "", err
		}
		return l.assign(args[0], src, "")
	case opcode.ADD, opcode.SUB, opcode.AND, opcode.OR, opcode.XOR, opcode.SHL, opcode.SHR:
		src, err := operand(1)
		if err != nil {
			return "", err
		}
		op := map[opcode.Operation]string{
			opcode.ADD: "+", opcode.SUB: "-", opcode.AND: "&", opcode.OR: "|", opcode.XOR: "^",
			opcode.SHL: "<<", opcode.SHR: ">>",
		}[info.OPCode]
		esil, err := l.assign(args[0], src, op)
		if err != nil || !isReg {
			return esil, err
		}
		w := l.width(args[0])
		switch info.OPCode {
		case opcode.ADD:
			esil += fmt.Sprintf(",$z,zf,:=,$c%d,cf,:=,$s,sf,:=", w-1)
		case opcode.SUB:
			esil += fmt.Sprintf(",$z,zf,:=,$b%d,cf,:=,$s,sf,:=", w)
		case opcode.AND, opcode.OR, opcode.XOR:
			esil += zs() + ",0,cf,:="
		default:
			esil += zs()
		}
		return esil, nil
	case opcode.SAR:
		src, err := operand(1)
		if err != nil {
			return "", err
		}
		dst, err := operand(0)
		if err != nil {
			return "", err
		}
		return l.assign(args[0], fmt.Sprintf("%s,%s,>>>>", src, dst), "")
	case opcode.CMP, opcode.TEST:
		a, err := operand(0)
		if err != nil {
			return "", err
		}
		b, err := operand(1)
		if err != nil {
			return "", err
		}
		if info.OPCode == opcode.TEST {
			return fmt.Sprintf("0,%s,%s,&,==%s,0,cf,:=", b, a, zs()), nil
		}
		return fmt.Sprintf("%s,%s,==,$z,zf,:=,$b%d,cf,:=,$s,sf,:=", b, a, l.width(args[0])), nil
	case opcode.INC, opcode.DEC:
		op := "++"
		if info.OPCode == opcode.DEC {
			op = "--"
		}
		if isReg {
			return fmt.Sprintf("%s,%s=%s", regName(args[0].(x86asm.Reg)), op, zs()), nil
		}
		v, err := operand(0)
		if err != nil {
			return "", err
		}
		return l.assign(args[0], v+","+op, "")
	case opcode.NEG:
		v, err := operand(0)
		if err != nil {
			return "", err
		}
		esil, err := l.assign(args[0], v+",0,-", "")
		if err != nil || !isReg {
			return esil, err
		}
		return esil + zs(), nil
	case opcode.NOT:
		v, err := operand(0)
		if err != nil {
			return "", err
		}
		return l.assign(args[0], v+",0xffffffffffffffff,^", "")
	case opcode.PUSH:
		v, err := operand(0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("8,rsp,-=,%s,rsp,=[8]", v), nil
	case opcode.POP:
		esil, err := l.assign(args[0], "rsp,[8]", "")
		if err != nil {
			return "", err
		}
		return esil + ",8,rsp,+=", nil
	case opcode.LEAVE:
		return "rbp,rsp,=,rsp,[8],rbp,=,8,rsp,+=", nil
	case opcode.CALL:
		t, err := operand(0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("rip,8,rsp,-=,rsp,=[8],%s,rip,=", t), nil
	case opcode.RET:
		return "rsp,[8],rip,=,8,rsp,+=", nil
	case opcode.JMP:
		t, err := operand(0)
		if err != nil {
			return "", err
		}
		return t + ",rip,=", nil
	}
	if info.IsConditional() {
		t, err := operand(0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s,?{,%s,rip,=,}", info.Condition, t), nil
	}
	return "", errors.Wrapf(errUnsupported, "%s", inst.Op)
}
