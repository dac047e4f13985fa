package opcode

// Operation x86-64 助记符，取 x86asm.Op.String() 的写法
type Operation string

func (op Operation) String() string {
	return string(op)
}

// Class 指令类别
type Class uint8

const (
	Data Class = iota
	Arith
	Logic
	Compare
	Shift
	Stack
	Branch
	Call
	Return
	Nop
)

var classNames = [...]string{
	Data: "data", Arith: "arith", Logic: "logic", Compare: "compare", Shift: "shift",
	Stack: "stack", Branch: "branch", Call: "call", Return: "return", Nop: "nop",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "unknown"
}

const (
	MOV   Operation = "MOV"
	MOVZX Operation = "MOVZX"
	LEA   Operation = "LEA"
	ADD   Operation = "ADD"
	SUB   Operation = "SUB"
	AND   Operation = "AND"
	OR    Operation = "OR"
	XOR   Operation = "XOR"
	NEG   Operation = "NEG"
	NOT   Operation = "NOT"
	CMP   Operation = "CMP"
	TEST  Operation = "TEST"
	INC   Operation = "INC"
	DEC   Operation = "DEC"
	SHL   Operation = "SHL"
	SHR   Operation = "SHR"
	SAR   Operation = "SAR"
	PUSH  Operation = "PUSH"
	POP   Operation = "POP"
	LEAVE Operation = "LEAVE"
	CALL  Operation = "CALL"
	RET   Operation = "RET"
	JMP   Operation = "JMP"
	JE    Operation = "JE"
	JNE   Operation = "JNE"
	JB    Operation = "JB"
	JAE   Operation = "JAE"
	JBE   Operation = "JBE"
	JA    Operation = "JA"
	JS    Operation = "JS"
	JNS   Operation = "JNS"
	NOP   Operation = "NOP"
)

type OPCodeInfo struct {
	OPCode    Operation
	Class     Class
	SetsFlags bool
	// Condition 条件跳转的 ESIL 条件表达式
	Condition string
}

var opCodeInfos = map[Operation]OPCodeInfo{
	MOV:   {Class: Data},
	MOVZX: {Class: Data},
	LEA:   {Class: Data},
	ADD:   {Class: Arith, SetsFlags: true},
	SUB:   {Class: Arith, SetsFlags: true},
	NEG:   {Class: Arith, SetsFlags: true},
	INC:   {Class: Arith, SetsFlags: true},
	DEC:   {Class: Arith, SetsFlags: true},
	AND:   {Class: Logic, SetsFlags: true},
	OR:    {Class: Logic, SetsFlags: true},
	XOR:   {Class: Logic, SetsFlags: true},
	NOT:   {Class: Logic},
	CMP:   {Class: Compare, SetsFlags: true},
	TEST:  {Class: Compare, SetsFlags: true},
	SHL:   {Class: Shift, SetsFlags: true},
	SHR:   {Class: Shift, SetsFlags: true},
	SAR:   {Class: Shift},
	PUSH:  {Class: Stack},
	POP:   {Class: Stack},
	LEAVE: {Class: Stack},
	CALL:  {Class: Call},
	RET:   {Class: Return},
	JMP:   {Class: Branch},
	JE:    {Class: Branch, Condition: "zf"},
	JNE:   {Class: Branch, Condition: "zf,!"},
	JB:    {Class: Branch, Condition: "cf"},
	JAE:   {Class: Branch, Condition: "cf,!"},
	JBE:   {Class: Branch, Condition: "zf,cf,|"},
	JA:    {Class: Branch, Condition: "zf,cf,|,!"},
	JS:    {Class: Branch, Condition: "sf"},
	JNS:   {Class: Branch, Condition: "sf,!"},
	NOP:   {Class: Nop},
}

func init() {
	for k, info := range opCodeInfos {
		info.OPCode = k
		opCodeInfos[k] = info
	}
}

// GetOPCodeInfo reports whether the lifter supports the mnemonic.
func GetOPCodeInfo(key Operation) (OPCodeInfo, bool) {
	info, ok := opCodeInfos[key]
	return info, ok
}

// IsConditional 条件跳转
func (info OPCodeInfo) IsConditional() bool {
	return info.Condition != ""
}

func Supported() []Operation {
	ops := make([]Operation, 0, len(opCodeInfos))
	for op := range opCodeInfos {
		ops = append(ops, op)
	}
	return ops
}
