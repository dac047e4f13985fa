// Package esil 指令语义表达式(逗号分隔的逆波兰)的词法与语法
package esil

import "fmt"

type Kind uint8

const (
	None Kind = iota

	// operands
	Register
	Identifier
	Entry // 本条指令内的中间结果
	Constant
	Address // 当前 IP
	Old
	Cur
	Lastsz

	// operators
	Cmp    // ==
	Lt     // <
	Gt     // >
	Le     // <=
	Ge     // >=
	Eq     // =
	WeakEq // :=
	If     // ?{
	Else   // }{
	EndIf  // }
	Lsl    // <<
	Lsr    // >>
	Asr    // >>>>
	Ror    // >>>
	Rol    // <<<
	And    // &
	Or     // |
	Xor    // ^
	Neg    // !
	Mul    // *
	Add    // +
	Sub    // -
	Div    // /
	Mod    // %
	Inc    // ++
	Dec    // --
	Peek   // [n]
	Poke   // =[n]
	Goto
	Break
	Nop
	Todo
)

var kindNames = map[Kind]string{
	None: "none", Register: "register", Identifier: "identifier", Entry: "entry",
	Constant: "constant", Address: "$$", Old: "old", Cur: "cur", Lastsz: "lastsz",
	Cmp: "==", Lt: "<", Gt: ">", Le: "<=", Ge: ">=", Eq: "=", WeakEq: ":=",
	If: "?{", Else: "}{", EndIf: "}", Lsl: "<<", Lsr: ">>", Asr: ">>>>", Ror: ">>>", Rol: "<<<",
	And: "&", Or: "|", Xor: "^", Neg: "!", Mul: "*", Add: "+", Sub: "-", Div: "/", Mod: "%",
	Inc: "++", Dec: "--", Peek: "[]", Poke: "=[]", Goto: "GOTO", Break: "BREAK", Nop: "NOP",
	Todo: "TODO",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) IsOperand() bool { return k >= Register && k <= Lastsz }
func (k Kind) IsOperator() bool { return k >= Cmp }

// Arity 运算符从栈上取的操作数个数
func (k Kind) Arity() int {
	switch k {
	case Cmp, Lt, Gt, Le, Ge, Eq, WeakEq, Lsl, Lsr, Asr, Ror, Rol, And, Or, Xor, Mul, Add, Sub, Div, Mod, Poke:
		return 2
	case Neg, Inc, Dec, Peek, If, Goto:
		return 1
	}
	return 0
}

type Token struct {
	Kind   Kind
	Name   string // Register, Identifier
	Value  uint64 // Constant 值, Entry 下标
	Size   uint32 // Peek/Poke 字节数
	Assign bool   // 复合赋值 +=, ++= ...
}

func (t Token) String() string {
	switch t.Kind {
	case Register, Identifier:
		return t.Name
	case Constant:
		return fmt.Sprintf("%#x", t.Value)
	case Entry:
		return fmt.Sprintf("entry%d", t.Value)
	case Peek:
		return fmt.Sprintf("[%d]", t.Size)
	case Poke:
		return fmt.Sprintf("=[%d]", t.Size)
	}
	if t.Assign {
		return t.Kind.String() + "="
	}
	return t.Kind.String()
}
