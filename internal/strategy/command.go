package strategy

import (
	"strconv"
	"strings"
)

type CommandKind uint8

const (
	Invalid CommandKind = iota
	FollowTrue
	FollowFalse
	ContinueRun
	Step
	Debug
	Assertion
	Query
	SetContext
	Help
	Run
	Safety
	Breakpoint
	Exit
)

var commandChars = map[byte]CommandKind{
	'T': FollowTrue,
	'F': FollowFalse,
	'C': ContinueRun,
	'c': ContinueRun,
	'S': Step,
	's': Step,
	'D': Debug,
	'?': Assertion,
	'Q': Query,
	'E': SetContext,
	'H': Help,
	'R': Run,
	'X': Safety,
	'b': Breakpoint,
}

// Command 一条交互命令；Arg 是命令后的参数
type Command struct {
	Kind CommandKind
	Arg  string
}

// Chainable commands take a repeat count instead of an argument.
func (k CommandKind) Chainable() bool {
	switch k {
	case Invalid, SetContext, Assertion, Breakpoint:
		return false
	}
	return true
}

const helpText = `T/F          follow the true/false side of the pending branch
C, c         continue to the next breakpoint
S, s         step one instruction
R            run to the end, ignoring breakpoints
D            dump the path constraints
? OP A B     assert A OP B (OP is = < > <= >=; A, B are registers, 0x constants or [0xADDR])
Q            solve the path and print the symbol values
E KEY=VALUE  set a register or memory cell to a constant, or to SYM for a fresh symbol
b ADDR       add a breakpoint
X            toggle safe mode (assertions that make the path unsat are rejected)
H            this help
q, exit      stop
A chainable command takes a repeat count: "T 3". A word of T and F letters queues each: "TTF".`

// ParseCommand 解析一行输入，可链式的命令按次数展开
func ParseCommand(line string) []Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "q", "exit", "quit":
		return []Command{{Kind: Exit}}
	}

	if len(word) > 1 && strings.Trim(word, "TF") == "" {
		cmds := make([]Command, len(word))
		for i := range word {
			cmds[i] = Command{Kind: commandChars[word[i]]}
		}
		return cmds
	}

	kind, ok := commandChars[word[0]]
	if !ok {
		return []Command{{Kind: Invalid, Arg: line}}
	}
	if len(word) > 1 {
		// "E rax=1" 与 "Erax=1" 都接受
		rest = strings.TrimSpace(word[1:] + " " + rest)
	}
	if !kind.Chainable() {
		return []Command{{Kind: kind, Arg: rest}}
	}
	repeat := 1
	if rest != "" {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return []Command{{Kind: Invalid, Arg: line}}
		}
		repeat = n
	}
	cmds := make([]Command, repeat)
	for i := range cmds {
		cmds[i] = Command{Kind: kind}
	}
	return cmds
}
