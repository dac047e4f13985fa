package engine

import (
	"fmt"

	"bscanner/internal/esil"
)

type Kind uint8

const (
	Undefined Kind = iota
	IncorrectOperand
	Unsupported
	SymbolicAddress
	SymbolicJump
	Explorer
)

var kindNames = [...]string{"undefined", "incorrect operand", "unsupported", "symbolic address", "symbolic jump", "explorer"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error 执行失败的位置与原因
type Error struct {
	Kind    Kind
	Token   esil.Token
	Address uint64
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %#x (%s)", e.Kind, e.Address, e.Token)
	}
	return fmt.Sprintf("%s at %#x (%s): %v", e.Kind, e.Address, e.Token, e.Err)
}

func (e *Error) Cause() error { return e.Err }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an engine error, or false for any other error.
func KindOf(err error) (Kind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}
