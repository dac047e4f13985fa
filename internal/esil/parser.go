package esil

import (
	"github.com/pkg/errors"
)

var ErrStack = errors.New("esil operand stack underflow")

// Parser 逐个返回运算符；操作数留在内部栈上，由 FetchOperands 取出
type Parser struct {
	isRegister func(string) bool

	loaded  bool
	tokens  []Token
	pos     int
	stack   []Token
	pending *Token // 复合赋值的目标
}

// NewParser classifies identifiers with isRegister; nil leaves them as identifiers.
func NewParser(isRegister func(string) bool) *Parser {
	return &Parser{isRegister: isRegister}
}

func (p *Parser) reset() {
	p.loaded = false
	p.tokens = nil
	p.pos = 0
	p.stack = p.stack[:0]
	p.pending = nil
}

// Parse returns the next operator of expr. The expression is tokenized on the first call
// and the parser resets once it is exhausted, so a later call starts expr over.
func (p *Parser) Parse(expr string) (Token, bool, error) {
	if !p.loaded {
		tokens, err := Tokenize(expr)
		if err != nil {
			return Token{}, false, err
		}
		p.reset()
		p.tokens, p.loaded = tokens, true
	}
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		p.pos++
		if t.Kind == Identifier && p.isRegister != nil && p.isRegister(t.Name) {
			t.Kind = Register
		}
		if t.Kind.IsOperand() {
			p.stack = append(p.stack, t)
			continue
		}
		if t.Assign {
			if len(p.stack) == 0 {
				return Token{}, false, errors.Wrapf(ErrStack, "%s", t)
			}
			dst := p.stack[len(p.stack)-1]
			p.pending = &dst
			p.insert(Token{Kind: Eq})
			t.Assign = false
		}
		return t, true, nil
	}
	p.reset()
	return Token{}, false, nil
}

func (p *Parser) insert(t Token) {
	tokens := make([]Token, 0, len(p.tokens)+1)
	tokens = append(tokens, p.tokens[:p.pos]...)
	tokens = append(tokens, t)
	tokens = append(tokens, p.tokens[p.pos:]...)
	p.tokens = tokens
}

func (p *Parser) pop() (Token, error) {
	if len(p.stack) == 0 {
		return Token{}, ErrStack
	}
	t := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return t, nil
}

// FetchOperands pops the operands of an operator, top of stack first.
func (p *Parser) FetchOperands(t Token) (lhs, rhs Token, err error) {
	n := t.Kind.Arity()
	if n >= 1 {
		if lhs, err = p.pop(); err != nil {
			return Token{}, Token{}, errors.Wrapf(err, "%s", t)
		}
	}
	if n == 2 {
		if rhs, err = p.pop(); err != nil {
			return Token{}, Token{}, errors.Wrapf(err, "%s", t)
		}
	}
	return lhs, rhs, nil
}

// Push feeds a produced value back as if it had been read from the expression.
func (p *Parser) Push(t Token) {
	p.stack = append(p.stack, t)
	if p.pending != nil {
		p.stack = append(p.stack, *p.pending)
		p.pending = nil
	}
}

// SkipBlock 跳过条件块剩余的 token；停在配对的 } 之后，遇到同层 }{ 时停在其后并返回 true
func (p *Parser) SkipBlock() (atElse bool) {
	depth := 0
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		p.pos++
		switch t.Kind {
		case If:
			depth++
		case Else:
			if depth == 0 {
				return true
			}
		case EndIf:
			if depth == 0 {
				return false
			}
			depth--
		}
	}
	return false
}

// Clone copies the parser mid-expression.
func (p *Parser) Clone() *Parser {
	c := &Parser{
		isRegister: p.isRegister,
		loaded:     p.loaded,
		tokens:     append([]Token(nil), p.tokens...),
		pos:        p.pos,
		stack:      append([]Token(nil), p.stack...),
	}
	if p.pending != nil {
		dst := *p.pending
		c.pending = &dst
	}
	return c
}
