package esil

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrSyntax = errors.New("esil syntax error")

var operators = map[string]Token{
	"==":    {Kind: Cmp},
	"<":     {Kind: Lt},
	">":     {Kind: Gt},
	"<=":    {Kind: Le},
	">=":    {Kind: Ge},
	"=":     {Kind: Eq},
	":=":    {Kind: WeakEq},
	"?{":    {Kind: If},
	"}{":    {Kind: Else},
	"}":     {Kind: EndIf},
	"<<":    {Kind: Lsl},
	">>":    {Kind: Lsr},
	">>>>":  {Kind: Asr},
	">>>":   {Kind: Ror},
	"<<<":   {Kind: Rol},
	"&":     {Kind: And},
	"|":     {Kind: Or},
	"^":     {Kind: Xor},
	"!":     {Kind: Neg},
	"*":     {Kind: Mul},
	"+":     {Kind: Add},
	"-":     {Kind: Sub},
	"/":     {Kind: Div},
	"%":     {Kind: Mod},
	"++":    {Kind: Inc},
	"--":    {Kind: Dec},
	"GOTO":  {Kind: Goto},
	"BREAK": {Kind: Break},
	"NOP":   {Kind: Nop},
	"TODO":  {Kind: Todo},
	"$$":    {Kind: Address},
	"+=":    {Kind: Add, Assign: true},
	"-=":    {Kind: Sub, Assign: true},
	"*=":    {Kind: Mul, Assign: true},
	"/=":    {Kind: Div, Assign: true},
	"%=":    {Kind: Mod, Assign: true},
	"&=":    {Kind: And, Assign: true},
	"|=":    {Kind: Or, Assign: true},
	"^=":    {Kind: Xor, Assign: true},
	"<<=":   {Kind: Lsl, Assign: true},
	">>=":   {Kind: Lsr, Assign: true},
	"++=":   {Kind: Inc, Assign: true},
	"--=":   {Kind: Dec, Assign: true},
	"!=":    {Kind: Neg, Assign: true},
}

func constant(v uint64) Token { return Token{Kind: Constant, Value: v} }

func lowMask(bits uint64) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// flag 展开内部标志变量，基于 old/cur/lastsz
func flag(word string) ([]Token, error) {
	switch {
	case word == "$z":
		return []Token{{Kind: Cur}, {Kind: Neg}}, nil
	case word == "$s":
		return []Token{constant(1), constant(1), {Kind: Lastsz}, {Kind: Sub}, {Kind: Cur}, {Kind: Lsr}, {Kind: And}}, nil
	case strings.HasPrefix(word, "$c"), strings.HasPrefix(word, "$b"):
		bit, err := strconv.ParseUint(word[2:], 10, 8)
		if err != nil || bit > 64 {
			return nil, errors.Wrapf(ErrSyntax, "flag %q", word)
		}
		if word[1] == 'c' {
			// carry out of bit n: (cur & m) < (old & m), m = bits 0..n
			m := constant(lowMask(bit + 1))
			return []Token{m, {Kind: Old}, {Kind: And}, m, {Kind: Cur}, {Kind: And}, {Kind: Lt}}, nil
		}
		// borrow from bit n: (old & m) < (cur & m), m = bits 0..n-1
		m := constant(lowMask(bit))
		return []Token{m, {Kind: Cur}, {Kind: And}, m, {Kind: Old}, {Kind: And}, {Kind: Lt}}, nil
	}
	return nil, errors.Wrapf(ErrSyntax, "unsupported flag %q", word)
}

func memSize(word string) (uint32, error) {
	if word == "" {
		return 8, nil
	}
	n, err := strconv.ParseUint(word, 10, 8)
	if err != nil {
		return 0, err
	}
	switch n {
	case 1, 2, 4, 8:
		return uint32(n), nil
	}
	return 0, errors.Errorf("access size %d", n)
}

func number(word string) (uint64, bool) {
	neg := false
	if strings.HasPrefix(word, "-") && len(word) > 1 {
		neg, word = true, word[1:]
	}
	var v uint64
	var err error
	if strings.HasPrefix(word, "0x") || strings.HasPrefix(word, "0X") {
		v, err = strconv.ParseUint(word[2:], 16, 64)
	} else if word[0] >= '0' && word[0] <= '9' {
		v, err = strconv.ParseUint(word, 10, 64)
	} else {
		return 0, false
	}
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func identifier(word string) bool {
	for i, r := range word {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return word != ""
}

// Tokenize splits an expression into tokens, expanding flag expressions.
func Tokenize(expr string) ([]Token, error) {
	var tokens []Token
	for _, word := range strings.Split(expr, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if t, ok := operators[word]; ok {
			tokens = append(tokens, t)
			continue
		}
		switch {
		case strings.HasPrefix(word, "$"):
			expanded, err := flag(word)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, expanded...)
		case strings.HasPrefix(word, "=[") && strings.HasSuffix(word, "]"):
			n, err := memSize(word[2 : len(word)-1])
			if err != nil {
				return nil, errors.Wrapf(ErrSyntax, "%q: %v", word, err)
			}
			tokens = append(tokens, Token{Kind: Poke, Size: n})
		case strings.HasPrefix(word, "[") && strings.HasSuffix(word, "]"):
			n, err := memSize(word[1 : len(word)-1])
			if err != nil {
				return nil, errors.Wrapf(ErrSyntax, "%q: %v", word, err)
			}
			tokens = append(tokens, Token{Kind: Peek, Size: n})
		default:
			if v, ok := number(word); ok {
				tokens = append(tokens, constant(v))
			} else if identifier(word) {
				tokens = append(tokens, Token{Kind: Identifier, Name: word})
			} else {
				return nil, errors.Wrapf(ErrSyntax, "unknown word %q", word)
			}
		}
	}
	return tokens, nil
}
