package smt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Model 每个符号变量的一个取值
type Model map[VarRef]uint64

var defineFun = regexp.MustCompile(
	`\(define-fun\s+(\|[^|]*\||[^\s()]+)\s+\(\)\s+(?:\(_\s+BitVec\s+\d+\)|Bool)\s+` +
		`(#x[0-9a-fA-F]+|#b[01]+|\(_\s+bv\d+\s+\d+\)|\d+|true|false)\s*\)`)

var bvLiteral = regexp.MustCompile(`\(_\s+bv(\d+)\s+\d+\)`)

// ParseLiteral decodes #x, #b, (_ bvN w), decimal and boolean literals.
func ParseLiteral(lit string) (uint64, error) {
	switch {
	case strings.HasPrefix(lit, "#x"):
		return strconv.ParseUint(lit[2:], 16, 64)
	case strings.HasPrefix(lit, "#b"):
		return strconv.ParseUint(lit[2:], 2, 64)
	case lit == "true":
		return 1, nil
	case lit == "false":
		return 0, nil
	}
	if m := bvLiteral.FindStringSubmatch(lit); m != nil {
		return strconv.ParseUint(m[1], 10, 64)
	}
	return strconv.ParseUint(lit, 10, 64)
}

// ParseModel 解析 (get-model) 的输出，返回 符号名 -> 值。数组等其他 sort 的定义被忽略
func ParseModel(text string) (map[string]uint64, error) {
	values := make(map[string]uint64)
	for _, m := range defineFun.FindAllStringSubmatch(text, -1) {
		v, err := ParseLiteral(m[2])
		if err != nil {
			return nil, errors.Wrapf(err, "literal %q", m[2])
		}
		values[strings.Trim(m[1], "|")] = v
	}
	return values, nil
}

// Bind maps named values back onto the variables of f.
func (f *Formula) Bind(values map[string]uint64) Model {
	model := make(Model, len(values))
	for name, v := range values {
		if ref, ok := f.VarByName(name); ok {
			model[ref] = v
		}
	}
	return model
}

// Named is the inverse of Bind.
func (f *Formula) Named(m Model) map[string]uint64 {
	values := make(map[string]uint64, len(m))
	for ref, v := range m {
		values[f.Name(ref)] = v
	}
	return values
}
