package smt

type Op uint8

const (
	OpVar Op = iota
	OpConst
	OpTrue
	OpFalse
	OpConstArray

	// core
	OpEq
	OpDistinct
	OpNot
	OpAnd
	OpOr
	OpIte

	// bit-vector
	OpBvAdd
	OpBvSub
	OpBvMul
	OpBvUDiv
	OpBvURem
	OpBvAnd
	OpBvOr
	OpBvXor
	OpBvNot
	OpBvNeg
	OpBvShl
	OpBvLShr
	OpBvAShr
	OpBvULt
	OpBvUGt
	OpBvULe
	OpBvUGe
	OpBvSLt
	OpBvSGt
	OpConcat
	OpExtract
	OpZeroExtend
	OpSignExtend
	OpRotateLeft
	OpRotateRight

	// array
	OpSelect
	OpStore
)

var opNames = map[Op]string{
	OpEq:          "=",
	OpDistinct:    "distinct",
	OpNot:         "not",
	OpAnd:         "and",
	OpOr:          "or",
	OpIte:         "ite",
	OpBvAdd:       "bvadd",
	OpBvSub:       "bvsub",
	OpBvMul:       "bvmul",
	OpBvUDiv:      "bvudiv",
	OpBvURem:      "bvurem",
	OpBvAnd:       "bvand",
	OpBvOr:        "bvor",
	OpBvXor:       "bvxor",
	OpBvNot:       "bvnot",
	OpBvNeg:       "bvneg",
	OpBvShl:       "bvshl",
	OpBvLShr:      "bvlshr",
	OpBvAShr:      "bvashr",
	OpBvULt:       "bvult",
	OpBvUGt:       "bvugt",
	OpBvULe:       "bvule",
	OpBvUGe:       "bvuge",
	OpBvSLt:       "bvslt",
	OpBvSGt:       "bvsgt",
	OpConcat:      "concat",
	OpExtract:     "extract",
	OpZeroExtend:  "zero_extend",
	OpSignExtend:  "sign_extend",
	OpRotateLeft:  "rotate_left",
	OpRotateRight: "rotate_right",
	OpSelect:      "select",
	OpStore:       "store",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	switch op {
	case OpVar:
		return "var"
	case OpConst:
		return "const"
	case OpTrue:
		return "true"
	case OpFalse:
		return "false"
	case OpConstArray:
		return "const-array"
	}
	return "unknown"
}

// Indexed ops carry parameters in the node: (_ extract hi lo), (_ zero_extend n) ...
func (op Op) Indexed() bool {
	switch op {
	case OpExtract, OpZeroExtend, OpSignExtend, OpRotateLeft, OpRotateRight:
		return true
	}
	return false
}

func (op Op) predicate() bool {
	switch op {
	case OpEq, OpDistinct, OpNot, OpAnd, OpOr,
		OpBvULt, OpBvUGt, OpBvULe, OpBvUGe, OpBvSLt, OpBvSGt:
		return true
	}
	return false
}

func (op Op) binaryBv() bool {
	switch op {
	case OpBvAdd, OpBvSub, OpBvMul, OpBvUDiv, OpBvURem, OpBvAnd, OpBvOr, OpBvXor,
		OpBvShl, OpBvLShr, OpBvAShr:
		return true
	}
	return false
}

func (op Op) compareBv() bool {
	switch op {
	case OpBvULt, OpBvUGt, OpBvULe, OpBvUGe, OpBvSLt, OpBvSGt:
		return true
	}
	return false
}
