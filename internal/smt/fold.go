package smt

import "bscanner/internal/bv"

func (f *Formula) boolConst(ref VarRef) (value, ok bool) {
	switch f.nodes[ref].Op {
	case OpTrue:
		return true, true
	case OpFalse:
		return false, true
	}
	return false, false
}

func signed(v uint64, w uint32) int64 {
	if w < 64 && v>>(w-1)&1 == 1 {
		return int64(v | ^mask(w))
	}
	return int64(v)
}

// fold 常量折叠；折叠结果与求解器语义一致
func (f *Formula) fold(op Op, params [2]uint32, operands []VarRef, sort Sort) (VarRef, bool) {
	switch op {
	case OpIte:
		if c, ok := f.boolConst(operands[0]); ok {
			if c {
				return operands[1], true
			}
			return operands[2], true
		}
		if operands[1] == operands[2] {
			return operands[1], true
		}
		return NoRef, false
	case OpNot:
		if c, ok := f.boolConst(operands[0]); ok {
			return f.NewBool(!c), true
		}
		return NoRef, false
	case OpAnd, OpOr:
		result := op == OpAnd
		for _, o := range operands {
			c, ok := f.boolConst(o)
			if !ok {
				return NoRef, false
			}
			if op == OpAnd {
				result = result && c
			} else {
				result = result || c
			}
		}
		return f.NewBool(result), true
	case OpSelect:
		return f.foldSelect(operands[0], operands[1])
	case OpEq, OpDistinct:
		return f.foldEq(op, operands)
	}

	values := make([]uint64, len(operands))
	for i, o := range operands {
		v, ok := f.ConstValue(o)
		if !ok {
			return NoRef, false
		}
		values[i] = v
	}
	w := f.nodes[operands[0]].Sort.Width

	switch {
	case op.binaryBv():
		if !bv.ValidWidth(uint(w)) {
			return NoRef, false
		}
		a, b := bv.MustNew(values[0], uint(w)), bv.MustNew(values[1], uint(w))
		var r bv.BVV
		switch op {
		case OpBvAdd:
			r = a.Add(b)
		case OpBvSub:
			r = a.Sub(b)
		case OpBvMul:
			r = a.Mul(b)
		case OpBvUDiv:
			r = a.Div(b)
		case OpBvURem:
			r = a.Rem(b)
		case OpBvAnd:
			r = a.And(b)
		case OpBvOr:
			r = a.Or(b)
		case OpBvXor:
			r = a.Xor(b)
		case OpBvShl:
			r = a.Shl(b)
		case OpBvLShr:
			r = a.Shr(b)
		case OpBvAShr:
			s := values[1]
			if s >= uint64(w) {
				s = uint64(w) - 1
			}
			return f.NewConst(uint64(signed(values[0], w)>>s), w), true
		}
		return f.NewConst(r.Value(), w), true
	case op == OpBvNot:
		return f.NewConst(^values[0], w), true
	case op == OpBvNeg:
		return f.NewConst(-values[0], w), true
	case op.compareBv():
		a, b := values[0], values[1]
		sa, sb := signed(a, w), signed(b, w)
		var r bool
		switch op {
		case OpBvULt:
			r = a < b
		case OpBvUGt:
			r = a > b
		case OpBvULe:
			r = a <= b
		case OpBvUGe:
			r = a >= b
		case OpBvSLt:
			r = sa < sb
		case OpBvSGt:
			r = sa > sb
		}
		return f.NewBool(r), true
	case op == OpConcat:
		lw := f.nodes[operands[1]].Sort.Width
		return f.NewConst(values[0]<<lw|values[1], sort.Width), true
	case op == OpExtract:
		return f.NewConst(values[0]>>params[1], sort.Width), true
	case op == OpZeroExtend:
		return f.NewConst(values[0], sort.Width), true
	case op == OpSignExtend:
		return f.NewConst(uint64(signed(values[0], w)), sort.Width), true
	case op == OpRotateLeft, op == OpRotateRight:
		n := params[0] % w
		if op == OpRotateRight {
			n = (w - n) % w
		}
		v := values[0]
		return f.NewConst(v<<n|v>>((w-n)%w)&mask(n), w), true
	}
	return NoRef, false
}

func (f *Formula) foldEq(op Op, operands []VarRef) (VarRef, bool) {
	if len(operands) != 2 {
		return NoRef, false
	}
	a, b := operands[0], operands[1]
	equal, known := false, false
	if a == b {
		equal, known = true, true
	} else if x, ok := f.ConstValue(a); ok {
		if y, ok := f.ConstValue(b); ok {
			equal, known = x == y, true
		}
	} else if x, ok := f.boolConst(a); ok {
		if y, ok := f.boolConst(b); ok {
			equal, known = x == y, true
		}
	}
	if !known {
		return NoRef, false
	}
	if op == OpDistinct {
		equal = !equal
	}
	return f.NewBool(equal), true
}

// foldSelect 沿 store 链查找常量下标
func (f *Formula) foldSelect(array, index VarRef) (VarRef, bool) {
	idx, ok := f.ConstValue(index)
	if !ok {
		return NoRef, false
	}
	cur := array
	for {
		n := f.nodes[cur]
		switch n.Op {
		case OpConstArray:
			return f.NewConst(n.Value, n.Sort.Width), true
		case OpStore:
			at, ok := f.ConstValue(n.Operands[1])
			if !ok {
				return f.selectFrom(cur, array, index)
			}
			if at == idx {
				return n.Operands[2], true
			}
			cur = n.Operands[0]
		default:
			return f.selectFrom(cur, array, index)
		}
	}
}

// selectFrom skips the stores proven not to alias the index.
func (f *Formula) selectFrom(from, array, index VarRef) (VarRef, bool) {
	if from == array {
		return NoRef, false
	}
	return f.push(Node{
		Op:       OpSelect,
		Sort:     BitVec(f.nodes[from].Sort.Width),
		Operands: []VarRef{from, index},
	}), true
}
