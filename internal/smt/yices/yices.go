// Package yices 进程内的 yices2 求解后端
package yices

import (
	"context"
	"fmt"

	"bscanner/internal/smt"

	yices2 "github.com/ianamason/yices2_go_bindings/yices_api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Solver translates a formula into yices terms. yices2.Init must have been called.
type Solver struct{}

func NewSolver() *Solver {
	return &Solver{}
}

type translator struct {
	f      *smt.Formula
	terms  map[smt.VarRef]yices2.TermT
	arrays []smt.VarRef // 常量数组
	index  []yices2.TermT
	extra  []yices2.TermT
}

func bvconst(value uint64, width uint32) yices2.TermT {
	return yices2.BvconstInt64(width, int64(value))
}

func (t *translator) term(ref smt.VarRef) (yices2.TermT, error) {
	n := t.f.Node(ref)
	args := make([]yices2.TermT, len(n.Operands))
	for i, o := range n.Operands {
		args[i] = t.terms[o]
	}
	w := n.Sort.Width

	switch n.Op {
	case smt.OpVar:
		var typ yices2.TypeT
		switch n.Sort.Kind {
		case smt.BoolSort:
			typ = yices2.BoolType()
		case smt.BitVecSort:
			typ = yices2.BvType(w)
		default:
			typ = yices2.FunctionType1(yices2.BvType(n.Sort.Index), yices2.BvType(w))
		}
		v := yices2.NewUninterpretedTerm(typ)
		yices2.SetTermName(v, n.Name)
		return v, nil
	case smt.OpConst:
		return bvconst(n.Value, w), nil
	case smt.OpTrue:
		return yices2.True(), nil
	case smt.OpFalse:
		return yices2.False(), nil
	case smt.OpConstArray:
		// 无 lambda：用未解释函数表示，并在所有下标处约束取值
		t.arrays = append(t.arrays, ref)
		return yices2.NewUninterpretedTerm(yices2.FunctionType1(yices2.BvType(n.Sort.Index), yices2.BvType(w))), nil
	case smt.OpEq:
		r := yices2.Eq(args[0], args[1])
		for i := 2; i < len(args); i++ {
			r = yices2.And2(r, yices2.Eq(args[0], args[i]))
		}
		return r, nil
	case smt.OpDistinct:
		r := yices2.True()
		for i := range args {
			for j := i + 1; j < len(args); j++ {
				r = yices2.And2(r, yices2.Neq(args[i], args[j]))
			}
		}
		return r, nil
	case smt.OpNot:
		return yices2.Not(args[0]), nil
	case smt.OpAnd:
		r := args[0]
		for _, a := range args[1:] {
			r = yices2.And2(r, a)
		}
		return r, nil
	case smt.OpOr:
		r := args[0]
		for _, a := range args[1:] {
			r = yices2.Or2(r, a)
		}
		return r, nil
	case smt.OpIte:
		return yices2.Ite(args[0], args[1], args[2]), nil
	case smt.OpBvAdd:
		return yices2.Bvadd(args[0], args[1]), nil
	case smt.OpBvSub:
		return yices2.Bvsub(args[0], args[1]), nil
	case smt.OpBvMul:
		return yices2.Bvmul(args[0], args[1]), nil
	case smt.OpBvUDiv:
		return yices2.Bvdiv(args[0], args[1]), nil
	case smt.OpBvURem:
		return yices2.Bvrem(args[0], args[1]), nil
	case smt.OpBvAnd:
		return yices2.Bvand2(args[0], args[1]), nil
	case smt.OpBvOr:
		return yices2.Bvor2(args[0], args[1]), nil
	case smt.OpBvXor:
		return yices2.Bvxor2(args[0], args[1]), nil
	case smt.OpBvNot:
		return yices2.Bvnot(args[0]), nil
	case smt.OpBvNeg:
		return yices2.Bvsub(bvconst(0, w), args[0]), nil
	case smt.OpBvShl:
		return yices2.Bvshl(args[0], args[1]), nil
	case smt.OpBvLShr:
		return yices2.Bvlshr(args[0], args[1]), nil
	case smt.OpBvAShr:
		return yices2.Bvashr(args[0], args[1]), nil
	case smt.OpBvULt:
		return yices2.BvltAtom(args[0], args[1]), nil
	case smt.OpBvUGt:
		return yices2.BvgtAtom(args[0], args[1]), nil
	case smt.OpBvULe:
		return yices2.BvleAtom(args[0], args[1]), nil
	case smt.OpBvUGe:
		return yices2.BvgeAtom(args[0], args[1]), nil
	case smt.OpBvSLt:
		return yices2.BvsltAtom(args[0], args[1]), nil
	case smt.OpBvSGt:
		return yices2.BvsgtAtom(args[0], args[1]), nil
	case smt.OpConcat:
		return yices2.Bvconcat2(args[0], args[1]), nil
	case smt.OpExtract:
		return yices2.Bvextract(args[0], n.Params[1], n.Params[0]), nil
	case smt.OpZeroExtend:
		return yices2.Bvconcat2(bvconst(0, n.Params[0]), args[0]), nil
	case smt.OpSignExtend:
		src := t.f.Width(n.Operands[0])
		sign := yices2.Bvextract(args[0], src-1, src-1)
		high := yices2.Ite(yices2.BveqAtom(sign, bvconst(1, 1)), bvconst(^uint64(0), n.Params[0]), bvconst(0, n.Params[0]))
		return yices2.Bvconcat2(high, args[0]), nil
	case smt.OpRotateLeft, smt.OpRotateRight:
		k := n.Params[0] % w
		if n.Op == smt.OpRotateRight {
			k = (w - k) % w
		}
		if k == 0 {
			return args[0], nil
		}
		return yices2.Bvconcat2(yices2.Bvextract(args[0], 0, w-k-1), yices2.Bvextract(args[0], w-k, w-1)), nil
	case smt.OpSelect:
		t.index = append(t.index, args[1])
		return yices2.Application1(args[0], args[1]), nil
	case smt.OpStore:
		t.index = append(t.index, args[1])
		return yices2.Update1(args[0], args[1], args[2]), nil
	}
	return yices2.NullTerm, errors.Errorf("yices: unsupported operation %s", n.Op)
}

// Solve 对公式中所有可达节点建项，断言约束后求模型
func (s *Solver) Solve(ctx context.Context, f *smt.Formula) (smt.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &translator{f: f, terms: make(map[smt.VarRef]yices2.TermT)}

	for i := 0; i < f.Len(); i++ {
		term, err := t.term(smt.VarRef(i))
		if err != nil {
			return nil, err
		}
		if term == yices2.NullTerm {
			return nil, errors.Errorf("yices: node %d: %s", i, yices2.ErrorString())
		}
		t.terms[smt.VarRef(i)] = term
	}
	for _, ref := range t.arrays {
		n := f.Node(ref)
		for _, idx := range t.index {
			t.extra = append(t.extra, yices2.Eq(yices2.Application1(t.terms[ref], idx), bvconst(n.Value, n.Sort.Width)))
		}
	}

	var assertions []yices2.TermT
	for _, ref := range f.Constraints() {
		assertions = append(assertions, t.terms[ref])
	}
	assertions = append(assertions, t.extra...)

	var yctx yices2.ContextT
	yices2.InitContext(yices2.ConfigT{}, &yctx)
	defer yices2.CloseContext(&yctx)
	if len(assertions) > 0 {
		if errorcode := yices2.AssertFormulas(yctx, assertions); errorcode < 0 {
			return nil, fmt.Errorf("%s", yices2.ErrorString())
		}
	}
	status := yices2.CheckContext(yctx, yices2.ParamT{})
	switch status {
	case yices2.StatusSat:
	case yices2.StatusUnsat:
		return nil, smt.ErrUnsat
	default:
		log.Debugf("yices status %v", status)
		return nil, smt.ErrUnknown
	}

	ymodel := yices2.GetModel(yctx, 1)
	if ymodel == nil {
		return nil, errors.Errorf("get model: %s", yices2.ErrorString())
	}
	defer yices2.CloseModel(ymodel)

	model := make(smt.Model)
	for _, ref := range f.Vars() {
		sort := f.SortOf(ref)
		if !sort.IsBitVec() {
			continue
		}
		model[ref] = BvValue(ymodel, t.terms[ref], sort.Width)
	}
	return model, nil
}

// BvValue 读取模型中位向量的值，低位在前
func BvValue(model *yices2.ModelT, term yices2.TermT, width uint32) uint64 {
	bits := make([]int32, width)
	if errorcode := yices2.GetBvValue(*model, term, bits); errorcode != 0 {
		log.Warnf("GetBvValue: %s", yices2.ErrorString())
		return 0
	}
	var v uint64
	for i, b := range bits {
		if b == 1 {
			v |= 1 << uint(i)
		}
	}
	return v
}
