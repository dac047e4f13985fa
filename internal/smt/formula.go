// Package smt 公式图(arena)、SMT-LIB2 生成以及求解后端
package smt

import (
	"fmt"
	"strings"
)

// VarRef 公式图中节点的下标
type VarRef int32

const NoRef VarRef = -1

type Node struct {
	Op       Op
	Sort     Sort
	Operands []VarRef
	Params   [2]uint32
	Name     string // OpVar
	Value    uint64 // OpConst, OpConstArray 的元素值
}

// Formula 只追加的节点数组。Clone 之后双方共享已有节点，新节点互不可见
type Formula struct {
	nodes       []Node
	constraints []VarRef
	vars        []VarRef
	names       map[string]VarRef
}

func NewFormula() *Formula {
	return &Formula{names: make(map[string]VarRef)}
}

func must(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("smt: "+format, args...))
	}
}

func (f *Formula) Clone() *Formula {
	names := make(map[string]VarRef, len(f.names))
	for k, v := range f.names {
		names[k] = v
	}
	return &Formula{
		nodes:       f.nodes[:len(f.nodes):len(f.nodes)],
		constraints: f.constraints[:len(f.constraints):len(f.constraints)],
		vars:        f.vars[:len(f.vars):len(f.vars)],
		names:       names,
	}
}

func (f *Formula) Len() int { return len(f.nodes) }

func (f *Formula) Node(ref VarRef) Node {
	must(ref >= 0 && int(ref) < len(f.nodes), "unknown node %d", ref)
	return f.nodes[ref]
}

func (f *Formula) SortOf(ref VarRef) Sort { return f.Node(ref).Sort }

// Width 位向量宽度
func (f *Formula) Width(ref VarRef) uint32 {
	s := f.SortOf(ref)
	must(s.IsBitVec(), "node %d is %s, not a bit-vector", ref, s)
	return s.Width
}

// Vars returns the free variables in declaration order.
func (f *Formula) Vars() []VarRef { return f.vars }

func (f *Formula) Constraints() []VarRef { return f.constraints }

func (f *Formula) Name(ref VarRef) string { return f.Node(ref).Name }

func (f *Formula) VarByName(name string) (VarRef, bool) {
	ref, ok := f.names[name]
	return ref, ok
}

// ConstValue returns the value of a constant bit-vector node.
func (f *Formula) ConstValue(ref VarRef) (uint64, bool) {
	n := f.Node(ref)
	if n.Op != OpConst {
		return 0, false
	}
	return n.Value, true
}

func (f *Formula) push(n Node) VarRef {
	f.nodes = append(f.nodes, n)
	return VarRef(len(f.nodes) - 1)
}

func sanitize(name string) string {
	if name == "" {
		return "sym"
	}
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '.':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteString("v_")
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// NewVar 声明一个自由变量，重名时追加节点下标
func (f *Formula) NewVar(name string, sort Sort) VarRef {
	name = sanitize(name)
	if _, ok := f.names[name]; ok {
		name = fmt.Sprintf("%s_%d", name, len(f.nodes))
	}
	ref := f.push(Node{Op: OpVar, Sort: sort, Name: name})
	f.names[name] = ref
	f.vars = append(f.vars, ref)
	return ref
}

func mask(w uint32) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

func (f *Formula) NewConst(value uint64, width uint32) VarRef {
	must(width > 0 && width <= 64, "constant width %d unsupported", width)
	return f.push(Node{Op: OpConst, Sort: BitVec(width), Value: value & mask(width)})
}

func (f *Formula) NewBool(b bool) VarRef {
	if b {
		return f.push(Node{Op: OpTrue, Sort: Bool()})
	}
	return f.push(Node{Op: OpFalse, Sort: Bool()})
}

// NewConstArray 每个元素都等于 value 的数组
func (f *Formula) NewConstArray(sort Sort, value uint64) VarRef {
	must(sort.IsArray(), "const array needs an array sort, got %s", sort)
	return f.push(Node{Op: OpConstArray, Sort: sort, Value: value & mask(sort.Width)})
}

// Assert adds a boolean node to the constraint set.
func (f *Formula) Assert(ref VarRef) {
	n := f.Node(ref)
	must(n.Sort.IsBool(), "cannot assert %s node %d", n.Sort, ref)
	if n.Op == OpTrue {
		return
	}
	f.constraints = append(f.constraints, ref)
}

// Apply builds op(operands...). Constant operands are folded.
func (f *Formula) Apply(op Op, operands ...VarRef) VarRef {
	must(!op.Indexed(), "%s needs parameters", op)
	return f.apply(op, [2]uint32{}, operands)
}

func (f *Formula) Extract(hi, lo uint32, x VarRef) VarRef {
	return f.apply(OpExtract, [2]uint32{hi, lo}, []VarRef{x})
}

func (f *Formula) ZeroExtend(n uint32, x VarRef) VarRef {
	if n == 0 {
		return x
	}
	return f.apply(OpZeroExtend, [2]uint32{n, 0}, []VarRef{x})
}

func (f *Formula) SignExtend(n uint32, x VarRef) VarRef {
	if n == 0 {
		return x
	}
	return f.apply(OpSignExtend, [2]uint32{n, 0}, []VarRef{x})
}

func (f *Formula) Rotate(op Op, n uint32, x VarRef) VarRef {
	must(op == OpRotateLeft || op == OpRotateRight, "%s is not a rotation", op)
	return f.apply(op, [2]uint32{n, 0}, []VarRef{x})
}

// Resize 截断或零扩展到 width
func (f *Formula) Resize(x VarRef, width uint32) VarRef {
	w := f.Width(x)
	switch {
	case w == width:
		return x
	case w > width:
		return f.Extract(width-1, 0, x)
	default:
		return f.ZeroExtend(width-w, x)
	}
}

func (f *Formula) apply(op Op, params [2]uint32, operands []VarRef) VarRef {
	sort := f.check(op, params, operands)
	if ref, ok := f.fold(op, params, operands, sort); ok {
		return ref
	}
	ops := make([]VarRef, len(operands))
	copy(ops, operands)
	return f.push(Node{Op: op, Sort: sort, Operands: ops, Params: params})
}

func (f *Formula) check(op Op, params [2]uint32, operands []VarRef) Sort {
	sorts := make([]Sort, len(operands))
	for i, o := range operands {
		sorts[i] = f.SortOf(o)
	}
	arity := func(n int) {
		must(len(operands) == n, "%s takes %d operands, got %d", op, n, len(operands))
	}
	sameBv := func() uint32 {
		for i, s := range sorts {
			must(s.IsBitVec(), "%s operand %d is %s", op, i, s)
			must(s.Width == sorts[0].Width, "%s on mismatched widths %d and %d", op, sorts[0].Width, s.Width)
		}
		return sorts[0].Width
	}
	switch {
	case op == OpEq || op == OpDistinct:
		must(len(operands) >= 2, "%s needs at least two operands", op)
		for _, s := range sorts {
			must(s == sorts[0], "%s on mismatched sorts %s and %s", op, sorts[0], s)
		}
		return Bool()
	case op == OpNot:
		arity(1)
		must(sorts[0].IsBool(), "not on %s", sorts[0])
		return Bool()
	case op == OpAnd || op == OpOr:
		must(len(operands) >= 2, "%s needs at least two operands", op)
		for _, s := range sorts {
			must(s.IsBool(), "%s on %s", op, s)
		}
		return Bool()
	case op == OpIte:
		arity(3)
		must(sorts[0].IsBool(), "ite condition is %s", sorts[0])
		must(sorts[1] == sorts[2], "ite branches differ: %s and %s", sorts[1], sorts[2])
		return sorts[1]
	case op.binaryBv():
		arity(2)
		return BitVec(sameBv())
	case op == OpBvNot || op == OpBvNeg:
		arity(1)
		return BitVec(sameBv())
	case op.compareBv():
		arity(2)
		sameBv()
		return Bool()
	case op == OpConcat:
		arity(2)
		must(sorts[0].IsBitVec() && sorts[1].IsBitVec(), "concat on %s and %s", sorts[0], sorts[1])
		must(sorts[0].Width+sorts[1].Width <= 64, "concat wider than 64 bits")
		return BitVec(sorts[0].Width + sorts[1].Width)
	case op == OpExtract:
		arity(1)
		w := sameBv()
		must(params[0] >= params[1] && params[0] < w, "extract %d..%d out of width %d", params[0], params[1], w)
		return BitVec(params[0] - params[1] + 1)
	case op == OpZeroExtend || op == OpSignExtend:
		arity(1)
		w := sameBv()
		must(w+params[0] <= 64, "%s past 64 bits", op)
		return BitVec(w + params[0])
	case op == OpRotateLeft || op == OpRotateRight:
		arity(1)
		return BitVec(sameBv())
	case op == OpSelect:
		arity(2)
		must(sorts[0].IsArray(), "select on %s", sorts[0])
		must(sorts[1].IsBitVec() && sorts[1].Width == sorts[0].Index, "select index is %s", sorts[1])
		return BitVec(sorts[0].Width)
	case op == OpStore:
		arity(3)
		must(sorts[0].IsArray(), "store on %s", sorts[0])
		must(sorts[1].IsBitVec() && sorts[1].Width == sorts[0].Index, "store index is %s", sorts[1])
		must(sorts[2].IsBitVec() && sorts[2].Width == sorts[0].Width, "store value is %s", sorts[2])
		return sorts[0]
	}
	panic(fmt.Sprintf("smt: cannot apply %s", op))
}
