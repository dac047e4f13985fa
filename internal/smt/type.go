package smt

import "fmt"

type SortKind uint8

const (
	BoolSort SortKind = iota
	BitVecSort
	ArraySort
)

// Sort 节点类型；Array 的 index/element 均为位向量
type Sort struct {
	Kind  SortKind
	Width uint32 // BitVec 宽度，Array 时为元素宽度
	Index uint32 // Array 下标宽度
}

func Bool() Sort                    { return Sort{Kind: BoolSort} }
func BitVec(width uint32) Sort      { return Sort{Kind: BitVecSort, Width: width} }
func Array(index, elem uint32) Sort { return Sort{Kind: ArraySort, Width: elem, Index: index} }

func (s Sort) IsBool() bool   { return s.Kind == BoolSort }
func (s Sort) IsBitVec() bool { return s.Kind == BitVecSort }
func (s Sort) IsArray() bool  { return s.Kind == ArraySort }

func (s Sort) String() string {
	switch s.Kind {
	case BoolSort:
		return "Bool"
	case BitVecSort:
		return fmt.Sprintf("(_ BitVec %d)", s.Width)
	default:
		return fmt.Sprintf("(Array (_ BitVec %d) (_ BitVec %d))", s.Index, s.Width)
	}
}
