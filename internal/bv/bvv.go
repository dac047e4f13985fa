// Package bv 定长的具体位向量，用于常量折叠和模型取值
package bv

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrWidth = errors.New("invalid bit-vector width")

// BVV 具体值，width 只能是 8/16/32/64
type BVV struct {
	value uint64
	width uint
}

// ValidWidth reports whether w is a supported machine width.
func ValidWidth(w uint) bool {
	switch w {
	case 8, 16, 32, 64:
		return true
	}
	return false
}

func mask(w uint) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

func New(value uint64, width uint) (BVV, error) {
	if !ValidWidth(width) {
		return BVV{}, errors.Wrapf(ErrWidth, "width %d", width)
	}
	if value&^mask(width) != 0 {
		return BVV{}, errors.Errorf("value %#x does not fit in %d bits", value, width)
	}
	return BVV{value: value, width: width}, nil
}

func MustNew(value uint64, width uint) BVV {
	b, err := New(value, width)
	if err != nil {
		panic(err)
	}
	return b
}

// Truncate builds a BVV from the low width bits of value.
func Truncate(value uint64, width uint) BVV {
	return MustNew(value&mask(width), width)
}

func (b BVV) Value() uint64 { return b.value }
func (b BVV) Width() uint   { return b.width }

// Signed 按补码解释
func (b BVV) Signed() int64 {
	if b.width == 64 {
		return int64(b.value)
	}
	if b.value>>(b.width-1)&1 == 1 {
		return int64(b.value | ^mask(b.width))
	}
	return int64(b.value)
}

func (b BVV) String() string {
	return fmt.Sprintf("%#x:%d", b.value, b.width)
}

func (b BVV) same(o BVV, op string) {
	if b.width != o.width {
		panic(fmt.Sprintf("bv: %s on mismatched widths %d and %d", op, b.width, o.width))
	}
}

func (b BVV) wrap(v uint64) BVV {
	return BVV{value: v & mask(b.width), width: b.width}
}

func (b BVV) Add(o BVV) BVV { b.same(o, "add"); return b.wrap(b.value + o.value) }
func (b BVV) Sub(o BVV) BVV { b.same(o, "sub"); return b.wrap(b.value - o.value) }
func (b BVV) Mul(o BVV) BVV { b.same(o, "mul"); return b.wrap(b.value * o.value) }
func (b BVV) And(o BVV) BVV { b.same(o, "and"); return b.wrap(b.value & o.value) }
func (b BVV) Or(o BVV) BVV  { b.same(o, "or"); return b.wrap(b.value | o.value) }
func (b BVV) Xor(o BVV) BVV { b.same(o, "xor"); return b.wrap(b.value ^ o.value) }
func (b BVV) Not() BVV      { return b.wrap(^b.value) }
func (b BVV) Neg() BVV      { return b.wrap(-b.value) }

// Div 无符号除法，除数为 0 时结果全 1 (与 bvudiv 一致)
func (b BVV) Div(o BVV) BVV {
	b.same(o, "div")
	if o.value == 0 {
		return b.wrap(^uint64(0))
	}
	return b.wrap(b.value / o.value)
}

// Rem 无符号取余，除数为 0 时返回被除数 (与 bvurem 一致)
func (b BVV) Rem(o BVV) BVV {
	b.same(o, "rem")
	if o.value == 0 {
		return b
	}
	return b.wrap(b.value % o.value)
}

// Shl shifts left; amounts of width or more yield zero.
func (b BVV) Shl(o BVV) BVV {
	b.same(o, "shl")
	if o.value >= uint64(b.width) {
		return b.wrap(0)
	}
	return b.wrap(b.value << o.value)
}

// Shr is a logical right shift.
func (b BVV) Shr(o BVV) BVV {
	b.same(o, "shr")
	if o.value >= uint64(b.width) {
		return b.wrap(0)
	}
	return b.wrap(b.value >> o.value)
}

func (b BVV) Ult(o BVV) bool { b.same(o, "ult"); return b.value < o.value }
func (b BVV) Ugt(o BVV) bool { b.same(o, "ugt"); return b.value > o.value }
func (b BVV) Eq(o BVV) bool  { b.same(o, "eq"); return b.value == o.value }

func (b BVV) checkIndex(idx uint) {
	if idx >= b.width {
		panic(fmt.Sprintf("bv: bit index %d out of range for width %d", idx, b.width))
	}
}

func (b BVV) At(idx uint) uint8 {
	b.checkIndex(idx)
	return uint8(b.value >> idx & 1)
}

func (b *BVV) Set(idx uint, bit uint8) {
	b.checkIndex(idx)
	if bit&1 == 1 {
		b.value |= 1 << idx
	} else {
		b.value &^= 1 << idx
	}
}

func (b BVV) checkRange(start, end uint) {
	if start >= end || end > b.width {
		panic(fmt.Sprintf("bv: range %d..%d invalid for width %d", start, end, b.width))
	}
}

// Range 取 [start, end) 位，结果宽度取不小于跨度的 2 的幂，最小 8
func (b BVV) Range(start, end uint) BVV {
	b.checkRange(start, end)
	span := end - start
	width := uint(8)
	for width < span {
		width <<= 1
	}
	return BVV{value: b.value >> start & mask(span), width: width}
}

// SetRange writes the low bits of v into [start, end).
func (b *BVV) SetRange(start, end uint, v uint64) {
	b.checkRange(start, end)
	m := mask(end-start) << start
	b.value = b.value&^m | (v<<start)&m
}

func (b BVV) checkExtend(w uint) {
	if w <= b.width || !ValidWidth(w) {
		panic(fmt.Sprintf("bv: cannot extend width %d to %d", b.width, w))
	}
}

func (b *BVV) SignExtend(w uint) {
	b.checkExtend(w)
	if b.value>>(b.width-1)&1 == 1 {
		b.value |= mask(w) &^ mask(b.width)
	}
	b.width = w
}

func (b *BVV) ZeroExtend(w uint) {
	b.checkExtend(w)
	b.width = w
}
