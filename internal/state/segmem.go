package state

import (
	"fmt"

	"bscanner/internal/smt"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

type segment struct {
	size  uint64 // bytes
	value smt.VarRef
}

func (s segment) end(start uint64) uint64 { return start + s.size }

// SegmentedMemory 按字节划分的不相交区间，每段一个位向量，小端序拼接。
// 未覆盖的空洞在第一次读取时引入新的自由变量并记录下来
type SegmentedMemory struct {
	segments *immutable.SortedMap
	gaps     []smt.VarRef
}

func NewSegmentedMemory() *SegmentedMemory {
	return &SegmentedMemory{segments: immutable.NewSortedMap(&uint64Comparer{})}
}

func (m *SegmentedMemory) Clone() Memory {
	gaps := make([]smt.VarRef, len(m.gaps))
	copy(gaps, m.gaps)
	return &SegmentedMemory{segments: m.segments, gaps: gaps}
}

// Gaps returns the free variables introduced for never-written bytes.
func (m *SegmentedMemory) Gaps() []smt.VarRef { return m.gaps }

func (m *SegmentedMemory) Len() int { return m.segments.Len() }

func address(f *smt.Formula, addr smt.VarRef) (uint64, error) {
	v, ok := f.ConstValue(addr)
	if !ok {
		return 0, ErrSymbolicAddress
	}
	return v, nil
}

// containing finds the segment covering addr.
func (m *SegmentedMemory) containing(addr uint64) (uint64, segment, bool) {
	itr := m.segments.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}
	for !itr.Done() {
		k, v := itr.Prev()
		start, seg := k.(uint64), v.(segment)
		if addr >= start && addr < seg.end(start) {
			return start, seg, true
		} else if seg.end(start) <= addr {
			break
		}
	}
	return 0, segment{}, false
}

// nextStart returns the first segment start after addr.
func (m *SegmentedMemory) nextStart(addr uint64) (uint64, bool) {
	itr := m.segments.Iterator()
	itr.Seek(addr + 1)
	if k, _ := itr.Next(); k != nil {
		return k.(uint64), true
	}
	return 0, false
}

func (m *SegmentedMemory) Read(f *smt.Formula, addr smt.VarRef, bits uint32) (smt.VarRef, error) {
	if err := checkWidth(bits); err != nil {
		return smt.NoRef, err
	}
	base, err := address(f, addr)
	if err != nil {
		return smt.NoRef, errors.Wrapf(err, "read %d bits", bits)
	}
	end := base + uint64(bits/8)

	result := smt.NoRef
	for pos := base; pos < end; {
		var piece smt.VarRef
		var n uint64
		if start, seg, ok := m.containing(pos); ok {
			n = min(seg.end(start), end) - pos
			lo := uint32(pos-start) * 8
			piece = seg.value
			if n != seg.size {
				piece = f.Extract(lo+uint32(n)*8-1, lo, seg.value)
			}
		} else {
			n = end - pos
			if next, ok := m.nextStart(pos); ok && next < end {
				n = next - pos
			}
			piece = f.NewVar(fmt.Sprintf("mem_%x", pos), smt.BitVec(uint32(n)*8))
			m.gaps = append(m.gaps, piece)
			m.segments = m.segments.Set(pos, segment{size: n, value: piece})
		}

		// result |= zext(piece) << offset
		shift := uint32(pos-base) * 8
		wide := f.ZeroExtend(bits-f.Width(piece), piece)
		if shift > 0 {
			wide = f.Apply(smt.OpBvShl, wide, f.NewConst(uint64(shift), bits))
		}
		if result == smt.NoRef {
			result = wide
		} else {
			result = f.Apply(smt.OpBvOr, result, wide)
		}
		pos += n
	}
	return result, nil
}

func (m *SegmentedMemory) Write(f *smt.Formula, addr, data smt.VarRef, bits uint32) error {
	if err := checkWidth(bits); err != nil {
		return err
	}
	base, err := address(f, addr)
	if err != nil {
		return errors.Wrapf(err, "write %d bits", bits)
	}
	end := base + uint64(bits/8)

	type overlap struct {
		start uint64
		seg   segment
	}
	var hits []overlap
	if start, seg, ok := m.containing(base); ok {
		hits = append(hits, overlap{start, seg})
	}
	itr := m.segments.Iterator()
	itr.Seek(base)
	for !itr.Done() {
		k, v := itr.Next()
		start := k.(uint64)
		if start >= end {
			break
		}
		if start != base || len(hits) == 0 || hits[0].start != base {
			hits = append(hits, overlap{start, v.(segment)})
		}
	}

	segments := m.segments
	for _, h := range hits {
		segments = segments.Delete(h.start)
		if h.start < base {
			n := base - h.start
			segments = segments.Set(h.start, segment{size: n, value: f.Extract(uint32(n)*8-1, 0, h.seg.value)})
		}
		if e := h.seg.end(h.start); e > end {
			lo := uint32(end-h.start) * 8
			segments = segments.Set(end, segment{size: e - end, value: f.Extract(uint32(h.seg.size)*8-1, lo, h.seg.value)})
		}
	}
	m.segments = segments.Set(base, segment{size: end - base, value: f.Resize(data, bits)})
	return nil
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
