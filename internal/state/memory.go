package state

import (
	"bscanner/internal/smt"

	"github.com/pkg/errors"
)

var (
	ErrSymbolicAddress  = errors.New("symbolic memory address")
	ErrUnsupportedWidth = errors.New("unsupported access width")
)

// Memory is the address space of one path. Implementations must treat every returned
// handle as immutable so clones taken earlier keep seeing their own contents.
type Memory interface {
	Read(f *smt.Formula, addr smt.VarRef, bits uint32) (smt.VarRef, error)
	Write(f *smt.Formula, addr, data smt.VarRef, bits uint32) error
	Clone() Memory
}

const (
	AddressBits = 64
	CellBits    = 64
)

func checkWidth(bits uint32) error {
	if bits == 0 || bits > CellBits || bits%8 != 0 {
		return errors.Wrapf(ErrUnsupportedWidth, "%d bits", bits)
	}
	return nil
}

// ArrayMemory 单个 (Array (_ BitVec 64) (_ BitVec 64))，每个地址一个 64 位单元。
// 相邻地址的单元互不重叠，窄访问只作用于单元的低位
type ArrayMemory struct {
	array smt.VarRef
}

func NewArrayMemory() *ArrayMemory {
	return &ArrayMemory{array: smt.NoRef}
}

func (m *ArrayMemory) current(f *smt.Formula) smt.VarRef {
	if m.array == smt.NoRef {
		m.array = f.NewConstArray(smt.Array(AddressBits, CellBits), 0)
	}
	return m.array
}

func (m *ArrayMemory) Read(f *smt.Formula, addr smt.VarRef, bits uint32) (smt.VarRef, error) {
	if err := checkWidth(bits); err != nil {
		return smt.NoRef, err
	}
	cell := f.Apply(smt.OpSelect, m.current(f), f.Resize(addr, AddressBits))
	if bits < CellBits {
		cell = f.Extract(bits-1, 0, cell)
	}
	return cell, nil
}

func (m *ArrayMemory) Write(f *smt.Formula, addr, data smt.VarRef, bits uint32) error {
	if err := checkWidth(bits); err != nil {
		return err
	}
	addr = f.Resize(addr, AddressBits)
	data = f.Resize(data, bits)
	array := m.current(f)
	if bits < CellBits {
		// 保留单元高位
		cell := f.Apply(smt.OpSelect, array, addr)
		data = f.Apply(smt.OpConcat, f.Extract(CellBits-1, bits, cell), data)
	}
	m.array = f.Apply(smt.OpStore, array, addr, data)
	return nil
}

func (m *ArrayMemory) Clone() Memory {
	return &ArrayMemory{array: m.array}
}

// Handle returns the current array node, NoRef before first access.
func (m *ArrayMemory) Handle() smt.VarRef { return m.array }
