package state

import (
	"sort"

	"bscanner/internal/arch"
	"bscanner/internal/smt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownRegister    = errors.New("unknown register")
	ErrUninitialized      = errors.New("read before initialization")
	ErrAlreadyInitialized = errors.New("already initialized")
)

// Entry 寄存器名到存储槽的映射；子寄存器是槽内的一段位 [Start, End)
type Entry struct {
	Name       string
	Slot       int
	Start      uint32
	End        uint32
	Whole      bool
	Alias      string
	Type       string
	ZeroExtend bool
}

func (e *Entry) Width() uint32 { return e.End - e.Start }

// RegisterFile entries are fixed at construction; only the slot table changes.
type RegisterFile struct {
	entries map[string]*Entry
	roles   map[string]string
	wholes  []*Entry
	slots   []smt.VarRef
}

// NewRegisterFile 按宽度从大到小建立槽；落在已有整寄存器位范围内的成为其子寄存器
func NewRegisterFile(p *arch.Profile, types ...string) *RegisterFile {
	if len(types) == 0 {
		types = []string{arch.TypeGPR, arch.TypeFlag}
	}
	include := make(map[string]bool)
	for _, t := range types {
		include[t] = true
	}
	role := make(map[string]string)
	for r, name := range p.Aliases {
		role[name] = r
	}

	var regs []arch.Register
	for _, r := range p.Registers {
		if include[r.Type] {
			regs = append(regs, r)
		}
	}
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Size != regs[j].Size {
			return regs[i].Size > regs[j].Size
		}
		return regs[i].Offset < regs[j].Offset
	})

	rf := &RegisterFile{
		entries: make(map[string]*Entry),
		roles:   make(map[string]string),
	}
	for _, r := range regs {
		e := &Entry{Name: r.Name, Alias: role[r.Name], Type: r.Type, ZeroExtend: r.ZeroExtend}
		var owner *Entry
		for _, w := range rf.wholes {
			base := offsetOf(p, w.Name)
			if base <= r.Offset && r.Offset+r.Size <= base+w.End {
				owner = w
				e.Start = r.Offset - base
				break
			}
		}
		if owner == nil {
			e.Slot, e.Whole, e.End = len(rf.wholes), true, r.Size
			rf.wholes = append(rf.wholes, e)
			rf.slots = append(rf.slots, smt.NoRef)
		} else {
			e.Slot, e.End = owner.Slot, e.Start+r.Size
		}
		rf.entries[r.Name] = e
		if e.Alias != "" {
			rf.roles[e.Alias] = r.Name
		}
	}
	return rf
}

func offsetOf(p *arch.Profile, name string) uint32 {
	for _, r := range p.Registers {
		if r.Name == name {
			return r.Offset
		}
	}
	return 0
}

func (rf *RegisterFile) Clone() *RegisterFile {
	slots := make([]smt.VarRef, len(rf.slots))
	copy(slots, rf.slots)
	return &RegisterFile{entries: rf.entries, roles: rf.roles, wholes: rf.wholes, slots: slots}
}

func (rf *RegisterFile) Entry(name string) (*Entry, error) {
	e, ok := rf.entries[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRegister, "%q", name)
	}
	return e, nil
}

// AliasOf returns the architectural role of a register, e.g. "PC".
func (rf *RegisterFile) AliasOf(name string) (string, bool) {
	e, ok := rf.entries[name]
	if !ok || e.Alias == "" {
		return "", false
	}
	return e.Alias, true
}

// Lookup returns the register playing a role.
func (rf *RegisterFile) Lookup(role string) (string, bool) {
	name, ok := rf.roles[role]
	return name, ok
}

func (rf *RegisterFile) IsFlag(name string) bool {
	e, ok := rf.entries[name]
	return ok && e.Type == arch.TypeFlag
}

func (rf *RegisterFile) Has(name string) bool {
	_, ok := rf.entries[name]
	return ok
}

// Wholes returns the whole-register names in slot order.
func (rf *RegisterFile) Wholes() []string {
	names := make([]string, len(rf.wholes))
	for i, w := range rf.wholes {
		names[i] = w.Name
	}
	return names
}

func (rf *RegisterFile) Initialized(name string) bool {
	e, ok := rf.entries[name]
	return ok && rf.slots[e.Slot] != smt.NoRef
}

func (rf *RegisterFile) Read(f *smt.Formula, name string) (smt.VarRef, error) {
	e, err := rf.Entry(name)
	if err != nil {
		return smt.NoRef, err
	}
	cur := rf.slots[e.Slot]
	if cur == smt.NoRef {
		return smt.NoRef, errors.Wrapf(ErrUninitialized, "register %s", name)
	}
	if e.Whole {
		return cur, nil
	}
	return f.Extract(e.End-1, e.Start, cur), nil
}

// Write 整寄存器直接替换槽；子寄存器保留槽内其余位。返回写之前槽里的值
func (rf *RegisterFile) Write(f *smt.Formula, name string, v smt.VarRef) (smt.VarRef, error) {
	e, err := rf.Entry(name)
	if err != nil {
		return smt.NoRef, err
	}
	if w := f.Width(v); w != e.Width() {
		return smt.NoRef, errors.Errorf("write of %d bits to %d-bit register %s", w, e.Width(), name)
	}
	prev := rf.slots[e.Slot]
	if e.Whole {
		rf.slots[e.Slot] = v
		return prev, nil
	}

	whole := rf.wholes[e.Slot].End
	if e.ZeroExtend && e.Start == 0 {
		rf.slots[e.Slot] = f.ZeroExtend(whole-e.End, v)
		return prev, nil
	}
	if prev == smt.NoRef {
		return smt.NoRef, errors.Wrapf(ErrUninitialized, "partial write to %s", name)
	}
	composed := v
	if e.Start > 0 {
		composed = f.Apply(smt.OpConcat, composed, f.Extract(e.Start-1, 0, prev))
	}
	if e.End < whole {
		composed = f.Apply(smt.OpConcat, f.Extract(whole-1, e.End, prev), composed)
	}
	rf.slots[e.Slot] = composed
	return prev, nil
}

// Names returns every register name, sorted.
func (rf *RegisterFile) Names() []string {
	names := make([]string, 0, len(rf.entries))
	for name := range rf.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
