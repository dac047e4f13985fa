package state

import (
	"encoding/json"
	"os"
	"strings"

	"bscanner/internal/arch"
	"bscanner/internal/util"

	"github.com/pkg/errors"
)

// Key 寄存器名或内存地址；以 0x 或数字开头的是地址
type Key string

func (k Key) IsMemory() bool {
	s := string(k)
	return strings.HasPrefix(s, "0x") || (s != "" && s[0] >= '0' && s[0] <= '9')
}

func (k Key) Address() (uint64, error) {
	v, ok := util.ParseUint64(string(k))
	if !ok {
		return 0, errors.Errorf("bad address %q", string(k))
	}
	return v, nil
}

type Constant struct {
	Key   Key    `json:"key"`
	Value uint64 `json:"value"`
}

// InitialState is the persisted starting point of a run.
type InitialState struct {
	StartAddress uint64            `json:"start_address"`
	Breakpoints  []uint64          `json:"breakpoints"`
	Constants    []Constant        `json:"constants"`
	SymbolicVars []Key             `json:"symbolic_vars"`
	EnvVars      map[string]string `json:"env_vars"`
}

func NewInitialState(start uint64) *InitialState {
	return &InitialState{StartAddress: start, EnvVars: make(map[string]string)}
}

// SetConst replaces any earlier binding of key.
func (s *InitialState) SetConst(key Key, value uint64) {
	s.drop(key)
	s.Constants = append(s.Constants, Constant{Key: key, Value: value})
}

func (s *InitialState) SetSymbolic(key Key) {
	s.drop(key)
	s.SymbolicVars = append(s.SymbolicVars, key)
}

func (s *InitialState) drop(key Key) {
	consts := s.Constants[:0]
	for _, c := range s.Constants {
		if c.Key != key {
			consts = append(consts, c)
		}
	}
	s.Constants = consts
	syms := s.SymbolicVars[:0]
	for _, k := range s.SymbolicVars {
		if k != key {
			syms = append(syms, k)
		}
	}
	s.SymbolicVars = syms
}

func (s *InitialState) AddBreakpoint(addr uint64) {
	for _, b := range s.Breakpoints {
		if b == addr {
			return
		}
	}
	s.Breakpoints = append(s.Breakpoints, addr)
}

func (s *InitialState) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func UnmarshalInitialState(data []byte) (*InitialState, error) {
	var s InitialState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal")
	}
	if s.EnvVars == nil {
		s.EnvVars = make(map[string]string)
	}
	return &s, nil
}

func LoadInitialState(path string) (*InitialState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read session %s", path)
	}
	return UnmarshalInitialState(data)
}

func (s *InitialState) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write session %s", path)
}

// Context builds the starting context. Memory keys are initialized as 64-bit cells; the
// remaining registers are zeroed.
func (s *InitialState) Context(p *arch.Profile, mem Memory) (*Context, error) {
	c := NewContext(p, mem)
	c.SetIP(s.StartAddress)
	for _, k := range s.SymbolicVars {
		if k.IsMemory() {
			addr, err := k.Address()
			if err != nil {
				return nil, err
			}
			if _, err = c.SetMemAsSym(addr, CellBits); err != nil {
				return nil, err
			}
		} else if _, err := c.SetRegAsSym(string(k)); err != nil {
			return nil, err
		}
	}
	for _, kv := range s.Constants {
		if kv.Key.IsMemory() {
			addr, err := kv.Key.Address()
			if err != nil {
				return nil, err
			}
			if _, err = c.SetMemAsConst(addr, kv.Value, CellBits); err != nil {
				return nil, err
			}
		} else if _, err := c.SetRegAsConst(string(kv.Key), kv.Value); err != nil {
			return nil, err
		}
	}
	c.ZeroRegisters()
	return c, nil
}
