package state

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Key(t *testing.T) {
	assert.True(t, Key("0x9000").IsMemory())
	assert.True(t, Key("4096").IsMemory())
	assert.False(t, Key("rax").IsMemory())
	assert.False(t, Key("r8").IsMemory())

	addr, err := Key("0x9000").Address()
	require.Nil(t, err)
	assert.Equal(t, uint64(0x9000), addr)
	_, err = Key("0xzz").Address()
	assert.NotNil(t, err)
}

func Test_InitialStateRoundTrip(t *testing.T) {
	s := NewInitialState(0x401000)
	s.AddBreakpoint(0x401010)
	s.AddBreakpoint(0x401010)
	s.SetConst("rbp", 0x9000)
	s.SetSymbolic("rdi")
	s.SetSymbolic("0x9004")
	s.SetConst("rdi", 1) // replaces the symbolic binding
	s.EnvVars["HOME"] = "/root"

	path := filepath.Join(t.TempDir(), "session.json")
	require.Nil(t, s.Save(path))
	loaded, err := LoadInitialState(path)
	require.Nil(t, err)

	want := &InitialState{
		StartAddress: 0x401000,
		Breakpoints:  []uint64{0x401010},
		Constants:    []Constant{{Key: "rbp", Value: 0x9000}, {Key: "rdi", Value: 1}},
		SymbolicVars: []Key{"0x9004"},
		EnvVars:      map[string]string{"HOME": "/root"},
	}
	if diff := cmp.Diff(want, loaded); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	_, err = UnmarshalInitialState([]byte("{"))
	assert.NotNil(t, err)
}

func Test_InitialStateContext(t *testing.T) {
	s := NewInitialState(0x1000)
	s.SetConst("rbp", 0x9000)
	s.SetConst("0x8000", 0x41)
	s.SetSymbolic("rsi")
	s.SetSymbolic("0x8008")

	c, err := s.Context(x64(t), nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(0x1000), c.IP())

	rbp, err := c.RegRead("rbp")
	require.Nil(t, err)
	assert.Equal(t, uint64(0x9000), constOf(t, c.Formula(), rbp))
	rax, err := c.RegRead("rax")
	require.Nil(t, err)
	assert.Equal(t, uint64(0), constOf(t, c.Formula(), rax))

	got, err := c.MemRead(c.DefineConst(0x8000, 64), 64)
	require.Nil(t, err)
	assert.Equal(t, uint64(0x41), constOf(t, c.Formula(), got))
	assert.Equal(t, []string{"mem_8008", "rsi"}, c.Symbols())

	s.SetConst("rsi", 1)
	s.SetSymbolic("bogus")
	_, err = s.Context(x64(t), nil)
	assert.Equal(t, ErrUnknownRegister, errors.Cause(err))
}
