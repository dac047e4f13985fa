package store

import (
	"path/filepath"
	"testing"

	"bscanner/internal/state"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession() *state.InitialState {
	s := state.NewInitialState(0x1000)
	s.SetConst("rbp", 0x9000)
	s.SetSymbolic("rdi")
	s.SetSymbolic("0x9004")
	s.AddBreakpoint(0x1010)
	return s
}

func Test_SessionStore(t *testing.T) {
	s, err := NewSessionStore("")
	require.Nil(t, err)
	defer s.Close()

	require.Nil(t, s.Put("overflow", newSession()))
	require.Nil(t, s.Put("empty", state.NewInitialState(0)))

	got, err := s.Get("overflow")
	require.Nil(t, err)
	if diff := cmp.Diff(newSession(), got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	names, err := s.List()
	require.Nil(t, err)
	assert.Equal(t, []string{"empty", "overflow"}, names)

	_, err = s.Get("missing")
	assert.Equal(t, ErrNotFound, errors.Cause(err))

	type result struct {
		Values map[string]uint64 `json:"values"`
	}
	require.Nil(t, s.PutResult("overflow", &result{Values: map[string]uint64{"rdi": 0xe}}))
	var r result
	require.Nil(t, s.GetResult("overflow", &r))
	assert.Equal(t, uint64(0xe), r.Values["rdi"])

	// 结果不算会话
	names, err = s.List()
	require.Nil(t, err)
	assert.Len(t, names, 2)

	require.Nil(t, s.Delete("overflow"))
	_, err = s.Get("overflow")
	assert.Equal(t, ErrNotFound, errors.Cause(err))
	assert.Equal(t, ErrNotFound, errors.Cause(s.GetResult("overflow", &r)))
}

func Test_SessionStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions")
	s, err := NewSessionStore(path)
	require.Nil(t, err)
	require.Nil(t, s.Put("a", newSession()))
	require.Nil(t, s.Close())

	s, err = NewSessionStore(path)
	require.Nil(t, err)
	defer s.Close()
	got, err := s.Get("a")
	require.Nil(t, err)
	assert.Equal(t, uint64(0x1000), got.StartAddress)
}
