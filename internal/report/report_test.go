package report

import (
	"strings"
	"testing"

	"bscanner/internal/state"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func Test_PathTree(t *testing.T) {
	color.NoColor = true
	pt := NewPathTree()
	pt.Add([]state.Decision{{Address: 0x1000, Taken: true}, {Address: 0x1004, Taken: true}}, "exhausted")
	pt.Add([]state.Decision{{Address: 0x1000, Taken: true}, {Address: 0x1004, Taken: false}}, "pruned")
	pt.Add([]state.Decision{{Address: 0x1000, Taken: false}}, "exhausted")
	pt.Add(nil, "halted")

	assert.Equal(t, 4, pt.Paths())
	text := pt.String()
	assert.True(t, strings.HasPrefix(text, "4 paths"))
	// 共享前缀只出现一次
	assert.Equal(t, 1, strings.Count(text, "0x1000:T"))
	assert.Equal(t, 1, strings.Count(text, "0x1000:F"))
	assert.Equal(t, 2, strings.Count(text, "exhausted"))
	assert.Contains(t, text, "0x1004:F")
	assert.Contains(t, text, "pruned")
	assert.Contains(t, text, "halted")
}

func Test_Values(t *testing.T) {
	color.NoColor = true
	var sb strings.Builder
	Values(&sb, map[string]uint64{"rsi": 0xcafebabe, "rdi": 0xe})
	assert.Equal(t, "  rdi = 0xe\n  rsi = 0xcafebabe\n", sb.String())
}
