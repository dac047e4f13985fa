package issuse

import (
	"fmt"
	"sort"
	"strings"

	"bscanner/internal/state"
	"bscanner/internal/stream"

	"github.com/fatih/color"
)

type Issuse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Address  uint64            `json:"address"`
	Mnemonic string            `json:"mnemonic,omitempty"`
	Trail    []state.Decision  `json:"trail,omitempty"`
	Values   map[string]uint64 `json:"values,omitempty"` // 触发问题的一组输入
}

// AddCodeInfo fills the mnemonic of the instruction the issue was raised at.
func (is *Issuse) AddCodeInfo(s stream.Stream) {
	ins, ok := s.At(is.Address)
	if !ok {
		is.Mnemonic = "(unmapped)"
		return
	}
	is.Mnemonic = ins.Mnemonic
}

var (
	headline = color.New(color.FgRed).SprintFunc()
	location = color.New(color.FgYellow).SprintFunc()
)

func (is *Issuse) String() string {
	cweDescription := fmt.Sprintf("ID: CWE-%s\nTitle: %s\nDescription: %s\n\n",
		is.ID, is.Title, is.Description)
	cweDescription = headline(cweDescription)

	codeInfo := fmt.Sprintf("At: %#x %s\n", is.Address, is.Mnemonic)
	if len(is.Trail) > 0 {
		trail := make([]string, len(is.Trail))
		for i, d := range is.Trail {
			trail[i] = d.String()
		}
		codeInfo += fmt.Sprintf("Path: %s\n", strings.Join(trail, " "))
	}
	codeInfo = location(codeInfo)

	var sb strings.Builder
	names := make([]string, 0, len(is.Values))
	for name := range is.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s = %#x\n", name, is.Values[name])
	}

	return fmt.Sprintf("%s%s%s", cweDescription, codeInfo, sb.String())
}
