// Package stream 指令流：地址到 {大小, ESIL} 的查询
package stream

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Instruction 一条已提升的指令
type Instruction struct {
	Address  uint64 `yaml:"address" json:"address"`
	Size     uint64 `yaml:"size" json:"size"`
	Bytes    []byte `yaml:"-" json:"-"`
	Mnemonic string `yaml:"mnemonic,omitempty" json:"mnemonic,omitempty"`
	ESIL     string `yaml:"esil" json:"esil"`
}

func (ins *Instruction) String() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%#x", ins.Address))
	if ins.Mnemonic != "" {
		builder.WriteString(" ")
		builder.WriteString(ins.Mnemonic)
	}
	builder.WriteString(" ")
	builder.WriteString(ins.ESIL)
	return builder.String()
}

// Op 助记符的操作码部分，大写
func (ins *Instruction) Op() string {
	fields := strings.Fields(ins.Mnemonic)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// FormatBytes 十六进制编码，不足 8 个字符补空格以便对齐
func (ins *Instruction) FormatBytes() string {
	data := hex.EncodeToString(ins.Bytes)
	if len(data) < 8 {
		return data + strings.Repeat(" ", 8-len(data))
	}
	return data
}

// Stream is the engine's view of the program.
type Stream interface {
	At(addr uint64) (Instruction, bool)
}

// Table 预先提升好的指令表
type Table struct {
	instructions map[uint64]Instruction
	addresses    []uint64
}

func NewTable(instructions []Instruction) *Table {
	t := &Table{instructions: make(map[uint64]Instruction, len(instructions))}
	for _, ins := range instructions {
		if _, ok := t.instructions[ins.Address]; !ok {
			t.addresses = append(t.addresses, ins.Address)
		}
		t.instructions[ins.Address] = ins
	}
	sort.Slice(t.addresses, func(i, j int) bool { return t.addresses[i] < t.addresses[j] })
	return t
}

func (t *Table) At(addr uint64) (Instruction, bool) {
	ins, ok := t.instructions[addr]
	return ins, ok
}

func (t *Table) Len() int { return len(t.addresses) }

// Addresses returns the instruction addresses in ascending order.
func (t *Table) Addresses() []uint64 { return t.addresses }

func (t *Table) Instructions() []Instruction {
	result := make([]Instruction, len(t.addresses))
	for i, addr := range t.addresses {
		result[i] = t.instructions[addr]
	}
	return result
}

// Listing renders address, bytes, mnemonic and ESIL, one instruction per line.
func Listing(instructions []Instruction) string {
	var builder strings.Builder
	for i := range instructions {
		ins := &instructions[i]
		builder.WriteString(fmt.Sprintf("0x%08x  ", ins.Address))
		if len(ins.Bytes) > 0 {
			builder.WriteString(fmt.Sprintf("%-20s  ", ins.FormatBytes()))
		}
		if ins.Mnemonic != "" {
			builder.WriteString(fmt.Sprintf("%-28s  ", ins.Mnemonic))
		}
		builder.WriteString(ins.ESIL)
		builder.WriteString("\n")
	}
	return builder.String()
}

// patterns从0开始，instructions从index开始，依次匹配助记符的首个单词
func isSequenceMatch(patterns [][]string, instructions []Instruction, index int) bool {
	for i, pattern := range patterns {
		if index+i >= len(instructions) {
			return false
		}
		op := instructions[index+i].Op()
		var found bool
		for _, p := range pattern {
			if op == strings.ToUpper(p) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FindSequence returns the start indices where the mnemonic patterns match in order.
func FindSequence(patterns [][]string, instructions []Instruction) []int {
	result := make([]int, 0)
	for i := 0; i < len(instructions)-len(patterns)+1; i++ {
		if isSequenceMatch(patterns, instructions, i) {
			result = append(result, i)
		}
	}
	return result
}
