package stream

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Program 程序描述文件：显式的指令表，或者 base + 十六进制代码镜像，两者可同时给出
type Program struct {
	Arch         string        `yaml:"arch" json:"arch"`
	Base         uint64        `yaml:"base" json:"base"`
	Image        string        `yaml:"image" json:"image"`
	Instructions []Instruction `yaml:"instructions" json:"instructions"`
}

// ParseProgram decodes a program description; isJSON selects the JSON decoder.
func ParseProgram(data []byte, isJSON bool) (*Program, error) {
	var p Program
	if isJSON {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal")
		}
	} else if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "yaml.Unmarshal")
	}
	if p.Arch == "" {
		p.Arch = "x86-64"
	}
	for i, ins := range p.Instructions {
		if ins.Size == 0 {
			return nil, errors.Errorf("instruction %d at %#x has no size", i, ins.Address)
		}
	}
	return &p, nil
}

func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read program %s", path)
	}
	return ParseProgram(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Code decodes the hex image.
func (p *Program) Code() ([]byte, error) {
	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(p.Image), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return code, nil
}

// Table lifts the image, if any, and overlays the explicit instructions.
func (p *Program) Table() (*Table, error) {
	var instructions []Instruction
	if p.Image != "" {
		code, err := p.Code()
		if err != nil {
			return nil, err
		}
		instructions = LiftX86(p.Base, code)
	}
	instructions = append(instructions, p.Instructions...)
	return NewTable(instructions), nil
}
