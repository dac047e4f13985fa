// Package arch 目标架构的寄存器描述
package arch

import (
	"embed"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profiles embed.FS

const (
	TypeGPR  = "gpr"
	TypeFlag = "flg"
)

type Register struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Size       uint32 `yaml:"size"`   // bits
	Offset     uint32 `yaml:"offset"` // bits
	ZeroExtend bool   `yaml:"zext"`   // 写入时清零所在整寄存器的高位
}

type Profile struct {
	Name      string            `yaml:"name"`
	Bits      uint32            `yaml:"bits"`
	Aliases   map[string]string `yaml:"aliases"` // 角色 -> 寄存器名, 如 PC -> rip
	Registers []Register        `yaml:"registers"`
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "yaml.Unmarshal")
	}
	seen := make(map[string]bool)
	for _, r := range p.Registers {
		if r.Name == "" || r.Size == 0 || r.Size > 64 {
			return nil, errors.Errorf("profile %s: bad register %+v", p.Name, r)
		}
		if seen[r.Name] {
			return nil, errors.Errorf("profile %s: duplicate register %s", p.Name, r.Name)
		}
		seen[r.Name] = true
	}
	for role, name := range p.Aliases {
		if !seen[name] {
			return nil, errors.Errorf("profile %s: alias %s names unknown register %s", p.Name, role, name)
		}
	}
	return &p, nil
}

// Load returns an embedded profile by name.
func Load(name string) (*Profile, error) {
	data, err := profiles.ReadFile("profiles/" + name + ".yaml")
	if err != nil {
		return nil, errors.Errorf("unknown architecture %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return Parse(data)
}

func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profile %s", path)
	}
	return Parse(data)
}

func Names() []string {
	entries, _ := profiles.ReadDir("profiles")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func MustLoad(name string) *Profile {
	p, err := Load(name)
	if err != nil {
		panic(err)
	}
	return p
}
