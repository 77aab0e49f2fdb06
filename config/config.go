// Package config loads the optional luavm.yaml host configuration file:
// the non-tail-call recursion cap, a package.path seed list, and debug
// hook defaults (§6 Environment). None of this is Lua-level state - it is
// host policy the same way cmd/lua's flags are, just sourced from a file
// instead of argv.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/luavm/values"
	"github.com/wudi/luavm/vm"
)

// HookDefaults selects which debug-hook events a freshly built VM should
// report on before any host code calls VM.SetHook itself (§4.J).
type HookDefaults struct {
	Call   bool  `yaml:"call"`
	Return bool  `yaml:"return"`
	Line   bool  `yaml:"line"`
	Count  int32 `yaml:"count"`
}

// Mask converts the YAML booleans into the bitmask vm.SetHook expects. It
// returns 0 when nothing is enabled, the caller's signal to skip SetHook
// entirely rather than install a no-op hook.
func (h HookDefaults) Mask() vm.HookMask {
	var m vm.HookMask
	if h.Call {
		m |= vm.HookCall
	}
	if h.Return {
		m |= vm.HookReturn
	}
	if h.Line {
		m |= vm.HookLine
	}
	if h.Count > 0 {
		m |= vm.HookCount
	}
	return m
}

// Config is the parsed shape of luavm.yaml.
type Config struct {
	MaxCallDepth int          `yaml:"max_call_depth"`
	PackagePath  []string     `yaml:"package_path"`
	Hooks        HookDefaults `yaml:"hooks"`
}

// Load reads and parses path. A missing file is not an error - luavm.yaml
// is entirely optional, and the zero Config (no depth override, no seeded
// package.path, no hooks) is a valid, inert configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply installs cfg onto a freshly constructed VM: the call-depth cap and
// a seeded package.path global always apply; the hook defaults only take
// effect when fn is non-nil, since a mask with no callback has nothing to
// report through (§4.J, §6).
func (cfg *Config) Apply(v *vm.VM, fn vm.Hook) {
	if cfg.MaxCallDepth > 0 {
		v.SetMaxCallDepth(cfg.MaxCallDepth)
	}
	if len(cfg.PackagePath) > 0 {
		pkg := v.NewTable()
		pkg.Set(values.String("path"), values.String(strings.Join(cfg.PackagePath, ";")))
		v.RegisterGlobal("package", values.Table(pkg))
	}
	if mask := cfg.Hooks.Mask(); mask != 0 && fn != nil {
		v.SetHook(v.MainThread(), mask, fn, cfg.Hooks.Count)
	}
}
