package model

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/devblok/koruasset/asset"
)

// refDirective marks a line that names a dependency of the script:
//
//	// !ref: lib/util.js
const refDirective = "// !ref:"

// Script is a compiled javascript program. Its dependencies are declared
// with !ref comment lines.
type Script struct {
	asset.Base

	source  string
	program *goja.Program
}

// NewScript is the factory for scripts.
func NewScript(name string) asset.Asset {
	return &Script{Base: asset.NewBase(ScriptType, name)}
}

// DeserializeFromBytes implements interface
func (s *Script) DeserializeFromBytes(data []byte) ([]string, error) {
	src := string(data)
	program, err := goja.Compile(s.Name(), src, true)
	if err != nil {
		return nil, err
	}

	var deps []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, refDirective) {
			continue
		}
		if ref := strings.TrimSpace(strings.TrimPrefix(line, refDirective)); ref != "" {
			deps = append(deps, ref)
		}
	}

	s.source = src
	s.program = program
	s.SetLoaded(deps)
	return deps, nil
}

// Unload implements interface
func (s *Script) Unload() {
	s.source = ""
	s.program = nil
	s.ClearLoaded()
}

// Source returns the script text.
func (s *Script) Source() string { return s.source }

// Run executes the script in rt and returns the completion value.
func (s *Script) Run(rt *goja.Runtime) (goja.Value, error) {
	if s.program == nil {
		return nil, ErrNotLoaded
	}
	return rt.RunProgram(s.program)
}
