package model

import (
	"bytes"
	"errors"
	"io"
	"sort"

	glm "github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/devblok/koruasset/asset"
)

// MaterialDefinition is the yaml form of a material:
//
//	shader: shaders/lit.js
//	color: [1, 0.9, 0.8, 1]
//	textures:
//	  diffuse: stone.png
//	  normal: stone_n.png
//	parameters:
//	  roughness: 0.7
type MaterialDefinition struct {
	Shader     string             `yaml:"shader,omitempty"`
	Color      []float32          `yaml:"color,flow,omitempty"`
	Textures   map[string]string  `yaml:"textures,omitempty"`
	Parameters map[string]float64 `yaml:"parameters,omitempty"`
}

// Material binds textures to slots. The shader and the textures are its
// dependencies.
type Material struct {
	asset.Base

	def MaterialDefinition
}

// NewMaterial is the factory for materials.
func NewMaterial(name string) asset.Asset {
	return &Material{Base: asset.NewBase(MaterialType, name)}
}

// DeserializeFromBytes implements interface
func (m *Material) DeserializeFromBytes(data []byte) ([]string, error) {
	var def MaterialDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if def.Color != nil && len(def.Color) != 4 {
		return nil, errors.New("material color needs four components")
	}

	var deps []string
	if def.Shader != "" {
		deps = append(deps, def.Shader)
	}
	for _, slot := range sortedKeys(def.Textures) {
		deps = append(deps, def.Textures[slot])
	}

	m.def = def
	m.SetLoaded(deps)
	return deps, nil
}

// Unload implements interface
func (m *Material) Unload() {
	m.def = MaterialDefinition{}
	m.ClearLoaded()
}

// Definition returns the parsed material.
func (m *Material) Definition() MaterialDefinition { return m.def }

// Texture returns the ref bound to slot, as written in the material.
func (m *Material) Texture(slot string) string { return m.def.Textures[slot] }

// Color returns the base color, white when not set.
func (m *Material) Color() glm.Vec4 {
	if len(m.def.Color) != 4 {
		return glm.Vec4{1, 1, 1, 1}
	}
	return glm.Vec4{m.def.Color[0], m.def.Color[1], m.def.Color[2], m.def.Color[3]}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
