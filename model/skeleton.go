package model

import (
	"bytes"
	"fmt"

	glm "github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/devblok/koruasset/asset"
)

// BoneDefinition is one bone in the yaml form of a skeleton. Rotation is
// a quaternion in w, x, y, z order. A parent must be listed before its
// children.
type BoneDefinition struct {
	Name     string     `yaml:"name"`
	Parent   string     `yaml:"parent,omitempty"`
	Position [3]float32 `yaml:"position,flow"`
	Rotation [4]float32 `yaml:"rotation,flow"`
}

type skeletonDefinition struct {
	Mesh  string           `yaml:"mesh,omitempty"`
	Bones []BoneDefinition `yaml:"bones"`
}

// Bone is a bone with its bind pose resolved.
type Bone struct {
	Name   string
	Parent int // -1 for roots

	// Local is relative to the parent, World to the skeleton origin.
	Local glm.Mat4
	World glm.Mat4
}

// Skeleton is a bone hierarchy. The mesh it deforms, when named, is its
// dependency.
type Skeleton struct {
	asset.Base

	mesh  string
	bones []Bone
}

// NewSkeleton is the factory for skeletons.
func NewSkeleton(name string) asset.Asset {
	return &Skeleton{Base: asset.NewBase(SkeletonType, name)}
}

// DeserializeFromBytes implements interface
func (s *Skeleton) DeserializeFromBytes(data []byte) ([]string, error) {
	var def skeletonDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(def.Bones))
	bones := make([]Bone, 0, len(def.Bones))
	for i, b := range def.Bones {
		if b.Name == "" {
			return nil, fmt.Errorf("bone %d has no name", i)
		}
		if _, dup := index[b.Name]; dup {
			return nil, fmt.Errorf("duplicate bone %s", b.Name)
		}

		rot := glm.Quat{W: b.Rotation[0], V: glm.Vec3{b.Rotation[1], b.Rotation[2], b.Rotation[3]}}
		if rot.Len() == 0 {
			rot = glm.QuatIdent()
		}
		local := glm.Translate3D(b.Position[0], b.Position[1], b.Position[2]).Mul4(rot.Normalize().Mat4())

		bone := Bone{Name: b.Name, Parent: -1, Local: local, World: local}
		if b.Parent != "" {
			p, ok := index[b.Parent]
			if !ok {
				return nil, fmt.Errorf("bone %s: parent %s must be listed before it", b.Name, b.Parent)
			}
			bone.Parent = p
			bone.World = bones[p].World.Mul4(local)
		}
		index[b.Name] = len(bones)
		bones = append(bones, bone)
	}

	var deps []string
	if def.Mesh != "" {
		deps = append(deps, def.Mesh)
	}
	s.mesh = def.Mesh
	s.bones = bones
	s.SetLoaded(deps)
	return deps, nil
}

// Unload implements interface
func (s *Skeleton) Unload() {
	s.mesh = ""
	s.bones = nil
	s.ClearLoaded()
}

// Bones returns the bones in definition order.
func (s *Skeleton) Bones() []Bone { return s.bones }

// Bone returns the named bone.
func (s *Skeleton) Bone(name string) (Bone, bool) {
	for _, b := range s.bones {
		if b.Name == name {
			return b, true
		}
	}
	return Bone{}, false
}

// BindPosition returns the world position of the named bone.
func (s *Skeleton) BindPosition(name string) (glm.Vec3, bool) {
	b, ok := s.Bone(name)
	if !ok {
		return glm.Vec3{}, false
	}
	return b.World.Col(3).Vec3(), true
}
