package model

import (
	"encoding/xml"
	"errors"
	"fmt"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/util/collada"
)

// Mesh is imported from a collada (.dae) file. The triangles of every
// geometry are flattened into one vertex list. The images of the
// document are its dependencies.
type Mesh struct {
	asset.Base

	vertices []Vertex
	lo, hi   glm.Vec3
}

// NewMesh is the factory for meshes.
func NewMesh(name string) asset.Asset {
	return &Mesh{Base: asset.NewBase(MeshType, name)}
}

// DeserializeFromBytes implements interface
func (m *Mesh) DeserializeFromBytes(data []byte) ([]string, error) {
	var doc collada.Collada
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Geometries) == 0 {
		return nil, errors.New("collada document has no geometry")
	}

	var vertices []Vertex
	for _, g := range doc.Geometries {
		v, err := importGeometry(&g.Mesh)
		if err != nil {
			return nil, fmt.Errorf("geometry %s: %w", g.ID, err)
		}
		vertices = append(vertices, v...)
	}

	var deps []string
	for _, img := range doc.Images {
		if img.InitFrom != "" {
			deps = append(deps, img.InitFrom)
		}
	}

	m.vertices = vertices
	m.lo, m.hi = bounds(vertices)
	m.SetLoaded(deps)
	return deps, nil
}

// Unload implements interface
func (m *Mesh) Unload() {
	m.vertices = nil
	m.lo, m.hi = glm.Vec3{}, glm.Vec3{}
	m.ClearLoaded()
}

// Vertices returns the triangle list, three vertices per triangle.
func (m *Mesh) Vertices() []Vertex {
	return m.vertices
}

// Bounds returns the corners of the axis aligned bounding box.
func (m *Mesh) Bounds() (glm.Vec3, glm.Vec3) {
	return m.lo, m.hi
}

func importGeometry(mesh *collada.Mesh) ([]Vertex, error) {
	tris := &mesh.Triangles
	vertexInput, ok := tris.Input("VERTEX")
	if !ok {
		return nil, errors.New("triangles without VERTEX input")
	}
	positionInput, ok := mesh.Vertices.Input("POSITION")
	if !ok {
		return nil, errors.New("vertices without POSITION input")
	}
	positions, ok := mesh.FindSource(positionInput.Source)
	if !ok {
		return nil, fmt.Errorf("position source %s not found", positionInput.Source)
	}

	var normals []float32
	normalInput, hasNormals := tris.Input("NORMAL")
	if hasNormals {
		source, ok := mesh.FindSource(normalInput.Source)
		if !ok {
			return nil, fmt.Errorf("normal source %s not found", normalInput.Source)
		}
		normals = source.Floats.Data
	}

	stride := tris.Stride()
	if stride == 0 || len(tris.Index)%stride != 0 {
		return nil, errors.New("triangle index does not match its inputs")
	}

	vertices := make([]Vertex, 0, len(tris.Index)/stride)
	for i := 0; i < len(tris.Index); i += stride {
		var vert Vertex
		pos, err := vec3At(positions.Floats.Data, tris.Index[i+int(vertexInput.Offset)])
		if err != nil {
			return nil, err
		}
		vert.Pos = pos
		if hasNormals {
			if vert.Normal, err = vec3At(normals, tris.Index[i+int(normalInput.Offset)]); err != nil {
				return nil, err
			}
		}
		vertices = append(vertices, vert)
	}
	if len(vertices)%3 != 0 {
		return nil, errors.New("vertex count is not a multiple of three")
	}
	return vertices, nil
}

func vec3At(data []float32, idx int) (glm.Vec3, error) {
	if idx < 0 || idx*3+2 >= len(data) {
		return glm.Vec3{}, fmt.Errorf("index %d out of range", idx)
	}
	return glm.Vec3{data[idx*3], data[idx*3+1], data[idx*3+2]}, nil
}

func bounds(vertices []Vertex) (glm.Vec3, glm.Vec3) {
	if len(vertices) == 0 {
		return glm.Vec3{}, glm.Vec3{}
	}
	lo, hi := vertices[0].Pos, vertices[0].Pos
	for _, v := range vertices[1:] {
		for i := 0; i < 3; i++ {
			if v.Pos[i] < lo[i] {
				lo[i] = v.Pos[i]
			}
			if v.Pos[i] > hi[i] {
				hi[i] = v.Pos[i]
			}
		}
	}
	return lo, hi
}
