// Package model holds the asset types the engine loads: meshes,
// textures, materials, skeletons, scripts, scenes and kar bundles.
package model

import (
	"errors"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruasset/asset"
)

// ErrNotLoaded is returned when an asset is used before it has loaded.
var ErrNotLoaded = errors.New("asset is not loaded")

// Asset type names
const (
	MeshType      = "Mesh"
	TextureType   = "Texture"
	MaterialType  = "Material"
	SkeletonType  = "Skeleton"
	ScriptType    = "Script"
	SceneType     = "Scene"
	KarBundleType = "Kar"
)

// Register adds every type of the package to types.
func Register(types *asset.TypeRegistry) {
	types.Register(asset.TypeFactory{Type: MeshType, Extensions: []string{".dae"}, New: NewMesh})
	types.Register(asset.TypeFactory{
		Type:       TextureType,
		Extensions: []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"},
		New:        NewTexture,
	})
	types.Register(asset.TypeFactory{Type: MaterialType, Extensions: []string{".material"}, New: NewMaterial})
	types.Register(asset.TypeFactory{Type: SkeletonType, Extensions: []string{".skeleton"}, New: NewSkeleton})
	types.Register(asset.TypeFactory{Type: ScriptType, Extensions: []string{".js"}, New: NewScript})
	types.Register(asset.TypeFactory{Type: SceneType, Extensions: []string{".scene", ".txml"}, New: NewScene})
	types.RegisterBundle(asset.BundleTypeFactory{Type: KarBundleType, Extensions: []string{".kar"}, New: NewKarBundle})
}

// Vertex is a model vertex
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
}
