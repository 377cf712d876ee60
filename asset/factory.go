package asset

import (
	"fmt"
	"path"
	"strings"

	"github.com/devblok/koruasset/assetref"
)

// TypeFactory creates empty, unloaded assets of one type.
type TypeFactory struct {
	// Type is the asset type name, e.g. "Texture".
	Type string

	// Extensions lists the filename extensions, with the dot, that
	// identify refs of this type.
	Extensions []string

	// New creates the empty asset with the given canonical name.
	New func(name string) Asset
}

// BundleTypeFactory creates empty, unloaded bundles of one type.
type BundleTypeFactory struct {
	Type       string
	Extensions []string
	New        func(name string) Bundle
}

// TypeRegistry maps asset type names to factories. Lookups by type name
// are case-insensitive.
type TypeRegistry struct {
	assets  map[string]TypeFactory
	bundles map[string]BundleTypeFactory

	// extension -> type name
	extensions map[string]string
	order      []string
}

// NewTypeRegistry creates a registry that knows only the Binary type.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		assets:     make(map[string]TypeFactory),
		bundles:    make(map[string]BundleTypeFactory),
		extensions: make(map[string]string),
	}
	r.Register(TypeFactory{Type: BinaryType, New: NewBinary})
	return r
}

// Register adds an asset type factory. Registering the same type twice
// is a programming error and panics.
func (r *TypeRegistry) Register(f TypeFactory) {
	key := strings.ToLower(f.Type)
	if _, exists := r.assets[key]; exists {
		panic(fmt.Sprintf("asset type factory '%s' already registered", f.Type))
	}
	if _, exists := r.bundles[key]; exists {
		panic(fmt.Sprintf("asset type '%s' already registered as a bundle type", f.Type))
	}
	r.assets[key] = f
	r.order = append(r.order, f.Type)
	r.addExtensions(f.Type, f.Extensions)
}

// RegisterBundle adds a bundle type factory.
func (r *TypeRegistry) RegisterBundle(f BundleTypeFactory) {
	key := strings.ToLower(f.Type)
	if _, exists := r.bundles[key]; exists {
		panic(fmt.Sprintf("bundle type factory '%s' already registered", f.Type))
	}
	if _, exists := r.assets[key]; exists {
		panic(fmt.Sprintf("bundle type '%s' already registered as an asset type", f.Type))
	}
	r.bundles[key] = f
	r.order = append(r.order, f.Type)
	r.addExtensions(f.Type, f.Extensions)
}

func (r *TypeRegistry) addExtensions(typeName string, extensions []string) {
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.extensions[ext] = typeName
	}
}

// Factory returns the asset factory for typeName.
func (r *TypeRegistry) Factory(typeName string) (TypeFactory, bool) {
	f, ok := r.assets[strings.ToLower(typeName)]
	return f, ok
}

// BundleFactory returns the bundle factory for typeName.
func (r *TypeRegistry) BundleFactory(typeName string) (BundleTypeFactory, bool) {
	f, ok := r.bundles[strings.ToLower(typeName)]
	return f, ok
}

// IsBundleType reports whether typeName names a registered bundle type.
func (r *TypeRegistry) IsBundleType(typeName string) bool {
	_, ok := r.bundles[strings.ToLower(typeName)]
	return ok
}

// Types lists every registered type name in registration order.
func (r *TypeRegistry) Types() []string {
	return append([]string(nil), r.order...)
}

// TypeForRef guesses the asset type of ref from its extension. Refs with
// an unknown extension are Binary.
func (r *TypeRegistry) TypeForRef(ref string) string {
	if t, ok := r.extensions[assetref.Extension(ref)]; ok {
		return t
	}
	return BinaryType
}

// BundleTypeForRef returns the bundle type of the bundle part of ref, or
// "" when its extension doesn't belong to a bundle type.
func (r *TypeRegistry) BundleTypeForRef(ref string) string {
	p := assetref.Parse(ref)
	ext := strings.ToLower(path.Ext(p.Filename))
	if t, ok := r.extensions[ext]; ok && r.IsBundleType(t) {
		return t
	}
	return ""
}
