// Package asset implements the asset engine: it resolves asset refs to
// storages and providers, runs the transfers that fetch their bytes,
// tracks the dependencies between assets and only reports an asset as
// loaded once everything it depends on has loaded as well.
//
// The engine is driven by a single logical thread that calls Update once
// per frame. Providers may do their I/O on any goroutine, they hand their
// results back through a Handoff queue which Update drains.
package asset

// Asset is a typed, named unit of loaded data. Assets are created empty
// by their type factory and filled by DeserializeFromBytes.
type Asset interface {
	// Name is the canonical ref of the asset, it's unique in an Engine.
	Name() string

	// Type is the asset type name the asset was created with.
	Type() string

	// IsLoaded reports whether the asset holds deserialized data.
	IsLoaded() bool

	// DeserializeFromBytes loads the asset from its raw bytes and returns
	// the refs of the assets it depends on, as written in the data.
	// Relative refs are resolved by the engine in the context of Name.
	DeserializeFromBytes(data []byte) ([]string, error)

	// Dependencies returns the refs returned by the last successful
	// DeserializeFromBytes.
	Dependencies() []string

	// DiskSource is the file the asset was loaded from, if any.
	DiskSource() string

	// SetDiskSource is called by the engine when the file backing the
	// asset changes.
	SetDiskSource(path string)

	// Unload frees the asset data. The asset stays usable as an empty,
	// unloaded asset.
	Unload()
}

// Base implements the bookkeeping part of Asset. Concrete asset types
// embed it and call SetLoaded from their DeserializeFromBytes.
type Base struct {
	name         string
	assetType    string
	loaded       bool
	dependencies []string
	diskSource   string
}

// NewBase creates the common part of an asset.
func NewBase(assetType, name string) Base {
	return Base{
		name:      name,
		assetType: assetType,
	}
}

// Name implements interface
func (b *Base) Name() string { return b.name }

// Type implements interface
func (b *Base) Type() string { return b.assetType }

// IsLoaded implements interface
func (b *Base) IsLoaded() bool { return b.loaded }

// Dependencies implements interface
func (b *Base) Dependencies() []string { return b.dependencies }

// DiskSource implements interface
func (b *Base) DiskSource() string { return b.diskSource }

// SetDiskSource implements interface
func (b *Base) SetDiskSource(path string) { b.diskSource = path }

// SetLoaded marks the asset loaded with the given declared dependencies.
func (b *Base) SetLoaded(dependencies []string) {
	b.loaded = true
	b.dependencies = dependencies
}

// ClearLoaded marks the asset as not loaded.
func (b *Base) ClearLoaded() {
	b.loaded = false
	b.dependencies = nil
}

// BinaryType is the type name of assets without a more specific type.
const BinaryType = "Binary"

// Binary is an asset that keeps its bytes as they are. It's the fallback
// type for refs with an unknown extension.
type Binary struct {
	Base
	Data []byte
}

// NewBinary is the factory for Binary assets.
func NewBinary(name string) Asset {
	return &Binary{Base: NewBase(BinaryType, name)}
}

// DeserializeFromBytes implements interface
func (b *Binary) DeserializeFromBytes(data []byte) ([]string, error) {
	b.Data = append([]byte(nil), data...)
	b.SetLoaded(nil)
	return nil, nil
}

// Unload implements interface
func (b *Binary) Unload() {
	b.Data = nil
	b.ClearLoaded()
}
