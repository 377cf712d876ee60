package asset

// Bundle is a container asset. It isn't consumed directly, instead it
// yields sub assets by name, addressed with refs of the form
// "bundle.kar#path/inside/bundle.ext".
type Bundle interface {
	// Name is the canonical ref of the bundle.
	Name() string

	// Type is the bundle type name.
	Type() string

	// IsLoaded reports whether the bundle index has been read.
	IsLoaded() bool

	// DeserializeFromBytes reads the bundle. When diskSource is not
	// empty the bundle may read its contents from that file instead
	// of keeping data around.
	DeserializeFromBytes(data []byte, diskSource string) error

	// SubAssetNames lists the names of all sub assets in the bundle.
	SubAssetNames() []string

	// SubAssetData returns the bytes of the named sub asset.
	SubAssetData(name string) ([]byte, error)

	// DiskSource is the file the bundle was loaded from, if any.
	DiskSource() string

	// Unload releases the bundle contents.
	Unload()
}
