package asset

import (
	"fmt"
	"strings"

	"github.com/devblok/koruasset/assetref"
)

// Trust describes how far content from a storage is trusted.
type Trust int

// Trust levels
const (
	TrustTrusted Trust = iota
	TrustAsk
	TrustUntrusted
)

func (t Trust) String() string {
	switch t {
	case TrustTrusted:
		return "true"
	case TrustAsk:
		return "ask"
	default:
		return "untrusted"
	}
}

// Storage is a named source location bound to the Provider that serves it.
type Storage struct {
	Name             string
	Source           string
	Recursive        bool
	ReadOnly         bool
	LiveUpdate       bool
	AutoDiscoverable bool
	Replicated       bool
	Trust            Trust

	// FromNetwork is set for storages that were announced by a remote
	// party rather than configured locally.
	FromNetwork bool

	Provider Provider
}

// FullRef returns the ref of the asset stored under localName.
func (s *Storage) FullRef(localName string) string {
	if b, ok := s.Provider.(RefBuilder); ok {
		return assetref.Canonicalize(b.FullRef(s, localName))
	}
	return assetref.Canonicalize(s.Name + ":" + localName)
}

// String serializes the storage back to descriptor form.
func (s *Storage) String() string {
	kv := map[string]string{
		"src":              s.Source,
		"name":             s.Name,
		"recursive":        formatBool(s.Recursive),
		"readonly":         formatBool(s.ReadOnly),
		"liveupdate":       formatBool(s.LiveUpdate),
		"autodiscoverable": formatBool(s.AutoDiscoverable),
		"replicated":       formatBool(s.Replicated),
		"trusted":          s.Trust.String(),
	}
	return assetref.SerializeStorageString(kv, "src", "name", "recursive", "readonly",
		"liveupdate", "autodiscoverable", "replicated", "trusted")
}

// localName returns ref relative to the storage source, if ref lies
// inside the storage.
func (s *Storage) localName(ref string) (string, bool) {
	p := assetref.Parse(ref)
	if p.Type == assetref.NamedStorage {
		if strings.EqualFold(p.NamedStorage, s.Name) {
			return p.PathFilename, true
		}
		return "", false
	}
	src := strings.TrimSuffix(assetref.Canonicalize(s.Source), "/") + "/"
	full := p.FullRefNoSubAsset
	if len(full) > len(src) && strings.EqualFold(full[:len(src)], src) {
		return full[len(src):], true
	}
	return "", false
}

// StorageRegistry is the ordered collection of storages and of the
// providers they can be bound to. Storage names are case-insensitive.
type StorageRegistry struct {
	providers   []Provider
	storages    []*Storage
	defaultName string
}

// NewStorageRegistry creates an empty registry.
func NewStorageRegistry() *StorageRegistry {
	return &StorageRegistry{}
}

// RegisterProvider adds a provider. Providers are consulted in
// registration order.
func (r *StorageRegistry) RegisterProvider(p Provider) {
	r.providers = append(r.providers, p)
}

// Providers returns the registered providers in order.
func (r *StorageRegistry) Providers() []Provider {
	return append([]Provider(nil), r.providers...)
}

// AddStorage parses descriptor and adds the resulting storage. The
// storage is bound to the first provider that can handle its source.
func (r *StorageRegistry) AddStorage(descriptor string, fromNetwork bool) (*Storage, error) {
	kv, err := assetref.ParseStorageString(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStorageDescriptor, err)
	}
	src := kv["src"]
	if src == "" {
		return nil, fmt.Errorf("%w: missing src", ErrInvalidStorageDescriptor)
	}

	s := &Storage{
		Name:        kv["name"],
		Source:      src,
		FromNetwork: fromNetwork,
		Trust:       TrustAsk,
	}
	if s.Name == "" {
		s.Name = src
	}
	if !fromNetwork && isLocalSource(src) {
		s.Trust = TrustTrusted
	}

	flags := []struct {
		key string
		dst *bool
		def bool
	}{
		{"recursive", &s.Recursive, true},
		{"readonly", &s.ReadOnly, false},
		{"liveupdate", &s.LiveUpdate, true},
		{"autodiscoverable", &s.AutoDiscoverable, false},
		{"replicated", &s.Replicated, true},
	}
	for _, f := range flags {
		*f.dst = f.def
		v, ok := kv[f.key]
		if !ok {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStorageDescriptor, f.key, err)
		}
		*f.dst = b
	}

	if v, ok := kv["trusted"]; ok {
		t, err := parseTrust(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStorageDescriptor, err)
		}
		// remote parties can't vouch for their own storages
		if fromNetwork && t == TrustTrusted {
			t = TrustAsk
		}
		s.Trust = t
	}

	makeDefault := false
	if v, ok := kv["default"]; ok {
		b, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: default: %v", ErrInvalidStorageDescriptor, err)
		}
		makeDefault = b
	}

	if r.StorageByName(s.Name) != nil {
		return nil, fmt.Errorf("%w: storage '%s'", ErrDuplicateName, s.Name)
	}
	for _, p := range r.providers {
		if p.CanHandle(src) {
			s.Provider = p
			break
		}
	}
	if s.Provider == nil {
		return nil, fmt.Errorf("%w: storage source '%s'", ErrNoProviderFound, src)
	}

	r.storages = append(r.storages, s)
	if makeDefault || r.defaultName == "" {
		r.defaultName = s.Name
	}
	return s, nil
}

// RemoveStorage unregisters the named storage. Transfers already bound to
// it are left to finish. Returns false when there is no such storage.
func (r *StorageRegistry) RemoveStorage(name string) bool {
	for i, s := range r.storages {
		if strings.EqualFold(s.Name, name) {
			r.storages = append(r.storages[:i], r.storages[i+1:]...)
			if strings.EqualFold(r.defaultName, name) {
				r.defaultName = ""
			}
			return true
		}
	}
	return false
}

// StorageByName returns the named storage, or nil.
func (r *StorageRegistry) StorageByName(name string) *Storage {
	for _, s := range r.storages {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// Storages returns the storages in registration order.
func (r *StorageRegistry) Storages() []*Storage {
	return append([]*Storage(nil), r.storages...)
}

// Default returns the storage used for bare relative refs, or nil.
func (r *StorageRegistry) Default() *Storage {
	if r.defaultName == "" {
		return nil
	}
	return r.StorageByName(r.defaultName)
}

// SetDefault makes the named storage the default one.
func (r *StorageRegistry) SetDefault(name string) bool {
	s := r.StorageByName(name)
	if s == nil {
		return false
	}
	r.defaultName = s.Name
	return true
}

// StorageFor returns the storage that holds ref, or nil. Storages whose
// source contains ref win over the other storages of its provider.
func (r *StorageRegistry) StorageFor(ref string) *Storage {
	res, err := r.resolve(ref)
	if err != nil || len(res.storages) == 0 {
		return nil
	}
	return res.storages[0]
}

// ProviderFor returns the provider that serves ref. Resolution order is
// explicit storage name, then protocol, then the default storage for
// bare relative refs.
func (r *StorageRegistry) ProviderFor(ref string) (Provider, error) {
	res, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	return res.provider, nil
}

// resolution is the outcome of binding a ref to its provider.
type resolution struct {
	ref       string
	provider  Provider
	storages  []*Storage
	localName string
}

// resolve binds ref, without any sub asset part, to a provider and the
// storages that may contain it.
func (r *StorageRegistry) resolve(ref string) (resolution, error) {
	p := assetref.Parse(ref)
	switch p.Type {
	case assetref.Invalid:
		return resolution{}, ErrInvalidRef

	case assetref.NamedStorage:
		s := r.StorageByName(p.NamedStorage)
		if s == nil {
			return resolution{}, fmt.Errorf("%w: unknown storage '%s'", ErrNoProviderFound, p.NamedStorage)
		}
		return resolution{
			ref:       p.FullRefNoSubAsset,
			provider:  s.Provider,
			storages:  []*Storage{s},
			localName: p.PathFilename,
		}, nil

	case assetref.RelativePath:
		s := r.Default()
		if s == nil {
			return resolution{}, fmt.Errorf("%w: no default storage for '%s'", ErrNoProviderFound, ref)
		}
		return resolution{
			ref:       s.FullRef(p.PathFilename),
			provider:  s.Provider,
			storages:  []*Storage{s},
			localName: p.PathFilename,
		}, nil
	}

	full := p.FullRefNoSubAsset
	for _, provider := range r.providers {
		if !provider.CanHandle(full) {
			continue
		}
		res := resolution{ref: full, provider: provider, localName: p.PathFilename}
		var others []*Storage
		for _, s := range r.storages {
			if s.Provider != provider {
				continue
			}
			if name, ok := s.localName(full); ok {
				if len(res.storages) == 0 {
					res.localName = name
				}
				res.storages = append(res.storages, s)
			} else {
				others = append(others, s)
			}
		}
		res.storages = append(res.storages, others...)
		return res, nil
	}
	return resolution{}, fmt.Errorf("%w: '%s'", ErrNoProviderFound, ref)
}

func isLocalSource(src string) bool {
	switch assetref.Parse(src).Type {
	case assetref.LocalPath, assetref.LocalURL:
		return true
	}
	return false
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean '%s'", v)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseTrust(v string) (Trust, error) {
	switch strings.ToLower(v) {
	case "true", "trusted":
		return TrustTrusted, nil
	case "ask":
		return TrustAsk, nil
	case "false", "untrusted":
		return TrustUntrusted, nil
	}
	return TrustAsk, fmt.Errorf("invalid trust value '%s'", v)
}
