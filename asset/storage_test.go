package asset

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainProvider only claims refs, it doesn't build refs of its own.
type plainProvider struct {
	scheme string
	local  bool
}

func (p *plainProvider) Name() string { return "plain-" + p.scheme }

func (p *plainProvider) CanHandle(ref string) bool {
	if p.local {
		return strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "local://")
	}
	return strings.HasPrefix(ref, p.scheme+"://")
}

func (p *plainProvider) StartTransfer(ctx context.Context, req *Request, out *Handoff) {
	out.Failed(req.ID, "not implemented")
}

func newRegistry() *StorageRegistry {
	r := NewStorageRegistry()
	r.RegisterProvider(&plainProvider{scheme: "http"})
	r.RegisterProvider(&plainProvider{scheme: "local", local: true})
	return r
}

func TestAddStorageDescriptor(t *testing.T) {
	r := newRegistry()
	s, err := r.AddStorage("src=http://h/assets;name=Remote;readonly=true", false)
	require.NoError(t, err)

	assert.Equal(t, "Remote", s.Name)
	assert.Equal(t, "http://h/assets", s.Source)
	assert.True(t, s.ReadOnly)
	assert.Equal(t, TrustAsk, s.Trust)
	assert.True(t, s.Recursive)
	assert.True(t, s.LiveUpdate)
	assert.False(t, s.AutoDiscoverable)
	assert.True(t, s.Replicated)
	assert.Equal(t, "plain-http", s.Provider.Name())
	assert.Same(t, s, r.Default(), "the first storage becomes the default")
	assert.Equal(t, "src=http://h/assets;name=Remote;recursive=true;readonly=true;liveupdate=true;autodiscoverable=false;replicated=true;trusted=ask", s.String())
}

func TestAddStorageTrust(t *testing.T) {
	r := newRegistry()

	local, err := r.AddStorage("/home/user/assets", false)
	require.NoError(t, err)
	assert.Equal(t, "/home/user/assets", local.Name)
	assert.Equal(t, TrustTrusted, local.Trust)

	remote, err := r.AddStorage("src=/srv/assets;name=Net", true)
	require.NoError(t, err)
	assert.Equal(t, TrustAsk, remote.Trust)

	claimed, err := r.AddStorage("src=http://x;name=Claimed;trusted=true", true)
	require.NoError(t, err)
	assert.Equal(t, TrustAsk, claimed.Trust, "network storages can't claim trust")

	untrusted, err := r.AddStorage("src=http://y;name=Bad;trusted=untrusted", false)
	require.NoError(t, err)
	assert.Equal(t, TrustUntrusted, untrusted.Trust)
}

func TestAddStorageErrors(t *testing.T) {
	r := newRegistry()
	for _, descriptor := range []string{
		"src=http://h;recursive=yes",
		"src=http://h;trusted=maybe",
		"src=http://h;default=2",
		"name=NoSource",
		"=broken",
		"",
	} {
		_, err := r.AddStorage(descriptor, false)
		assert.True(t, errors.Is(err, ErrInvalidStorageDescriptor), descriptor)
	}

	_, err := r.AddStorage("ftp://nobody", false)
	assert.True(t, errors.Is(err, ErrNoProviderFound))

	_, err = r.AddStorage("src=http://a;name=Dup", false)
	require.NoError(t, err)
	_, err = r.AddStorage("src=http://b;name=DUP", false)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.Len(t, r.Storages(), 1)
}

func TestUnknownDescriptorKeysAreIgnored(t *testing.T) {
	r := newRegistry()
	s, err := r.AddStorage("src=http://h;name=H;color=blue;RECURSIVE=0", false)
	require.NoError(t, err)
	assert.False(t, s.Recursive)
}

func TestDefaultStorage(t *testing.T) {
	r := newRegistry()
	_, err := r.AddStorage("src=http://a;name=A", false)
	require.NoError(t, err)
	_, err = r.AddStorage("src=http://b;name=B;default=1", false)
	require.NoError(t, err)
	assert.Equal(t, "B", r.Default().Name)

	assert.True(t, r.SetDefault("a"))
	assert.Equal(t, "A", r.Default().Name)
	assert.False(t, r.SetDefault("C"))

	assert.True(t, r.RemoveStorage("A"))
	assert.Nil(t, r.Default())
	assert.False(t, r.RemoveStorage("A"))
}

func TestProviderResolutionOrder(t *testing.T) {
	r := newRegistry()
	_, err := r.AddStorage("src=http://h/assets;name=Remote", false)
	require.NoError(t, err)
	_, err = r.AddStorage("src=/data;name=Disk", false)
	require.NoError(t, err)

	res, err := r.resolve("Disk:textures/a.png")
	require.NoError(t, err)
	assert.Equal(t, "plain-local", res.provider.Name())
	assert.Equal(t, "textures/a.png", res.localName)
	assert.Equal(t, "Disk:textures/a.png", res.ref)

	res, err = r.resolve("http://h/assets/textures/a.png")
	require.NoError(t, err)
	assert.Equal(t, "plain-http", res.provider.Name())
	assert.Equal(t, "textures/a.png", res.localName)
	require.Len(t, res.storages, 1)
	assert.Equal(t, "Remote", res.storages[0].Name)

	res, err = r.resolve("a.png")
	require.NoError(t, err)
	assert.Equal(t, "plain-http", res.provider.Name(), "bare names go to the default storage")
	assert.Equal(t, "Remote:a.png", res.ref)

	p, err := r.ProviderFor("local://a.png")
	require.NoError(t, err)
	assert.Equal(t, "plain-local", p.Name())

	_, err = r.ProviderFor("Missing:a.png")
	assert.True(t, errors.Is(err, ErrNoProviderFound))
	_, err = r.ProviderFor("gopher://a.png")
	assert.True(t, errors.Is(err, ErrNoProviderFound))

	assert.Equal(t, "Remote", r.StorageFor("http://h/assets/x.png").Name)
	assert.Equal(t, "Disk", r.StorageFor("disk:x.png").Name)
	assert.Nil(t, r.StorageFor("gopher://x"))
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	r.Register(TypeFactory{Type: "Texture", Extensions: []string{".png", "JPG"}, New: newDepAsset})
	r.RegisterBundle(BundleTypeFactory{Type: "Pack", Extensions: []string{".pack"}, New: newPackBundle})

	assert.Equal(t, "Texture", r.TypeForRef("http://x/a.PNG"))
	assert.Equal(t, "Texture", r.TypeForRef("a.jpg"))
	assert.Equal(t, BinaryType, r.TypeForRef("a.bin"))
	assert.Equal(t, "Texture", r.TypeForRef("b.pack#a.png"))
	assert.Equal(t, "Pack", r.BundleTypeForRef("b.pack#a.png"))
	assert.Equal(t, "", r.BundleTypeForRef("a.png"))
	assert.True(t, r.IsBundleType("pack"))
	assert.Equal(t, []string{BinaryType, "Texture", "Pack"}, r.Types())

	_, ok := r.Factory("texture")
	assert.True(t, ok)
	assert.Panics(t, func() { r.Register(TypeFactory{Type: "texture"}) })
	assert.Panics(t, func() { r.RegisterBundle(BundleTypeFactory{Type: "Texture"}) })
}
