package local

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/asset/assettest"
)

func writeTestFile(t *testing.T, root, name, content string) string {
	t.Helper()
	file := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))
	return file
}

func newEngine(t *testing.T, storages ...string) *asset.Engine {
	t.Helper()
	e, err := asset.NewEngine(asset.Configuration{Storages: storages},
		asset.WithLogger(assettest.QuietLogger()),
		asset.WithProvider(New(WithLogger(assettest.QuietLogger()))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func fetch(t *testing.T, e *asset.Engine, ref string) *asset.Transfer {
	t.Helper()
	tr, err := e.RequestAsset(ref, "", false)
	require.NoError(t, err)
	assettest.Pump(t, e, tr)
	return tr
}

func TestFetchFromNamedStorage(t *testing.T) {
	root := t.TempDir()
	file := writeTestFile(t, root, "textures/a.png", "pixels")
	e := newEngine(t, "src="+root+";name=Disk")

	tr := fetch(t, e, "Disk:textures/a.png")
	require.Equal(t, asset.Completed, tr.State())
	bin, ok := tr.Asset().(*asset.Binary)
	require.True(t, ok)
	assert.Equal(t, []byte("pixels"), bin.Data)
	assert.Equal(t, file, bin.DiskSource())
}

func TestFetchSearchesRecursiveStorages(t *testing.T) {
	flat := t.TempDir()
	deep := t.TempDir()
	file := writeTestFile(t, deep, "models/ships/hull.bin", "hull")
	writeTestFile(t, flat, "other.bin", "other")
	e := newEngine(t, "src="+flat+";name=Flat;recursive=false", "src="+deep+";name=Deep")

	tr := fetch(t, e, "local://ships/hull.bin")
	require.Equal(t, asset.Completed, tr.State())
	assert.Equal(t, file, tr.DiskSource())

	tr = fetch(t, e, "local://other.bin")
	assert.Equal(t, asset.Completed, tr.State())
}

func TestFetchMissingFile(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "sub/hidden.bin", "x")
	e := newEngine(t, "src="+root+";name=Disk;recursive=0")

	tr := fetch(t, e, "local://hidden.bin")
	require.Equal(t, asset.Failed, tr.State())
	var failed *asset.TransferFailedError
	assert.True(t, errors.As(tr.Err(), &failed))
}

func TestFetchAbsolutePath(t *testing.T) {
	root := t.TempDir()
	file := writeTestFile(t, root, "abs.bin", "abs")
	e := newEngine(t, "src="+root+";name=Disk")

	tr := fetch(t, e, file)
	require.Equal(t, asset.Completed, tr.State())
	assert.Equal(t, []byte("abs"), tr.RawData())
}

func TestUploadAndDelete(t *testing.T) {
	root := t.TempDir()
	e := newEngine(t, "src="+root+";name=Disk")

	u, err := e.UploadAssetFromFileInMemory([]byte("fresh"), "Disk", "new/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "local://new/b.bin", u.Ref())
	assettest.PumpUpload(t, e, u)
	require.NoError(t, u.Err())

	data, err := os.ReadFile(filepath.Join(root, "new", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	tr := fetch(t, e, "local://new/b.bin")
	require.Equal(t, asset.Completed, tr.State())

	var deleted []string
	e.Events.AssetDeletedFromStorage.Connect(func(ref string) { deleted = append(deleted, ref) })
	require.NoError(t, e.DeleteAssetFromStorage("local://new/b.bin"))
	assettest.PumpUntil(t, e, func() bool { return len(deleted) > 0 })

	assert.Equal(t, []string{"local://new/b.bin"}, deleted)
	_, err = os.Stat(filepath.Join(root, "new", "b.bin"))
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, e.FindAsset("local://new/b.bin"))
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.bin", "a")
	writeTestFile(t, root, "sub/b.bin", "b")

	p := New(WithLogger(assettest.QuietLogger()))
	r := asset.NewStorageRegistry()
	r.RegisterProvider(p)

	for _, tc := range []struct {
		descriptor string
		want       []string
	}{
		{"src=" + root + ";name=All", []string{"local://a.bin", "local://sub/b.bin"}},
		{"src=" + root + ";name=Top;recursive=false", []string{"local://a.bin"}},
	} {
		s, err := r.AddStorage(tc.descriptor, false)
		require.NoError(t, err)
		var refs []string
		require.NoError(t, p.Walk(s, func(ref string) { refs = append(refs, ref) }))
		sort.Strings(refs)
		assert.Equal(t, tc.want, refs, tc.descriptor)
	}
}

func TestCanHandle(t *testing.T) {
	p := New()
	assert.True(t, p.CanHandle("/home/user/a.png"))
	assert.True(t, p.CanHandle("local://a.png"))
	assert.True(t, p.CanHandle("file:///a.png"))
	assert.False(t, p.CanHandle("http://host/a.png"))
	assert.False(t, p.CanHandle("a.png"))
}
