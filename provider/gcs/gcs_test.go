package gcs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/asset/assettest"
)

type memoryObjects struct {
	mutex   sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjects) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return data, nil
}

func (m *memoryObjects) Write(ctx context.Context, bucket, object string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.objects[bucket+"/"+object] = data
	return nil
}

func (m *memoryObjects) Delete(ctx context.Context, bucket, object string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.objects[bucket+"/"+object]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(m.objects, bucket+"/"+object)
	return nil
}

func (m *memoryObjects) has(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.objects[name]
	return ok
}

func newEngine(t *testing.T) (*asset.Engine, *memoryObjects) {
	t.Helper()
	objects := &memoryObjects{objects: map[string][]byte{
		"levels/one/map.bin": []byte("tiles"),
	}}
	e, err := asset.NewEngine(asset.Configuration{Storages: []string{"src=gs://levels/one;name=Levels"}},
		asset.WithLogger(assettest.QuietLogger()),
		asset.WithProvider(NewWithObjects(objects, WithLogger(assettest.QuietLogger()))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, objects
}

func TestFetch(t *testing.T) {
	e, _ := newEngine(t)

	for _, ref := range []string{"gs://levels/one/map.bin", "Levels:map.bin", "map.bin"} {
		e.ForgetAllAssets()
		tr, err := e.RequestAsset(ref, "", false)
		require.NoError(t, err)
		assettest.Pump(t, e, tr)
		require.Equal(t, asset.Completed, tr.State(), ref)
		assert.Equal(t, []byte("tiles"), tr.RawData(), ref)
	}
}

func TestFetchMissingObject(t *testing.T) {
	e, _ := newEngine(t)

	tr, err := e.RequestAsset("gs://levels/one/none.bin", "", false)
	require.NoError(t, err)
	assettest.Pump(t, e, tr)
	var failed *asset.TransferFailedError
	require.True(t, errors.As(tr.Err(), &failed))
	assert.Equal(t, "object does not exist", failed.Reason)
}

func TestUploadAndDelete(t *testing.T) {
	e, objects := newEngine(t)

	u, err := e.UploadAssetFromFileInMemory([]byte("more tiles"), "", "two.bin")
	require.NoError(t, err)
	assert.Equal(t, "gs://levels/one/two.bin", u.Ref())
	assettest.PumpUpload(t, e, u)
	require.NoError(t, u.Err())
	assert.True(t, objects.has("levels/one/two.bin"))

	var deleted []string
	e.Events.AssetDeletedFromStorage.Connect(func(ref string) { deleted = append(deleted, ref) })
	require.NoError(t, e.DeleteAssetFromStorage("gs://levels/one/two.bin"))
	assettest.PumpUntil(t, e, func() bool { return len(deleted) > 0 })
	assert.False(t, objects.has("levels/one/two.bin"))
}

func TestSplitRef(t *testing.T) {
	bucket, object, err := SplitRef("gs://levels/one/map.bin")
	require.NoError(t, err)
	assert.Equal(t, "levels", bucket)
	assert.Equal(t, "one/map.bin", object)

	_, _, err = SplitRef("s3://levels/one")
	assert.Error(t, err)
}
