package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTest(t *testing.T, dir string, opts ...Option) (*Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Unix(1000, 0)}
	opts = append([]Option{WithClock(clk.Now), WithLogger(quiet())}, opts...)
	c, err := Open(dir, opts...)
	require.NoError(t, err)
	return c, clk
}

func TestPutGetRead(t *testing.T) {
	dir := t.TempDir()
	c, _ := openTest(t, dir)

	file, err := c.Put("test://models/a.dae", []byte("mesh"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(file))

	got, ok := c.Get("TEST://models/a.dae")
	require.True(t, ok)
	assert.Equal(t, file, got)
	assert.True(t, c.Contains("test://models/a.dae"))

	data, err := c.Read("test://models/a.dae")
	require.NoError(t, err)
	assert.Equal(t, []byte("mesh"), data)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "test://models/a.dae", entries[0].Ref)
	assert.Equal(t, int64(4), entries[0].Size)
	assert.Equal(t, time.Unix(1000, 0), entries[0].ModTime())
	assert.Equal(t, int64(4), c.Size())

	_, err = c.Read("test://models/b.dae")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadCorruptEntry(t *testing.T) {
	c, _ := openTest(t, t.TempDir())
	file, err := c.Put("test://a.png", []byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, []byte("garbage"), 0644))

	_, err = c.Read("test://a.png")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, c.Contains("test://a.png"))
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}

func TestReadMissingFile(t *testing.T) {
	c, _ := openTest(t, t.TempDir())
	file, err := c.Put("test://a.png", []byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(file))

	_, err = c.Read("test://a.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Contains("test://a.png"))
}

func TestRemove(t *testing.T) {
	c, _ := openTest(t, t.TempDir())
	file, err := c.Put("test://a.png", []byte("pixels"))
	require.NoError(t, err)

	assert.True(t, c.Remove("test://a.png"))
	assert.False(t, c.Remove("test://a.png"))
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}

func TestEvictByAge(t *testing.T) {
	c, clk := openTest(t, t.TempDir(), WithMaxAge(time.Hour))
	_, err := c.Put("test://old.png", []byte("old"))
	require.NoError(t, err)
	clk.now = clk.now.Add(2 * time.Hour)
	_, err = c.Put("test://new.png", []byte("new"))
	require.NoError(t, err)

	_, ok := c.Get("test://old.png")
	assert.False(t, ok, "stale entries are not served")
	assert.True(t, c.Contains("test://old.png"))

	assert.Equal(t, []string{"test://old.png"}, c.Evict(clk.now))
	assert.False(t, c.Contains("test://old.png"))
	_, ok = c.Get("test://new.png")
	assert.True(t, ok)
}

func TestEvictBySize(t *testing.T) {
	c, clk := openTest(t, t.TempDir(), WithMaxSize(10))
	_, err := c.Put("test://b.png", []byte("bbbbbb"))
	require.NoError(t, err)
	clk.now = clk.now.Add(time.Second)
	_, err = c.Put("test://a.png", []byte("aaaaaa"))
	require.NoError(t, err)

	assert.Equal(t, []string{"test://b.png"}, c.Evict(clk.now))
	assert.Equal(t, int64(6), c.Size())
	assert.Empty(t, c.Evict(clk.now))
}

func TestEvictWritesIndexOnce(t *testing.T) {
	dir := t.TempDir()
	c, clk := openTest(t, dir, WithMaxAge(time.Minute))
	for _, ref := range []string{"test://a.png", "test://b.png", "test://c.png"} {
		_, err := c.Put(ref, []byte(ref))
		require.NoError(t, err)
	}

	writes := 0
	write := writeIndex
	writeIndex = func(name string, data []byte, perm os.FileMode) error {
		writes++
		return write(name, data, perm)
	}
	t.Cleanup(func() { writeIndex = write })

	clk.now = clk.now.Add(time.Hour)
	assert.Len(t, c.Evict(clk.now), 3)
	assert.Equal(t, 1, writes)

	c, _ = openTest(t, dir)
	assert.Empty(t, c.Entries())
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c, _ := openTest(t, dir)
	_, err := c.Put("test://a.png", []byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Put("test://b.png", nil)
	assert.ErrorIs(t, err, ErrClosed)

	c, _ = openTest(t, dir)
	data, err := c.Read("test://a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)
	assert.Equal(t, time.Unix(1000, 0), c.Entries()[0].ModTime())
}

func TestRebuildFromFileNames(t *testing.T) {
	dir := t.TempDir()
	c, _ := openTest(t, dir)
	_, err := c.Put("test://models/a.dae", []byte("mesh"))
	require.NoError(t, err)
	_, err = c.Put("Disk:textures/b.png", []byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("not cbor"), 0644))

	c, _ = openTest(t, dir)
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Disk:textures/b.png", entries[0].Ref)
	assert.Equal(t, "test://models/a.dae", entries[1].Ref)

	data, err := c.Read("test://models/a.dae")
	require.NoError(t, err)
	assert.Equal(t, []byte("mesh"), data)
}

func TestIsCacheFile(t *testing.T) {
	assert.False(t, isCacheFile(IndexFile))
	assert.False(t, isCacheFile("$put-1234"))
	assert.True(t, isCacheFile("$3a.png"))
	assert.True(t, isCacheFile("a.png"))
}
