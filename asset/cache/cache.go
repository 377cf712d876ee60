// Package cache keeps fetched asset bytes on disk, independent of the
// lifetime of the loaded assets. Each ref maps to one file in the cache
// directory, named by the reversible assetref.Sanitize scheme, and an
// index with sizes, write times and blake3 digests is kept next to them.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/devblok/koruasset/assetref"
)

// IndexFile is the name of the index inside the cache directory.
// Sanitized names never hold a '$' that isn't followed by a digit, so
// the index and temporary files can't collide with cached files.
const IndexFile = "$index.cbor"

const tempPattern = "$put-*"

// package errors
var (
	ErrNotFound = errors.New("no cache entry for the ref")
	ErrCorrupt  = errors.New("cache entry does not match its digest")
	ErrClosed   = errors.New("cache is closed")
)

// Entry describes one cached file.
type Entry struct {
	Ref      string   `cbor:"1,keyasint"`
	File     string   `cbor:"2,keyasint"`
	Size     int64    `cbor:"3,keyasint"`
	Modified int64    `cbor:"4,keyasint"`
	Digest   [32]byte `cbor:"5,keyasint"`
}

// ModTime returns the last write time of the entry.
func (e Entry) ModTime() time.Time {
	return time.Unix(0, e.Modified)
}

type index struct {
	Version int     `cbor:"1,keyasint"`
	Entries []Entry `cbor:"2,keyasint"`
}

const indexVersion = 1

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge sets how long entries are fresh. Zero keeps them fresh
// forever.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithMaxSize caps the total size of the cached files. Zero means
// unbounded.
func WithMaxSize(n int64) Option {
	return func(c *Cache) { c.maxSize = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache is the disk cache. It's not safe for concurrent use, the asset
// engine owns it.
type Cache struct {
	dir     string
	maxAge  time.Duration
	maxSize int64
	now     func() time.Time
	log     log.FieldLogger

	entries map[string]*Entry
	closed  bool
}

// Open activates the cache in dir, creating the directory when needed.
// The index is read when present, otherwise it's rebuilt from the file
// names in dir.
func Open(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		dir:     dir,
		now:     time.Now,
		log:     log.StandardLogger(),
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := c.load(); err != nil {
		c.log.WithError(err).WithField("dir", dir).Warn("cache index unreadable, rebuilding")
		if err := c.rebuild(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Get returns the file holding the bytes of ref, if there is a fresh
// entry for it.
func (c *Cache) Get(ref string) (string, bool) {
	e, ok := c.entries[assetref.Key(ref)]
	if !ok || !c.fresh(e) {
		return "", false
	}
	return filepath.Join(c.dir, e.File), true
}

// Contains reports whether ref has an entry, fresh or not.
func (c *Cache) Contains(ref string) bool {
	_, ok := c.entries[assetref.Key(ref)]
	return ok
}

// Put stores data as the bytes of ref and returns the file it was
// written to.
func (c *Cache) Put(ref string, data []byte) (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	canonical := assetref.Canonicalize(ref)
	key := assetref.Key(ref)
	file := assetref.Sanitize(canonical)

	if old, ok := c.entries[key]; ok && old.File != file {
		os.Remove(filepath.Join(c.dir, old.File))
	}

	full := filepath.Join(c.dir, file)
	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	c.entries[key] = &Entry{
		Ref:      canonical,
		File:     file,
		Size:     int64(len(data)),
		Modified: c.now().UnixNano(),
		Digest:   blake3.Sum256(data),
	}
	return full, c.save()
}

// Read returns the cached bytes of ref after checking them against the
// recorded digest. Corrupt entries are removed.
func (c *Cache) Read(ref string) ([]byte, error) {
	key := assetref.Key(ref)
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(c.dir, e.File))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(c.entries, key)
			c.save()
			return nil, ErrNotFound
		}
		return nil, err
	}
	if blake3.Sum256(data) != e.Digest {
		c.log.WithField("ref", e.Ref).Warn("cache entry corrupt, removing")
		c.Remove(ref)
		return nil, ErrCorrupt
	}
	return data, nil
}

// Remove deletes the entry of ref and its file. Returns false when there
// was no entry.
func (c *Cache) Remove(ref string) bool {
	if !c.drop(assetref.Key(ref)) {
		return false
	}
	c.saveOrWarn()
	return true
}

// drop deletes an entry and its file without writing the index.
func (c *Cache) drop(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if err := os.Remove(filepath.Join(c.dir, e.File)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.WithError(err).WithField("ref", e.Ref).Warn("failed to remove cache file")
	}
	delete(c.entries, key)
	return true
}

// Entries returns all entries sorted by ref.
func (c *Cache) Entries() []Entry {
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ref < entries[j].Ref })
	return entries
}

// Size returns the total size of the cached files.
func (c *Cache) Size() int64 {
	var n int64
	for _, e := range c.entries {
		n += e.Size
	}
	return n
}

// Evict removes expired entries, then the oldest entries until the cache
// fits its size cap. It returns the refs that were removed.
func (c *Cache) Evict(now time.Time) []string {
	var removed []string
	if c.maxAge > 0 {
		for _, e := range c.Entries() {
			if now.Sub(e.ModTime()) > c.maxAge {
				c.drop(assetref.Key(e.Ref))
				removed = append(removed, e.Ref)
			}
		}
	}

	if c.maxSize > 0 && c.Size() > c.maxSize {
		entries := c.Entries()
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Modified < entries[j].Modified })
		size := c.Size()
		for _, e := range entries {
			if size <= c.maxSize {
				break
			}
			c.drop(assetref.Key(e.Ref))
			size -= e.Size
			removed = append(removed, e.Ref)
		}
	}

	if len(removed) > 0 {
		c.saveOrWarn()
		c.log.WithField("count", len(removed)).Debug("evicted cache entries")
	}
	return removed
}

// Close writes the index and deactivates the cache.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	err := c.save()
	c.closed = true
	return err
}

func (c *Cache) fresh(e *Entry) bool {
	return c.maxAge <= 0 || c.now().Sub(e.ModTime()) <= c.maxAge
}

func (c *Cache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, IndexFile))
	if err != nil {
		return err
	}
	var idx index
	if err := cbor.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.Version != indexVersion {
		return fmt.Errorf("unsupported cache index version %d", idx.Version)
	}
	for i := range idx.Entries {
		e := idx.Entries[i]
		if _, err := os.Stat(filepath.Join(c.dir, e.File)); err != nil {
			continue
		}
		c.entries[assetref.Key(e.Ref)] = &e
	}
	return nil
}

// rebuild recovers the entries from the sanitized file names.
func (c *Cache) rebuild() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !isCacheFile(f.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		ref := assetref.Desanitize(f.Name())
		c.entries[assetref.Key(ref)] = &Entry{
			Ref:      ref,
			File:     f.Name(),
			Size:     int64(len(data)),
			Modified: info.ModTime().UnixNano(),
			Digest:   blake3.Sum256(data),
		}
	}
	return c.save()
}

// writeIndex writes the encoded index file.
var writeIndex = os.WriteFile

func (c *Cache) save() error {
	idx := index{Version: indexVersion, Entries: c.Entries()}
	data, err := encMode.Marshal(idx)
	if err != nil {
		return err
	}
	return writeIndex(filepath.Join(c.dir, IndexFile), data, 0644)
}

func (c *Cache) saveOrWarn() {
	if err := c.save(); err != nil {
		c.log.WithError(err).Warn("failed to write cache index")
	}
}

func isCacheFile(name string) bool {
	return !(len(name) > 1 && name[0] == '$' && (name[1] < '0' || name[1] > '9'))
}
