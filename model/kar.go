package model

import (
	"bytes"
	"io"

	"golang.org/x/exp/mmap"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/utility/kar"
)

// KarBundle exposes the files of a kar archive as sub assets. When the
// archive has a file on disk it's memory mapped instead of kept in memory.
type KarBundle struct {
	name       string
	diskSource string

	archive *kar.Archive
	closer  io.Closer
}

// NewKarBundle is the factory for kar bundles.
func NewKarBundle(name string) asset.Bundle {
	return &KarBundle{name: name}
}

// Name implements interface
func (b *KarBundle) Name() string { return b.name }

// Type implements interface
func (b *KarBundle) Type() string { return KarBundleType }

// IsLoaded implements interface
func (b *KarBundle) IsLoaded() bool { return b.archive != nil }

// DiskSource implements interface
func (b *KarBundle) DiskSource() string { return b.diskSource }

// DeserializeFromBytes implements interface
func (b *KarBundle) DeserializeFromBytes(data []byte, diskSource string) error {
	b.Unload()

	var (
		r      io.ReaderAt = bytes.NewReader(data)
		closer io.Closer
	)
	if diskSource != "" {
		m, err := mmap.Open(diskSource)
		if err == nil {
			r, closer = m, m
		}
	}

	archive, err := kar.Open(r)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return err
	}
	b.archive = archive
	b.closer = closer
	b.diskSource = diskSource
	return nil
}

// SubAssetNames implements interface
func (b *KarBundle) SubAssetNames() []string {
	if b.archive == nil {
		return nil
	}
	return b.archive.Names()
}

// SubAssetData implements interface
func (b *KarBundle) SubAssetData(name string) ([]byte, error) {
	if b.archive == nil {
		return nil, ErrNotLoaded
	}
	return b.archive.ReadAll(name)
}

// Unload implements interface
func (b *KarBundle) Unload() {
	if b.closer != nil {
		b.closer.Close()
	}
	b.archive = nil
	b.closer = nil
}
