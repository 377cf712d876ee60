// Package local serves assets from the local filesystem. It handles
// absolute paths and local:// refs. A local:// ref is looked up in the
// roots of the local storages, recursive storages are searched through
// their subdirectories as well.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/assetref"
)

// Scheme is the protocol of local storage urls.
const Scheme = "local"

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider reads and writes files. Each operation runs on its own
// goroutine.
type Provider struct {
	log log.FieldLogger
}

// New creates the provider.
func New(opts ...Option) *Provider {
	p := &Provider{log: log.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements interface
func (p *Provider) Name() string { return "local" }

// CanHandle implements interface
func (p *Provider) CanHandle(ref string) bool {
	switch assetref.Parse(ref).Type {
	case assetref.LocalPath, assetref.LocalURL:
		return true
	}
	return false
}

// FullRef implements interface
func (p *Provider) FullRef(s *asset.Storage, localName string) string {
	return Scheme + "://" + localName
}

// Root returns the directory a local storage points to.
func Root(s *asset.Storage) string {
	return filepath.FromSlash(assetref.Parse(s.Source).PathFilename)
}

// StartTransfer implements interface
func (p *Provider) StartTransfer(ctx context.Context, req *asset.Request, out *asset.Handoff) {
	go func() {
		file, err := p.locate(req)
		if err != nil {
			out.Failed(req.ID, err.Error())
			return
		}
		data, err := os.ReadFile(file)
		if ctx.Err() != nil {
			out.Aborted(req.ID)
			return
		}
		if err != nil {
			out.Failed(req.ID, err.Error())
			return
		}
		p.log.WithFields(log.Fields{"ref": req.Ref, "file": file}).Debug("read asset file")
		out.Completed(req.ID, data, file)
	}()
}

// StartUpload implements interface
func (p *Provider) StartUpload(ctx context.Context, req *asset.UploadRequest, out *asset.Handoff) {
	go func() {
		file := filepath.Join(Root(req.Storage), filepath.FromSlash(req.LocalName))
		if err := writeFile(file, req.Data); err != nil {
			out.Failed(req.ID, err.Error())
			return
		}
		p.log.WithFields(log.Fields{"ref": req.Ref, "file": file}).Debug("wrote asset file")
		out.Completed(req.ID, nil, file)
	}()
}

// StartDelete implements interface
func (p *Provider) StartDelete(ctx context.Context, req *asset.DeleteRequest, out *asset.Handoff) {
	go func() {
		file, err := p.locate(&asset.Request{
			Ref:       req.Ref,
			Storages:  []*asset.Storage{req.Storage},
			LocalName: req.LocalName,
		})
		if err != nil {
			out.Failed(req.ID, err.Error())
			return
		}
		if err := os.Remove(file); err != nil {
			out.Failed(req.ID, err.Error())
			return
		}
		out.Completed(req.ID, nil, "")
	}()
}

// Walk calls fn with the ref of every file in the storage. Only the
// storage root is listed unless the storage is recursive.
func (p *Provider) Walk(s *asset.Storage, fn func(ref string)) error {
	root := Root(s)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !s.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fn(s.FullRef(filepath.ToSlash(rel)))
		return nil
	})
}

// locate finds the file holding req.Ref.
func (p *Provider) locate(req *asset.Request) (string, error) {
	parsed := assetref.Parse(req.Ref)
	if parsed.Type == assetref.LocalPath {
		return existing(filepath.FromSlash(parsed.PathFilename))
	}

	name := filepath.FromSlash(req.LocalName)
	if filepath.IsAbs(name) {
		return existing(name)
	}
	for _, s := range req.Storages {
		if file, err := existing(filepath.Join(Root(s), name)); err == nil {
			return file, nil
		}
	}
	for _, s := range req.Storages {
		if !s.Recursive {
			continue
		}
		if file, ok := search(Root(s), req.LocalName); ok {
			return file, nil
		}
	}
	return "", fmt.Errorf("%s: %w", req.Ref, os.ErrNotExist)
}

func existing(file string) (string, error) {
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", file)
	}
	return file, nil
}

// search walks root for a file whose path ends with name.
func search(root, name string) (string, bool) {
	suffix := "/" + strings.ToLower(name)
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(filepath.ToSlash(path)), suffix) {
			found = path
			return errStop
		}
		return nil
	})
	return found, errors.Is(err, errStop)
}

var errStop = errors.New("stop")

func writeFile(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
