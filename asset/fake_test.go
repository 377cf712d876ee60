package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves refs of one scheme from memory. In manual mode
// requests are held until released.
type fakeProvider struct {
	scheme string
	files  map[string][]byte

	manual      bool
	holdUploads bool
	failDelete  string

	out     *Handoff
	pending []*Request
	fetched []string
	uploads []*UploadRequest
	deletes []string
}

func newFakeProvider(scheme string) *fakeProvider {
	return &fakeProvider{scheme: scheme, files: make(map[string][]byte)}
}

func (p *fakeProvider) Name() string { return "fake-" + p.scheme }

func (p *fakeProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(strings.ToLower(ref), p.scheme+"://")
}

func (p *fakeProvider) FullRef(s *Storage, localName string) string {
	return p.scheme + "://" + localName
}

func (p *fakeProvider) StartTransfer(ctx context.Context, req *Request, out *Handoff) {
	p.out = out
	p.fetched = append(p.fetched, req.Ref)
	if p.manual {
		p.pending = append(p.pending, req)
		return
	}
	p.respond(req)
}

func (p *fakeProvider) respond(req *Request) {
	data, ok := p.files[req.Ref]
	if !ok {
		p.out.Failed(req.ID, "not found")
		return
	}
	p.out.Completed(req.ID, data, "")
}

func (p *fakeProvider) release(t *testing.T, ref string) {
	t.Helper()
	for i, req := range p.pending {
		if req.Ref == ref {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.respond(req)
			return
		}
	}
	t.Fatalf("no pending request for %s", ref)
}

func (p *fakeProvider) StartUpload(ctx context.Context, req *UploadRequest, out *Handoff) {
	p.out = out
	p.uploads = append(p.uploads, req)
	if !p.holdUploads {
		p.finishUpload(req)
	}
}

func (p *fakeProvider) finishUpload(req *UploadRequest) {
	p.files[req.Ref] = req.Data
	p.out.Completed(req.ID, nil, "")
}

func (p *fakeProvider) StartDelete(ctx context.Context, req *DeleteRequest, out *Handoff) {
	p.deletes = append(p.deletes, req.Ref)
	if p.failDelete != "" {
		out.Failed(req.ID, p.failDelete)
		return
	}
	delete(p.files, req.Ref)
	out.Completed(req.ID, nil, "")
}

// depAsset reads one dependency ref per line. Data starting with '!'
// fails to deserialize.
type depAsset struct {
	Base
	body string
}

func newDepAsset(name string) Asset {
	return &depAsset{Base: NewBase("Dep", name)}
}

func (a *depAsset) DeserializeFromBytes(data []byte) ([]string, error) {
	if strings.HasPrefix(string(data), "!") {
		return nil, errors.New("broken dependency list")
	}
	var deps []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			deps = append(deps, line)
		}
	}
	a.body = string(data)
	a.SetLoaded(deps)
	return deps, nil
}

func (a *depAsset) Unload() {
	a.body = ""
	a.ClearLoaded()
}

// packBundle holds "name=content" lines, '|' in content stands for a
// newline.
type packBundle struct {
	name    string
	disk    string
	entries map[string][]byte
}

func newPackBundle(name string) Bundle {
	return &packBundle{name: name}
}

func (b *packBundle) Name() string       { return b.name }
func (b *packBundle) Type() string       { return "Pack" }
func (b *packBundle) IsLoaded() bool     { return b.entries != nil }
func (b *packBundle) DiskSource() string { return b.disk }
func (b *packBundle) Unload()            { b.entries = nil }

func (b *packBundle) DeserializeFromBytes(data []byte, diskSource string) error {
	entries := make(map[string][]byte)
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("bad pack line %q", line)
		}
		entries[kv[0]] = []byte(strings.ReplaceAll(kv[1], "|", "\n"))
	}
	b.entries = entries
	b.disk = diskSource
	return nil
}

func (b *packBundle) SubAssetNames() []string {
	var names []string
	for name := range b.entries {
		names = append(names, name)
	}
	return names
}

func (b *packBundle) SubAssetData(name string) ([]byte, error) {
	data, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("no sub asset %s", name)
	}
	return data, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, cfg Configuration, opts ...Option) (*Engine, *fakeProvider) {
	t.Helper()
	p := newFakeProvider("test")
	opts = append([]Option{WithLogger(quietLogger()), WithProvider(p)}, opts...)
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)

	e.Types().Register(TypeFactory{Type: "Dep", Extensions: []string{".dep"}, New: newDepAsset})
	e.Types().Register(TypeFactory{Type: "Texture", Extensions: []string{".png"}, New: func(name string) Asset {
		return &Binary{Base: NewBase("Texture", name)}
	}})
	e.Types().RegisterBundle(BundleTypeFactory{Type: "Pack", Extensions: []string{".pack"}, New: newPackBundle})

	t.Cleanup(func() { e.Close() })
	return e, p
}

// observed records the notifications of one transfer.
type observed struct {
	loaded []Asset
	failed []error
}

func observe(t *Transfer) *observed {
	o := &observed{}
	t.OnLoaded(func(a Asset) { o.loaded = append(o.loaded, a) })
	t.OnFailed(func(err error) { o.failed = append(o.failed, err) })
	return o
}

func (o *observed) count() int { return len(o.loaded) + len(o.failed) }
