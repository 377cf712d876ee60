// Package embedded serves assets packed into the binary with packr.
// Refs take the form embedded://path/in/box. The provider is read only.
package embedded

import (
	"context"
	"sort"

	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/assetref"
)

// Scheme is the protocol of embedded refs.
const Scheme = "embedded"

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider reads from a packr box. Lookups are served synchronously,
// the box is in memory or next to the source in development builds.
type Provider struct {
	box packr.Box
	log log.FieldLogger
}

// New creates a provider over box.
func New(box packr.Box, opts ...Option) *Provider {
	p := &Provider{box: box, log: log.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements interface
func (p *Provider) Name() string { return "embedded" }

// CanHandle implements interface
func (p *Provider) CanHandle(ref string) bool {
	return assetref.Parse(ref).Protocol == Scheme
}

// FullRef implements interface
func (p *Provider) FullRef(s *asset.Storage, localName string) string {
	return Scheme + "://" + localName
}

// StartTransfer implements interface
func (p *Provider) StartTransfer(ctx context.Context, req *asset.Request, out *asset.Handoff) {
	name := req.LocalName
	if name == "" {
		name = assetref.Parse(req.Ref).PathFilename
	}
	data, err := p.box.Find(name)
	if err != nil {
		p.log.WithError(err).WithField("ref", req.Ref).Debug("embedded asset not found")
		out.Failed(req.ID, err.Error())
		return
	}
	out.Completed(req.ID, data, "")
}

// Refs returns the refs of every file in the box, sorted.
func (p *Provider) Refs() []string {
	var refs []string
	for _, name := range p.box.List() {
		refs = append(refs, Scheme+"://"+name)
	}
	sort.Strings(refs)
	return refs
}
