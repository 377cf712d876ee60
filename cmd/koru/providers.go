package main

import (
	"context"
	"io"

	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/provider/embedded"
	"github.com/devblok/koruasset/provider/gcs"
	"github.com/devblok/koruasset/provider/local"
	"github.com/devblok/koruasset/provider/s3"
	"github.com/devblok/koruasset/provider/web"
)

// builtinStorage serves the assets compiled into the binary.
const builtinStorage = "src=embedded://;name=Builtin;readonly=true;autodiscoverable=true"

type providerFlags struct {
	webRate    float64
	webBurst   int
	userAgent  string
	s3Region   string
	s3Endpoint string
	enableS3   bool
	enableGCS  bool
	noBuiltin  bool
}

// newProviders creates the providers in the order the engine consults
// them. The returned closers are closed on exit.
func newProviders(ctx context.Context, flags providerFlags, logger log.FieldLogger) ([]asset.Provider, []io.Closer, error) {
	limit := rate.Inf
	if flags.webRate > 0 {
		limit = rate.Limit(flags.webRate)
	}

	providers := []asset.Provider{
		local.New(local.WithLogger(logger)),
		web.New(
			web.WithLogger(logger),
			web.WithRateLimit(limit, flags.webBurst),
			web.WithUserAgent(flags.userAgent),
		),
	}
	if !flags.noBuiltin {
		providers = append(providers, embedded.New(packr.NewBox("./builtin"), embedded.WithLogger(logger)))
	}

	var closers []io.Closer
	if flags.enableS3 || flags.s3Region != "" || flags.s3Endpoint != "" {
		p, err := s3.New(ctx, s3.Config{Region: flags.s3Region, Endpoint: flags.s3Endpoint}, s3.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
	}
	if flags.enableGCS {
		p, err := gcs.New(ctx, gcs.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
		closers = append(closers, p)
	}
	return providers, closers, nil
}

// discover reports the contents of autodiscoverable storages to the
// engine.
func discover(e *asset.Engine, logger log.FieldLogger) {
	for _, s := range e.Storages().Storages() {
		if !s.AutoDiscoverable {
			continue
		}
		found := 0
		report := func(ref string) {
			if err := e.HandleAssetDiscovery(ref, ""); err != nil {
				logger.WithError(err).WithField("ref", ref).Debug("discovered asset ignored")
				return
			}
			found++
		}

		switch p := s.Provider.(type) {
		case *local.Provider:
			if err := p.Walk(s, report); err != nil {
				logger.WithError(err).WithField("storage", s.Name).Warn("storage walk failed")
			}
		case *embedded.Provider:
			for _, ref := range p.Refs() {
				report(ref)
			}
		default:
			logger.WithField("storage", s.Name).Debug("provider can't list storage contents")
			continue
		}
		logger.WithFields(log.Fields{"storage": s.Name, "assets": found}).Info("storage discovered")
	}
}
