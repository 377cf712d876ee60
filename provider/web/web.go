// Package web fetches assets over HTTP(S). Uploads are sent with PUT and
// deletes with DELETE to the asset url.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/assetref"
)

// DefaultTimeout bounds a single request when no client is supplied.
const DefaultTimeout = 60 * time.Second

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// WithClient replaces the http client.
func WithClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithRateLimit caps the number of requests per second sent to all
// hosts together.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(p *Provider) { p.limiter = rate.NewLimiter(r, burst) }
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(p *Provider) { p.userAgent = ua }
}

// Provider is the http and https provider.
type Provider struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       log.FieldLogger
}

// New creates the provider. Requests are not throttled unless
// WithRateLimit is given.
func New(opts ...Option) *Provider {
	p := &Provider{
		client:    &http.Client{Timeout: DefaultTimeout},
		limiter:   rate.NewLimiter(rate.Inf, 0),
		userAgent: "koru",
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements interface
func (p *Provider) Name() string { return "web" }

// CanHandle implements interface
func (p *Provider) CanHandle(ref string) bool {
	switch assetref.Parse(ref).Protocol {
	case "http", "https":
		return true
	}
	return false
}

// FullRef implements interface
func (p *Provider) FullRef(s *asset.Storage, localName string) string {
	return strings.TrimSuffix(s.Source, "/") + "/" + localName
}

// StartTransfer implements interface
func (p *Provider) StartTransfer(ctx context.Context, req *asset.Request, out *asset.Handoff) {
	res := p.limiter.Reserve()
	go func() {
		var storage *asset.Storage
		if len(req.Storages) > 0 {
			storage = req.Storages[0]
		}
		data, err := p.do(ctx, res, http.MethodGet, p.url(req.Ref, storage, req.LocalName), nil)
		if err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, data, "")
	}()
}

// StartUpload implements interface
func (p *Provider) StartUpload(ctx context.Context, req *asset.UploadRequest, out *asset.Handoff) {
	res := p.limiter.Reserve()
	go func() {
		if _, err := p.do(ctx, res, http.MethodPut, p.url(req.Ref, req.Storage, req.LocalName), req.Data); err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, nil, "")
	}()
}

// StartDelete implements interface
func (p *Provider) StartDelete(ctx context.Context, req *asset.DeleteRequest, out *asset.Handoff) {
	res := p.limiter.Reserve()
	go func() {
		if _, err := p.do(ctx, res, http.MethodDelete, p.url(req.Ref, req.Storage, req.LocalName), nil); err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, nil, "")
	}()
}

// url returns the address of ref. Refs through a named storage are
// rebuilt from the storage source.
func (p *Provider) url(ref string, s *asset.Storage, localName string) string {
	if p.CanHandle(ref) || s == nil {
		return ref
	}
	return p.FullRef(s, localName)
}

func (p *Provider) report(ctx context.Context, out *asset.Handoff, id, ref string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		out.Aborted(id)
		return
	}
	p.log.WithError(err).WithField("ref", ref).Debug("http request failed")
	out.Failed(id, err.Error())
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// wait blocks until the reservation is due. Reservations are taken when
// a request is started, so requests pass the limiter in that order.
func wait(ctx context.Context, res *rate.Reservation) error {
	if !res.OK() {
		return errors.New("request exceeds the rate limiter burst")
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

func (p *Provider) do(ctx context.Context, res *rate.Reservation, method, url string, body []byte) ([]byte, error) {
	if err := wait(ctx, res); err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: method, URL: url, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
