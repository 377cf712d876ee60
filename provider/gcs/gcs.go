// Package gcs serves assets from Google Cloud Storage. Refs take the
// form gs://bucket/object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/assetref"
)

// Scheme is the protocol of GCS refs.
const Scheme = "gs"

// Objects reads and writes whole objects. Implemented over a storage
// client by ClientObjects.
type Objects interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	Write(ctx context.Context, bucket, object string, data []byte) error
	Delete(ctx context.Context, bucket, object string) error
}

// ClientObjects adapts a storage client to Objects.
type ClientObjects struct {
	Client *storage.Client
}

// Read implements interface
func (c ClientObjects) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := c.Client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Write implements interface
func (c ClientObjects) Write(ctx context.Context, bucket, object string, data []byte) error {
	w := c.Client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Delete implements interface
func (c ClientObjects) Delete(ctx context.Context, bucket, object string) error {
	return c.Client.Bucket(bucket).Object(object).Delete(ctx)
}

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider is the Cloud Storage provider.
type Provider struct {
	objects Objects
	closer  io.Closer
	log     log.FieldLogger
}

// New creates a provider using application default credentials.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	p := NewWithObjects(ClientObjects{Client: client}, opts...)
	p.closer = client
	return p, nil
}

// NewWithObjects creates a provider around an existing object store.
func NewWithObjects(objects Objects, opts ...Option) *Provider {
	p := &Provider{objects: objects, log: log.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close releases the client created by New.
func (p *Provider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Name implements interface
func (p *Provider) Name() string { return "gcs" }

// CanHandle implements interface
func (p *Provider) CanHandle(ref string) bool {
	return assetref.Parse(ref).Protocol == Scheme
}

// FullRef implements interface
func (p *Provider) FullRef(s *asset.Storage, localName string) string {
	return strings.TrimSuffix(s.Source, "/") + "/" + localName
}

// StartTransfer implements interface
func (p *Provider) StartTransfer(ctx context.Context, req *asset.Request, out *asset.Handoff) {
	var s *asset.Storage
	if len(req.Storages) > 0 {
		s = req.Storages[0]
	}
	p.run(ctx, out, req.ID, req.Ref, s, req.LocalName, func(bucket, object string) error {
		data, err := p.objects.Read(ctx, bucket, object)
		if err != nil {
			return err
		}
		out.Completed(req.ID, data, "")
		return nil
	})
}

// StartUpload implements interface
func (p *Provider) StartUpload(ctx context.Context, req *asset.UploadRequest, out *asset.Handoff) {
	p.run(ctx, out, req.ID, req.Ref, req.Storage, req.LocalName, func(bucket, object string) error {
		if err := p.objects.Write(ctx, bucket, object, req.Data); err != nil {
			return err
		}
		out.Completed(req.ID, nil, "")
		return nil
	})
}

// StartDelete implements interface
func (p *Provider) StartDelete(ctx context.Context, req *asset.DeleteRequest, out *asset.Handoff) {
	p.run(ctx, out, req.ID, req.Ref, req.Storage, req.LocalName, func(bucket, object string) error {
		if err := p.objects.Delete(ctx, bucket, object); err != nil {
			return err
		}
		out.Completed(req.ID, nil, "")
		return nil
	})
}

// run resolves the object of ref and calls op on a new goroutine. op
// reports success itself, errors are reported by run.
func (p *Provider) run(ctx context.Context, out *asset.Handoff, id, ref string, s *asset.Storage, localName string, op func(bucket, object string) error) {
	if !p.CanHandle(ref) && s != nil {
		ref = p.FullRef(s, localName)
	}
	bucket, object, err := SplitRef(ref)
	if err != nil {
		out.Failed(id, err.Error())
		return
	}

	go func() {
		err := op(bucket, object)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			out.Aborted(id)
		case errors.Is(err, storage.ErrObjectNotExist):
			out.Failed(id, "object does not exist")
		default:
			p.log.WithError(err).WithField("ref", ref).Debug("gcs request failed")
			out.Failed(id, err.Error())
		}
	}()
}

// SplitRef splits a gs:// ref into bucket and object name.
func SplitRef(ref string) (string, string, error) {
	parsed := assetref.Parse(ref)
	if parsed.Protocol != Scheme {
		return "", "", fmt.Errorf("not a gs ref: %s", ref)
	}
	idx := strings.Index(parsed.PathFilename, "/")
	if idx <= 0 || idx == len(parsed.PathFilename)-1 {
		return "", "", fmt.Errorf("gs ref without bucket and object: %s", ref)
	}
	return parsed.PathFilename[:idx], parsed.PathFilename[idx+1:], nil
}
