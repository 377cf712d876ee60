// Package s3 serves assets from Amazon S3 and S3 compatible stores.
// Refs take the form s3://bucket/key.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset"
	"github.com/devblok/koruasset/assetref"
)

// Scheme is the protocol of S3 refs.
const Scheme = "s3"

// API is the part of the S3 client the provider uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config selects the S3 endpoint.
type Config struct {
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint, for MinIO and the like.
	// Path style addressing is used with it.
	Endpoint string `yaml:"endpoint"`
}

// Option configures the Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider is the S3 provider.
type Provider struct {
	client API
	log    log.FieldLogger
}

// New creates a provider from the default AWS configuration chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts...), nil
}

// NewWithClient creates a provider around an existing client.
func NewWithClient(client API, opts ...Option) *Provider {
	p := &Provider{client: client, log: log.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements interface
func (p *Provider) Name() string { return "s3" }

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
	var storage *asset.Storage
	if len(req.Storages) > 0 {
		storage = req.Storages[0]
	}
	bucket, key, err := p.object(req.Ref, storage, req.LocalName)
	if err != nil {
		out.Failed(req.ID, err.Error())
		return
	}

	go func() {
		result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		defer result.Body.Close()

		data, err := io.ReadAll(result.Body)
		if err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, data, "")
	}()
}

// StartUpload implements interface
func (p *Provider) StartUpload(ctx context.Context, req *asset.UploadRequest, out *asset.Handoff) {
	bucket, key, err := p.object(req.Ref, req.Storage, req.LocalName)
	if err != nil {
		out.Failed(req.ID, err.Error())
		return
	}

	go func() {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(req.Data),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, nil, "")
	}()
}

// StartDelete implements interface
func (p *Provider) StartDelete(ctx context.Context, req *asset.DeleteRequest, out *asset.Handoff) {
	bucket, key, err := p.object(req.Ref, req.Storage, req.LocalName)
	if err != nil {
		out.Failed(req.ID, err.Error())
		return
	}

	go func() {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			p.report(ctx, out, req.ID, req.Ref, err)
			return
		}
		out.Completed(req.ID, nil, "")
	}()
}

// object splits ref into bucket and key. Refs through a named storage are
// rebuilt from the storage source first.
func (p *Provider) object(ref string, s *asset.Storage, localName string) (string, string, error) {
	if !p.CanHandle(ref) && s != nil {
		ref = p.FullRef(s, localName)
	}
	return SplitRef(ref)
}

// SplitRef splits an s3:// ref into bucket and key.
func SplitRef(ref string) (string, string, error) {
	parsed := assetref.Parse(ref)
	if parsed.Protocol != Scheme {
		return "", "", fmt.Errorf("not an s3 ref: %s", ref)
	}
	idx := strings.Index(parsed.PathFilename, "/")
	if idx <= 0 || idx == len(parsed.PathFilename)-1 {
		return "", "", fmt.Errorf("s3 ref without bucket and key: %s", ref)
	}
	return parsed.PathFilename[:idx], parsed.PathFilename[idx+1:], nil
}

func (p *Provider) report(ctx context.Context, out *asset.Handoff, id, ref string, err error) {
	if ctx.Err() != nil {
		out.Aborted(id)
		return
	}
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		out.Failed(id, "no such key")
		return
	}
	p.log.WithError(err).WithField("ref", ref).Debug("s3 request failed")
	out.Failed(id, err.Error())
}
