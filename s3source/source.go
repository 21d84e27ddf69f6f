// Package s3source fetches uploaded photos from S3-compatible object storage
// (AWS S3, Cloudflare R2, MinIO).
package s3source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	photopick "github.com/anatolykoptev/go-photopick"
)

const defaultMaxBytes = 50 << 20

// Config describes the bucket holding original uploads.
type Config struct {
	Endpoint  string // empty = AWS default endpoint
	Region    string // default: "auto"
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // prepended to every key
	MaxBytes  int64  // default: 50MB
	// MaxAttempts bounds SDK-level retries. Zero keeps the SDK default.
	MaxAttempts int
}

// Source implements photopick.ImageSource over an S3 bucket.
type Source struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxBytes int64
	logger   *slog.Logger
}

var _ photopick.ImageSource = (*Source)(nil)

// New builds an S3 client with static credentials and path-style addressing.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3source: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3source: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &Source{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		maxBytes: maxBytes,
		logger:   slog.Default().With("component", "s3source"),
	}, nil
}

// Fetch downloads one object. Missing objects wrap photopick.ErrNotFound; every
// other failure wraps photopick.ErrDownload.
func (s *Source) Fetch(ctx context.Context, key string) (*photopick.SourceImage, error) {
	objectKey := s.objectKey(key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w: object %s", photopick.ErrDownload, photopick.ErrNotFound, objectKey)
		}
		return nil, fmt.Errorf("%w: get object %s: %w", photopick.ErrDownload, objectKey, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.maxBytes {
		return nil, fmt.Errorf("%w: object %s is %d bytes, limit %d",
			photopick.ErrDownload, objectKey, *out.ContentLength, s.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %w", photopick.ErrDownload, objectKey, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: object %s exceeds %d bytes", photopick.ErrDownload, objectKey, s.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: object %s is empty", photopick.ErrDownload, objectKey)
	}

	s.logger.DebugContext(ctx, "photopick: fetched object", "key", objectKey, "size", len(data))

	return &photopick.SourceImage{
		Data:        data,
		Filename:    path.Base(key),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (s *Source) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
