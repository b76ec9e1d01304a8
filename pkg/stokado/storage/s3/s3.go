package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/celo-org/stokado/pkg/stokado"
)

// Config options for the S3 grant backend
type Config struct {
	Bucket        string        // S3 bucket name
	UsePathStyle  bool          // Use path-style addressing (default: false)
	UseAccelerate bool          // Use S3 Transfer Acceleration endpoints
	DefaultExpiry time.Duration // Expiry used when a request carries none (default: 1h)
}

// PostPresigner creates presigned POST policies. *s3.PresignClient implements it.
type PostPresigner interface {
	PresignPostObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignPostOptions)) (*s3.PresignedPostRequest, error)
}

// Backend issues presigned POST grants for an S3 bucket
type Backend struct {
	presigner     PostPresigner
	bucket        string
	defaultExpiry time.Duration
}

// New creates an S3 grant backend from an explicit AWS configuration.
func New(awsCfg aws.Config, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	// Custom endpoints come from aws.Config.BaseEndpoint.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = config.UsePathStyle
		o.UseAccelerate = config.UseAccelerate
	})
	return NewWithClient(s3.NewPresignClient(client), config)
}

// NewWithClient creates a backend around an existing presigner.
func NewWithClient(presigner PostPresigner, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if presigner == nil {
		return nil, errors.New("presigner is required")
	}
	if config.DefaultExpiry == 0 {
		config.DefaultExpiry = time.Hour
	}

	return &Backend{
		presigner:     presigner,
		bucket:        config.Bucket,
		defaultExpiry: config.DefaultExpiry,
	}, nil
}

// IssueGrant returns a presigned POST for req.Key limited to the request's
// content-length range.
func (b *Backend) IssueGrant(ctx context.Context, req stokado.GrantRequest) (*stokado.UploadGrant, error) {
	if req.Key == "" {
		return nil, errors.New("object key is required")
	}

	expires := req.Expires
	if expires <= 0 {
		expires = b.defaultExpiry
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(req.Key),
	}

	result, err := b.presigner.PresignPostObject(ctx, input, func(opts *s3.PresignPostOptions) {
		opts.Expires = expires
		opts.Conditions = append(opts.Conditions,
			[]interface{}{"content-length-range", req.MinBytes, req.MaxBytes},
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned post for %s: %w", req.Key, err)
	}

	fields := make(map[string]string, len(result.Values))
	for k, v := range result.Values {
		fields[k] = v
	}

	return &stokado.UploadGrant{
		Path:       req.Path,
		PostURL:    result.URL,
		FormFields: fields,
	}, nil
}
