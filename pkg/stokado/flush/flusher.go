// Package flush invalidates CDN paths for objects that changed in storage.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/smithy-go"

	"github.com/celo-org/stokado/pkg/stokado/metrics"
)

// InvalidationAPI is the part of the CloudFront client the flusher uses.
type InvalidationAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// InvalidationBatch is the request sent for one unit.
type InvalidationBatch struct {
	DistributionID  string
	CallerReference string
	Paths           []string
}

// CallerReference derives the invalidation caller reference from a unit
// token. The same token always yields the same reference, so CloudFront
// treats a redelivered unit as the same invalidation.
func CallerReference(token string) string {
	return "invalidation-" + token
}

// NewBatch builds the invalidation batch for keys.
func NewBatch(distributionID string, keys []string, token string) InvalidationBatch {
	return InvalidationBatch{
		DistributionID:  distributionID,
		CallerReference: CallerReference(token),
		Paths:           keys,
	}
}

// Input converts b to a CreateInvalidation request.
func (b InvalidationBatch) Input() *cloudfront.CreateInvalidationInput {
	items := make([]string, len(b.Paths))
	copy(items, b.Paths)
	return &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(b.DistributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(b.CallerReference),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(items))),
				Items:    items,
			},
		},
	}
}

// Flusher sends invalidations for a single distribution.
type Flusher struct {
	client         InvalidationAPI
	distributionID string
	logger         *slog.Logger
}

type FlusherOption func(*Flusher)

func WithFlusherLogger(logger *slog.Logger) FlusherOption {
	return func(f *Flusher) {
		f.logger = logger
	}
}

// NewFlusher creates a Flusher for distributionID.
func NewFlusher(client InvalidationAPI, distributionID string, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		client:         client,
		distributionID: distributionID,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flush invalidates keys with a caller reference derived from token and
// returns the CloudFront response unchanged.
func (f *Flusher) Flush(ctx context.Context, keys []string, token string) (*cloudfront.CreateInvalidationOutput, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeys
	}
	if token == "" {
		return nil, errors.New("idempotency token is required")
	}

	batch := NewBatch(f.distributionID, keys, token)
	f.logger.DebugContext(ctx, "Flushing keys",
		"distribution_id", batch.DistributionID,
		"caller_reference", batch.CallerReference,
		"keys", keys,
	)

	out, err := f.client.CreateInvalidation(ctx, batch.Input())
	if err != nil {
		metrics.InvalidationsTotal.WithLabelValues("error").Inc()
		attrs := []any{"caller_reference", batch.CallerReference, "err", err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "code", apiErr.ErrorCode())
		}
		f.logger.ErrorContext(ctx, "Failed to create invalidation", attrs...)
		return nil, fmt.Errorf("create invalidation %s: %w", batch.CallerReference, err)
	}

	metrics.InvalidationsTotal.WithLabelValues("ok").Inc()
	metrics.InvalidationPathsTotal.Add(float64(len(keys)))
	if out != nil && out.Invalidation != nil {
		f.logger.InfoContext(ctx, "Invalidation created",
			"id", aws.ToString(out.Invalidation.Id),
			"status", aws.ToString(out.Invalidation.Status),
			"caller_reference", batch.CallerReference,
			"paths", len(keys),
		)
	}
	return out, nil
}
