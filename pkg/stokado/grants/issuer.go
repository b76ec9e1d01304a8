// Package grants mints one upload grant per validated path.
package grants

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/celo-org/stokado/pkg/stokado/paths"
)

// DefaultConcurrency bounds parallel calls to the storage backend per request.
const DefaultConcurrency = 4

// Issuer asks the storage backend for grants, one per path.
type Issuer struct {
	storage     stokado.GrantIssuer
	registry    *paths.Registry
	concurrency int
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithConcurrency sets how many grants are minted in parallel. Values below
// one mean sequential minting.
func WithConcurrency(n int) Option {
	return func(i *Issuer) {
		if n < 1 {
			n = 1
		}
		i.concurrency = n
	}
}

// WithRegistry overrides the path registry.
func WithRegistry(registry *paths.Registry) Option {
	return func(i *Issuer) {
		i.registry = registry
	}
}

// New creates an Issuer backed by storage.
func New(storage stokado.GrantIssuer, opts ...Option) *Issuer {
	i := &Issuer{
		storage:     storage,
		registry:    paths.DefaultRegistry(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ObjectKey namespaces path under the signer that was authorized.
func ObjectKey(signer common.Address, path string) string {
	return signer.Hex() + path
}

// Issue mints grants for uploadPaths under signer. The result has the same
// length and order as uploadPaths. The first storage failure cancels the
// remaining calls and is returned; no partial result is produced.
func (i *Issuer) Issue(ctx context.Context, signer common.Address, uploadPaths []string, expiresIn time.Duration) ([]stokado.UploadGrant, error) {
	requests := make([]stokado.GrantRequest, len(uploadPaths))
	for idx, p := range uploadPaths {
		minBytes, maxBytes, ok := i.registry.Range(p)
		if !ok {
			return nil, stokado.NewError(stokado.KindInvalidUploadPath, "", fmt.Errorf("no rule for path %q", p))
		}
		requests[idx] = stokado.GrantRequest{
			Key:      ObjectKey(signer, p),
			Path:     p,
			MinBytes: minBytes,
			MaxBytes: maxBytes,
			Expires:  expiresIn,
		}
	}

	results := make([]stokado.UploadGrant, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for idx := range requests {
		req := requests[idx]
		g.Go(func() error {
			grant, err := i.storage.IssueGrant(gctx, req)
			if err != nil {
				return fmt.Errorf("issue grant for %s: %w", req.Path, err)
			}
			results[idx] = *grant
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
