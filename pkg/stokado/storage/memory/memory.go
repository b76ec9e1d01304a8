package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/celo-org/stokado/pkg/stokado"
)

// Backend is an in-memory grant issuer for development and tests.
// It records every request and returns grants pointing at BaseURL.
type Backend struct {
	mu      sync.RWMutex
	baseURL string
	now     func() time.Time
	issued  []stokado.GrantRequest
}

// New creates a new in-memory grant backend
func New(baseURL string) *Backend {
	if baseURL == "" {
		baseURL = "http://localhost:4566/stokado"
	}
	return &Backend{
		baseURL: baseURL,
		now:     time.Now,
	}
}

// IssueGrant records req and returns a grant describing it
func (b *Backend) IssueGrant(ctx context.Context, req stokado.GrantRequest) (*stokado.UploadGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, errors.New("object key is required")
	}

	b.mu.Lock()
	b.issued = append(b.issued, req)
	b.mu.Unlock()

	return &stokado.UploadGrant{
		Path:    req.Path,
		PostURL: b.baseURL,
		FormFields: map[string]string{
			"key":                  req.Key,
			"content-length-range": fmt.Sprintf("%d,%d", req.MinBytes, req.MaxBytes),
			"expires":              strconv.FormatInt(b.now().Add(req.Expires).Unix(), 10),
		},
	}, nil
}

// Issued returns a copy of every request seen so far, in arrival order.
func (b *Backend) Issued() []stokado.GrantRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]stokado.GrantRequest, len(b.issued))
	copy(out, b.issued)
	return out
}

// Reset forgets all recorded requests.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued = nil
}
