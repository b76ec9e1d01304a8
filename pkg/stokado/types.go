package stokado

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UploadItem is one requested upload path.
type UploadItem struct {
	Path string `json:"path"`
}

// UploadGrant is a presigned POST credential for a single object.
// The JSON shape keeps url and fields at the top level so clients can
// post the form as-is.
type UploadGrant struct {
	Path       string            `json:"path"`
	PostURL    string            `json:"url"`
	FormFields map[string]string `json:"fields"`
}

// GrantRequest asks the storage layer for one scoped upload grant.
type GrantRequest struct {
	Key      string
	Path     string
	MinBytes uint64
	MaxBytes uint64
	Expires  time.Duration
}

// GrantIssuer mints presigned upload grants. Implemented by the storage backends.
type GrantIssuer interface {
	IssueGrant(ctx context.Context, req GrantRequest) (*UploadGrant, error)
}

// KeyResolver returns the encryption key address currently registered
// on-chain for an account. Implementations must not cache results.
type KeyResolver interface {
	ResolveEncryptionKey(ctx context.Context, account common.Address) (common.Address, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, account common.Address) (common.Address, error)

func (f KeyResolverFunc) ResolveEncryptionKey(ctx context.Context, account common.Address) (common.Address, error) {
	return f(ctx, account)
}
