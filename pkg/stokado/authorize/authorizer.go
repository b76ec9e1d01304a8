// Package authorize turns a signed upload request into presigned upload
// grants.
//
// A request passes through fixed gates, each of which can reject it with a
// *stokado.Error of a specific kind:
//
//  1. signature present (MissingSignature)
//  2. payload parses (MalformedRequest)
//  3. not expired (MalformedRequest when the expiration is unusable, else Expired)
//  4. the on-chain encryption key of the account matches the claimed signer
//     (InvalidSigner) and signed the payload (InvalidSignature)
//  5. every path is allowed (InvalidUploadPath)
//  6. grants are minted (Unknown on storage failure)
package authorize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/celo-org/stokado/pkg/stokado/audit"
	"github.com/celo-org/stokado/pkg/stokado/chain"
	"github.com/celo-org/stokado/pkg/stokado/grants"
	"github.com/celo-org/stokado/pkg/stokado/metrics"
	"github.com/celo-org/stokado/pkg/stokado/paths"
	"github.com/celo-org/stokado/pkg/stokado/signature"
)

// DefaultExpiresIn is how long an issued grant stays usable.
const DefaultExpiresIn = time.Hour

// Request is one inbound authorization call.
type Request struct {
	Signature string
	Payload   []byte
	RequestID string
}

// Authorizer runs the authorization gates. It holds no per-request state and
// is safe for concurrent use.
type Authorizer struct {
	resolver  stokado.KeyResolver
	verifier  signature.Verifier
	issuer    *grants.Issuer
	registry  *paths.Registry
	audit     audit.Sink
	logger    *slog.Logger
	now       func() time.Time
	expiresIn time.Duration
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// WithExpiresIn sets the lifetime of issued grants.
func WithExpiresIn(d time.Duration) Option {
	return func(a *Authorizer) {
		if d > 0 {
			a.expiresIn = d
		}
	}
}

func WithRegistry(registry *paths.Registry) Option {
	return func(a *Authorizer) {
		a.registry = registry
	}
}

func WithAuditSink(sink audit.Sink) Option {
	return func(a *Authorizer) {
		a.audit = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// New creates an Authorizer.
func New(resolver stokado.KeyResolver, verifier signature.Verifier, issuer *grants.Issuer, opts ...Option) *Authorizer {
	a := &Authorizer{
		resolver:  resolver,
		verifier:  verifier,
		issuer:    issuer,
		registry:  paths.DefaultRegistry(),
		audit:     audit.Discard{},
		logger:    slog.Default(),
		now:       time.Now,
		expiresIn: DefaultExpiresIn,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize checks req and returns one grant per requested path, in request
// order. Every error is a *stokado.Error.
func (a *Authorizer) Authorize(ctx context.Context, req Request) ([]stokado.UploadGrant, error) {
	env, result, err := a.authorize(ctx, req)
	kind := "ok"
	if err != nil {
		kind = string(stokado.KindOf(err))
	}
	metrics.AuthorizeRequestsTotal.WithLabelValues(kind).Inc()

	attrs := []any{"request_id", req.RequestID, "outcome", kind}
	if env != nil {
		attrs = append(attrs, "account", env.Address.Hex())
	}
	switch {
	case err == nil:
		metrics.GrantsIssuedTotal.Add(float64(len(result)))
		a.logger.InfoContext(ctx, "Upload authorized", append(attrs, "grants", len(result))...)
		a.record(ctx, req.RequestID, env, result)
	case stokado.KindOf(err) == stokado.KindUnknown:
		a.logger.ErrorContext(ctx, "Upload authorization failed", append(attrs, "err", err)...)
	default:
		a.logger.InfoContext(ctx, "Upload authorization rejected", append(attrs, "err", err)...)
	}
	return result, err
}

func (a *Authorizer) authorize(ctx context.Context, req Request) (*Envelope, []stokado.UploadGrant, error) {
	if req.Signature == "" {
		return nil, nil, stokado.NewError(stokado.KindMissingSignature, "", nil)
	}

	env, err := ParseEnvelope(req.Payload, req.Signature)
	if err != nil {
		return nil, nil, err
	}

	if _, err := CheckExpiration(env.RawExpiration, a.now()); err != nil {
		return env, nil, err
	}

	dek, err := a.resolver.ResolveEncryptionKey(ctx, env.Address)
	if err != nil {
		if errors.Is(err, chain.ErrNotRegistered) {
			return env, nil, stokado.NewError(stokado.KindInvalidSigner, "", err)
		}
		return env, nil, stokado.NewError(stokado.KindUnknown, "", err)
	}
	if env.Signer != nil && *env.Signer != dek {
		return env, nil, stokado.NewError(stokado.KindInvalidSigner, "", nil)
	}

	claim := signature.Claim{
		Payload:   env.RawPayload,
		Signature: env.Signature,
		Path:      env.Items[0].Path,
		Signer:    dek,
	}
	if !a.verifier.Verify(claim) {
		return env, nil, stokado.NewError(stokado.KindInvalidSignature, "", nil)
	}
	env.Signer = &dek

	uploadPaths := env.Paths()
	if invalid, ok := a.registry.ValidateAll(uploadPaths); !ok {
		return env, nil, stokado.NewError(stokado.KindInvalidUploadPath, "", errors.New("path not allowed: "+invalid))
	}

	result, err := a.issuer.Issue(ctx, dek, uploadPaths, a.expiresIn)
	if err != nil {
		var typed *stokado.Error
		if errors.As(err, &typed) {
			return env, nil, err
		}
		return env, nil, stokado.NewError(stokado.KindUnknown, "", err)
	}
	return env, result, nil
}

// record writes audit entries. The grants already exist, so failures are
// only logged.
func (a *Authorizer) record(ctx context.Context, requestID string, env *Envelope, result []stokado.UploadGrant) {
	issuedAt := a.now().UTC()
	entries := make([]audit.Entry, len(result))
	for i, g := range result {
		entries[i] = audit.Entry{
			ID:        uuid.New(),
			RequestID: requestID,
			Account:   env.Address.Hex(),
			Signer:    env.Signer.Hex(),
			Path:      g.Path,
			ObjectKey: grants.ObjectKey(*env.Signer, g.Path),
			IssuedAt:  issuedAt,
			ExpiresAt: issuedAt.Add(a.expiresIn),
		}
	}
	if err := a.audit.Record(ctx, entries); err != nil {
		a.logger.WarnContext(ctx, "Failed to record grant audit", "request_id", requestID, "err", err)
	}
}
