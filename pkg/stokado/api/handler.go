// Package api exposes the authorizer over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/celo-org/stokado/pkg/stokado/authorize"
)

// MaxBodyBytes caps the authorization request body.
const MaxBodyBytes = 64 << 10

// SignatureHeader carries the hex signature of the request body.
const SignatureHeader = "Signature"

// Authorizer is implemented by *authorize.Authorizer.
type Authorizer interface {
	Authorize(ctx context.Context, req authorize.Request) ([]stokado.UploadGrant, error)
}

// AuthorizeHandler serves POST /authorize.
type AuthorizeHandler struct {
	authorizer Authorizer
	logger     *slog.Logger
}

func NewAuthorizeHandler(authorizer Authorizer, logger *slog.Logger) *AuthorizeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizeHandler{authorizer: authorizer, logger: logger}
}

// Authorize answers with the grants as a JSON array, or with the plain-text
// status body for the failure kind.
func (h *AuthorizeHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(SignatureHeader)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil && signature != "" {
		h.logger.InfoContext(r.Context(), "Failed to read request body", "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, r, stokado.NewError(stokado.KindMalformedRequest, "", err))
		return
	}

	result, err := h.authorizer.Authorize(r.Context(), authorize.Request{
		Signature: signature,
		Payload:   payload,
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := StatusFor(err)
	render.Status(r, status)
	render.PlainText(w, r, body)
}

// StatusFor maps an authorization error to its HTTP status and body.
func StatusFor(err error) (int, string) {
	var typed *stokado.Error
	if !errors.As(err, &typed) {
		return http.StatusInternalServerError, string(stokado.KindUnknown)
	}

	switch typed.Kind {
	case stokado.KindMissingSignature:
		return http.StatusUnauthorized, "Signature required"
	case stokado.KindMalformedRequest:
		if typed.Message != "" {
			return http.StatusBadRequest, typed.Message
		}
		return http.StatusBadRequest, "Invalid request"
	case stokado.KindExpired:
		return http.StatusForbidden, "This request has expired"
	case stokado.KindInvalidSigner:
		return http.StatusForbidden, "Invalid signer provided"
	case stokado.KindInvalidSignature:
		return http.StatusForbidden, "Invalid signature provided"
	case stokado.KindInvalidUploadPath:
		return http.StatusBadRequest, string(stokado.KindInvalidUploadPath)
	default:
		return http.StatusInternalServerError, string(stokado.KindUnknown)
	}
}
