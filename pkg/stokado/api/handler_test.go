package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/celo-org/stokado/pkg/stokado/authorize"
	"github.com/celo-org/stokado/pkg/stokado/grants"
	"github.com/celo-org/stokado/pkg/stokado/signature"
	"github.com/celo-org/stokado/pkg/stokado/storage/memory"
)

const chainID = 42220

type testServer struct {
	handler http.Handler
	dekKey  *ecdsa.PrivateKey
	dek     common.Address
	account common.Address
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dekKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := &testServer{
		dekKey:  dekKey,
		dek:     crypto.PubkeyToAddress(dekKey.PublicKey),
		account: common.HexToAddress("0x2104243428e1b04fFe63854ddBc279D183CF076a"),
	}
	resolver := stokado.KeyResolverFunc(func(ctx context.Context, account common.Address) (common.Address, error) {
		return s.dek, nil
	})
	verifier, err := signature.NewVerifier(signature.SchemeTypedData, chainID)
	require.NoError(t, err)

	s.handler = NewRouter(authorize.New(resolver, verifier, grants.New(memory.New(""))), nil)
	return s
}

func (s *testServer) request(t *testing.T, withSignature bool, uploadPaths ...string) *http.Request {
	t.Helper()
	data := make([]map[string]string, len(uploadPaths))
	for i, p := range uploadPaths {
		data[i] = map[string]string{"path": p}
	}
	payload, err := json.Marshal(map[string]any{
		"address":    s.account.Hex(),
		"signer":     s.dek.Hex(),
		"expiration": time.Now().Add(time.Minute).UnixMilli(),
		"data":       data,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewReader(payload))
	if withSignature {
		digest, err := signature.TypedDataHash(signature.ClaimTypedData(uploadPaths[0], payload, big.NewInt(chainID)))
		require.NoError(t, err)
		sig, err := crypto.Sign(digest, s.dekKey)
		require.NoError(t, err)
		req.Header.Set("signature", hexutil.Encode(sig))
	}
	return req
}

func TestAuthorize_Success(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, s.request(t, true, "/account/name", "/account/name.signature"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var grantsResp []stokado.UploadGrant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &grantsResp))
	require.Len(t, grantsResp, 2)
	assert.Equal(t, "/account/name", grantsResp[0].Path)
	assert.Equal(t, "/account/name.signature", grantsResp[1].Path)
	for _, g := range grantsResp {
		assert.True(t, strings.HasPrefix(g.FormFields["key"], s.dek.Hex()))
		assert.NotEmpty(t, g.PostURL)
	}
}

func TestAuthorize_SignatureRequired(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, s.request(t, false, "/account/name", "/account/name.signature"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Signature required", rr.Body.String())
}

func TestAuthorize_InvalidUploadPath(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, s.request(t, true, "/unknown"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "InvalidUploadPath", rr.Body.String())
}

func TestAuthorize_InvalidSignature(t *testing.T) {
	s := newTestServer(t)
	req := s.request(t, true, "/account/name")
	req.Header.Set("Signature", "0x"+strings.Repeat("ab", 65))
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Invalid signature provided", rr.Body.String())
}

func TestAuthorize_InvalidRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader("{not json"))
	req.Header.Set("Signature", "0xabc")
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid request", rr.Body.String())
}

func TestAuthorize_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewReader(make([]byte, MaxBodyBytes+1)))
	req.Header.Set("Signature", "0xabc")
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid request", rr.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		body   string
	}{
		{stokado.NewError(stokado.KindMissingSignature, "", nil), http.StatusUnauthorized, "Signature required"},
		{stokado.NewError(stokado.KindMalformedRequest, "", nil), http.StatusBadRequest, "Invalid request"},
		{stokado.NewError(stokado.KindMalformedRequest, "Request expiration is required", nil), http.StatusBadRequest, "Request expiration is required"},
		{stokado.NewError(stokado.KindExpired, "", nil), http.StatusForbidden, "This request has expired"},
		{stokado.NewError(stokado.KindInvalidSigner, "", nil), http.StatusForbidden, "Invalid signer provided"},
		{stokado.NewError(stokado.KindInvalidSignature, "", nil), http.StatusForbidden, "Invalid signature provided"},
		{stokado.NewError(stokado.KindInvalidUploadPath, "", nil), http.StatusBadRequest, "InvalidUploadPath"},
		{stokado.NewError(stokado.KindUnknown, "", errors.New("s3 down")), http.StatusInternalServerError, "Unknown"},
		{fmt.Errorf("wrapped: %w", stokado.NewError(stokado.KindExpired, "", nil)), http.StatusForbidden, "This request has expired"},
		{errors.New("plain"), http.StatusInternalServerError, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			status, body := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()

	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.handler.ServeHTTP(httptest.NewRecorder(), s.request(t, false, "/account/name"))

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `stokado_authorize_requests_total{outcome="MissingSignature"}`)
}

func TestRouter_RequestDeadline(t *testing.T) {
	dekKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := &testServer{
		dekKey:  dekKey,
		dek:     crypto.PubkeyToAddress(dekKey.PublicKey),
		account: common.HexToAddress("0x2104243428e1b04fFe63854ddBc279D183CF076a"),
	}

	var (
		hasDeadline bool
		remaining   time.Duration
	)
	resolver := stokado.KeyResolverFunc(func(ctx context.Context, account common.Address) (common.Address, error) {
		var deadline time.Time
		deadline, hasDeadline = ctx.Deadline()
		remaining = time.Until(deadline)
		return s.dek, nil
	})
	verifier, err := signature.NewVerifier(signature.SchemeTypedData, chainID)
	require.NoError(t, err)
	s.handler = NewRouter(authorize.New(resolver, verifier, grants.New(memory.New(""))), nil,
		WithRequestTimeout(5*time.Second))

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, s.request(t, true, "/account/name"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, hasDeadline)
	assert.LessOrEqual(t, remaining, 5*time.Second)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestLoggingMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("Hello"))
	})

	rr := httptest.NewRecorder()
	LoggingMiddleware(nil)(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "Hello", rr.Body.String())
}
