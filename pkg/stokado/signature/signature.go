// Package signature verifies that a payload was signed by an expected
// Ethereum-style address.
//
// Two schemes are supported. Personal-message signatures hash the payload
// with the "\x19Ethereum Signed Message:\n" prefix. Typed-data signatures
// (EIP-712) bind the keccak256 of the payload and a logical path to a
// "CIP8 Claim" domain, so a signature cannot be replayed for another path.
package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Typed-data domain of the claim.
const (
	DomainName    = "CIP8 Claim"
	DomainVersion = "1.0.0"
	PrimaryType   = "ClaimWithPath"
)

// Scheme selects how a signature is checked.
type Scheme string

const (
	SchemeTypedData Scheme = "typed-data"
	SchemePersonal  Scheme = "personal"
)

var (
	ErrInvalidSignatureLength = errors.New("signature must be 65 bytes")
	ErrInvalidRecoveryID      = errors.New("invalid signature recovery id")
)

// Claim is what a verifier checks: Payload signed (for typed data, in the
// context of Path) by Signer.
type Claim struct {
	Payload   []byte
	Signature string
	Path      string
	Signer    common.Address
}

// Verifier reports whether a claim holds. A mismatching or undecodable
// signature is a negative result, not an error.
type Verifier interface {
	Verify(claim Claim) bool
}

// NewVerifier returns the verifier for scheme.
func NewVerifier(scheme Scheme, chainID int64) (Verifier, error) {
	switch scheme {
	case SchemeTypedData, "":
		return &TypedDataVerifier{ChainID: big.NewInt(chainID)}, nil
	case SchemePersonal:
		return PersonalVerifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}

// TypedDataVerifier checks EIP-712 ClaimWithPath signatures.
type TypedDataVerifier struct {
	ChainID *big.Int
}

func (v *TypedDataVerifier) Verify(claim Claim) bool {
	digest, err := TypedDataHash(ClaimTypedData(claim.Path, claim.Payload, v.ChainID))
	if err != nil {
		return false
	}
	return recoversTo(digest, claim.Signature, claim.Signer)
}

// PersonalVerifier checks personal-message signatures over the raw payload.
type PersonalVerifier struct{}

func (PersonalVerifier) Verify(claim Claim) bool {
	return recoversTo(PersonalHash(claim.Payload), claim.Signature, claim.Signer)
}

func recoversTo(digest []byte, signatureHex string, expected common.Address) bool {
	sig, err := DecodeSignature(signatureHex)
	if err != nil {
		return false
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return false
	}
	return recovered == expected
}

// ClaimTypedData builds the typed-data structure a client signs for an
// upload request: the path context and the hex keccak256 of the raw payload.
func ClaimTypedData(path string, payload []byte, chainID *big.Int) apitypes.TypedData {
	var chain *math.HexOrDecimal256
	if chainID != nil {
		chain = (*math.HexOrDecimal256)(new(big.Int).Set(chainID))
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			PrimaryType: {
				{Name: "path", Type: "string"},
				{Name: "hash", Type: "string"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    DomainName,
			Version: DomainVersion,
			ChainId: chain,
		},
		Message: apitypes.TypedDataMessage{
			"path": path,
			"hash": hex.EncodeToString(crypto.Keccak256(payload)),
		},
	}
}

// TypedDataHash returns the EIP-712 digest of typed.
func TypedDataHash(typed apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return digest, nil
}

// PersonalHash returns the personal-message digest of payload.
func PersonalHash(payload []byte) []byte {
	return accounts.TextHash(payload)
}

// DecodeSignature decodes a 0x-prefixed or bare hex signature.
func DecodeSignature(signatureHex string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, ErrInvalidSignatureLength
	}
	return sig, nil
}

// RecoverAddress recovers the signing address from a 32-byte digest and a
// 65-byte [R || S || V] signature. V may be 0/1 or 27/28.
func RecoverAddress(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v != 0 && v != 1 {
		return common.Address{}, ErrInvalidRecoveryID
	}
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
