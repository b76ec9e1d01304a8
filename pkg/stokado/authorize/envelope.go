package authorize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-org/stokado/pkg/stokado"
)

// Envelope is a parsed authorization request.
type Envelope struct {
	RawPayload []byte
	Signature  string
	Address    common.Address
	// Signer is the encryption key address the client claims to have
	// signed with. Nil when the request does not name one.
	Signer        *common.Address
	RawExpiration json.RawMessage
	Items         []stokado.UploadItem
}

// Paths returns the item paths in request order.
func (e *Envelope) Paths() []string {
	out := make([]string, len(e.Items))
	for i, item := range e.Items {
		out[i] = item.Path
	}
	return out
}

type wireEnvelope struct {
	Address    *string              `json:"address"`
	Signer     *string              `json:"signer"`
	Expiration json.RawMessage      `json:"expiration"`
	Data       []stokado.UploadItem `json:"data"`
}

// ParseEnvelope decodes payload into an Envelope. Every shape problem is
// reported as a MalformedRequest error. Item paths are not validated here.
func ParseEnvelope(payload []byte, signature string) (*Envelope, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, malformed("", errors.New("empty payload"))
	}

	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, malformed("", err)
	}

	if wire.Address == nil || !common.IsHexAddress(*wire.Address) {
		return nil, malformed("", errors.New("address must be a hex account address"))
	}
	env := &Envelope{
		RawPayload:    payload,
		Signature:     signature,
		Address:       common.HexToAddress(*wire.Address),
		RawExpiration: wire.Expiration,
		Items:         wire.Data,
	}

	if wire.Signer != nil {
		if !common.IsHexAddress(*wire.Signer) {
			return nil, malformed("", errors.New("signer must be a hex address"))
		}
		signer := common.HexToAddress(*wire.Signer)
		env.Signer = &signer
	}

	if len(wire.Data) == 0 {
		return nil, malformed("", errors.New("data must list at least one upload"))
	}
	return env, nil
}

// CheckExpiration parses an epoch-milliseconds expiration and compares it
// with now. A missing or non-integer value is a MalformedRequest; a value at
// or before now is Expired.
func CheckExpiration(raw json.RawMessage, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, malformed("Request expiration is required", nil)
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, malformed("Request expiration must be an integer timestamp in milliseconds", err)
	}
	expiration, err := strconv.ParseInt(number.String(), 10, 64)
	if err != nil {
		return 0, malformed("Request expiration must be an integer timestamp in milliseconds", err)
	}

	if expiration <= now.UnixMilli() {
		return expiration, stokado.NewError(stokado.KindExpired, "", fmt.Errorf("expired at %d", expiration))
	}
	return expiration, nil
}

func malformed(message string, cause error) error {
	return stokado.NewError(stokado.KindMalformedRequest, message, cause)
}
