// Package chain resolves the data encryption key an account registered in
// the Celo Accounts contract.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/celo-org/stokado/pkg/stokado/metrics"
)

// RegistryAddress is the fixed address of the Celo Registry contract.
var RegistryAddress = common.HexToAddress("0x000000000000000000000000000000000000ce10")

var (
	// ErrNotRegistered is returned when the account has no encryption key on-chain.
	ErrNotRegistered = errors.New("account has no registered encryption key")

	// ErrResolution is returned when the chain could not be queried.
	ErrResolution = errors.New("failed to resolve encryption key")
)

const registryABI = `[{"constant":true,"inputs":[{"name":"identifier","type":"string"}],"name":"getAddressForString","outputs":[{"name":"","type":"address"}],"payable":false,"stateMutability":"view","type":"function"}]`

const accountsABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"getDataEncryptionKey","outputs":[{"name":"","type":"bytes"}],"payable":false,"stateMutability":"view","type":"function"}]`

var (
	registryContract = mustParseABI(registryABI)
	accountsContract = mustParseABI(accountsABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller executes read-only contract calls. *ethclient.Client implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// AccountsResolver reads data encryption keys from the Accounts contract.
// Every call goes to the chain; results are never cached so a rotated or
// revoked key stops working immediately.
type AccountsResolver struct {
	caller   ContractCaller
	registry common.Address
	accounts *common.Address
	logger   *slog.Logger
}

// Option configures an AccountsResolver.
type Option func(*AccountsResolver)

// WithRegistryAddress overrides the Registry contract address.
func WithRegistryAddress(addr common.Address) Option {
	return func(r *AccountsResolver) {
		r.registry = addr
	}
}

// WithAccountsAddress pins the Accounts contract address and skips the
// Registry lookup.
func WithAccountsAddress(addr common.Address) Option {
	return func(r *AccountsResolver) {
		r.accounts = &addr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *AccountsResolver) {
		r.logger = logger
	}
}

// NewAccountsResolver creates a resolver backed by caller.
func NewAccountsResolver(caller ContractCaller, opts ...Option) *AccountsResolver {
	r := &AccountsResolver{
		caller:   caller,
		registry: RegistryAddress,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveEncryptionKey returns the address derived from the account's
// registered data encryption key.
func (r *AccountsResolver) ResolveEncryptionKey(ctx context.Context, account common.Address) (common.Address, error) {
	start := time.Now()
	defer func() {
		metrics.KeyResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	accountsAddr, err := r.accountsAddress(ctx)
	if err != nil {
		return common.Address{}, err
	}

	input, err := accountsContract.Pack("getDataEncryptionKey", account)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: pack getDataEncryptionKey: %v", ErrResolution, err)
	}
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &accountsAddr, Data: input}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: call getDataEncryptionKey: %v", ErrResolution, err)
	}
	values, err := accountsContract.Unpack("getDataEncryptionKey", output)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("%w: unpack getDataEncryptionKey: %v", ErrResolution, err)
	}
	dek, ok := values[0].([]byte)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: unexpected getDataEncryptionKey result %T", ErrResolution, values[0])
	}
	if len(dek) == 0 {
		return common.Address{}, ErrNotRegistered
	}

	addr, err := AddressFromPublicKey(dek)
	if err != nil {
		r.logger.Warn("Registered encryption key is not a valid public key", "account", account.Hex(), "err", err)
		return common.Address{}, fmt.Errorf("%w: %v", ErrNotRegistered, err)
	}
	return addr, nil
}

func (r *AccountsResolver) accountsAddress(ctx context.Context) (common.Address, error) {
	if r.accounts != nil {
		return *r.accounts, nil
	}

	input, err := registryContract.Pack("getAddressForString", "Accounts")
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: pack getAddressForString: %v", ErrResolution, err)
	}
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.registry, Data: input}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: call getAddressForString: %v", ErrResolution, err)
	}
	values, err := registryContract.Unpack("getAddressForString", output)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("%w: unpack getAddressForString: %v", ErrResolution, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: Accounts contract not found in registry", ErrResolution)
	}
	return addr, nil
}

// AddressFromPublicKey converts a secp256k1 public key to its address.
// It accepts compressed (33 bytes), uncompressed (65 bytes) and raw
// uncompressed without the 0x04 prefix (64 bytes).
func AddressFromPublicKey(pub []byte) (common.Address, error) {
	switch len(pub) {
	case 33:
		key, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid compressed public key: %w", err)
		}
		return crypto.PubkeyToAddress(*key), nil
	case 64:
		pub = append([]byte{0x04}, pub...)
		fallthrough
	case 65:
		key, err := crypto.UnmarshalPubkey(pub)
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid public key: %w", err)
		}
		return crypto.PubkeyToAddress(*key), nil
	default:
		return common.Address{}, fmt.Errorf("unexpected public key length %d", len(pub))
	}
}
