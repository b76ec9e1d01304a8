// Package config loads service configuration from the environment and builds
// the components of the serve and flush-worker commands.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-org/stokado/pkg/stokado/signature"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying opts on top of the defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:           "8080",
		Environment:    "development",
		RequestTimeout: 60 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		AWS: AWSConfig{
			Region: "eu-west-1",
		},
		Storage: StorageConfig{
			Backend:          "s3",
			ExpiresIn:        3600,
			UseAccelerate:    true,
			GrantConcurrency: 4,
		},
		Chain: ChainConfig{
			ChainID:         42220,
			RegistryAddress: "0x000000000000000000000000000000000000ce10",
			SignatureScheme: string(signature.SchemeTypedData),
		},
		Audit: AuditConfig{
			Schema: "stokado",
		},
		Flush: FlushConfig{
			WaitTimeSeconds: 20,
			MaxMessages:     10,
			ErrorBackoff:    5 * time.Second,
		},
	}
}

// Config is the complete service configuration.
type Config struct {
	Port        string `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-default:"development" env-description:"development, production or testing"`

	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"60s" env-description:"deadline for each HTTP request"`

	Log     LogConfig
	AWS     AWSConfig
	Storage StorageConfig
	Chain   ChainConfig
	Audit   AuditConfig
	Flush   FlushConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

// AWSConfig replaces process-wide SDK setup: it is turned into one aws.Config
// that is handed to every client.
type AWSConfig struct {
	Region          string `env:"AWS_REGION" env-default:"eu-west-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-description:"static credentials, default chain when empty"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
	EndpointURL     string `env:"AWS_ENDPOINT_URL" env-description:"custom endpoint for local stacks"`
}

type StorageConfig struct {
	Backend          string `env:"STORAGE_BACKEND" env-default:"s3" env-description:"s3 or memory"`
	Bucket           string `env:"BUCKET_NAME"`
	ExpiresIn        int    `env:"AUTHORIZATION_EXPIRES_IN" env-default:"3600" env-description:"grant lifetime in seconds"`
	UseAccelerate    bool   `env:"S3_USE_ACCELERATE" env-default:"true"`
	UsePathStyle     bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	GrantConcurrency int    `env:"GRANT_CONCURRENCY" env-default:"4"`
}

type ChainConfig struct {
	FornoURL        string `env:"FORNO_URL" env-description:"Celo JSON-RPC endpoint"`
	ChainID         int64  `env:"CHAIN_ID" env-default:"42220"`
	RegistryAddress string `env:"REGISTRY_ADDRESS" env-default:"0x000000000000000000000000000000000000ce10"`
	AccountsAddress string `env:"ACCOUNTS_ADDRESS" env-description:"pin the Accounts contract, looked up in the Registry when empty"`
	SignatureScheme string `env:"SIGNATURE_SCHEME" env-default:"typed-data" env-description:"typed-data or personal"`
}

type AuditConfig struct {
	DatabaseURL string `env:"AUDIT_DATABASE_URL" env-description:"Postgres URL, log-only audit when empty"`
	Schema      string `env:"AUDIT_DB_SCHEMA" env-default:"stokado"`
}

type FlushConfig struct {
	DistributionID  string        `env:"CDN_DISTRIBUTION_ID"`
	QueueURL        string        `env:"FLUSH_QUEUE_URL"`
	WaitTimeSeconds int32         `env:"FLUSH_WAIT_TIME_SECONDS" env-default:"20"`
	MaxMessages     int32         `env:"FLUSH_MAX_MESSAGES" env-default:"10"`
	ErrorBackoff    time.Duration `env:"FLUSH_ERROR_BACKOFF" env-default:"5s"`
	BatchUnits      bool          `env:"FLUSH_BATCH_UNITS" env-default:"false" env-description:"flush each received batch as one invalidation"`
}

// GrantExpiry returns the configured grant lifetime.
func (c *Config) GrantExpiry() time.Duration {
	return time.Duration(c.Storage.ExpiresIn) * time.Second
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("log format must be 'text' or 'json'")
	}
	if c.AWS.Region == "" {
		return errors.New("aws region is required")
	}
	return nil
}

// ValidateServe checks the settings the authorization server needs.
func (c *Config) ValidateServe() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("HTTP_REQUEST_TIMEOUT must be positive")
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("BUCKET_NAME is required when using s3 storage")
		}
	case "memory":
	default:
		return fmt.Errorf("storage backend must be 's3' or 'memory', got %q", c.Storage.Backend)
	}
	if c.Storage.ExpiresIn <= 0 {
		return errors.New("AUTHORIZATION_EXPIRES_IN must be positive")
	}
	if c.Storage.GrantConcurrency < 1 {
		return errors.New("GRANT_CONCURRENCY must be at least 1")
	}

	if c.Chain.FornoURL == "" {
		return errors.New("FORNO_URL is required")
	}
	if !common.IsHexAddress(c.Chain.RegistryAddress) {
		return fmt.Errorf("invalid REGISTRY_ADDRESS: %s", c.Chain.RegistryAddress)
	}
	if c.Chain.AccountsAddress != "" && !common.IsHexAddress(c.Chain.AccountsAddress) {
		return fmt.Errorf("invalid ACCOUNTS_ADDRESS: %s", c.Chain.AccountsAddress)
	}
	if _, err := signature.NewVerifier(signature.Scheme(c.Chain.SignatureScheme), c.Chain.ChainID); err != nil {
		return err
	}
	return nil
}

// ValidateFlush checks the settings the flush worker needs.
func (c *Config) ValidateFlush() error {
	if c.Flush.DistributionID == "" {
		return errors.New("CDN_DISTRIBUTION_ID is required")
	}
	if c.Flush.QueueURL == "" {
		return errors.New("FLUSH_QUEUE_URL is required")
	}
	if c.Flush.WaitTimeSeconds < 1 || c.Flush.WaitTimeSeconds > 20 {
		return errors.New("FLUSH_WAIT_TIME_SECONDS must be between 1 and 20")
	}
	if c.Flush.ErrorBackoff <= 0 {
		return errors.New("FLUSH_ERROR_BACKOFF must be positive")
	}
	return nil
}
