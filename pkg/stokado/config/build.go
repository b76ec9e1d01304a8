package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/celo-org/stokado/pkg/stokado/audit"
	"github.com/celo-org/stokado/pkg/stokado/authorize"
	"github.com/celo-org/stokado/pkg/stokado/chain"
	"github.com/celo-org/stokado/pkg/stokado/flush"
	"github.com/celo-org/stokado/pkg/stokado/grants"
	"github.com/celo-org/stokado/pkg/stokado/paths"
	queuesqs "github.com/celo-org/stokado/pkg/stokado/queue/sqs"
	"github.com/celo-org/stokado/pkg/stokado/signature"
	"github.com/celo-org/stokado/pkg/stokado/storage/memory"
	s3storage "github.com/celo-org/stokado/pkg/stokado/storage/s3"
)

// BuildAWS returns the AWS configuration shared by every client.
func (c *Config) BuildAWS(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.AWS.Region),
	}
	if c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWS.AccessKeyID, c.AWS.SecretAccessKey, c.AWS.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if c.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.AWS.EndpointURL)
	}
	return awsCfg, nil
}

// BuildStorage returns the grant backend named by STORAGE_BACKEND.
func (c *Config) BuildStorage(awsCfg aws.Config) (stokado.GrantIssuer, error) {
	switch c.Storage.Backend {
	case "memory":
		return memory.New(""), nil
	case "s3":
		backend, err := s3storage.New(awsCfg, s3storage.Config{
			Bucket:       c.Storage.Bucket,
			UsePathStyle: c.Storage.UsePathStyle,
			// Accelerate endpoints do not exist on local stacks.
			UseAccelerate: c.Storage.UseAccelerate && c.AWS.EndpointURL == "",
			DefaultExpiry: c.GrantExpiry(),
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
}

// BuildAuthorizer wires the authorizer for the serve command. The returned
// function releases the chain client and audit database.
func (c *Config) BuildAuthorizer(ctx context.Context, awsCfg aws.Config, logger *slog.Logger) (*authorize.Authorizer, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storage, err := c.BuildStorage(awsCfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethclient.DialContext(ctx, c.Chain.FornoURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", c.Chain.FornoURL, err)
	}
	closers = append(closers, client.Close)

	resolverOpts := []chain.Option{
		chain.WithRegistryAddress(common.HexToAddress(c.Chain.RegistryAddress)),
		chain.WithLogger(logger),
	}
	if c.Chain.AccountsAddress != "" {
		resolverOpts = append(resolverOpts, chain.WithAccountsAddress(common.HexToAddress(c.Chain.AccountsAddress)))
	}
	resolver := chain.NewAccountsResolver(client, resolverOpts...)

	verifier, err := signature.NewVerifier(signature.Scheme(c.Chain.SignatureScheme), c.Chain.ChainID)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	var sink audit.Sink = audit.NewLogSink(logger)
	if c.Audit.DatabaseURL != "" {
		pgSink, pool, err := audit.NewPostgresSinkFromURL(ctx, c.Audit.DatabaseURL, c.Audit.Schema)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := pgSink.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		sink = pgSink
	}

	registry := paths.DefaultRegistry()
	issuer := grants.New(storage,
		grants.WithConcurrency(c.Storage.GrantConcurrency),
		grants.WithRegistry(registry),
	)

	authorizer := authorize.New(resolver, verifier, issuer,
		authorize.WithExpiresIn(c.GrantExpiry()),
		authorize.WithRegistry(registry),
		authorize.WithAuditSink(sink),
		authorize.WithLogger(logger),
	)
	return authorizer, closeAll, nil
}

// BuildConsumer wires the SQS consumer and CloudFront flusher for the
// flush-worker command.
func (c *Config) BuildConsumer(awsCfg aws.Config, logger *slog.Logger) (*queuesqs.Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	flusher := flush.NewFlusher(cloudfront.NewFromConfig(awsCfg), c.Flush.DistributionID, flush.WithFlusherLogger(logger))
	processor := flush.NewProcessor(flusher, logger)

	return queuesqs.NewConsumer(awssqs.NewFromConfig(awsCfg), c.Flush.QueueURL, processor,
		queuesqs.WithWaitTimeSeconds(c.Flush.WaitTimeSeconds),
		queuesqs.WithMaxMessages(c.Flush.MaxMessages),
		queuesqs.WithErrorBackoff(c.Flush.ErrorBackoff),
		queuesqs.WithBatchUnits(c.Flush.BatchUnits),
		queuesqs.WithLogger(logger),
	)
}
