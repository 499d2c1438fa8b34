package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/clients"
	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/publisher"
	appsync "github.com/eshaffer321/upbank-ynab-sync/internal/application/sync"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/identity"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/normalizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/storage"
)

// SourceLedger is the banking side as the commands use it
type SourceLedger interface {
	appsync.SourceClient
	GetAccounts(ctx context.Context) ([]model.Account, error)
	Ping(ctx context.Context) error
}

// DestinationLedger is the budgeting side as the commands use it
type DestinationLedger interface {
	appsync.DestinationClient
	GetAccounts(ctx context.Context) ([]model.Account, error)
	Ping(ctx context.Context) error
}

// Ledgers bundles both API clients
type Ledgers struct {
	Source      SourceLedger
	Destination DestinationLedger
}

// Deps builds the collaborators a command needs from configuration.
// Tests replace individual constructors.
type Deps struct {
	LoadConfig   func(path string) (*config.Config, error)
	OpenStore    func(ctx context.Context, cfg *config.Config) (storage.Repository, error)
	NewLedgers   func(cfg *config.Config, logger *slog.Logger) (*Ledgers, error)
	NewPublisher func(ctx context.Context, cfg *config.Config) (appsync.Publisher, error)
}

// DefaultDeps wires the production implementations
func DefaultDeps() Deps {
	return Deps{
		LoadConfig:   loadConfig,
		OpenStore:    openStore,
		NewLedgers:   newLedgers,
		NewPublisher: newPublisher,
	}
}

// loadConfig reads the given file, or config.yaml with an env fallback
// when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadOrEnv(), nil
	}
	if err := config.LoadDotEnv(""); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return config.Load(path)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	opts := storage.Options{
		Backend:      cfg.Storage.Backend,
		DatabasePath: cfg.Storage.DatabasePath,
	}

	if cfg.Storage.Backend == storage.BackendDynamoDB {
		dyn := cfg.Storage.DynamoDB
		awsCfg, err := loadAWSConfig(ctx, dyn.Region)
		if err != nil {
			return nil, err
		}
		opts.DynamoClient = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if dyn.Endpoint != "" {
				o.BaseEndpoint = aws.String(dyn.Endpoint)
			}
		})
		opts.DynamoTable = dyn.Table
	}

	return storage.Open(opts)
}

func newLedgers(cfg *config.Config, logger *slog.Logger) (*Ledgers, error) {
	c, err := clients.NewClients(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Ledgers{Source: c.Source, Destination: c.Destination}, nil
}

// newPublisher returns the SQS audit publisher, or nil when no queue is configured
func newPublisher(ctx context.Context, cfg *config.Config) (appsync.Publisher, error) {
	if cfg.Audit.SQSQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.Audit.Region)
	if err != nil {
		return nil, err
	}
	return publisher.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.Audit.SQSQueueURL), nil
}

// normalizerConfig maps the sync section onto the normalizer's scales
func normalizerConfig(cfg *config.Config) normalizer.Config {
	return normalizer.Config{
		SourceUnitsPerMajor:      cfg.Sync.SourceUnitsPerMajor,
		DestinationUnitsPerMajor: cfg.Sync.DestinationUnitsPerMajor,
		Location:                 cfg.Location(),
	}
}

// engineBuilder creates one orchestrator per profile. All of them share the
// store, publisher and token locks so concurrent runs cannot double import.
type engineBuilder struct {
	cfg       *config.Config
	ledgers   *Ledgers
	store     storage.Repository
	publisher appsync.Publisher
	locks     *appsync.TokenLocks
}

func newEngineBuilder(cfg *config.Config, ledgers *Ledgers, store storage.Repository, pub appsync.Publisher) *engineBuilder {
	return &engineBuilder{
		cfg:       cfg,
		ledgers:   ledgers,
		store:     store,
		publisher: pub,
		locks:     appsync.NewTokenLocks(),
	}
}

func (b *engineBuilder) build(profile string, logger *slog.Logger) (*appsync.Orchestrator, error) {
	p, err := b.cfg.Profile(profile)
	if err != nil {
		return nil, err
	}
	return appsync.NewOrchestrator(appsync.Dependencies{
		Source:      b.ledgers.Source,
		Destination: b.ledgers.Destination,
		Store:       b.store,
		Rules:       clients.RuleProvider(p),
		Normalizer:  normalizer.New(normalizerConfig(b.cfg)),
		Resolver:    identity.NewResolver(logger),
		Publisher:   b.publisher,
		Locks:       b.locks,
		Logger:      logger,
	}), nil
}
