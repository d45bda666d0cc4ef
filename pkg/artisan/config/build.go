package config

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/artisan-nft/pkg/artisan"
	"github.com/tendant/artisan-nft/pkg/artisan/ledger/evm"
	ledgermemory "github.com/tendant/artisan-nft/pkg/artisan/ledger/memory"
	repomemory "github.com/tendant/artisan-nft/pkg/artisan/repo/memory"
	"github.com/tendant/artisan-nft/pkg/artisan/repo/postgres"
	"github.com/tendant/artisan-nft/pkg/artisan/repo/sqlite"
	"github.com/tendant/artisan-nft/pkg/artisan/signer/key"
	signermemory "github.com/tendant/artisan-nft/pkg/artisan/signer/memory"
	"github.com/tendant/artisan-nft/pkg/artisan/storage/fs"
	"github.com/tendant/artisan-nft/pkg/artisan/storage/ipfs"
	storagememory "github.com/tendant/artisan-nft/pkg/artisan/storage/memory"
	"github.com/tendant/artisan-nft/pkg/artisan/storage/s3"
)

// defaultMemoryIdentity is held by the memory signer when none is configured.
const defaultMemoryIdentity = "0x00000000000000000000000000000000000A71C0"

// Client is a fully wired marketplace client
type Client struct {
	Config       *ServerConfig
	Store        artisan.ContentStore
	Repository   artisan.Repository
	Provider     artisan.Provider
	Session      *artisan.Session
	Resolver     *artisan.Resolver
	Uploader     *artisan.Uploader
	Aggregator   *artisan.Aggregator
	Orchestrator *artisan.Orchestrator

	// MemoryLedger is set when LedgerType is "memory"
	MemoryLedger *ledgermemory.Ledger

	closers []func()
}

// Close stops background work and releases connections in reverse order of
// acquisition.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles a Client from the configuration. opts are applied to the
// orchestrator after the configured ones, e.g. artisan.WithHooks.
func (c *ServerConfig) Build(ctx context.Context, opts ...artisan.OrchestratorOption) (*Client, error) {
	return c.BuildWithLogger(ctx, slog.Default(), opts...)
}

// BuildWithLogger assembles a Client whose components log to logger
func (c *ServerConfig) BuildWithLogger(ctx context.Context, logger *slog.Logger, opts ...artisan.OrchestratorOption) (_ *Client, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	client := &Client{Config: c}
	defer func() {
		if err != nil {
			client.Close()
		}
	}()

	if client.Store, err = c.buildStore(); err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}
	if client.Repository, err = client.buildRepository(ctx); err != nil {
		return nil, fmt.Errorf("failed to create activity journal: %w", err)
	}

	binder, err := client.buildLedger(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger binding: %w", err)
	}

	var sink artisan.EventSink = artisan.NewNoopEventSink()
	if c.EnableEventLogging {
		sink = artisan.NewLoggingEventSink(logger)
	}

	client.Session, err = artisan.NewSession(
		artisan.WithProvider(client.Provider),
		artisan.WithBinder(binder),
		artisan.WithSessionEventSink(sink),
		artisan.WithSessionLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := client.Session.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	client.closers = append(client.closers, client.Session.Close)

	client.Resolver = artisan.NewResolver(c.GatewayURL, artisan.WithResolverLogger(logger))
	if client.Uploader, err = artisan.NewUploader(client.Store); err != nil {
		return nil, err
	}

	placeholder := c.PlaceholderImage
	if placeholder == "" {
		placeholder = artisan.DefaultPlaceholderImage
	}
	client.Aggregator, err = artisan.NewAggregator(client.Session,
		artisan.WithResolver(client.Resolver),
		artisan.WithConcurrency(c.FetchConcurrency),
		artisan.WithPlaceholderImage(placeholder),
		artisan.WithAggregatorLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	client.closers = append(client.closers, client.Aggregator.Close)

	orchestratorOpts := append([]artisan.OrchestratorOption{
		artisan.WithInvalidator(client.Aggregator),
		artisan.WithRepository(client.Repository),
		artisan.WithEventSink(sink),
		artisan.WithOrchestratorLogger(logger),
	}, opts...)
	client.Orchestrator, err = artisan.NewOrchestrator(client.Session, orchestratorOpts...)
	if err != nil {
		return nil, err
	}
	client.closers = append(client.closers, client.Orchestrator.Drain)

	logger.Info("marketplace client ready",
		"ledger", c.LedgerType,
		"signer", c.SignerType,
		"storage", c.StorageURL,
		"contract", c.ContractAddress)
	return client, nil
}

func (c *ServerConfig) buildStore() (artisan.ContentStore, error) {
	spec, err := parseStorageURL(c.StorageURL)
	if err != nil {
		return nil, err
	}
	switch spec.Type {
	case "memory":
		return storagememory.New(), nil
	case "fs":
		return fs.New(fs.Config{BaseDir: spec.BaseDir})
	case "s3":
		return s3.New(s3.Config{
			Region:                 spec.Region,
			Bucket:                 spec.Bucket,
			Prefix:                 spec.Prefix,
			AccessKeyID:            c.StoreProjectID,
			SecretAccessKey:        c.StoreProjectSecret,
			Endpoint:               spec.Endpoint,
			UsePathStyle:           spec.UsePathStyle,
			CreateBucketIfNotExist: spec.CreateBucket,
		})
	case "ipfs":
		return ipfs.New(ipfs.Config{
			APIURL:        spec.APIURL,
			ProjectID:     c.StoreProjectID,
			ProjectSecret: c.StoreProjectSecret,
		})
	}
	return nil, fmt.Errorf("unsupported storage type %q", spec.Type)
}

func (client *Client) buildRepository(ctx context.Context) (artisan.Repository, error) {
	kind, target, err := parseDatabaseURL(client.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "postgres":
		pool, err := pgxpool.New(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		client.closers = append(client.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
		}
		repo := postgres.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case "sqlite":
		db, err := sqlite.Open(target)
		if err != nil {
			return nil, err
		}
		client.closers = append(client.closers, func() { _ = db.Close() })
		return sqlite.New(db), nil
	}
	return repomemory.New(), nil
}

func (client *Client) buildLedger(ctx context.Context, logger *slog.Logger) (artisan.LedgerBinder, error) {
	c := client.Config
	if c.LedgerType == "evm" {
		return client.buildEVMLedger(ctx, logger)
	}

	var approver artisan.SigningApprover
	var signer string
	switch c.SignerType {
	case "key":
		chainID := big.NewInt(c.ChainID)
		if c.ChainID == 0 {
			chainID = big.NewInt(1337)
		}
		p, err := key.New(c.SignerPrivateKey, nil, key.WithChainID(chainID), key.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		client.Provider = p
		signer = p.Address().Hex()
	default:
		identity := c.SignerIdentity
		if identity == "" {
			identity = defaultMemoryIdentity
		}
		p := signermemory.New(identity)
		client.Provider = p
		approver = p
		signer = identity
	}

	// The memory provider reports no identities until authorized, so the
	// admin comes from the configured signer rather than the provider.
	admin := c.LedgerAdmin
	if admin == "" {
		admin = signer
	}
	client.MemoryLedger = ledgermemory.New(admin)
	return &ledgermemory.Binder{Ledger: client.MemoryLedger, Approver: approver}, nil
}

func (client *Client) buildEVMLedger(ctx context.Context, logger *slog.Logger) (artisan.LedgerBinder, error) {
	c := client.Config
	backend, err := ethclient.DialContext(ctx, c.LedgerRPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", artisan.ErrProviderUnavailable, c.LedgerRPCURL, err)
	}
	client.closers = append(client.closers, backend.Close)

	opts := []key.Option{key.WithLogger(logger)}
	if c.ChainID != 0 {
		opts = append(opts, key.WithChainID(big.NewInt(c.ChainID)))
	}
	provider, err := key.New(c.SignerPrivateKey, backend, opts...)
	if err != nil {
		return nil, err
	}
	client.Provider = provider

	watchCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		provider.Watch(watchCtx)
	}()
	client.closers = append(client.closers, func() {
		stop()
		<-done
	})

	var binderOpts []evm.BinderOption
	readURL := c.LedgerReadRPCURL
	if readURL == "" {
		binderOpts = append(binderOpts, evm.WithReadBackend(backend))
	} else {
		readBackend, err := ethclient.DialContext(ctx, readURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", artisan.ErrProviderUnavailable, readURL, err)
		}
		client.closers = append(client.closers, readBackend.Close)
		binderOpts = append(binderOpts, evm.WithReadBackend(readBackend))
	}

	binder, err := evm.NewBinder(evm.Config{
		ContractAddress: c.ContractAddress,
		FromBlock:       c.FromBlock,
	}, backend, provider, binderOpts...)
	if err != nil {
		return nil, err
	}
	if err := binder.Verify(ctx); err != nil {
		return nil, err
	}
	return binder, nil
}
