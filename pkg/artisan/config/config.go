package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
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

func defaults() ServerConfig {
	return ServerConfig{
		Port:               "8080",
		Environment:        "development",
		LedgerType:         "memory",
		SignerType:         "memory",
		StorageURL:         "memory://",
		GatewayURL:         "https://ipfs.io/ipfs/",
		PlaceholderImage:   artisan.DefaultPlaceholderImage,
		FetchConcurrency:   artisan.DefaultFetchConcurrency,
		DatabaseURL:        "memory",
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the marketplace client and server
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// Ledger configuration
	LedgerType       string `env:"LEDGER_TYPE" env-default:"memory"` // "memory", "evm"
	LedgerRPCURL     string `env:"LEDGER_RPC_URL"`
	LedgerReadRPCURL string `env:"LEDGER_READ_RPC_URL"` // public read endpoint
	ContractAddress  string `env:"CONTRACT_ADDRESS"`
	ChainID          int64  `env:"CHAIN_ID"`
	FromBlock        uint64 `env:"LEDGER_FROM_BLOCK"`
	LedgerAdmin      string `env:"LEDGER_ADMIN"` // administrator of the memory ledger

	// Signer configuration
	SignerType       string `env:"SIGNER_TYPE" env-default:"memory"` // "memory", "key"
	SignerPrivateKey string `env:"SIGNER_PRIVATE_KEY"`
	SignerIdentity   string `env:"SIGNER_IDENTITY"` // identity held by the memory signer

	// Content configuration
	StorageURL         string `env:"STORAGE_URL" env-default:"memory://"`
	StoreProjectID     string `env:"STORE_PROJECT_ID"`
	StoreProjectSecret string `env:"STORE_PROJECT_SECRET"`
	GatewayURL         string `env:"GATEWAY_URL" env-default:"https://ipfs.io/ipfs/"`
	PlaceholderImage   string `env:"PLACEHOLDER_IMAGE"`
	FetchConcurrency   int    `env:"FETCH_CONCURRENCY" env-default:"8"`

	// Activity journal
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory"` // "memory", "postgres://...", "sqlite://path"

	// Server options
	APIJWTSecret       string `env:"API_JWT_SECRET"`
	EnableEventLogging bool   `env:"ENABLE_EVENT_LOGGING" env-default:"true"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.ContractAddress == "" {
		return errors.New("contract_address is required")
	}
	if !artisan.ValidIdentity(c.ContractAddress) {
		return fmt.Errorf("contract_address %q is not a valid address", c.ContractAddress)
	}

	switch c.LedgerType {
	case "memory":
	case "evm":
		if c.LedgerRPCURL == "" {
			return errors.New("ledger_rpc_url is required when using the evm ledger")
		}
		if c.SignerType != "key" {
			return errors.New("the evm ledger requires signer_type 'key'")
		}
	default:
		return errors.New("ledger_type must be 'memory' or 'evm'")
	}

	switch c.SignerType {
	case "memory":
		if c.SignerIdentity != "" && !artisan.ValidIdentity(c.SignerIdentity) {
			return fmt.Errorf("signer_identity %q is not a valid address", c.SignerIdentity)
		}
	case "key":
		if c.SignerPrivateKey == "" {
			return errors.New("signer_private_key is required when using the key signer")
		}
	default:
		return errors.New("signer_type must be 'memory' or 'key'")
	}

	if c.LedgerAdmin != "" && !artisan.ValidIdentity(c.LedgerAdmin) {
		return fmt.Errorf("ledger_admin %q is not a valid address", c.LedgerAdmin)
	}

	if _, err := parseStorageURL(c.StorageURL); err != nil {
		return err
	}
	if (c.StoreProjectID == "") != (c.StoreProjectSecret == "") {
		return errors.New("store_project_id and store_project_secret must be set together")
	}

	if _, _, err := parseDatabaseURL(c.DatabaseURL); err != nil {
		return err
	}

	if c.FetchConcurrency <= 0 {
		return errors.New("fetch_concurrency must be positive")
	}
	if c.GatewayURL == "" {
		return errors.New("gateway_url is required")
	}
	return nil
}

// parseDatabaseURL returns the journal type and its connection target
func parseDatabaseURL(raw string) (string, string, error) {
	switch {
	case raw == "" || raw == "memory":
		return "memory", "", nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return "sqlite", path, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://...')", raw)
}
