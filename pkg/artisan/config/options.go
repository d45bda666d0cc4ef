package config

// WithPort sets the HTTP port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithContractAddress sets the marketplace contract address.
func WithContractAddress(address string) Option {
	return func(c *ServerConfig) error {
		c.ContractAddress = address
		return nil
	}
}

// WithMemoryLedger uses the in-process ledger administered by admin.
func WithMemoryLedger(admin string) Option {
	return func(c *ServerConfig) error {
		c.LedgerType = "memory"
		c.LedgerAdmin = admin
		return nil
	}
}

// WithEVMLedger uses the contract on the chain behind rpcURL. readRPCURL,
// when set, serves anonymous reads.
func WithEVMLedger(rpcURL, readRPCURL string) Option {
	return func(c *ServerConfig) error {
		c.LedgerType = "evm"
		c.LedgerRPCURL = rpcURL
		c.LedgerReadRPCURL = readRPCURL
		return nil
	}
}

// WithMemorySigner uses a scriptable signer holding identity.
func WithMemorySigner(identity string) Option {
	return func(c *ServerConfig) error {
		c.SignerType = "memory"
		c.SignerIdentity = identity
		return nil
	}
}

// WithKeySigner signs with a hex-encoded private key.
func WithKeySigner(privateKey string) Option {
	return func(c *ServerConfig) error {
		c.SignerType = "key"
		c.SignerPrivateKey = privateKey
		return nil
	}
}

// WithStorageURL selects the content store.
func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = storageURL
		return nil
	}
}

// WithStoreCredentials sets the content store credential pair.
func WithStoreCredentials(projectID, projectSecret string) Option {
	return func(c *ServerConfig) error {
		c.StoreProjectID = projectID
		c.StoreProjectSecret = projectSecret
		return nil
	}
}

// WithGatewayURL sets the content gateway prefix.
func WithGatewayURL(gateway string) Option {
	return func(c *ServerConfig) error {
		c.GatewayURL = gateway
		return nil
	}
}

// WithDatabaseURL selects the activity journal.
func WithDatabaseURL(databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithFetchConcurrency bounds concurrent item fetches.
func WithFetchConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		c.FetchConcurrency = n
		return nil
	}
}

// WithJWTSecret sets the HMAC secret for write-route bearer tokens.
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.APIJWTSecret = secret
		return nil
	}
}
