package config

import (
	"path/filepath"
)

// DevelopmentContract is the address the development presets assume. It is
// the first contract a fresh local chain deploys from its default account.
const DevelopmentContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// Development configures a client for local work: an in-process ledger and
// signer, filesystem content under dir and a SQLite activity journal next to
// it. Content and activity persist across restarts; ledger state does not.
func Development(dir string) Option {
	return func(c *ServerConfig) error {
		if dir == "" {
			dir = "./dev-data"
		}
		c.Environment = "development"
		if c.ContractAddress == "" {
			c.ContractAddress = DevelopmentContract
		}
		c.LedgerType = "memory"
		c.SignerType = "memory"
		c.StorageURL = "file://" + filepath.Join(dir, "content")
		c.DatabaseURL = "sqlite://" + filepath.Join(dir, "activity.db")
		c.EnableEventLogging = true
		return nil
	}
}

// Testing configures a fully in-memory client with event logging disabled.
func Testing() Option {
	return func(c *ServerConfig) error {
		c.Environment = "testing"
		if c.ContractAddress == "" {
			c.ContractAddress = DevelopmentContract
		}
		c.LedgerType = "memory"
		c.SignerType = "memory"
		c.StorageURL = "memory://"
		c.DatabaseURL = "memory"
		c.EnableEventLogging = false
		return nil
	}
}
