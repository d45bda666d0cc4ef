package config

import (
	"fmt"
	"reflect"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads ServerConfig fields from environment variables named by
// their env tags, each prefixed with prefix.
//
// The common variables are:
//
//	CONTRACT_ADDRESS  deployed marketplace contract (required)
//	LEDGER_TYPE       memory | evm, with LEDGER_RPC_URL and LEDGER_READ_RPC_URL
//	SIGNER_TYPE       memory | key, with SIGNER_PRIVATE_KEY
//	STORAGE_URL       memory:// | file:///path | s3://bucket | ipfs://host:port
//	DATABASE_URL      memory | postgres://... | sqlite://path
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if prefix == "" {
			if err := cleanenv.ReadEnv(c); err != nil {
				return fmt.Errorf("read environment: %w", err)
			}
			return nil
		}

		// cleanenv applies prefixes to nested structs only.
		wrapper := reflect.New(reflect.StructOf([]reflect.StructField{{
			Name: "Config",
			Type: reflect.TypeOf(ServerConfig{}),
			Tag:  reflect.StructTag(fmt.Sprintf(`env-prefix:%q`, prefix)),
		}}))
		wrapper.Elem().Field(0).Set(reflect.ValueOf(*c))
		if err := cleanenv.ReadEnv(wrapper.Interface()); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		*c = wrapper.Elem().Field(0).Interface().(ServerConfig)
		return nil
	}
}
