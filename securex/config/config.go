package config

import internal "go-securex/securex/internal/config"

// Re-export public API from internal/config so consumers outside the internal tree can use it

type Config = internal.Config
type DatabaseType = internal.DatabaseType
type Options = internal.Options
type StorageType = internal.StorageType
type SecureConfig = internal.SecureConfig

const (
	PostgreSQL DatabaseType = internal.PostgreSQL
	MySQL      DatabaseType = internal.MySQL
	SQLite     DatabaseType = internal.SQLite
)

const (
	OptionExcept         = internal.OptionExcept
	OptionStorageType    = internal.OptionStorageType
	OptionCryptoProvider = internal.OptionCryptoProvider
)

func DefaultConfig() *Config                           { return internal.DefaultConfig() }
func LoadFromEnv() (*Config, error)                    { return internal.LoadFromEnv() }
func LoadFromEnvFile(files ...string) (*Config, error) { return internal.LoadFromEnvFile(files...) }
func ParseStorageType(declared string) StorageType     { return internal.ParseStorageType(declared) }

func LoadModelOptions(path string) (map[string]Options, error) {
	return internal.LoadModelOptions(path)
}

func ParseModelOptions(data []byte) (map[string]Options, error) {
	return internal.ParseModelOptions(data)
}
