package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go-securex/securex/errors"
	"go-securex/securex/internal/security"
)

// StorageType is the declared column type that marks a column as encryptable
type StorageType string

const (
	Binary  StorageType = "binary"
	Text    StorageType = "text"
	Integer StorageType = "integer"
	Float   StorageType = "float"
	Boolean StorageType = "boolean"
	Time    StorageType = "time"
)

// DefaultStorageType is used when no storage type option is given
const DefaultStorageType = Binary

var sizeSuffix = regexp.MustCompile(`\s*\(.*\)\s*$`)

// ParseStorageType normalizes a declared column type. Engine specific names such as
// bytea or varbinary(255) map onto the portable storage types; anything else is kept
// lower-cased as is.
func ParseStorageType(declared string) StorageType {
	name := strings.ToLower(strings.TrimSpace(declared))
	name = sizeSuffix.ReplaceAllString(name, "")

	switch name {
	case "binary", "bytes", "blob", "bytea", "varbinary", "tinyblob", "mediumblob", "longblob":
		return Binary
	case "text", "string", "varchar", "char", "character varying", "longtext", "mediumtext", "tinytext":
		return Text
	case "integer", "int", "uint", "bigint", "smallint", "tinyint", "mediumint":
		return Integer
	case "float", "real", "double", "double precision", "decimal", "numeric":
		return Float
	case "boolean", "bool":
		return Boolean
	case "time", "timestamp", "timestamptz", "datetime", "date":
		return Time
	default:
		return StorageType(name)
	}
}

// SecureConfig is the per record type encryption configuration. It is a value: Clone
// returns an independent copy and nothing in it is shared between types.
type SecureConfig struct {
	Except       []string
	StorageType  StorageType
	Provider     security.Provider
	ProviderName string
}

// DefaultSecureConfig returns the configuration implied by an empty option set
func DefaultSecureConfig() SecureConfig {
	return SecureConfig{
		Except:      []string{},
		StorageType: DefaultStorageType,
	}
}

// Clone returns a copy that shares no mutable state with c
func (c SecureConfig) Clone() SecureConfig {
	out := c
	out.Except = append([]string{}, c.Except...)
	return out
}

// Excludes reports whether column was listed in Except
func (c SecureConfig) Excludes(column string) bool {
	for _, name := range c.Except {
		if name == column {
			return true
		}
	}
	return false
}

// Option keys recognized by Resolve
const (
	OptionExcept         = "except"
	OptionStorageType    = "storage_type"
	OptionCryptoProvider = "crypto_provider"
)

var optionAliases = map[string]string{
	OptionExcept:         OptionExcept,
	OptionStorageType:    OptionStorageType,
	"storageType":        OptionStorageType,
	OptionCryptoProvider: OptionCryptoProvider,
	"cryptoProvider":     OptionCryptoProvider,
}

// Options is the raw, unvalidated option set given to configure a record type. It is a
// map so that option documents loaded from files go through the same validation.
type Options map[string]any

// ProviderLookup resolves a provider referenced by name
type ProviderLookup func(name string) (security.Provider, bool)

// Resolve validates opts and produces a SecureConfig. Unknown keys are all reported in a
// single configuration error and nothing is applied.
func Resolve(opts Options, lookup ProviderLookup) (SecureConfig, error) {
	var unknown []string
	normalized := make(map[string]any, len(opts))
	for key, value := range opts {
		canonical, ok := optionAliases[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		normalized[canonical] = value
	}
	if len(unknown) > 0 {
		return SecureConfig{}, errors.NewConfigurationError(unknown)
	}

	cfg := DefaultSecureConfig()

	if raw, ok := normalized[OptionExcept]; ok && raw != nil {
		except, err := columnNames(raw)
		if err != nil {
			return SecureConfig{}, err
		}
		cfg.Except = except
	}

	if raw, ok := normalized[OptionStorageType]; ok && raw != nil {
		switch v := raw.(type) {
		case StorageType:
			cfg.StorageType = ParseStorageType(string(v))
		case string:
			cfg.StorageType = ParseStorageType(v)
		default:
			return SecureConfig{}, invalidOption(OptionStorageType, raw)
		}
		if cfg.StorageType == "" {
			return SecureConfig{}, invalidOption(OptionStorageType, raw)
		}
	}

	if raw, ok := normalized[OptionCryptoProvider]; ok && raw != nil {
		switch v := raw.(type) {
		case security.Provider:
			cfg.Provider = v
		case string:
			if lookup == nil {
				return SecureConfig{}, invalidOption(OptionCryptoProvider, v)
			}
			p, found := lookup(v)
			if !found {
				return SecureConfig{}, errors.New(errors.ErrCodeConfiguration,
					fmt.Sprintf("crypto provider %q is not registered", v), nil)
			}
			cfg.Provider = p
			cfg.ProviderName = v
		default:
			return SecureConfig{}, invalidOption(OptionCryptoProvider, raw)
		}
	}

	return cfg, nil
}

// columnNames flattens the except option into column names
func columnNames(raw any) ([]string, error) {
	var names []string
	switch v := raw.(type) {
	case string:
		names = []string{v}
	case []string:
		names = append(names, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalidOption(OptionExcept, raw)
			}
			names = append(names, s)
		}
	default:
		return nil, invalidOption(OptionExcept, raw)
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func invalidOption(key string, value any) error {
	return errors.New(errors.ErrCodeConfiguration,
		fmt.Sprintf("invalid value for option %s: %T", key, value), nil)
}
