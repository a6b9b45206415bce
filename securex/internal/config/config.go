// Package config provides configuration for secure columns: the per record type
// SecureConfig resolved from raw options, model option documents, and the environment
// driven Config used to open databases and build the default crypto provider.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	// PostgreSQL database type
	PostgreSQL DatabaseType = "postgres"
	// MySQL database type
	MySQL DatabaseType = "mysql"
	// SQLite database type, mostly for tests and local tooling
	SQLite DatabaseType = "sqlite"
)

// Config holds the connection, encryption and observability settings
type Config struct {
	// Database connection settings
	Type     DatabaseType `json:"type" yaml:"type"`
	Host     string       `json:"host" yaml:"host"`
	Port     int          `json:"port" yaml:"port"`
	Database string       `json:"database" yaml:"database"`
	Username string       `json:"username" yaml:"username"`
	Password string       `json:"-" yaml:"-"`
	SSLMode  string       `json:"ssl_mode" yaml:"ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	LogLevel        int           `json:"log_level" yaml:"log_level"`

	// Secure column settings
	Algorithm   string `json:"algorithm" yaml:"algorithm"`
	MasterKey   string `json:"-" yaml:"-"`
	KeySalt     string `json:"-" yaml:"-"`
	Codec       string `json:"codec" yaml:"codec"`
	StorageType string `json:"storage_type" yaml:"storage_type"`
	ModelsFile  string `json:"models_file" yaml:"models_file"`
	VerifyKey   bool   `json:"verify_key" yaml:"verify_key"`

	// Observability settings
	EnableMetrics      bool   `json:"enable_metrics" yaml:"enable_metrics"`
	EnableTracing      bool   `json:"enable_tracing" yaml:"enable_tracing"`
	MetricsNamespace   string `json:"metrics_namespace" yaml:"metrics_namespace"`
	TracingServiceName string `json:"tracing_service_name" yaml:"tracing_service_name"`
	LogFormatLevel     string `json:"log_level_name" yaml:"log_level_name"`
}

// DefaultConfig returns a configuration with secure defaults
func DefaultConfig() *Config {
	return &Config{
		Type:     PostgreSQL,
		Host:     "localhost",
		Port:     5432,
		Database: "db",
		Username: "postgres",
		SSLMode:  "require",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  30 * time.Second,
		LogLevel:        1, // Silent by default

		Algorithm:   "AES-256-GCM",
		Codec:       "yaml",
		StorageType: string(DefaultStorageType),
		VerifyKey:   false,

		EnableMetrics:      true,
		EnableTracing:      false,
		MetricsNamespace:   "securex",
		TracingServiceName: "go-securex",
		LogFormatLevel:     "info",
	}
}

// LoadFromEnvFile loads the given .env files into the process environment and then
// reads the configuration. Variables already set in the environment win.
func LoadFromEnvFile(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()

	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Type = DatabaseType(strings.ToLower(dbType))
	}
	setString(&config.Host, "DB_HOST")
	setString(&config.Database, "DB_DATABASE")
	setString(&config.Username, "DB_USERNAME")
	setString(&config.Password, "DB_PASSWORD")
	setString(&config.SSLMode, "DB_SSL_MODE")

	if err := setInt(&config.Port, "DB_PORT"); err != nil {
		return nil, err
	}
	if err := setInt(&config.MaxOpenConns, "DB_MAX_OPEN_CONNS"); err != nil {
		return nil, err
	}
	if err := setInt(&config.MaxIdleConns, "DB_MAX_IDLE_CONNS"); err != nil {
		return nil, err
	}
	if err := setInt(&config.LogLevel, "DB_LOG_LEVEL"); err != nil {
		return nil, err
	}
	if err := setDuration(&config.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME"); err != nil {
		return nil, err
	}
	if err := setDuration(&config.ConnectTimeout, "DB_CONNECT_TIMEOUT"); err != nil {
		return nil, err
	}

	setString(&config.Algorithm, "SECUREX_ALGORITHM")
	setString(&config.MasterKey, "SECUREX_MASTER_KEY")
	setString(&config.KeySalt, "SECUREX_KEY_SALT")
	setString(&config.Codec, "SECUREX_CODEC")
	setString(&config.StorageType, "SECUREX_STORAGE_TYPE")
	setString(&config.ModelsFile, "SECUREX_MODELS_FILE")
	if err := setBool(&config.VerifyKey, "SECUREX_VERIFY_KEY"); err != nil {
		return nil, err
	}

	if err := setBool(&config.EnableMetrics, "SECUREX_ENABLE_METRICS"); err != nil {
		return nil, err
	}
	if err := setBool(&config.EnableTracing, "SECUREX_ENABLE_TRACING"); err != nil {
		return nil, err
	}
	setString(&config.MetricsNamespace, "SECUREX_METRICS_NAMESPACE")
	setString(&config.TracingServiceName, "SECUREX_TRACING_SERVICE_NAME")
	setString(&config.LogFormatLevel, "SECUREX_LOG_LEVEL")

	return config, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Type {
	case PostgreSQL, MySQL:
		if c.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Port)
		}
		if c.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case SQLite:
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}

	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}

	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	if c.ConnMaxLifetime <= 0 {
		return fmt.Errorf("conn_max_lifetime must be positive")
	}

	if c.MasterKey != "" {
		if _, err := c.MasterKeyBytes(); err != nil {
			return err
		}
	}

	return nil
}

// MasterKeyBytes decodes SECUREX_MASTER_KEY, which may be hex or standard base64
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, fmt.Errorf("master key is not configured")
	}
	if key, err := hex.DecodeString(c.MasterKey); err == nil {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(c.MasterKey); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("master key must be hex or base64 encoded")
}

// GetDSN returns the database connection string (DSN) for the configured database type
func (c *Config) GetDSN() string {
	switch c.Type {
	case PostgreSQL:
		return c.getPostgresDSN()
	case MySQL:
		return c.getMySQLDSN()
	case SQLite:
		return c.Database
	default:
		return ""
	}
}

func (c *Config) getPostgresDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Database, c.SSLMode)

	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}

	dsn += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))

	return dsn
}

func (c *Config) getMySQLDSN() string {
	params := []string{
		"charset=utf8mb4",
		"parseTime=True",
		"loc=Local",
		fmt.Sprintf("timeout=%s", c.ConnectTimeout),
	}
	if c.SSLMode != "disable" && c.SSLMode != "" {
		params = append(params, "tls=true")
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, strings.Join(params, "&"))
}
