package securex

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go-securex/securex/codec"
	"go-securex/securex/db"
	"go-securex/securex/errors"
	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/config"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
	"go-securex/securex/migrations"
)

// DefaultProviderName is the name the environment configured provider is registered under
const DefaultProviderName = "default"

// Client bundles a database connection with a registry, the default provider built from
// configuration, metrics and the key check.
type Client struct {
	database     *db.Database
	registry     *Registry
	logger       logging.Logger
	migrator     *migrations.Migrator
	metrics      *db.MetricsCollector
	keyChecker   *db.KeyChecker
	provider     security.Provider
	modelOptions map[string]config.Options
}

// Config represents the client configuration
type Config struct {
	Database *config.Config
	Logger   logging.Logger
	Options  ClientOptions

	// Registerer receives the Prometheus metrics; the default registerer when nil
	Registerer prometheus.Registerer
	// Provider overrides the provider built from the database configuration
	Provider security.Provider
}

// ClientOptions holds optional configuration for the client
type ClientOptions struct {
	EnableMetrics    bool `json:"enable_metrics"`
	EnableMigrations bool `json:"enable_migrations"`
	VerifyKey        bool `json:"verify_key"`
	SkipHealthCheck  bool `json:"skip_health_check"`
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		EnableMetrics:    true,
		EnableMigrations: true,
		VerifyKey:        false,
		SkipHealthCheck:  false,
	}
}

// NewClient opens the database and prepares the registry
func NewClient(cfg Config) (*Client, error) {
	if cfg.Database == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "database configuration is required", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewStdLogger(cfg.Database.LogFormatLevel)
	}

	database, err := db.New(cfg.Database, cfg.Logger)
	if err != nil {
		return nil, err
	}

	client, err := newClient(database, cfg)
	if err != nil {
		database.Close()
		return nil, err
	}
	return client, nil
}

// NewClientWithDatabase builds a client around an open database. The client owns
// database from then on; a failure after the migrations were opened closes it.
func NewClientWithDatabase(database *db.Database, cfg Config) (*Client, error) {
	if database == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "database is required", nil)
	}
	if cfg.Database == nil {
		cfg.Database = database.Config()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	return newClient(database, cfg)
}

func newClient(database *db.Database, cfg Config) (_ *Client, err error) {
	if cfg.Options == (ClientOptions{}) {
		cfg.Options = DefaultClientOptions()
		cfg.Options.VerifyKey = cfg.Database.VerifyKey
	}

	c := &Client{
		database: database,
		logger:   cfg.Logger,
	}
	defer func() {
		if err != nil && c.migrator != nil {
			c.closeMigrator()
			database.Close()
		}
	}()

	if cfg.Options.EnableMetrics && cfg.Database.EnableMetrics {
		if c.metrics, err = db.NewMetricsCollector(cfg.Database.MetricsNamespace, true, cfg.Registerer); err != nil {
			return nil, err
		}
		if !cfg.Database.EnableTracing {
			c.metrics.DisableTracing()
		}
		if err := c.metrics.RegisterCallbacks(database.DB()); err != nil {
			return nil, err
		}
	}

	cdc, err := codec.ByName(cfg.Database.Codec)
	if err != nil {
		return nil, err
	}

	regOpts := []RegistryOption{
		WithCodec(cdc),
		WithLogger(cfg.Logger),
		WithNamingStrategy(database.DB().NamingStrategy),
		WithDefaultStorageType(config.StorageType(cfg.Database.StorageType)),
	}
	if c.metrics != nil {
		regOpts = append(regOpts, WithObserver(c.metrics))
	}
	c.registry = NewRegistry(regOpts...)

	c.provider = cfg.Provider
	if c.provider == nil && cfg.Database.MasterKey != "" {
		if c.provider, err = ProviderFromConfig(cfg.Database); err != nil {
			return nil, err
		}
	}
	if c.provider != nil {
		if err := c.registry.RegisterProvider(DefaultProviderName, c.provider); err != nil {
			return nil, err
		}
	}

	if cfg.Database.ModelsFile != "" {
		if c.modelOptions, err = config.LoadModelOptions(cfg.Database.ModelsFile); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "failed to load models file")
		}
	}

	if !cfg.Options.SkipHealthCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Options.EnableMigrations {
		if c.migrator, err = migrations.NewMigrator(database.DB(), cfg.Logger, cfg.Database.Type); err != nil {
			return nil, err
		}
		if err := c.migrator.Migrate(context.Background()); err != nil {
			return nil, err
		}
		c.keyChecker = db.NewKeyChecker(database.DB(), cfg.Logger)
	}

	if cfg.Options.VerifyKey && c.provider != nil {
		if c.keyChecker == nil {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "key verification requires migrations", nil)
		}
		if err := c.keyChecker.Register(context.Background(), DefaultProviderName, c.provider); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Securex client initialized",
		logging.String("database_type", string(cfg.Database.Type)),
		logging.String("codec", cdc.ContentType()),
		logging.Bool("default_provider", c.provider != nil),
		logging.Bool("metrics_enabled", c.metrics != nil),
		logging.Int("model_documents", len(c.modelOptions)),
	)
	return c, nil
}

// NewClientFromEnv creates a client from environment variables
func NewClientFromEnv(logger logging.Logger) (*Client, error) {
	dbConfig, err := config.LoadFromEnv()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigValidation, "failed to load configuration from environment")
	}

	opts := DefaultClientOptions()
	opts.VerifyKey = dbConfig.VerifyKey
	return NewClient(Config{
		Database: dbConfig,
		Logger:   logger,
		Options:  opts,
	})
}

// ProviderFromConfig builds the reference provider described by cfg
func ProviderFromConfig(cfg *config.Config) (security.Provider, error) {
	key, err := cfg.MasterKeyBytes()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "invalid master key")
	}

	p, err := security.NewProvider(&security.ProviderConfig{
		MasterKey: key,
		KeySalt:   []byte(cfg.KeySalt),
		Algorithm: cfg.Algorithm,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "failed to build crypto provider")
	}
	return p, nil
}

// Registry returns the client's registry
func (c *Client) Registry() *Registry {
	return c.registry
}

// Database returns the database instance
func (c *Client) Database() *db.Database {
	return c.database
}

// Logger returns the logger instance
func (c *Client) Logger() logging.Logger {
	return c.logger
}

// Metrics returns the metrics collector, nil when metrics are disabled
func (c *Client) Metrics() *db.MetricsCollector {
	return c.metrics
}

// KeyChecker returns the key checker, nil when migrations are disabled
func (c *Client) KeyChecker() *db.KeyChecker {
	return c.keyChecker
}

// DefaultProvider returns the provider built from configuration, if any
func (c *Client) DefaultProvider() security.Provider {
	return c.provider
}

// ModelOptions returns the option documents read from the models file
func (c *Client) ModelOptions() map[string]config.Options {
	return c.modelOptions
}

// RegisterProvider makes p available to model documents under name
func (c *Client) RegisterProvider(name string, p security.Provider) error {
	return c.registry.RegisterProvider(name, p)
}

// VerifyProvider checks p against the canary stored for its key
func (c *Client) VerifyProvider(ctx context.Context, p security.Provider) error {
	if c.keyChecker == nil {
		return errors.New(errors.ErrCodeNotImplemented, "migrations not enabled", nil)
	}
	return c.keyChecker.VerifyProvider(ctx, p)
}

// Health checks the database connection
func (c *Client) Health(ctx context.Context) error {
	return c.database.Ping(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.migrator != nil {
		c.closeMigrator()
	}
	if c.database != nil {
		return c.database.Close()
	}
	return nil
}

// closeMigrator also closes the connection pool the migrator was built on
func (c *Client) closeMigrator() {
	if err := c.migrator.Close(); err != nil {
		c.logger.Warn("Failed to close migrator", logging.ErrorField(err))
	}
	c.migrator = nil
}

// ConfigureModel configures T from the client's models file entry for T's table, or from
// opts when the file has no such entry
func ConfigureModel[T any](c *Client, opts ...Option) (*Secure[T], error) {
	if c.modelOptions != nil {
		s, err := catalog.Parse(new(T), c.registry.schemas, c.registry.namer)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfiguration, err.Error(), nil)
		}
		if raw, ok := c.modelOptions[s.Table]; ok {
			return ConfigureOptions[T](c.registry, raw)
		}
	}
	return Configure[T](c.registry, opts...)
}

// CheckStorage verifies that the live table of T stores every secure column with T's
// configured storage type. Run it after migrating T.
func CheckStorage[T any](ctx context.Context, c *Client, s *Secure[T]) error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	cols, err := s.SecureColumns()
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	return c.database.CheckColumnStorage(ctx, new(T), catalog.Names(cols), cfg.StorageType)
}
