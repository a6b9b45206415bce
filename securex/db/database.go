// Package db opens GORM connections for records with secure columns and provides the
// metrics collector and key check used around them.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-securex/securex/errors"
	"go-securex/securex/internal/config"
	"go-securex/securex/internal/logging"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const slowQueryThreshold = 200 * time.Millisecond

func errClosed() error {
	return errors.New(errors.ErrCodeConnectionFailed, "database is closed", nil)
}

// Database owns the GORM connection that models with secure columns are saved through.
// Its SQL logger redacts ciphertext literals before anything reaches the log.
type Database struct {
	mu     sync.RWMutex
	gdb    *gorm.DB
	pool   *sql.DB
	cfg    *config.Config
	logger logging.Logger
	closed bool
}

// New validates cfg, opens the configured engine and pings it
func New(cfg *config.Config, logger logging.Logger) (*Database, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "database configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigValidation, "invalid database configuration")
	}
	if logger == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "logger is required", nil)
	}

	d := &Database{cfg: cfg, logger: logger}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open adopts a connection opened elsewhere, e.g. by tests or an application that
// already owns its *gorm.DB
func Open(gormDB *gorm.DB, cfg *config.Config, logger logging.Logger) (*Database, error) {
	if gormDB == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "gorm connection is required", nil)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	pool, err := gormDB.DB()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to get underlying SQL DB")
	}
	return &Database{gdb: gormDB, pool: pool, cfg: cfg, logger: logger}, nil
}

func (d *Database) open() error {
	dialector, err := dialectorFor(d.cfg)
	if err != nil {
		return err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.NewDBLogger(d.logger, logging.LoggerConfig{
			LogLevel:             logging.LogLevel(d.cfg.LogLevel),
			IgnoreRecordNotFound: true,
			SlowThreshold:        slowQueryThreshold,
			SourceField:          "source",
		}),
		NamingStrategy: schema.NamingStrategy{},
	})
	if err != nil {
		return errors.WrapGormError(err, "connect")
	}

	pool, err := gdb.DB()
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to get underlying SQL DB")
	}
	pool.SetMaxOpenConns(d.cfg.MaxOpenConns)
	pool.SetMaxIdleConns(d.cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ConnectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "database ping failed")
	}

	d.gdb, d.pool = gdb, pool
	d.logger.Info("Database connection established",
		logging.String("database_type", string(d.cfg.Type)),
		logging.String("database", d.cfg.Database),
		logging.Int("max_open_conns", d.cfg.MaxOpenConns),
		logging.Int("max_idle_conns", d.cfg.MaxIdleConns),
	)
	return nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	dsn := cfg.GetDSN()
	if dsn == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("no DSN for database type %q", cfg.Type), nil)
	}

	switch cfg.Type {
	case config.PostgreSQL:
		return postgres.Open(dsn), nil
	case config.MySQL:
		return mysql.Open(dsn), nil
	case config.SQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, errors.New(errors.ErrCodeInvalidConfig,
		fmt.Sprintf("unsupported database type: %s", cfg.Type), nil)
}

// DB returns the GORM connection
func (d *Database) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gdb
}

// SqlDB returns the connection pool
func (d *Database) SqlDB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pool
}

func (d *Database) Config() *config.Config {
	return d.cfg
}

// WithContext returns a session bound to ctx, or nil once closed. Provider overrides
// carried by ctx reach the hooks of every record saved or loaded through the session.
func (d *Database) WithContext(ctx context.Context) *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}
	return d.gdb.WithContext(ctx)
}

// Transaction runs fn in a transaction bound to ctx
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errClosed()
	}
	return d.gdb.WithContext(ctx).Transaction(fn)
}

func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case d.closed:
		return errClosed()
	case d.pool == nil:
		return errors.New(errors.ErrCodeConnectionFailed, "database connection not initialized", nil)
	}
	if err := d.pool.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "database ping failed")
	}
	return nil
}

// CheckColumnStorage compares the live column types of model's table with want for the
// given columns. Ciphertext in a column of another type is silently mangled by some
// engines, so a mismatch is reported as ErrCodeInvalidConfig listing every offender.
func (d *Database) CheckColumnStorage(ctx context.Context, model any, columns []string, want config.StorageType) error {
	session := d.WithContext(ctx)
	if session == nil {
		return errClosed()
	}

	types, err := session.Migrator().ColumnTypes(model)
	if err != nil {
		return errors.WrapGormError(err, "column_types")
	}
	live := make(map[string]config.StorageType, len(types))
	for _, ct := range types {
		live[ct.Name()] = config.ParseStorageType(ct.DatabaseTypeName())
	}

	var bad []string
	for _, col := range columns {
		got, ok := live[col]
		switch {
		case !ok:
			bad = append(bad, col+" (missing)")
		case got != want:
			bad = append(bad, fmt.Sprintf("%s (%s)", col, got))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("secure columns are not stored as %s: %s", want, strings.Join(bad, ", ")), nil)
	}
	return nil
}

// Close closes the pool. Closing twice is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}

	if d.pool != nil {
		if err := d.pool.Close(); err != nil {
			d.logger.Error("Failed to close database connection", logging.ErrorField(err))
			return errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to close database connection")
		}
	}
	d.closed = true
	d.logger.Info("Database connection closed")
	return nil
}

func (d *Database) IsClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
