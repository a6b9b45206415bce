// Package migrations creates and drops the tables the secure column layer owns, using
// golang-migrate with SQL embedded in the binary.
package migrations

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"

	"go-securex/securex/errors"
	"go-securex/securex/internal/config"
	"go-securex/securex/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed sql
var migrationFiles embed.FS

// MigrationsTable records the applied version, kept apart from application migrations
const MigrationsTable = "securex_schema_migrations"

// Migrator applies the embedded migrations
type Migrator struct {
	logger  logging.Logger
	migrate *migrate.Migrate
}

// MigrationStatus represents the current migration status
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// NewMigrator creates a migrator for db. Closing the migrator closes db's connection pool.
func NewMigrator(db *gorm.DB, logger logging.Logger, dbType config.DatabaseType) (*Migrator, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to get underlying sql.DB")
	}

	var (
		driver database.Driver
		dir    string
	)
	switch dbType {
	case config.PostgreSQL:
		dir = "sql/postgres"
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case config.MySQL:
		dir = "sql/mysql"
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case config.SQLite:
		dir = "sql/sqlite3"
		driver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported database type: %s", dbType), nil)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed,
			fmt.Sprintf("failed to create %s migration driver", dbType))
	}

	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to open embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dbType), driver)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to create migrate instance")
	}

	return &Migrator{logger: logger, migrate: m}, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	m.logger.Info("Starting securex migration")

	err := m.migrate.Up()
	if stderrors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("No pending securex migrations")
		return nil
	}
	if err != nil {
		m.logger.Error("Migration failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "migration failed")
	}

	m.logger.Info("Securex migration completed")
	return nil
}

// Rollback rolls back the last migration
func (m *Migrator) Rollback(ctx context.Context) error {
	m.logger.Info("Rolling back last securex migration")

	if err := m.migrate.Steps(-1); err != nil {
		m.logger.Error("Rollback failed", logging.ErrorField(err))
		return errors.WrapError(err, errors.ErrCodeMigrationFailed, "rollback failed")
	}
	return nil
}

// GetStatus returns the current migration status
func (m *Migrator) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		return nil, errors.WrapError(err, errors.ErrCodeMigrationFailed, "failed to get migration status")
	}
	return &MigrationStatus{Version: version, Dirty: dirty}, nil
}

// Close releases the migrate instance and the connection it was built on
func (m *Migrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return errors.WrapError(srcErr, errors.ErrCodeMigrationFailed, "failed to close migration source")
	}
	if dbErr != nil {
		return errors.WrapError(dbErr, errors.ErrCodeMigrationFailed, "failed to close migration driver")
	}
	return nil
}
