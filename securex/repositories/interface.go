// Package repositories provides a generic repository for models with secure columns.
package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository provides the base interface for repository operations on *T
type Repository[T any] interface {
	// Basic CRUD operations
	Create(ctx context.Context, entity *T) error
	CreateBatch(ctx context.Context, entities []*T) error
	GetByID(ctx context.Context, id any) (*T, error)
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id any) error

	// Query operations
	Find(ctx context.Context, filter Filter) ([]*T, error)
	FindOne(ctx context.Context, filter Filter) (*T, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Exists(ctx context.Context, id any) (bool, error)

	// Transaction support
	WithTx(tx *gorm.DB) Repository[T]
	Transaction(ctx context.Context, fn func(repo Repository[T]) error) error
}

// Filter represents query filters. Secure columns hold ciphertext and cannot be filtered
// or ordered on.
type Filter struct {
	Where   map[string]WhereCondition `json:"where,omitempty"`
	OrderBy []OrderBy                 `json:"order_by,omitempty"`
	Limit   int                       `json:"limit,omitempty"`
	Offset  int                       `json:"offset,omitempty"`
}

// WhereCondition represents a where condition
type WhereCondition struct {
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// OrderBy represents ordering
type OrderBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "ASC" or "DESC"
}

// Eq is shorthand for an equality condition
func Eq(value any) WhereCondition {
	return WhereCondition{Operator: "eq", Value: value}
}

// RepositoryOptions configures repository behavior
type RepositoryOptions struct {
	BatchSize int `json:"batch_size"`

	// RevertOnFailure decrypts the caller's record again when a write fails, since GORM
	// skips AfterSave on error and the record would otherwise keep its ciphertext
	RevertOnFailure bool `json:"revert_on_failure"`
}

// DefaultRepositoryOptions returns default repository options
func DefaultRepositoryOptions() RepositoryOptions {
	return RepositoryOptions{
		BatchSize:       100,
		RevertOnFailure: true,
	}
}

// MetricsRecorder receives one observation per repository operation; db.MetricsCollector
// implements it
type MetricsRecorder interface {
	RecordOperationWithTable(ctx context.Context, operation, table string, duration time.Duration, err error)
}
