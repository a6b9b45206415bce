package repositories

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"go-securex/securex"
	"go-securex/securex/errors"
	"go-securex/securex/internal/logging"
)

// SecureRepository is a generic repository over a model configured with securex. Models
// forward their GORM hooks to the same handle, so the repository only adds the failed
// write policy, column checks for filters, logging and metrics.
type SecureRepository[T any] struct {
	db      *gorm.DB
	secure  *securex.Secure[T]
	logger  logging.Logger
	metrics MetricsRecorder
	options RepositoryOptions

	schema    *schema.Schema
	tableName string
}

// NewSecureRepository creates a repository for T. metrics may be nil.
func NewSecureRepository[T any](
	db *gorm.DB,
	secure *securex.Secure[T],
	logger logging.Logger,
	metrics MetricsRecorder,
	options RepositoryOptions,
) (*SecureRepository[T], error) {
	if db == nil || secure == nil {
		return nil, errors.New(errors.ErrCodeMissingConfig, "database and secure handle are required", nil)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	sch, err := secure.Schema()
	if err != nil {
		return nil, err
	}
	if sch.PrioritizedPrimaryField == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("%s has no primary key", sch.Name), nil)
	}

	return &SecureRepository[T]{
		db:        db,
		secure:    secure,
		logger:    logger,
		metrics:   metrics,
		options:   options,
		schema:    sch,
		tableName: sch.Table,
	}, nil
}

// secureColumns is read per call since the model's configuration can change at runtime
func (r *SecureRepository[T]) secureColumns() (map[string]struct{}, error) {
	cols, err := r.secure.SecureColumns()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c.Name] = struct{}{}
	}
	return set, nil
}

// Create creates a new entity
func (r *SecureRepository[T]) Create(ctx context.Context, entity *T) error {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "create", r.tableName)

	if entity == nil {
		derr := errors.New(errors.ErrCodeInvalidInput, "entity cannot be nil", nil)
		r.recordMetrics(ctx, "create", start, derr)
		opLog.Error("Invalid input for create", derr)
		return derr
	}

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		r.revert(ctx, entity, err, opLog)
		werr := errors.WrapGormError(err, "create").WithTable(r.tableName)
		r.recordMetrics(ctx, "create", start, werr)
		opLog.Error("Failed to create entity", werr)
		return werr
	}

	r.recordMetrics(ctx, "create", start, nil)
	opLog.Success("Entity created successfully")
	return nil
}

// CreateBatch creates multiple entities in batches
func (r *SecureRepository[T]) CreateBatch(ctx context.Context, entities []*T) error {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "create_batch", r.tableName)

	filtered := make([]*T, 0, len(entities))
	for _, e := range entities {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		opLog.Warn("Empty batch passed to CreateBatch; nothing to do")
		r.recordMetrics(ctx, "create_batch", start, nil)
		return nil
	}

	batchSize := r.options.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	if err := r.db.WithContext(ctx).CreateInBatches(filtered, batchSize).Error; err != nil {
		r.revertAll(ctx, filtered, err, opLog)
		werr := errors.WrapGormError(err, "create_batch").WithTable(r.tableName)
		r.recordMetrics(ctx, "create_batch", start, werr)
		opLog.Error("Failed to create entities in batch", werr)
		return werr
	}

	r.recordMetrics(ctx, "create_batch", start, nil)
	opLog.WithField("count", len(filtered)).Success("Entities created successfully in batch")
	return nil
}

// GetByID retrieves an entity by its primary key
func (r *SecureRepository[T]) GetByID(ctx context.Context, id any) (*T, error) {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "get_by_id", r.tableName)

	entity := new(T)
	err := r.db.WithContext(ctx).
		Where(r.pkColumn()+" = ?", id).
		First(entity).Error
	if err != nil {
		werr := errors.WrapGormError(err, "get_by_id").WithTable(r.tableName)
		r.recordMetrics(ctx, "get_by_id", start, werr)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			opLog.Warn("Entity not found for ID")
		} else {
			opLog.Error("Failed to get entity by ID", werr)
		}
		return nil, werr
	}

	r.recordMetrics(ctx, "get_by_id", start, nil)
	opLog.Success("Entity retrieved successfully")
	return entity, nil
}

// Update saves every column of entity
func (r *SecureRepository[T]) Update(ctx context.Context, entity *T) error {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "update", r.tableName)

	if entity == nil {
		derr := errors.New(errors.ErrCodeInvalidInput, "entity cannot be nil", nil)
		r.recordMetrics(ctx, "update", start, derr)
		opLog.Error("Invalid input for update", derr)
		return derr
	}

	result := r.db.WithContext(ctx).Save(entity)
	if result.Error != nil {
		r.revert(ctx, entity, result.Error, opLog)
		werr := errors.WrapGormError(result.Error, "update").WithTable(r.tableName)
		r.recordMetrics(ctx, "update", start, werr)
		opLog.Error("Failed to update entity", werr)
		return werr
	}

	r.recordMetrics(ctx, "update", start, nil)
	opLog.Success("Entity updated successfully")
	return nil
}

// Delete deletes the entity with the given primary key
func (r *SecureRepository[T]) Delete(ctx context.Context, id any) error {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "delete", r.tableName).
		WithField("entity_id", fmt.Sprint(id))

	result := r.db.WithContext(ctx).Where(r.pkColumn()+" = ?", id).Delete(new(T))
	if result.Error != nil {
		werr := errors.WrapGormError(result.Error, "delete").WithTable(r.tableName)
		r.recordMetrics(ctx, "delete", start, werr)
		opLog.Error("Failed to delete entity", werr)
		return werr
	}

	if result.RowsAffected == 0 {
		derr := errors.New(errors.ErrCodeRecordNotFound, "entity not found for deletion", nil).
			WithTable(r.tableName)
		r.recordMetrics(ctx, "delete", start, derr)
		opLog.Warn("No rows affected for delete")
		return derr
	}

	r.recordMetrics(ctx, "delete", start, nil)
	opLog.Success("Entity deleted successfully")
	return nil
}

// Find finds entities matching filter
func (r *SecureRepository[T]) Find(ctx context.Context, filter Filter) ([]*T, error) {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "find", r.tableName)

	query, err := r.buildQuery(ctx, filter, true)
	if err != nil {
		r.recordMetrics(ctx, "find", start, err)
		opLog.Error("Invalid filter", err)
		return nil, err
	}

	var entities []*T
	if err := query.Find(&entities).Error; err != nil {
		werr := errors.WrapGormError(err, "find").WithTable(r.tableName)
		r.recordMetrics(ctx, "find", start, werr)
		opLog.Error("Failed to find entities", werr)
		return nil, werr
	}

	r.recordMetrics(ctx, "find", start, nil)
	opLog.WithField("count", len(entities)).Success("Entities found successfully")
	if entities == nil {
		return []*T{}, nil
	}
	return entities, nil
}

// FindOne finds the first entity matching filter
func (r *SecureRepository[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "find_one", r.tableName)

	query, err := r.buildQuery(ctx, filter, true)
	if err != nil {
		r.recordMetrics(ctx, "find_one", start, err)
		opLog.Error("Invalid filter", err)
		return nil, err
	}

	entity := new(T)
	if err := query.First(entity).Error; err != nil {
		werr := errors.WrapGormError(err, "find_one").WithTable(r.tableName)
		r.recordMetrics(ctx, "find_one", start, werr)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			opLog.Warn("Entity not found for filter")
		} else {
			opLog.Error("Failed to find entity", werr)
		}
		return nil, werr
	}

	r.recordMetrics(ctx, "find_one", start, nil)
	opLog.Success("Entity found successfully")
	return entity, nil
}

// Count counts entities matching filter
func (r *SecureRepository[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	start := time.Now()
	opLog := logging.NewOperationLogger(r.logger, "count", r.tableName)

	query, err := r.buildQuery(ctx, filter, false)
	if err != nil {
		r.recordMetrics(ctx, "count", start, err)
		opLog.Error("Invalid filter", err)
		return 0, err
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		werr := errors.WrapGormError(err, "count").WithTable(r.tableName)
		r.recordMetrics(ctx, "count", start, werr)
		opLog.Error("Failed to count entities", werr)
		return 0, werr
	}

	r.recordMetrics(ctx, "count", start, nil)
	opLog.Success("Entities counted successfully")
	return count, nil
}

// Exists checks if an entity with the given primary key exists
func (r *SecureRepository[T]) Exists(ctx context.Context, id any) (bool, error) {
	start := time.Now()

	var count int64
	err := r.db.WithContext(ctx).Model(new(T)).Where(r.pkColumn()+" = ?", id).Count(&count).Error
	if err != nil {
		werr := errors.WrapGormError(err, "exists").WithTable(r.tableName)
		r.recordMetrics(ctx, "exists", start, werr)
		return false, werr
	}

	r.recordMetrics(ctx, "exists", start, nil)
	return count > 0, nil
}

// WithTx returns a repository bound to tx
func (r *SecureRepository[T]) WithTx(tx *gorm.DB) Repository[T] {
	txRepo := *r
	txRepo.db = tx
	return &txRepo
}

// Transaction runs fn with a repository bound to a new transaction
func (r *SecureRepository[T]) Transaction(ctx context.Context, fn func(repo Repository[T]) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// sealed reports whether the write that failed with cause got past the encrypt pass.
// Crypto and configuration errors come from the hooks, and opening the record again
// would only repeat them.
func sealed(cause error) bool {
	return !errors.IsCryptoError(cause) && !errors.IsConfigurationError(cause)
}

// revert decrypts entity again after a failed write so the caller keeps plaintext
func (r *SecureRepository[T]) revert(ctx context.Context, entity *T, cause error, opLog *logging.OperationLogger) {
	if !r.options.RevertOnFailure || !sealed(cause) {
		return
	}
	if err := r.secure.DecryptSecureColumns(ctx, entity); err != nil {
		opLog.WithField("error_code", string(errors.GetErrorCode(err))).
			Warn("Failed to restore plaintext after failed write")
	}
}

// revertAll is revert for a batch; failures are reported once
func (r *SecureRepository[T]) revertAll(ctx context.Context, entities []*T, cause error, opLog *logging.OperationLogger) {
	if !r.options.RevertOnFailure || !sealed(cause) {
		return
	}
	collector := errors.NewErrorCollector(len(entities))
	for _, e := range entities {
		collector.Add(r.secure.DecryptSecureColumns(ctx, e))
	}
	if collector.HasErrors() {
		serr := collector.ToSecureError("revert")
		opLog.WithField("error_code", string(serr.Code)).
			WithField("failed", len(collector.Errors())).
			Warn("Failed to restore plaintext after failed batch write")
	}
}

func (r *SecureRepository[T]) pkColumn() string {
	return r.schema.PrioritizedPrimaryField.DBName
}

// column checks that name is a persisted, non-secure column of T
func (r *SecureRepository[T]) column(name string, secure map[string]struct{}) (string, error) {
	field := r.schema.LookUpField(name)
	if field == nil || field.DBName == "" {
		return "", errors.New(errors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown column %q", name), nil).WithTable(r.tableName)
	}
	if _, ok := secure[field.DBName]; ok {
		return "", errors.New(errors.ErrCodeInvalidQuery,
			fmt.Sprintf("column %q is encrypted and cannot be queried", field.DBName), nil).
			WithTable(r.tableName).WithColumn(field.DBName)
	}
	return field.DBName, nil
}

// buildQuery builds a query based on filter
func (r *SecureRepository[T]) buildQuery(ctx context.Context, filter Filter, withPaging bool) (*gorm.DB, error) {
	secure, err := r.secureColumns()
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(new(T))

	for name, condition := range filter.Where {
		col, err := r.column(name, secure)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(condition.Operator) {
		case "ne":
			query = query.Where(col+" <> ?", condition.Value)
		case "gt":
			query = query.Where(col+" > ?", condition.Value)
		case "gte":
			query = query.Where(col+" >= ?", condition.Value)
		case "lt":
			query = query.Where(col+" < ?", condition.Value)
		case "lte":
			query = query.Where(col+" <= ?", condition.Value)
		case "like":
			query = query.Where(col+" LIKE ?", condition.Value)
		case "in":
			query = query.Where(col+" IN ?", condition.Value)
		case "null":
			query = query.Where(col + " IS NULL")
		default:
			query = query.Where(col+" = ?", condition.Value)
		}
	}

	if !withPaging {
		return query, nil
	}

	for _, orderBy := range filter.OrderBy {
		col, err := r.column(orderBy.Field, secure)
		if err != nil {
			return nil, err
		}
		direction := "ASC"
		if strings.EqualFold(orderBy.Direction, "DESC") {
			direction = "DESC"
		}
		query = query.Order(col + " " + direction)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query, nil
}

// recordMetrics records operation metrics
func (r *SecureRepository[T]) recordMetrics(ctx context.Context, operation string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordOperationWithTable(ctx, "repository_"+operation, r.tableName, time.Since(start), err)
}
