package db

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"go-securex/securex/errors"
)

// MetricsCollector records secure column passes and repository operations in Prometheus
// and OpenTelemetry. It implements the lifecycle observer interface.
type MetricsCollector struct {
	namespace string
	enabled   bool

	// Prometheus metrics
	operationDuration *prometheus.HistogramVec
	operationCounter  *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec
	columnsHistogram  prometheus.Histogram

	// OpenTelemetry metrics
	otelOperationDuration metric.Float64Histogram
	otelOperationCounter  metric.Int64Counter
	otelErrorCounter      metric.Int64Counter

	tracer trace.Tracer
}

// NewMetricsCollector registers the collector's metrics with reg. A nil reg uses the
// Prometheus default registerer. Collectors built with the same namespace on the same
// registerer share their series.
func NewMetricsCollector(namespace string, enabled bool, reg prometheus.Registerer) (*MetricsCollector, error) {
	if !enabled {
		return &MetricsCollector{enabled: false}, nil
	}
	if namespace == "" {
		namespace = "securex"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	mc := &MetricsCollector{
		namespace: namespace,
		enabled:   true,
	}

	if err := mc.initPrometheusMetrics(reg); err != nil {
		return nil, err
	}
	mc.initOTelMetrics()

	return mc, nil
}

func (mc *MetricsCollector) initPrometheusMetrics(reg prometheus.Registerer) (err error) {
	mc.operationDuration, err = register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mc.namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of secure column passes and repository operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation", "table", "success"},
	))
	if err != nil {
		return err
	}

	mc.operationCounter, err = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "operations_total",
			Help:      "Total number of secure column passes and repository operations",
		},
		[]string{"operation", "table", "success"},
	))
	if err != nil {
		return err
	}

	mc.errorCounter, err = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "errors_total",
			Help:      "Total number of failed operations by error code",
		},
		[]string{"operation", "error_code"},
	))
	if err != nil {
		return err
	}

	mc.columnsHistogram, err = register(reg, prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: mc.namespace,
			Name:      "secure_columns",
			Help:      "Number of secure columns processed per pass",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	))
	return err
}

// register adds c to reg. When an equal collector is already registered, that one is
// returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var dup prometheus.AlreadyRegisteredError
	if stderrors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, errors.WrapError(err, errors.ErrCodeInvalidConfig, "failed to register metrics")
}

func (mc *MetricsCollector) initOTelMetrics() {
	meter := otel.Meter(mc.namespace)
	mc.tracer = otel.Tracer(mc.namespace)

	// Instrument creation only fails for invalid names; a nil instrument is skipped.
	mc.otelOperationDuration, _ = meter.Float64Histogram(
		mc.namespace+"_operation_duration",
		metric.WithDescription("Duration of secure column operations"),
		metric.WithUnit("s"),
	)
	mc.otelOperationCounter, _ = meter.Int64Counter(
		mc.namespace+"_operations_total",
		metric.WithDescription("Total number of secure column operations"),
	)
	mc.otelErrorCounter, _ = meter.Int64Counter(
		mc.namespace+"_errors_total",
		metric.WithDescription("Total number of failed secure column operations"),
	)
}

// ObservePass records one encrypt or decrypt pass and emits a span covering it
func (mc *MetricsCollector) ObservePass(ctx context.Context, operation, table string, columns int, duration time.Duration, err error) {
	if !mc.IsEnabled() {
		return
	}

	mc.columnsHistogram.Observe(float64(columns))
	mc.RecordOperationWithTable(ctx, operation, table, duration, err)

	if mc.tracer == nil {
		return
	}
	end := time.Now()
	_, span := mc.tracer.Start(ctx, "securex."+operation,
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("securex.table", table),
			attribute.Int("securex.columns", columns),
		),
	)
	if err != nil {
		mc.RecordTraceError(span, err)
	}
	span.End(trace.WithTimestamp(end))
}

// RecordOperationWithTable records metrics for an operation on table
func (mc *MetricsCollector) RecordOperationWithTable(ctx context.Context, operation, table string, duration time.Duration, err error) {
	if !mc.IsEnabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	success := err == nil
	successStr := strconv.FormatBool(success)

	mc.operationDuration.WithLabelValues(operation, table, successStr).Observe(duration.Seconds())
	mc.operationCounter.WithLabelValues(operation, table, successStr).Inc()

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.Bool("success", success),
	)
	if mc.otelOperationDuration != nil {
		mc.otelOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if mc.otelOperationCounter != nil {
		mc.otelOperationCounter.Add(ctx, 1, attrs)
	}

	if !success {
		mc.IncrementErrorWithCode(ctx, operation, string(errors.GetErrorCode(err)))
	}
}

// IncrementErrorWithCode increments error counters with error code
func (mc *MetricsCollector) IncrementErrorWithCode(ctx context.Context, operation, errorCode string) {
	if !mc.IsEnabled() {
		return
	}

	mc.errorCounter.WithLabelValues(operation, errorCode).Inc()

	if mc.otelErrorCounter != nil {
		mc.otelErrorCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("error_code", errorCode),
			),
		)
	}
}

// StartTraceWithTable starts a new trace span with table information
func (mc *MetricsCollector) StartTraceWithTable(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	if !mc.IsEnabled() || mc.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return mc.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "go-securex"),
			attribute.String("db.operation.name", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// RecordTraceError records an error in a trace span. Only the error code is attached.
func (mc *MetricsCollector) RecordTraceError(span trace.Span, err error) {
	if !mc.IsEnabled() || span == nil || err == nil {
		return
	}

	code := string(errors.GetErrorCode(err))
	span.SetStatus(codes.Error, code)
	span.SetAttributes(attribute.String("error.code", code))
}

// DisableTracing stops span emission while keeping metrics
func (mc *MetricsCollector) DisableTracing() {
	if mc != nil {
		mc.tracer = nil
	}
}

// IsEnabled returns whether metrics collection is enabled
func (mc *MetricsCollector) IsEnabled() bool {
	return mc != nil && mc.enabled
}

const startTimeKey = "securex:start_time"

// RegisterCallbacks times every create, query, update and delete executed through gormDB
func (mc *MetricsCollector) RegisterCallbacks(gormDB *gorm.DB) error {
	if !mc.IsEnabled() {
		return nil
	}

	before := func(tx *gorm.DB) { tx.InstanceSet(startTimeKey, time.Now()) }
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) { mc.recordCallback(tx, operation) }
	}

	cb := gormDB.Callback()
	steps := []error{
		cb.Create().Before("gorm:create").Register("securex:metrics_before_create", before),
		cb.Create().After("gorm:create").Register("securex:metrics_after_create", after("db_create")),
		cb.Query().Before("gorm:query").Register("securex:metrics_before_query", before),
		cb.Query().After("gorm:query").Register("securex:metrics_after_query", after("db_query")),
		cb.Update().Before("gorm:update").Register("securex:metrics_before_update", before),
		cb.Update().After("gorm:update").Register("securex:metrics_after_update", after("db_update")),
		cb.Delete().Before("gorm:delete").Register("securex:metrics_before_delete", before),
		cb.Delete().After("gorm:delete").Register("securex:metrics_after_delete", after("db_delete")),
	}
	for _, err := range steps {
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "failed to register metrics callbacks")
		}
	}
	return nil
}

func (mc *MetricsCollector) recordCallback(tx *gorm.DB, operation string) {
	start, ok := tx.InstanceGet(startTimeKey)
	if !ok {
		return
	}
	startTime, ok := start.(time.Time)
	if !ok {
		return
	}

	table := "unknown"
	if tx.Statement != nil && tx.Statement.Table != "" {
		table = tx.Statement.Table
	}

	var err error
	if tx.Error != nil {
		err = errors.WrapGormError(tx.Error, operation)
	}
	mc.RecordOperationWithTable(tx.Statement.Context, operation, table, time.Since(startTime), err)
}
