package db

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-securex/securex/errors"
)

func newTestCollector(t *testing.T) *MetricsCollector {
	t.Helper()
	mc, err := NewMetricsCollector("securex_test", true, prometheus.NewRegistry())
	require.NoError(t, err)
	mc.DisableTracing()
	return mc
}

func TestMetricsCollector_ObservePass(t *testing.T) {
	mc := newTestCollector(t)
	ctx := context.Background()

	mc.ObservePass(ctx, "encrypt", "users", 2, time.Millisecond, nil)
	mc.ObservePass(ctx, "decrypt", "users", 2, time.Millisecond, errors.NewDecryptionFailedError())

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationCounter.WithLabelValues("encrypt", "users", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationCounter.WithLabelValues("decrypt", "users", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorCounter.WithLabelValues("decrypt", string(errors.ErrCodeDecryptionFailed))))

	// a single unlabelled series holding both passes
	assert.Equal(t, 1, testutil.CollectAndCount(mc.columnsHistogram))
	var m dto.Metric
	require.NoError(t, mc.columnsHistogram.Write(&m))
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
	assert.Equal(t, 4.0, m.GetHistogram().GetSampleSum())
}

func TestMetricsCollector_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetricsCollector("securex_shared", true, reg)
	require.NoError(t, err)
	second, err := NewMetricsCollector("securex_shared", true, reg)
	require.NoError(t, err)
	first.DisableTracing()
	second.DisableTracing()

	ctx := context.Background()
	first.RecordOperationWithTable(ctx, "create", "users", time.Millisecond, nil)
	second.RecordOperationWithTable(ctx, "create", "users", time.Millisecond, nil)

	assert.Same(t, first.operationCounter, second.operationCounter)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.operationCounter.WithLabelValues("create", "users", "true")))
}

func TestMetricsCollector_RegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	// same fully qualified name with different labels
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "securex_conflict",
		Name:      "operations_total",
		Help:      "Total number of secure column passes and repository operations",
	})))

	mc, err := NewMetricsCollector("securex_conflict", true, reg)
	require.Error(t, err)
	assert.Nil(t, mc)
	assert.Equal(t, errors.ErrCodeInvalidConfig, errors.GetErrorCode(err))
}

func TestMetricsCollector_WithTracing(t *testing.T) {
	mc, err := NewMetricsCollector("securex_trace_test", true, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, span := mc.StartTraceWithTable(context.Background(), "create", "users")
	require.NotNil(t, span)
	mc.RecordTraceError(span, errors.New(errors.ErrCodeDuplicateKey, "duplicate", nil))
	span.End()

	mc.ObservePass(ctx, "encrypt", "users", 1, time.Millisecond, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationCounter.WithLabelValues("encrypt", "users", "true")))
}

func TestMetricsCollector_Disabled(t *testing.T) {
	disabled, err := NewMetricsCollector("", false, nil)
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled())

	var nilCollector *MetricsCollector
	assert.False(t, nilCollector.IsEnabled())

	// none of these may panic
	ctx := context.Background()
	for _, mc := range []*MetricsCollector{disabled, nilCollector} {
		mc.ObservePass(ctx, "encrypt", "users", 1, time.Millisecond, nil)
		mc.RecordOperationWithTable(ctx, "create", "users", time.Millisecond, nil)
		mc.IncrementErrorWithCode(ctx, "create", "X")
		_, span := mc.StartTraceWithTable(ctx, "create", "users")
		mc.RecordTraceError(span, errors.New(errors.ErrCodeInternal, "x", nil))
		mc.DisableTracing()
		assert.NoError(t, mc.RegisterCallbacks(nil))
	}
}

func TestMetricsCollector_RegisterCallbacks(t *testing.T) {
	type note struct {
		ID   uint `gorm:"primaryKey"`
		Body string
	}

	gdb := openTestDB(t)
	require.NoError(t, gdb.AutoMigrate(&note{}))

	mc := newTestCollector(t)
	require.NoError(t, mc.RegisterCallbacks(gdb))

	require.NoError(t, gdb.Create(&note{Body: "hello"}).Error)
	var notes []note
	require.NoError(t, gdb.Find(&notes).Error)
	require.NoError(t, gdb.Model(&note{}).Where("id = ?", notes[0].ID).Update("body", "bye").Error)
	require.NoError(t, gdb.Delete(&note{}, notes[0].ID).Error)

	for _, op := range []string{"db_create", "db_query", "db_update", "db_delete"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(mc.operationCounter.WithLabelValues(op, "notes", "true")), op)
	}
}
