package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-securex/securex"
	"go-securex/securex/db"
	"go-securex/securex/errors"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
	"go-securex/securex/models"
)

type customer struct {
	models.SecureModel

	Name string
	Tier string
	Card securex.Secret[string]
}

var customers *securex.Secure[customer]

func (c *customer) BeforeSave(tx *gorm.DB) error { return customers.BeforeSaveHook(tx, c) }
func (c *customer) AfterSave(tx *gorm.DB) error  { return customers.AfterSaveHook(tx, c) }
func (c *customer) AfterFind(tx *gorm.DB) error  { return customers.AfterFindHook(tx, c) }

type recorder struct {
	ops []string
}

func (r *recorder) RecordOperationWithTable(_ context.Context, operation, table string, _ time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = string(errors.GetErrorCode(err))
	}
	r.ops = append(r.ops, operation+":"+table+":"+status)
}

// warnLogger keeps the messages logged at warn level
type warnLogger struct {
	logging.NopLogger
	warnings *[]string
}

func (l warnLogger) Warn(msg string, _ ...logging.LogField) { *l.warnings = append(*l.warnings, msg) }
func (l warnLogger) With(...logging.LogField) logging.Logger { return l }

func setupRepo(t *testing.T, options RepositoryOptions) (*SecureRepository[customer], *gorm.DB, *recorder) {
	t.Helper()

	p, err := security.NewAESGCMProvider(&security.ProviderConfig{MasterKey: []byte("customers-master-key-material-01")})
	require.NoError(t, err)
	return setupRepoWith(t, options, nil, securex.WithCryptoProvider(p))
}

func setupRepoWith(t *testing.T, options RepositoryOptions, log logging.Logger, opts ...securex.Option) (*SecureRepository[customer], *gorm.DB, *recorder) {
	t.Helper()

	reg := securex.NewRegistry()
	customers = securex.MustConfigure[customer](reg, opts...)

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	require.NoError(t, gdb.AutoMigrate(&customer{}))

	rec := &recorder{}
	repo, err := NewSecureRepository(gdb, customers, log, rec, options)
	require.NoError(t, err)
	return repo, gdb, rec
}

func newCustomer(name, tier, card string) *customer {
	return &customer{Name: name, Tier: tier, Card: securex.NewSecret(card)}
}

func TestSecureRepository_CRUD(t *testing.T) {
	repo, gdb, rec := setupRepo(t, DefaultRepositoryOptions())
	ctx := context.Background()

	c := newCustomer("Ada", "gold", "4111111111111111")
	require.NoError(t, repo.Create(ctx, c))
	require.NotEmpty(t, c.ID)
	assert.Len(t, c.ID, 26)
	assert.Equal(t, "4111111111111111", c.Card.MustGet())

	var stored []byte
	require.NoError(t, gdb.Raw("SELECT card FROM customers WHERE id = ?", c.ID).Row().Scan(&stored))
	assert.NotContains(t, string(stored), "4111111111111111")

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "4111111111111111", got.Card.MustGet())

	got.Card.Set("5500000000000004")
	got.Tier = "platinum"
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, "5500000000000004", got.Card.MustGet())

	again, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "platinum", again.Tier)
	assert.Equal(t, "5500000000000004", again.Card.MustGet())

	exists, err := repo.Exists(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Delete(ctx, c.ID))
	exists, err = repo.Exists(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	err = repo.Delete(ctx, c.ID)
	assert.Equal(t, errors.ErrCodeRecordNotFound, errors.GetErrorCode(err))

	_, err = repo.GetByID(ctx, c.ID)
	assert.Equal(t, errors.ErrCodeRecordNotFound, errors.GetErrorCode(err))

	assert.Contains(t, rec.ops, "repository_create:customers:ok")
	assert.Contains(t, rec.ops, "repository_get_by_id:customers:"+string(errors.ErrCodeRecordNotFound))
}

func TestSecureRepository_FailedCreateRestoresPlaintext(t *testing.T) {
	repo, _, _ := setupRepo(t, DefaultRepositoryOptions())
	ctx := context.Background()

	first := newCustomer("Ada", "gold", "4111111111111111")
	require.NoError(t, repo.Create(ctx, first))

	dup := newCustomer("Eve", "gold", "4000000000000002")
	dup.ID = first.ID
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateKey, errors.GetErrorCode(err))

	assert.False(t, dup.Card.Sealed())
	assert.Equal(t, "4000000000000002", dup.Card.MustGet())
}

func TestSecureRepository_FailedCreateWithoutRevert(t *testing.T) {
	repo, _, _ := setupRepo(t, RepositoryOptions{BatchSize: 10})
	ctx := context.Background()

	first := newCustomer("Ada", "gold", "4111111111111111")
	require.NoError(t, repo.Create(ctx, first))

	dup := newCustomer("Eve", "gold", "4000000000000002")
	dup.ID = first.ID
	require.Error(t, repo.Create(ctx, dup))
	assert.True(t, dup.Card.Sealed())
}

func TestSecureRepository_FailedEncryptKeepsRecordUntouched(t *testing.T) {
	var warnings []string
	repo, _, _ := setupRepoWith(t, DefaultRepositoryOptions(), warnLogger{warnings: &warnings})
	ctx := context.Background()

	c := newCustomer("Ada", "gold", "4111111111111111")
	err := repo.Create(ctx, c)
	assert.Equal(t, errors.ErrCodeMissingProvider, errors.GetErrorCode(err))

	err = repo.CreateBatch(ctx, []*customer{newCustomer("Grace", "silver", "5500000000000004")})
	assert.Equal(t, errors.ErrCodeMissingProvider, errors.GetErrorCode(err))

	assert.False(t, c.Card.Sealed())
	assert.Equal(t, "4111111111111111", c.Card.MustGet())
	raw, err := customers.ReadBeforeDecryption(c, "card")
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", raw)
	assert.Empty(t, warnings)
}

func TestSecureRepository_CreateBatchAndFind(t *testing.T) {
	repo, _, _ := setupRepo(t, RepositoryOptions{BatchSize: 2, RevertOnFailure: true})
	ctx := context.Background()

	batch := []*customer{
		newCustomer("Ada", "gold", "4111111111111111"),
		nil,
		newCustomer("Grace", "silver", "5500000000000004"),
		newCustomer("Linus", "gold", "340000000000009"),
	}
	require.NoError(t, repo.CreateBatch(ctx, batch))
	require.NoError(t, repo.CreateBatch(ctx, nil))

	for _, c := range batch {
		if c != nil {
			assert.False(t, c.Card.Sealed(), c.Name)
		}
	}

	golds, err := repo.Find(ctx, Filter{
		Where:   map[string]WhereCondition{"tier": Eq("gold")},
		OrderBy: []OrderBy{{Field: "name", Direction: "desc"}},
	})
	require.NoError(t, err)
	require.Len(t, golds, 2)
	assert.Equal(t, "Linus", golds[0].Name)
	assert.Equal(t, "340000000000009", golds[0].Card.MustGet())
	assert.Equal(t, "Ada", golds[1].Name)

	one, err := repo.FindOne(ctx, Filter{Where: map[string]WhereCondition{
		"name": {Operator: "like", Value: "Gr%"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "5500000000000004", one.Card.MustGet())

	count, err := repo.Count(ctx, Filter{Where: map[string]WhereCondition{
		"tier": {Operator: "in", Value: []string{"gold", "silver"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	page, err := repo.Find(ctx, Filter{OrderBy: []OrderBy{{Field: "name"}}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Grace", page[0].Name)

	none, err := repo.Find(ctx, Filter{Where: map[string]WhereCondition{"tier": Eq("bronze")}})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSecureRepository_RejectsSecureAndUnknownColumns(t *testing.T) {
	repo, _, _ := setupRepo(t, DefaultRepositoryOptions())
	ctx := context.Background()

	_, err := repo.Find(ctx, Filter{Where: map[string]WhereCondition{"card": Eq("4111111111111111")}})
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetErrorCode(err))

	_, err = repo.Find(ctx, Filter{OrderBy: []OrderBy{{Field: "card"}}})
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetErrorCode(err))

	_, err = repo.Count(ctx, Filter{Where: map[string]WhereCondition{"nickname": Eq("x")}})
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetErrorCode(err))

	_, err = repo.FindOne(ctx, Filter{Where: map[string]WhereCondition{"card": Eq("x")}})
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetErrorCode(err))
}

func TestSecureRepository_NilInput(t *testing.T) {
	repo, _, _ := setupRepo(t, DefaultRepositoryOptions())
	ctx := context.Background()

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(repo.Create(ctx, nil)))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(repo.Update(ctx, nil)))

	_, err := NewSecureRepository[customer](nil, customers, nil, nil, DefaultRepositoryOptions())
	assert.Equal(t, errors.ErrCodeMissingConfig, errors.GetErrorCode(err))
}

func TestSecureRepository_Transaction(t *testing.T) {
	repo, _, _ := setupRepo(t, DefaultRepositoryOptions())
	ctx := context.Background()

	err := repo.Transaction(ctx, func(tx Repository[customer]) error {
		if err := tx.Create(ctx, newCustomer("Ada", "gold", "4111111111111111")); err != nil {
			return err
		}
		return errors.New(errors.ErrCodeOperationFailed, "abort", nil)
	})
	require.Error(t, err)

	count, err := repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	err = repo.Transaction(ctx, func(tx Repository[customer]) error {
		return tx.Create(ctx, newCustomer("Grace", "silver", "5500000000000004"))
	})
	require.NoError(t, err)

	count, err = repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

var _ MetricsRecorder = (*db.MetricsCollector)(nil)

func TestSecureRepository_MetricsCollector(t *testing.T) {
	repo, _, _ := setupRepo(t, DefaultRepositoryOptions())
	reg := prometheus.NewRegistry()
	mc, err := db.NewMetricsCollector("securex_repo_test", true, reg)
	require.NoError(t, err)
	mc.DisableTracing()
	repo.metrics = mc
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newCustomer("Ada", "gold", "4111111111111111")))
	_, err = repo.GetByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	require.Error(t, err)

	// one series per operation and outcome
	n, err := testutil.GatherAndCount(reg, "securex_repo_test_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "securex_repo_test_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
