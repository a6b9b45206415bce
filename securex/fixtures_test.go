package securex

import (
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/security"
)

// patient is the model most tests persist
type patient struct {
	Snapshot `gorm:"-"`

	ID    uint `gorm:"primaryKey"`
	Name  string
	SSN   Secret[string]
	Notes []byte
}

var patients *Secure[patient]

func (p *patient) BeforeSave(tx *gorm.DB) error { return patients.BeforeSaveHook(tx, p) }
func (p *patient) AfterSave(tx *gorm.DB) error  { return patients.AfterSaveHook(tx, p) }
func (p *patient) AfterFind(tx *gorm.DB) error  { return patients.AfterFindHook(tx, p) }

// countingProvider wraps a real provider and counts calls
type countingProvider struct {
	inner    security.Provider
	mu       sync.Mutex
	encrypts int
	decrypts int
}

func (c *countingProvider) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	c.encrypts++
	c.mu.Unlock()
	return c.inner.Encrypt(plaintext)
}

func (c *countingProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	c.decrypts++
	c.mu.Unlock()
	return c.inner.Decrypt(ciphertext)
}

func (c *countingProvider) Digest() string {
	return security.DigestOf(c.inner)
}

func (c *countingProvider) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypts, c.decrypts
}

func newProvider(t *testing.T, key string) *countingProvider {
	t.Helper()
	inner, err := security.NewAESGCMProvider(&security.ProviderConfig{MasterKey: []byte(key)})
	require.NoError(t, err)
	return &countingProvider{inner: inner}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "securex.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// setupPatients configures the patient handle with p as default provider and migrates
// its table
func setupPatients(t *testing.T, p Provider, opts ...Option) (*Registry, *gorm.DB) {
	t.Helper()
	reg := NewRegistry()
	if p != nil {
		opts = append(opts, WithCryptoProvider(p))
	}
	patients = MustConfigure[patient](reg, opts...)

	gdb := openDB(t)
	require.NoError(t, gdb.AutoMigrate(&patient{}))
	return reg, gdb
}

// storedColumn reads a column straight from the table, bypassing hooks
func storedColumn(t *testing.T, gdb *gorm.DB, column string, id uint) []byte {
	t.Helper()
	var raw []byte
	row := gdb.Raw("SELECT "+column+" FROM patients WHERE id = ?", id).Row()
	require.NoError(t, row.Scan(&raw))
	return raw
}

func columnNames(columns []ColumnDescriptor) []string {
	return catalog.Names(columns)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
