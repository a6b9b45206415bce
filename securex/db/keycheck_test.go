package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-securex/securex/errors"
	"go-securex/securex/internal/security"
)

func openTestDB(t *testing.T) *gorm.DB {
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

func newTestProvider(t *testing.T, key string) security.Provider {
	t.Helper()
	p, err := security.NewAESGCMProvider(&security.ProviderConfig{MasterKey: []byte(key)})
	require.NoError(t, err)
	return p
}

// fixedDigest reports the same digest whatever key backs it
type fixedDigest struct {
	security.Provider
	digest string
}

func (f *fixedDigest) Digest() string { return f.digest }

func newKeyChecker(t *testing.T) *KeyChecker {
	t.Helper()
	gdb := openTestDB(t)
	require.NoError(t, gdb.AutoMigrate(&KeyCheck{}))
	return NewKeyChecker(gdb, nil)
}

func TestKeyChecker_RegisterAndVerify(t *testing.T) {
	ctx := context.Background()
	k := newKeyChecker(t)
	p := newTestProvider(t, "0123456789abcdef0123456789abcdef")

	require.NoError(t, k.Register(ctx, "default", p))
	require.NoError(t, k.VerifyProvider(ctx, p))

	// registering again verifies instead of inserting a second row
	require.NoError(t, k.Register(ctx, "default", p))

	digests, err := k.Digests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{security.DigestOf(p)}, digests)

	var row KeyCheck
	require.NoError(t, k.db.Take(&row).Error)
	assert.Equal(t, "default", row.Name)
	assert.NotNil(t, row.VerifiedAt)
	assert.NotContains(t, string(row.Test), keyCheckValue)
}

func TestKeyChecker_MultipleKeys(t *testing.T) {
	ctx := context.Background()
	k := newKeyChecker(t)
	current := newTestProvider(t, "current-master-key-material-0001")
	previous := newTestProvider(t, "previous-master-key-material-001")

	require.NoError(t, k.Register(ctx, "previous", previous))
	require.NoError(t, k.Register(ctx, "current", current))

	digests, err := k.Digests(ctx)
	require.NoError(t, err)
	assert.Len(t, digests, 2)
	assert.NoError(t, k.VerifyProvider(ctx, previous))
	assert.NoError(t, k.VerifyProvider(ctx, current))
}

func TestKeyChecker_UnknownProvider(t *testing.T) {
	k := newKeyChecker(t)
	p := newTestProvider(t, "never-registered-key-material-01")

	err := k.VerifyProvider(context.Background(), p)
	assert.Equal(t, errors.ErrCodeRecordNotFound, errors.GetErrorCode(err))
}

func TestKeyChecker_ChangedKeyFails(t *testing.T) {
	ctx := context.Background()
	k := newKeyChecker(t)

	original := &fixedDigest{Provider: newTestProvider(t, "original-master-key-material-01"), digest: "shared"}
	replaced := &fixedDigest{Provider: newTestProvider(t, "replaced-master-key-material-01"), digest: "shared"}

	require.NoError(t, k.Register(ctx, "default", original))

	err := k.VerifyProvider(ctx, replaced)
	assert.True(t, errors.IsDecryptionFailed(err))

	err = k.Register(ctx, "default", replaced)
	assert.True(t, errors.IsDecryptionFailed(err))
}

func TestKeyChecker_RequiresDigest(t *testing.T) {
	k := newKeyChecker(t)
	plain := security.ProviderFunc{
		EncryptFunc: func(b []byte) ([]byte, error) { return b, nil },
		DecryptFunc: func(b []byte) ([]byte, error) { return b, nil },
	}

	err := k.Register(context.Background(), "plain", plain)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetErrorCode(err))

	err = k.VerifyProvider(context.Background(), nil)
	assert.True(t, errors.IsMissingProvider(err))
}
