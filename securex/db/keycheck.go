package db

import (
	"bytes"
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go-securex/securex/errors"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
)

// keyCheckValue is the canary encrypted into securex_key_checks.test
const keyCheckValue = "securex"

// KeyCheck is one row of securex_key_checks: a canary encrypted with the provider whose
// key digest it is stored under.
type KeyCheck struct {
	ID         string     `gorm:"column:id;primaryKey;size:36"`
	Digest     string     `gorm:"column:digest;size:64;uniqueIndex"`
	Name       string     `gorm:"column:name;size:255"`
	Test       []byte     `gorm:"column:test"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	VerifiedAt *time.Time `gorm:"column:verified_at"`
}

// TableName implements schema.Tabler
func (KeyCheck) TableName() string {
	return "securex_key_checks"
}

// KeyChecker detects a misconfigured key at startup instead of on the first read of a
// secure column. Providers must implement security.Digester.
type KeyChecker struct {
	db     *gorm.DB
	logger logging.Logger
}

// NewKeyChecker creates a key checker over db; the table comes from the migrations package
func NewKeyChecker(db *gorm.DB, logger logging.Logger) *KeyChecker {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &KeyChecker{db: db, logger: logger}
}

func digestOf(p security.Provider) (string, error) {
	if p == nil {
		return "", errors.NewMissingProviderError(KeyCheck{}.TableName())
	}
	digest := security.DigestOf(p)
	if digest == "" {
		return "", errors.New(errors.ErrCodeConfiguration, "provider does not expose a key digest", nil)
	}
	return digest, nil
}

// Register stores a canary for p unless one already exists for its digest, in which case
// the existing canary is verified.
func (k *KeyChecker) Register(ctx context.Context, name string, p security.Provider) error {
	digest, err := digestOf(p)
	if err != nil {
		return err
	}

	var existing KeyCheck
	err = k.db.WithContext(ctx).Where("digest = ?", digest).Take(&existing).Error
	switch {
	case err == nil:
		return k.verify(ctx, p, &existing)
	case !stderrors.Is(err, gorm.ErrRecordNotFound):
		return errors.WrapGormError(err, "key_check_lookup")
	}

	test, err := p.Encrypt([]byte(keyCheckValue))
	if err != nil {
		return errors.NewProviderError("key_check_encrypt", err)
	}

	row := KeyCheck{
		ID:        uuid.NewString(),
		Digest:    digest,
		Name:      name,
		Test:      test,
		CreatedAt: time.Now().UTC(),
	}
	if err := k.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.WrapGormError(err, "key_check_create")
	}

	k.logger.Info("Registered key check",
		logging.String("provider", name),
		logging.String("digest", digest[:min(12, len(digest))]),
	)
	return nil
}

// VerifyProvider checks that p decrypts the canary stored for its digest. A provider that
// was never registered yields a record not found error; one whose key changed under the
// same digest yields the decryption failed error.
func (k *KeyChecker) VerifyProvider(ctx context.Context, p security.Provider) error {
	digest, err := digestOf(p)
	if err != nil {
		return err
	}

	var row KeyCheck
	if err := k.db.WithContext(ctx).Where("digest = ?", digest).Take(&row).Error; err != nil {
		return errors.WrapGormError(err, "key_check_lookup")
	}
	return k.verify(ctx, p, &row)
}

func (k *KeyChecker) verify(ctx context.Context, p security.Provider, row *KeyCheck) error {
	plain, err := p.Decrypt(row.Test)
	if err != nil || !bytes.Equal(plain, []byte(keyCheckValue)) {
		k.logger.Error("Key check failed", logging.String("digest", row.Digest[:min(12, len(row.Digest))]))
		return errors.NewDecryptionFailedError().WithTable(row.TableName())
	}

	now := time.Now().UTC()
	if err := k.db.WithContext(ctx).Model(row).Update("verified_at", now).Error; err != nil {
		return errors.WrapGormError(err, "key_check_verify")
	}
	return nil
}

// Digests lists the digests of every registered key
func (k *KeyChecker) Digests(ctx context.Context) ([]string, error) {
	var digests []string
	if err := k.db.WithContext(ctx).Model(&KeyCheck{}).Order("created_at").Pluck("digest", &digests).Error; err != nil {
		return nil, errors.WrapGormError(err, "key_check_list")
	}
	return digests, nil
}
