package lifecycle

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-securex/securex/errors"
	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/security"
)

type member struct {
	ID       uint `gorm:"primaryKey"`
	Name     string
	Email    security.Secret[string]
	Document []byte
	Snapshot `gorm:"-"`
}

func memberRecord(t *testing.T, m *member) *GormRecord {
	t.Helper()
	s, err := catalog.Parse(m, nil, nil)
	require.NoError(t, err)
	rec, err := NewGormRecord(context.Background(), s, m)
	require.NoError(t, err)
	return rec
}

func TestNewGormRecord_Rejects(t *testing.T) {
	s, err := catalog.Parse(&member{}, nil, nil)
	require.NoError(t, err)

	_, err = NewGormRecord(context.Background(), s, member{})
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))

	_, err = NewGormRecord(context.Background(), s, (*member)(nil))
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))

	_, err = NewGormRecord(context.Background(), s, &withoutSnapshot{})
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))
}

func TestGormRecord_SecretColumn(t *testing.T) {
	m := &member{Email: security.NewSecret("ada@example.com")}
	rec := memberRecord(t, m)

	v, err := rec.ReadAttribute("email")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", v)
	assert.False(t, rec.IsSealed("email"))

	typ, err := rec.AttributeType("email")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(""), typ)

	require.NoError(t, rec.WriteAttribute("email", Ciphertext("sealed")))
	assert.True(t, rec.IsSealed("email"))
	assert.Equal(t, []byte("sealed"), m.Email.Ciphertext())

	raw, err := rec.ReadAttributeBeforeTypeCast("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), raw)

	require.NoError(t, rec.WriteAttribute("email", "grace@example.com"))
	assert.Equal(t, "grace@example.com", m.Email.MustGet())

	require.NoError(t, rec.WriteAttribute("email", nil))
	assert.True(t, m.Email.IsNull())
	v, err = rec.ReadAttribute("email")
	require.NoError(t, err)
	assert.Nil(t, v)

	err = rec.WriteAttribute("email", 42)
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))
}

func TestGormRecord_BytesColumn(t *testing.T) {
	m := &member{Document: []byte("passport")}
	rec := memberRecord(t, m)

	v, err := rec.ReadAttribute("document")
	require.NoError(t, err)
	assert.Equal(t, []byte("passport"), v)

	typ, err := rec.AttributeType("document")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf([]byte(nil)), typ)

	require.NoError(t, rec.WriteAttribute("document", Ciphertext("sealed")))
	assert.Equal(t, []byte("sealed"), m.Document)
	assert.False(t, rec.IsSealed("document"))

	require.NoError(t, rec.WriteAttribute("document", nil))
	assert.Nil(t, m.Document)
	v, err = rec.ReadAttribute("document")
	require.NoError(t, err)
	assert.Nil(t, v)

	err = rec.WriteAttribute("document", "text")
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))
}

func TestGormRecord_InvalidColumns(t *testing.T) {
	rec := memberRecord(t, &member{Name: "Ada"})

	_, err := rec.ReadAttribute("missing")
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))

	_, err = rec.ReadAttribute("name")
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))
	assert.False(t, rec.IsSealed("name"))
}

func TestGormRecord_DispatcherRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := &member{Email: security.NewSecret("ada@example.com"), Document: []byte("passport")}
	rec := memberRecord(t, m)

	d := NewDispatcher(nil, nil, nil)
	target := Target{
		Type:    reflect.TypeOf(member{}),
		Table:   "members",
		Columns: binaryColumns("email", "document"),
		Default: &tagProvider{tag: "k1"},
	}

	require.NoError(t, d.Encrypt(ctx, target, rec))
	assert.True(t, m.Email.Sealed())
	assert.NotEqual(t, []byte("passport"), m.Document)

	err := d.Encrypt(ctx, target, rec)
	assert.Equal(t, errors.ErrCodeInvalidRecord, errors.GetErrorCode(err))

	require.NoError(t, d.Decrypt(ctx, target, rec))
	assert.Equal(t, "ada@example.com", m.Email.MustGet())
	assert.Equal(t, []byte("passport"), m.Document)
	assert.Equal(t, []string{"document", "email"}, m.Snapshot.Columns())

	before, err := ReadBeforeDecryption(rec, "email")
	require.NoError(t, err)
	assert.Equal(t, "k1:ada@example.com\n", string(before.([]byte)))
}
