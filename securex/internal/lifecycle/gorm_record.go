package lifecycle

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"

	"go-securex/securex/errors"
	"go-securex/securex/internal/security"
)

// Ciphertext marks a value written by an encrypt pass, so records can tell it apart from
// a plaintext byte slice.
type Ciphertext []byte

// SealState is implemented by records that can report whether a column already holds
// ciphertext.
type SealState interface {
	IsSealed(column string) bool
}

var bytesType = reflect.TypeOf([]byte(nil))

// GormRecord adapts a GORM model to Record. Secure columns are either security.Secret
// fields or plain []byte fields.
type GormRecord struct {
	ctx      context.Context
	schema   *schema.Schema
	value    reflect.Value
	snapshot *Snapshot
}

// NewGormRecord wraps model, a pointer to a struct described by s
func NewGormRecord(ctx context.Context, s *schema.Schema, model any) (*GormRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rv := reflect.ValueOf(model)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, errors.New(errors.ErrCodeInvalidRecord,
			fmt.Sprintf("record must be a non-nil struct pointer, got %T", model), nil)
	}
	snapshot, ok := SnapshotOf(model)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidRecord,
			fmt.Sprintf("%T does not embed a snapshot", model), nil)
	}
	return &GormRecord{ctx: ctx, schema: s, value: rv.Elem(), snapshot: snapshot}, nil
}

// field returns the addressable struct field backing column
func (r *GormRecord) field(column string) (reflect.Value, error) {
	f := r.schema.LookUpField(column)
	if f == nil {
		return reflect.Value{}, errors.New(errors.ErrCodeInvalidRecord,
			fmt.Sprintf("unknown column %s", column), nil).WithTable(r.schema.Table).WithColumn(column)
	}
	fv := f.ReflectValueOf(r.ctx, r.value)
	if !fv.CanAddr() {
		return reflect.Value{}, errors.New(errors.ErrCodeInvalidRecord, "column is not addressable", nil).
			WithTable(r.schema.Table).WithColumn(column)
	}
	return fv, nil
}

// cell returns the Secret behind column, or nil when the field is a byte slice
func (r *GormRecord) cell(column string) (security.Cell, reflect.Value, error) {
	fv, err := r.field(column)
	if err != nil {
		return nil, fv, err
	}
	if c, ok := fv.Addr().Interface().(security.Cell); ok {
		return c, fv, nil
	}
	if fv.Type() == bytesType {
		return nil, fv, nil
	}
	return nil, fv, errors.New(errors.ErrCodeInvalidRecord,
		fmt.Sprintf("secure column must be a Secret or []byte, got %s", fv.Type()), nil).
		WithTable(r.schema.Table).WithColumn(column)
}

// ReadAttribute implements Record
func (r *GormRecord) ReadAttribute(column string) (any, error) {
	c, fv, err := r.cell(column)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c.CurrentValue(), nil
	}
	if fv.IsNil() {
		return nil, nil
	}
	return fv.Bytes(), nil
}

// ReadAttributeBeforeTypeCast implements Record
func (r *GormRecord) ReadAttributeBeforeTypeCast(column string) (any, error) {
	c, fv, err := r.cell(column)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c.RawValue(), nil
	}
	if fv.IsNil() {
		return nil, nil
	}
	return append([]byte(nil), fv.Bytes()...), nil
}

// WriteAttribute implements Record
func (r *GormRecord) WriteAttribute(column string, value any) error {
	c, fv, err := r.cell(column)
	if err != nil {
		return err
	}

	if sealed, ok := value.(Ciphertext); ok {
		if c != nil {
			c.Seal([]byte(sealed))
		} else {
			fv.SetBytes([]byte(sealed))
		}
		return nil
	}

	if c != nil {
		if err := c.Open(value); err != nil {
			return errors.New(errors.ErrCodeInvalidRecord, err.Error(), nil).
				WithTable(r.schema.Table).WithColumn(column)
		}
		return nil
	}

	switch v := value.(type) {
	case nil:
		fv.SetBytes(nil)
	case []byte:
		fv.SetBytes(v)
	default:
		return errors.New(errors.ErrCodeInvalidRecord,
			fmt.Sprintf("cannot assign %T to a []byte column", value), nil).
			WithTable(r.schema.Table).WithColumn(column)
	}
	return nil
}

// AttributeType implements Record
func (r *GormRecord) AttributeType(column string) (reflect.Type, error) {
	c, _, err := r.cell(column)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c.PlainType(), nil
	}
	return bytesType, nil
}

// IsSealed implements SealState. Byte slice columns cannot tell and report false.
func (r *GormRecord) IsSealed(column string) bool {
	c, _, err := r.cell(column)
	if err != nil || c == nil {
		return false
	}
	return c.Sealed()
}

// Snapshot implements Record
func (r *GormRecord) Snapshot() *Snapshot {
	return r.snapshot
}
