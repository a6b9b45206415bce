package security

import (
	"database/sql/driver"
	"fmt"
	"reflect"
)

// ErrUnsealed is returned by Secret.Value when a plaintext value is about to be written
var ErrUnsealed = fmt.Errorf("secret column holds plaintext; it must be sealed before it is written")

// Cell is the view the lifecycle dispatcher has of a secure column that is not a plain
// byte slice. *Secret[T] implements it.
type Cell interface {
	// CurrentValue returns the plaintext, the sealed ciphertext, or nil for null.
	CurrentValue() any
	// RawValue returns the value as read from storage, before any decoding.
	RawValue() any
	// Seal replaces the in-memory value with ciphertext.
	Seal(ciphertext []byte)
	// Open replaces the in-memory value with plaintext; nil means null.
	Open(v any) error
	// PlainType is the Go type of the plaintext.
	PlainType() reflect.Type
	// Sealed reports whether the cell holds ciphertext.
	Sealed() bool
}

// Secret is a column type holding a value of T that is encrypted at rest.
// In memory it holds either plaintext (possibly null) or the sealed ciphertext written to
// or read from storage. It declares itself as a binary column.
type Secret[T any] struct {
	value    T
	valid    bool
	sealed   []byte
	isSealed bool
}

// NewSecret returns a secret holding v
func NewSecret[T any](v T) Secret[T] {
	return Secret[T]{value: v, valid: true}
}

// Get returns the plaintext and whether it is non-null. A sealed secret reports null.
func (s Secret[T]) Get() (T, bool) {
	if s.isSealed {
		var zero T
		return zero, false
	}
	return s.value, s.valid
}

// MustGet returns the plaintext or the zero value
func (s Secret[T]) MustGet() T {
	v, _ := s.Get()
	return v
}

// Set stores plaintext
func (s *Secret[T]) Set(v T) {
	s.value = v
	s.valid = true
	s.sealed = nil
	s.isSealed = false
}

// SetNull stores a null plaintext
func (s *Secret[T]) SetNull() {
	var zero T
	s.value = zero
	s.valid = false
	s.sealed = nil
	s.isSealed = false
}

// IsNull reports whether the secret holds neither plaintext nor ciphertext
func (s Secret[T]) IsNull() bool {
	return !s.isSealed && !s.valid
}

// Sealed reports whether the secret currently holds ciphertext
func (s Secret[T]) Sealed() bool {
	return s.isSealed
}

// Ciphertext returns the sealed bytes, or nil when unsealed
func (s Secret[T]) Ciphertext() []byte {
	if !s.isSealed {
		return nil
	}
	return s.sealed
}

// String never reveals the plaintext
func (s Secret[T]) String() string {
	switch {
	case s.isSealed:
		return "Secret(sealed)"
	case s.valid:
		return "Secret(***)"
	default:
		return "Secret(null)"
	}
}

// GormDataType declares the column as binary
func (Secret[T]) GormDataType() string {
	return "bytes"
}

// Value implements driver.Valuer. Only sealed values can be written.
func (s Secret[T]) Value() (driver.Value, error) {
	if !s.isSealed {
		return nil, ErrUnsealed
	}
	return s.sealed, nil
}

// Scan implements sql.Scanner. Scanned bytes are kept sealed until decrypted.
func (s *Secret[T]) Scan(src interface{}) error {
	var zero T
	s.value = zero
	s.valid = false

	switch v := src.(type) {
	case nil:
		s.sealed = nil
		s.isSealed = false
		return nil
	case []byte:
		s.sealed = append([]byte(nil), v...)
	case string:
		s.sealed = []byte(v)
	default:
		return fmt.Errorf("unsupported type for secret column: %T", src)
	}
	s.isSealed = true
	return nil
}

// CurrentValue implements Cell
func (s *Secret[T]) CurrentValue() any {
	switch {
	case s.isSealed:
		return s.sealed
	case s.valid:
		return s.value
	default:
		return nil
	}
}

// RawValue implements Cell
func (s *Secret[T]) RawValue() any {
	if s.isSealed {
		return append([]byte(nil), s.sealed...)
	}
	return s.CurrentValue()
}

// Seal implements Cell
func (s *Secret[T]) Seal(ciphertext []byte) {
	var zero T
	s.value = zero
	s.valid = false
	s.sealed = ciphertext
	s.isSealed = true
}

// Open implements Cell
func (s *Secret[T]) Open(v any) error {
	if v == nil {
		s.SetNull()
		return nil
	}
	typed, ok := v.(T)
	if !ok {
		return fmt.Errorf("secret column expects %s, got %T", s.PlainType(), v)
	}
	s.Set(typed)
	return nil
}

// PlainType implements Cell
func (s *Secret[T]) PlainType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
