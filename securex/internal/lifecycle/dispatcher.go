// Package lifecycle runs the encrypt and decrypt passes over the secure columns of a
// record and carries the per context provider overrides those passes resolve against.
package lifecycle

import (
	"context"
	"reflect"
	"time"

	"go-securex/securex/codec"
	"go-securex/securex/errors"
	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
)

// Pass names reported to observers
const (
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
)

// Observer is notified once per completed or failed pass
type Observer interface {
	ObservePass(ctx context.Context, operation, table string, columns int, duration time.Duration, err error)
}

// Target describes the record type a pass runs for
type Target struct {
	// Type is the model type overrides are keyed by
	Type reflect.Type
	// Table is used in logs, metrics and errors
	Table string
	// Columns are the secure columns of the type
	Columns []catalog.ColumnDescriptor
	// Default is the configured provider, used when no override is active
	Default security.Provider
}

// Dispatcher sequences serialization and encryption for secure columns
type Dispatcher struct {
	codec    codec.Codec
	logger   logging.Logger
	observer Observer
}

// NewDispatcher creates a dispatcher. A nil codec selects YAML, a nil logger discards.
func NewDispatcher(c codec.Codec, logger logging.Logger, observer Observer) *Dispatcher {
	if c == nil {
		c = codec.Default()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Dispatcher{codec: c, logger: logger, observer: observer}
}

// Codec returns the codec used for column values
func (d *Dispatcher) Codec() codec.Codec {
	return d.codec
}

// ResolveProvider returns the innermost override for the target type, else its default
func (d *Dispatcher) ResolveProvider(ctx context.Context, t Target) (security.Provider, error) {
	if p, ok := ActiveProvider(ctx, t.Type); ok && p != nil {
		return p, nil
	}
	if t.Default != nil {
		return t.Default, nil
	}
	return nil, errors.NewMissingProviderError(t.Table)
}

// Encrypt replaces every secure column of rec with the ciphertext of its serialized value.
// Null values are serialized and encrypted like any other value.
func (d *Dispatcher) Encrypt(ctx context.Context, t Target, rec Record) (err error) {
	start := time.Now()
	defer func() { d.finish(ctx, OpEncrypt, t, start, err) }()

	if len(t.Columns) == 0 {
		return nil
	}
	provider, err := d.ResolveProvider(ctx, t)
	if err != nil {
		return err
	}

	sealState, _ := rec.(SealState)
	for _, column := range t.Columns {
		if sealState != nil && sealState.IsSealed(column.Name) {
			return errors.New(errors.ErrCodeInvalidRecord, "column already holds ciphertext", nil).
				WithTable(t.Table).WithColumn(column.Name)
		}

		value, err := rec.ReadAttribute(column.Name)
		if err != nil {
			return err
		}

		plaintext, err := codec.Serialize(d.codec, value)
		if err != nil {
			return withColumn(err, t.Table, column.Name)
		}

		ciphertext, err := provider.Encrypt(plaintext)
		if err != nil {
			return errors.NewProviderError(OpEncrypt, err).WithTable(t.Table).WithColumn(column.Name)
		}

		if err := rec.WriteAttribute(column.Name, Ciphertext(ciphertext)); err != nil {
			return err
		}
	}
	return nil
}

// Decrypt resets the snapshot of rec, captures the raw value of every secure column and
// replaces each non-null column with its decrypted plaintext. Cipher and decoding failures
// surface as the opaque decryption failed error.
func (d *Dispatcher) Decrypt(ctx context.Context, t Target, rec Record) (err error) {
	start := time.Now()
	defer func() { d.finish(ctx, OpDecrypt, t, start, err) }()

	snapshot := rec.Snapshot()
	snapshot.Reset()

	var provider security.Provider
	for _, column := range t.Columns {
		raw, err := rec.ReadAttributeBeforeTypeCast(column.Name)
		if err != nil {
			return err
		}
		snapshot.Put(column.Name, raw)

		current, err := rec.ReadAttribute(column.Name)
		if err != nil {
			return err
		}
		if isNull(current) {
			continue
		}

		if provider == nil {
			if provider, err = d.ResolveProvider(ctx, t); err != nil {
				return err
			}
		}

		value, err := d.open(provider, rec, column.Name, raw)
		if err != nil {
			return mask(err)
		}
		if err := rec.WriteAttribute(column.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// open decrypts raw and decodes it into the plaintext type of column
func (d *Dispatcher) open(provider security.Provider, rec Record, column string, raw any) (any, error) {
	ciphertext, err := ciphertextBytes(raw)
	if err != nil {
		return nil, err
	}

	plaintext, err := provider.Decrypt(ciphertext)
	if err != nil {
		return nil, errors.NewProviderError(OpDecrypt, err)
	}

	typ, err := rec.AttributeType(column)
	if err != nil {
		return nil, err
	}

	target := reflect.New(reflect.PointerTo(typ))
	if err := codec.Deserialize(d.codec, plaintext, target.Interface()); err != nil {
		return nil, err
	}

	decoded := target.Elem()
	if decoded.IsNil() {
		return nil, nil
	}
	return decoded.Elem().Interface(), nil
}

func ciphertextBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case Ciphertext:
		return v, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.NewDecodeError(errors.New(errors.ErrCodeInvalidData, "stored value is not binary", nil))
	}
}

// mask replaces cipher and decoding failures with the opaque decryption error
func mask(err error) error {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeProvider, errors.ErrCodeDecode:
		return errors.NewDecryptionFailedError()
	default:
		return err
	}
}

func withColumn(err error, table, column string) error {
	if se, ok := err.(*errors.SecureError); ok {
		return se.WithTable(table).WithColumn(column)
	}
	return err
}

func (d *Dispatcher) finish(ctx context.Context, op string, t Target, start time.Time, err error) {
	duration := time.Since(start)

	if d.observer != nil {
		d.observer.ObservePass(ctx, op, t.Table, len(t.Columns), duration, err)
	}

	if err != nil {
		d.logger.Warn("secure column pass failed",
			logging.String("operation", op),
			logging.String("table", t.Table),
			logging.String("code", string(errors.GetErrorCode(err))),
		)
		return
	}

	fields := []logging.LogField{
		logging.String("operation", op),
		logging.String("table", t.Table),
		logging.Int("columns", len(t.Columns)),
		logging.Duration("duration", duration),
	}
	provider := t.Default
	if p, ok := ActiveProvider(ctx, t.Type); ok {
		provider = p
		fields = append(fields, logging.Bool("override", true))
	}
	if digest := shortDigest(provider); digest != "" {
		fields = append(fields, logging.String("provider_digest", digest))
	}
	d.logger.Debug("secure column pass completed", fields...)
}

func shortDigest(p security.Provider) string {
	const n = 12
	digest := security.DigestOf(p)
	if len(digest) > n {
		return digest[:n]
	}
	return digest
}
