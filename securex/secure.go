// Package securex encrypts designated columns of GORM models transparently: values are
// encrypted right before a record is written and decrypted right after it is written or
// read, so application code only ever sees plaintext and storage only ever sees
// ciphertext.
//
// A model opts in by embedding Snapshot, declaring its secure columns as Secret[T] (or
// []byte) fields, configuring its type on a Registry and forwarding its GORM hooks:
//
//	type User struct {
//		securex.Snapshot `gorm:"-"`
//		ID    uint
//		Email securex.Secret[string]
//	}
//
//	var users = securex.MustConfigure[User](registry, securex.WithCryptoProvider(p))
//
//	func (u *User) BeforeSave(tx *gorm.DB) error { return users.BeforeSaveHook(tx, u) }
//	func (u *User) AfterSave(tx *gorm.DB) error  { return users.AfterSaveHook(tx, u) }
//	func (u *User) AfterFind(tx *gorm.DB) error  { return users.AfterFindHook(tx, u) }
package securex

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"go-securex/securex/errors"
	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/config"
	"go-securex/securex/internal/lifecycle"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
)

type (
	// Snapshot is embedded (tagged gorm:"-") by every model with secure columns
	Snapshot = lifecycle.Snapshot
	// Secret is the column type for encrypted values
	Secret[T any] = security.Secret[T]
	// Provider encrypts and decrypts serialized column values
	Provider = security.Provider
	// StorageType is the declared column type that marks columns as secure
	StorageType = config.StorageType
	// SecureConfig is the resolved configuration of one model type
	SecureConfig = config.SecureConfig
	// ColumnDescriptor describes one persisted column
	ColumnDescriptor = catalog.ColumnDescriptor
	// Observer is notified after every encrypt or decrypt pass
	Observer = lifecycle.Observer
	// Record lets engines other than GORM drive the passes
	Record = lifecycle.Record
	// Ciphertext is what an encrypt pass writes into a Record
	Ciphertext = lifecycle.Ciphertext
)

// Storage types
const (
	Binary  = config.Binary
	Text    = config.Text
	Integer = config.Integer
	Float   = config.Float
	Boolean = config.Boolean
	Time    = config.Time
)

// NewSecret returns a secret column value holding v
func NewSecret[T any](v T) Secret[T] {
	return security.NewSecret(v)
}

// Secure is the handle of one configured model type. It reads the type's configuration
// from its registry on every call, so reconfiguration takes effect immediately.
type Secure[T any] struct {
	reg *Registry
	typ reflect.Type
}

// Option sets one raw configuration option
type Option func(config.Options)

// Except excludes columns from encryption. Repeated uses accumulate.
func Except(columns ...string) Option {
	return func(o config.Options) {
		existing, _ := o[config.OptionExcept].([]string)
		o[config.OptionExcept] = append(append([]string(nil), existing...), columns...)
	}
}

// WithStorageType selects the declared column type that is encrypted; binary by default
func WithStorageType(t StorageType) Option {
	return func(o config.Options) { o[config.OptionStorageType] = t }
}

// WithCryptoProvider sets the default provider of the model type
func WithCryptoProvider(p Provider) Option {
	return func(o config.Options) { o[config.OptionCryptoProvider] = p }
}

// WithProviderName sets the default provider to one registered on the registry
func WithProviderName(name string) Option {
	return func(o config.Options) { o[config.OptionCryptoProvider] = name }
}

// WithOption sets a raw option by key. Unknown keys are rejected by Configure.
func WithOption(key string, value any) Option {
	return func(o config.Options) { o[key] = value }
}

func modelType[T any]() (reflect.Type, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("%s is not a struct", typ), nil)
	}
	if !lifecycle.CarriesSnapshot(typ) {
		return nil, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("%s must embed securex.Snapshot", typ), nil)
	}
	return typ, nil
}

// Configure validates opts and installs them as the configuration of T, replacing any
// previous configuration entirely.
func Configure[T any](reg *Registry, opts ...Option) (*Secure[T], error) {
	raw := config.Options{}
	for _, opt := range opts {
		opt(raw)
	}
	return ConfigureOptions[T](reg, raw)
}

// ConfigureOptions is Configure for an option map, e.g. one read from a models file
func ConfigureOptions[T any](reg *Registry, raw config.Options) (*Secure[T], error) {
	typ, err := modelType[T]()
	if err != nil {
		return nil, err
	}

	cfg, err := reg.resolve(raw)
	if err != nil {
		return nil, err
	}

	reg.store(typ, cfg)
	reg.logger.Debug("Configured secure columns",
		logging.String("model", typ.String()),
		logging.String("storage_type", string(cfg.StorageType)),
		logging.Strings("except", cfg.Except),
		logging.Bool("default_provider", cfg.Provider != nil),
	)
	return &Secure[T]{reg: reg, typ: typ}, nil
}

// ConfigureFromDocument configures T from the entry of docs keyed by T's table name.
// A missing entry configures T with defaults.
func ConfigureFromDocument[T any](reg *Registry, docs map[string]config.Options) (*Secure[T], error) {
	s, err := catalog.Parse(new(T), reg.schemas, reg.namer)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfiguration, err.Error(), nil)
	}
	raw := docs[s.Table]
	if raw == nil {
		raw = config.Options{}
	}
	return ConfigureOptions[T](reg, raw)
}

// MustConfigure is Configure that panics on error, for package level model handles
func MustConfigure[T any](reg *Registry, opts ...Option) *Secure[T] {
	s, err := Configure[T](reg, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Derive gives Child a copy of Parent's current configuration. Later changes to either
// type's configuration do not affect the other.
func Derive[Child, Parent any](reg *Registry) (*Secure[Child], error) {
	parentType := reflect.TypeOf((*Parent)(nil)).Elem()
	parent, ok := reg.config(parentType)
	if !ok {
		return nil, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("%s has no secure configuration to derive from", parentType), nil)
	}

	childType, err := modelType[Child]()
	if err != nil {
		return nil, err
	}

	reg.store(childType, parent.Clone())
	return &Secure[Child]{reg: reg, typ: childType}, nil
}

// Lookup returns the handle of an already configured T
func Lookup[T any](reg *Registry) (*Secure[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if !reg.Configured(typ) {
		return nil, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("%s is not configured", typ), nil)
	}
	return &Secure[T]{reg: reg, typ: typ}, nil
}

// Registry returns the registry the handle reads from
func (s *Secure[T]) Registry() *Registry {
	return s.reg
}

// Config returns a copy of T's current configuration
func (s *Secure[T]) Config() (SecureConfig, error) {
	cfg, ok := s.reg.config(s.typ)
	if !ok {
		return SecureConfig{}, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("%s is not configured", s.typ), nil)
	}
	return cfg, nil
}

// Schema returns GORM's parsed schema of T using the registry's naming strategy
func (s *Secure[T]) Schema() (*schema.Schema, error) {
	return catalog.Parse(new(T), s.reg.schemas, s.reg.namer)
}

// Table returns T's table name
func (s *Secure[T]) Table() (string, error) {
	sch, err := s.Schema()
	if err != nil {
		return "", err
	}
	return sch.Table, nil
}

// Columns lists every persisted column of T
func (s *Secure[T]) Columns() ([]ColumnDescriptor, error) {
	sch, err := s.Schema()
	if err != nil {
		return nil, err
	}
	return catalog.FromSchema(sch), nil
}

// SecureColumns lists the columns of T that are encrypted under its current configuration
func (s *Secure[T]) SecureColumns() ([]ColumnDescriptor, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	all, err := s.Columns()
	if err != nil {
		return nil, err
	}
	return catalog.SecureColumns(cfg, all), nil
}

// WithProvider runs fn with a context in which p is the active provider for T. Database
// work inside fn must use the given context (db.WithContext(ctx)) for the override to
// apply. ctx itself is never modified, so the override ends when fn returns or panics.
func (s *Secure[T]) WithProvider(ctx context.Context, p Provider, fn func(ctx context.Context) error) error {
	return fn(lifecycle.WithProvider(ctx, s.typ, p))
}

// ContextWithProvider returns a context in which p is the active provider for T
func (s *Secure[T]) ContextWithProvider(ctx context.Context, p Provider) context.Context {
	return lifecycle.WithProvider(ctx, s.typ, p)
}

// ActiveProvider returns the provider a pass for T would use under ctx
func (s *Secure[T]) ActiveProvider(ctx context.Context) (Provider, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	table, _ := s.Table()
	return s.reg.dispatcher.ResolveProvider(ctx, lifecycle.Target{Type: s.typ, Table: table, Default: cfg.Provider})
}

func (s *Secure[T]) target(sch *schema.Schema) (lifecycle.Target, error) {
	cfg, err := s.Config()
	if err != nil {
		return lifecycle.Target{}, err
	}
	return lifecycle.Target{
		Type:    s.typ,
		Table:   sch.Table,
		Columns: catalog.SecureColumns(cfg, catalog.FromSchema(sch)),
		Default: cfg.Provider,
	}, nil
}

func (s *Secure[T]) record(ctx context.Context, sch *schema.Schema, rec *T) (*lifecycle.GormRecord, error) {
	return lifecycle.NewGormRecord(ctx, sch, rec)
}

func (s *Secure[T]) encrypt(ctx context.Context, sch *schema.Schema, rec *T) error {
	t, err := s.target(sch)
	if err != nil {
		return err
	}
	r, err := s.record(ctx, sch, rec)
	if err != nil {
		return err
	}
	return s.reg.dispatcher.Encrypt(ctx, t, r)
}

func (s *Secure[T]) decrypt(ctx context.Context, sch *schema.Schema, rec *T) error {
	t, err := s.target(sch)
	if err != nil {
		return err
	}
	r, err := s.record(ctx, sch, rec)
	if err != nil {
		return err
	}
	return s.reg.dispatcher.Decrypt(ctx, t, r)
}

// EncryptSecureColumns replaces every secure column of rec with ciphertext
func (s *Secure[T]) EncryptSecureColumns(ctx context.Context, rec *T) error {
	sch, err := s.Schema()
	if err != nil {
		return err
	}
	return s.encrypt(ctx, sch, rec)
}

// DecryptSecureColumns restores the plaintext of every secure column of rec and captures
// the raw values in its snapshot
func (s *Secure[T]) DecryptSecureColumns(ctx context.Context, rec *T) error {
	sch, err := s.Schema()
	if err != nil {
		return err
	}
	return s.decrypt(ctx, sch, rec)
}

// ReadBeforeDecryption returns the raw stored value of column captured by the last
// decryption of rec, or its current value when none was captured
func (s *Secure[T]) ReadBeforeDecryption(rec *T, column string) (any, error) {
	sch, err := s.Schema()
	if err != nil {
		return nil, err
	}
	r, err := s.record(context.Background(), sch, rec)
	if err != nil {
		return nil, err
	}
	return lifecycle.ReadBeforeDecryption(r, column)
}

// EncryptRecord runs an encrypt pass over a record adapted from another engine. The
// columns are those of T.
func (s *Secure[T]) EncryptRecord(ctx context.Context, rec Record) error {
	sch, err := s.Schema()
	if err != nil {
		return err
	}
	t, err := s.target(sch)
	if err != nil {
		return err
	}
	return s.reg.dispatcher.Encrypt(ctx, t, rec)
}

// DecryptRecord runs a decrypt pass over a record adapted from another engine
func (s *Secure[T]) DecryptRecord(ctx context.Context, rec Record) error {
	sch, err := s.Schema()
	if err != nil {
		return err
	}
	t, err := s.target(sch)
	if err != nil {
		return err
	}
	return s.reg.dispatcher.Decrypt(ctx, t, rec)
}

// hookSchema prefers the statement's schema, which carries the session's naming strategy
func (s *Secure[T]) hookSchema(tx *gorm.DB) (*schema.Schema, error) {
	if tx != nil && tx.Statement != nil && tx.Statement.Schema != nil && tx.Statement.Schema.ModelType == s.typ {
		return tx.Statement.Schema, nil
	}
	namer := s.reg.namer
	if tx != nil && tx.Config != nil && tx.NamingStrategy != nil {
		namer = tx.NamingStrategy
	}
	return catalog.Parse(new(T), s.reg.schemas, namer)
}

func hookContext(tx *gorm.DB) context.Context {
	if tx != nil && tx.Statement != nil && tx.Statement.Context != nil {
		return tx.Statement.Context
	}
	return context.Background()
}

// BeforeSaveHook encrypts rec; call it from the model's BeforeSave
func (s *Secure[T]) BeforeSaveHook(tx *gorm.DB, rec *T) error {
	sch, err := s.hookSchema(tx)
	if err != nil {
		return err
	}
	return s.encrypt(hookContext(tx), sch, rec)
}

// AfterSaveHook decrypts rec again after a successful write; call it from AfterSave
func (s *Secure[T]) AfterSaveHook(tx *gorm.DB, rec *T) error {
	sch, err := s.hookSchema(tx)
	if err != nil {
		return err
	}
	return s.decrypt(hookContext(tx), sch, rec)
}

// AfterFindHook decrypts a loaded rec; call it from AfterFind
func (s *Secure[T]) AfterFindHook(tx *gorm.DB, rec *T) error {
	return s.AfterSaveHook(tx, rec)
}
