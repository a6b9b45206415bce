package securex

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm/schema"

	"go-securex/securex/codec"
	"go-securex/securex/errors"
	"go-securex/securex/internal/config"
	"go-securex/securex/internal/lifecycle"
	"go-securex/securex/internal/logging"
	"go-securex/securex/internal/security"
)

// Registry holds the secure column configuration of every configured model type and the
// named providers config documents may refer to. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	configs   map[reflect.Type]config.SecureConfig
	providers map[string]security.Provider

	dispatcher *lifecycle.Dispatcher
	logger     logging.Logger
	schemas    *sync.Map
	namer      schema.Namer
	storage    config.StorageType
}

// RegistryOption customizes a Registry
type RegistryOption func(*registryOptions)

type registryOptions struct {
	codec    codec.Codec
	logger   logging.Logger
	observer lifecycle.Observer
	namer    schema.Namer
	storage  config.StorageType
}

// WithCodec selects the codec used to serialize column values; YAML by default
func WithCodec(c codec.Codec) RegistryOption {
	return func(o *registryOptions) { o.codec = c }
}

// WithLogger sets the logger used for pass and configuration events
func WithLogger(l logging.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

// WithObserver attaches an observer notified after every pass
func WithObserver(obs Observer) RegistryOption {
	return func(o *registryOptions) { o.observer = obs }
}

// WithNamingStrategy sets the naming strategy used to derive table and column names when
// no GORM session is at hand. It should match the one the database is opened with.
func WithNamingStrategy(n schema.Namer) RegistryOption {
	return func(o *registryOptions) { o.namer = n }
}

// WithDefaultStorageType sets the storage type of models whose options do not name one
func WithDefaultStorageType(t config.StorageType) RegistryOption {
	return func(o *registryOptions) { o.storage = config.ParseStorageType(string(t)) }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger{}
	}
	if o.namer == nil {
		o.namer = schema.NamingStrategy{}
	}

	return &Registry{
		configs:    make(map[reflect.Type]config.SecureConfig),
		providers:  make(map[string]security.Provider),
		dispatcher: lifecycle.NewDispatcher(o.codec, o.logger, o.observer),
		logger:     o.logger,
		schemas:    &sync.Map{},
		namer:      o.namer,
		storage:    o.storage,
	}
}

// RegisterProvider makes p available to config documents under name
func (r *Registry) RegisterProvider(name string, p security.Provider) error {
	if name == "" {
		return errors.New(errors.ErrCodeConfiguration, "provider name is required", nil)
	}
	if p == nil {
		return errors.New(errors.ErrCodeConfiguration, fmt.Sprintf("provider %q is nil", name), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	return nil
}

// Provider returns the provider registered under name
func (r *Registry) Provider(name string) (security.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ProviderNames lists the registered provider names in sorted order
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Codec returns the codec used by the registry's passes
func (r *Registry) Codec() codec.Codec {
	return r.dispatcher.Codec()
}

func (r *Registry) config(typ reflect.Type) (config.SecureConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[typ]
	if !ok {
		return config.SecureConfig{}, false
	}
	return cfg.Clone(), true
}

func (r *Registry) store(typ reflect.Type, cfg config.SecureConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[typ] = cfg.Clone()
}

// Configured reports whether typ has a secure configuration
func (r *Registry) Configured(typ reflect.Type) bool {
	_, ok := r.config(typ)
	return ok
}

// resolve validates raw options against the registry's named providers
func (r *Registry) resolve(opts config.Options) (config.SecureConfig, error) {
	if r.storage != "" && r.storage != config.DefaultStorageType && !hasStorageType(opts) {
		withDefault := make(config.Options, len(opts)+1)
		for k, v := range opts {
			withDefault[k] = v
		}
		withDefault[config.OptionStorageType] = r.storage
		opts = withDefault
	}
	return config.Resolve(opts, r.Provider)
}

func hasStorageType(opts config.Options) bool {
	for _, key := range []string{config.OptionStorageType, "storageType"} {
		if _, ok := opts[key]; ok {
			return true
		}
	}
	return false
}
