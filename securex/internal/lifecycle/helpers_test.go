package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go-securex/securex/internal/catalog"
	"go-securex/securex/internal/config"
)

// tagProvider prefixes plaintext with its tag and refuses ciphertext carrying another tag
type tagProvider struct {
	tag      string
	encrypts int
	decrypts int
}

func (p *tagProvider) Encrypt(plaintext []byte) ([]byte, error) {
	p.encrypts++
	return append([]byte(p.tag+":"), plaintext...), nil
}

func (p *tagProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	p.decrypts++
	prefix := p.tag + ":"
	if !strings.HasPrefix(string(ciphertext), prefix) {
		return nil, fmt.Errorf("key %s cannot open ciphertext %q", p.tag, ciphertext)
	}
	return ciphertext[len(prefix):], nil
}

// memRecord keeps attributes in maps; ciphertext is stored as plain bytes
type memRecord struct {
	values   map[string]any
	types    map[string]reflect.Type
	sealed   map[string]bool
	snapshot Snapshot
}

func newMemRecord() *memRecord {
	return &memRecord{
		values: map[string]any{},
		types:  map[string]reflect.Type{},
		sealed: map[string]bool{},
	}
}

func (r *memRecord) set(column string, value any, typ reflect.Type) *memRecord {
	r.values[column] = value
	r.types[column] = typ
	return r
}

func (r *memRecord) ReadAttribute(column string) (any, error) {
	return r.values[column], nil
}

func (r *memRecord) ReadAttributeBeforeTypeCast(column string) (any, error) {
	return r.values[column], nil
}

func (r *memRecord) WriteAttribute(column string, value any) error {
	if c, ok := value.(Ciphertext); ok {
		r.values[column] = []byte(c)
		return nil
	}
	r.values[column] = value
	return nil
}

func (r *memRecord) AttributeType(column string) (reflect.Type, error) {
	typ, ok := r.types[column]
	if !ok {
		return nil, fmt.Errorf("unknown column %s", column)
	}
	return typ, nil
}

func (r *memRecord) Snapshot() *Snapshot {
	return &r.snapshot
}

// sealedRecord also reports which columns hold ciphertext
type sealedRecord struct {
	*memRecord
}

func (r sealedRecord) IsSealed(column string) bool {
	return r.sealed[column]
}

type pass struct {
	operation string
	table     string
	columns   int
	err       error
}

type recordingObserver struct {
	mu     sync.Mutex
	passes []pass
}

func (o *recordingObserver) ObservePass(_ context.Context, operation, table string, columns int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, pass{operation: operation, table: table, columns: columns, err: err})
}

type account struct{}

var (
	stringType  = reflect.TypeOf("")
	accountType = reflect.TypeOf(account{})
)

func binaryColumns(names ...string) []catalog.ColumnDescriptor {
	columns := make([]catalog.ColumnDescriptor, 0, len(names))
	for _, name := range names {
		columns = append(columns, catalog.ColumnDescriptor{Name: name, DeclaredType: config.Binary})
	}
	return columns
}
