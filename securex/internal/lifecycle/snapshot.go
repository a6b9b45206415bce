package lifecycle

import (
	"reflect"
	"sort"
)

// Snapshot keeps the raw value of every secure column as it was immediately before the
// last decryption pass. Models embed it (tagged gorm:"-") so each record instance owns
// exactly one.
type Snapshot struct {
	values map[string]any
}

// Reset empties the snapshot
func (s *Snapshot) Reset() {
	s.values = make(map[string]any)
}

// Put stores the raw value of column
func (s *Snapshot) Put(column string, raw any) {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[column] = raw
}

// Get returns the raw value captured for column
func (s *Snapshot) Get(column string) (any, bool) {
	v, ok := s.values[column]
	return v, ok
}

// Columns lists the captured column names in sorted order
func (s *Snapshot) Columns() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of captured columns
func (s *Snapshot) Len() int {
	return len(s.values)
}

func (s *Snapshot) encryptedSnapshot() *Snapshot {
	return s
}

type snapshotCarrier interface {
	encryptedSnapshot() *Snapshot
}

var snapshotCarrierType = reflect.TypeOf((*snapshotCarrier)(nil)).Elem()

// SnapshotOf returns the snapshot embedded in model, which must be a pointer
func SnapshotOf(model any) (*Snapshot, bool) {
	carrier, ok := model.(snapshotCarrier)
	if !ok {
		return nil, false
	}
	return carrier.encryptedSnapshot(), true
}

// CarriesSnapshot reports whether pointers to typ embed a Snapshot
func CarriesSnapshot(typ reflect.Type) bool {
	if typ.Kind() != reflect.Ptr {
		typ = reflect.PointerTo(typ)
	}
	return typ.Implements(snapshotCarrierType)
}

// ReadBeforeDecryption returns the raw value captured for column by the last decryption
// pass, or the column's current value when no non-null raw value was captured.
func ReadBeforeDecryption(rec Record, column string) (any, error) {
	if raw, ok := rec.Snapshot().Get(column); ok && !isNull(raw) {
		return raw, nil
	}
	return rec.ReadAttribute(column)
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
