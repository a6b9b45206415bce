package lifecycle

import "reflect"

// Record is the view of a persisted record the dispatcher works on. Any persistence
// engine can drive the dispatcher by adapting its records to it; GORM models are adapted
// by NewGormRecord.
type Record interface {
	// ReadAttribute returns the current in-memory value of column; nil means null.
	ReadAttribute(column string) (any, error)
	// ReadAttributeBeforeTypeCast returns the value as the engine read it from storage.
	ReadAttributeBeforeTypeCast(column string) (any, error)
	// WriteAttribute replaces the in-memory value of column.
	WriteAttribute(column string, value any) error
	// AttributeType is the Go type of the plaintext held by column.
	AttributeType(column string) (reflect.Type, error)
	// Snapshot is the record's pre-decryption snapshot.
	Snapshot() *Snapshot
}
