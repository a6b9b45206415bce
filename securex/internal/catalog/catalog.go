// Package catalog describes the columns of a model and selects the ones to encrypt.
package catalog

import (
	"fmt"
	"sync"

	"gorm.io/gorm/schema"

	"go-securex/securex/internal/config"
)

// ColumnDescriptor describes one persisted column of a model
type ColumnDescriptor struct {
	// Name is the database column name
	Name string
	// DeclaredType is the normalized storage type of the column
	DeclaredType config.StorageType
	// FieldName is the Go struct field backing the column
	FieldName string
}

// Columns lists the columns of model in schema order. Fields without a database column
// (ignored fields, relations) are skipped. A nil cache or namer falls back to a private
// cache and GORM's default naming strategy.
func Columns(model any, cache *sync.Map, namer schema.Namer) ([]ColumnDescriptor, error) {
	s, err := Parse(model, cache, namer)
	if err != nil {
		return nil, err
	}
	return FromSchema(s), nil
}

// Parse returns GORM's parsed schema for model
func Parse(model any, cache *sync.Map, namer schema.Namer) (*schema.Schema, error) {
	if cache == nil {
		cache = defaultCache
	}
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	s, err := schema.Parse(model, cache, namer)
	if err != nil {
		return nil, fmt.Errorf("parse schema of %T: %w", model, err)
	}
	return s, nil
}

var defaultCache = &sync.Map{}

// FromSchema converts a parsed schema into column descriptors
func FromSchema(s *schema.Schema) []ColumnDescriptor {
	columns := make([]ColumnDescriptor, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.DBName == "" || !(field.Creatable || field.Updatable || field.Readable) {
			continue
		}
		columns = append(columns, ColumnDescriptor{
			Name:         field.DBName,
			DeclaredType: declaredType(field),
			FieldName:    field.Name,
		})
	}
	return columns
}

// declaredType prefers an explicit type:... tag over GORM's inferred data type
func declaredType(field *schema.Field) config.StorageType {
	if tagged, ok := field.TagSettings["TYPE"]; ok && tagged != "" {
		return config.ParseStorageType(tagged)
	}
	if field.GORMDataType != "" {
		return config.ParseStorageType(string(field.GORMDataType))
	}
	return config.ParseStorageType(string(field.DataType))
}

// SecureColumns returns the columns whose declared type equals the configured storage
// type and whose name is not excluded, preserving the order of all.
func SecureColumns(cfg config.SecureConfig, all []ColumnDescriptor) []ColumnDescriptor {
	secure := make([]ColumnDescriptor, 0, len(all))
	for _, column := range all {
		if column.DeclaredType != cfg.StorageType {
			continue
		}
		if cfg.Excludes(column.Name) {
			continue
		}
		secure = append(secure, column)
	}
	return secure
}

// Names returns the column names of columns
func Names(columns []ColumnDescriptor) []string {
	names := make([]string, len(columns))
	for i, column := range columns {
		names[i] = column.Name
	}
	return names
}
