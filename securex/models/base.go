// Package models provides base GORM models for records with secure columns.
package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"go-securex/securex"
)

// BaseModel provides common fields for all models
type BaseModel struct {
	ID        string         `gorm:"primaryKey;size:26" json:"id"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate GORM hook to set ID before creating
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// IsDeleted returns true if the model is soft deleted
func (b *BaseModel) IsDeleted() bool {
	return b.DeletedAt.Valid
}

// GetID returns the model ID
func (b *BaseModel) GetID() string {
	return b.ID
}

// SetID sets the model ID
func (b *BaseModel) SetID(id string) {
	b.ID = id
}

// SecureModel is BaseModel plus the snapshot every model with secure columns carries.
// Embedding types still forward BeforeSave, AfterSave and AfterFind to their handle.
type SecureModel struct {
	BaseModel
	securex.Snapshot `gorm:"-" json:"-"`
}

// Identifiable is implemented by pointers to models embedding BaseModel
type Identifiable interface {
	GetID() string
	SetID(string)
	IsDeleted() bool
}
