// Package mapping keeps the bookkeeping that ties records to the keys external
// systems know them by.
package mapping

import (
	"context"
	"time"

	"github.com/ammar0144/sync4go/pkg/db"
)

// ExternalSystem is a named upstream source of feed data
type ExternalSystem struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:191;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ExternalSystem) TableName() string                 { return "external_systems" }
func (s ExternalSystem) GetPrimaryKeyValue() interface{} { return s.ID }

// ExternalKeyMapping links (external system, external key, content type) to the id
// of a record. ContentType is the record's table name. ObjectID is 0 until the
// record is persisted.
type ExternalKeyMapping struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	ExternalSystemID uint64    `gorm:"not null;uniqueIndex:idx_external_key_mapping,priority:1" json:"external_system_id"`
	ExternalKey      string    `gorm:"size:191;not null;uniqueIndex:idx_external_key_mapping,priority:2" json:"external_key"`
	ContentType      string    `gorm:"size:100;not null;uniqueIndex:idx_external_key_mapping,priority:3;index:idx_external_key_mapping_object,priority:1" json:"content_type"`
	ObjectID         uint64    `gorm:"index:idx_external_key_mapping_object,priority:2" json:"object_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (ExternalKeyMapping) TableName() string                 { return "external_key_mappings" }
func (m ExternalKeyMapping) GetPrimaryKeyValue() interface{} { return m.ID }

// Linked reports whether the mapping points at a record
func (m *ExternalKeyMapping) Linked() bool {
	return m != nil && m.ObjectID != 0
}

// Persisted reports whether the mapping row exists in the database
func (m *ExternalKeyMapping) Persisted() bool {
	return m != nil && m.ID != 0
}

// Ref identifies a mapping by its unique triple
type Ref struct {
	SystemID    uint64
	Key         string
	ContentType string
}

// Ref returns the unique triple of the mapping
func (m *ExternalKeyMapping) Ref() Ref {
	return Ref{SystemID: m.ExternalSystemID, Key: m.ExternalKey, ContentType: m.ContentType}
}

// Migrate creates or updates the mapping tables
func Migrate(ctx context.Context, manager *db.Manager) error {
	return manager.Conn(ctx).AutoMigrate(&ExternalSystem{}, &ExternalKeyMapping{})
}
