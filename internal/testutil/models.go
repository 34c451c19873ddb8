// Package testutil holds fixture models and database helpers shared by package tests.
package testutil

import (
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Company is the target of a belongs-to relation from Person
type Company struct {
	ID      uint64 `gorm:"primaryKey"`
	Name    string `gorm:"size:191;uniqueIndex"`
	Country string `gorm:"size:2"`
}

func (Company) TableName() string                 { return "companies" }
func (c Company) GetPrimaryKeyValue() interface{} { return c.ID }

// Tag is the target of the many-to-many Person.Tags relation
type Tag struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"size:191;uniqueIndex"`
}

func (Tag) TableName() string                 { return "tags" }
func (t Tag) GetPrimaryKeyValue() interface{} { return t.ID }

// Note hangs off any record through the generic owner_type/owner_id pair
type Note struct {
	ID        uint64 `gorm:"primaryKey"`
	Body      string
	OwnerType string `gorm:"size:64;index:idx_note_owner"`
	OwnerID   uint64 `gorm:"index:idx_note_owner"`
}

func (Note) TableName() string                 { return "notes" }
func (n Note) GetPrimaryKeyValue() interface{} { return n.ID }

// Person exercises every attribute kind the engine handles
type Person struct {
	ID        uint64 `gorm:"primaryKey"`
	Email     string `gorm:"size:191;uniqueIndex"`
	Name      string `gorm:"size:191"`
	Nickname  *string
	Age       int
	BirthDate *time.Time
	Profile   datatypes.JSON

	CompanyID *uint64
	Company   *Company
	Tags      []*Tag  `gorm:"many2many:person_tags"`
	Notes     []*Note `gorm:"polymorphic:Owner"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Person) TableName() string                 { return "people" }
func (p Person) GetPrimaryKeyValue() interface{} { return p.ID }

// PersonSaves counts AfterSave hook invocations on Person
var PersonSaves atomic.Int64

// AfterSave is a per-record hook; bulk and suppressed runs must not fire it
func (p *Person) AfterSave(*gorm.DB) error {
	PersonSaves.Add(1)
	return nil
}

// Category is a self-referencing tree
type Category struct {
	ID       uint64 `gorm:"primaryKey"`
	Name     string `gorm:"size:191"`
	ParentID *uint64
	Parent   *Category
}

func (Category) TableName() string                 { return "categories" }
func (c Category) GetPrimaryKeyValue() interface{} { return c.ID }

// Models lists every fixture model, dependencies first
func Models() []interface{} {
	return []interface{}{&Company{}, &Tag{}, &Note{}, &Person{}, &Category{}}
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
