package schema

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
	gschema "gorm.io/gorm/schema"
)

// Kind classifies what an attribute name refers to on a model
type Kind uint8

const (
	// KindColumn is a plain column, including foreign key columns
	KindColumn Kind = iota
	// KindRelation is a single-valued relation (belongs-to or has-one)
	KindRelation
	// KindManyValued is a has-many or many-to-many relation
	KindManyValued
)

func (k Kind) String() string {
	switch k {
	case KindRelation:
		return "relation"
	case KindManyValued:
		return "many-valued"
	default:
		return "column"
	}
}

// Attribute describes one name a feed can address on a model
type Attribute struct {
	Name string
	Kind Kind

	// Field is the column written when the attribute is assigned. For a belongs-to
	// relation it is the foreign key column; has-one and many-valued relations have none.
	Field *gschema.Field

	// Relation is set for relation attributes and for foreign key columns
	Relation *gschema.Relationship

	Nullable   bool
	Structured bool
	AutoNow    bool

	// GenericType names the discriminator attribute when this attribute holds the id
	// half of a generic (polymorphic) reference
	GenericType string
}

// IsRelation reports whether the attribute links to another model
func (a *Attribute) IsRelation() bool {
	return a.Relation != nil
}

// ManyValued reports whether the attribute is a has-many or many-to-many relation
func (a *Attribute) ManyValued() bool {
	return a.Kind == KindManyValued
}

// Reverse reports whether the link is stored on the related model's side
func (a *Attribute) Reverse() bool {
	return a.Relation != nil && a.Relation.Type != gschema.BelongsTo
}

// RelatedTable returns the table of the related model, empty for non relations
func (a *Attribute) RelatedTable() string {
	if a.Relation == nil || a.Relation.FieldSchema == nil {
		return ""
	}
	return a.Relation.FieldSchema.Table
}

// Column returns the database column written by the attribute, empty if none
func (a *Attribute) Column() string {
	if a.Field == nil {
		return ""
	}
	return a.Field.DBName
}

// Convert parses a raw feed value into a value assignable to the attribute's column.
// Empty input on a nullable column converts to nil.
func (a *Attribute) Convert(raw string) (interface{}, error) {
	if a.Field == nil {
		return nil, fmt.Errorf("attribute %s has no column", a.Name)
	}
	if raw == "" && a.Nullable {
		return nil, nil
	}
	if a.Structured {
		return convertStructured(a.Field, raw)
	}
	return ConvertField(a.Field, raw)
}

// ConvertField parses raw into the Go type stored by field
func ConvertField(field *gschema.Field, raw string) (interface{}, error) {
	switch field.DataType {
	case gschema.Bool:
		if raw == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(raw))
	case gschema.Int:
		if raw == "" {
			return int64(0), nil
		}
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case gschema.Uint:
		if raw == "" {
			return uint64(0), nil
		}
		return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	case gschema.Float:
		if raw == "" {
			return float64(0), nil
		}
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case gschema.Time:
		if raw == "" {
			return time.Time{}, nil
		}
		return now.ParseInLocation(time.UTC, strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

// convertStructured decodes JSON into the field's type. Input that is not valid JSON
// is kept as a raw string wherever the field can hold one.
func convertStructured(field *gschema.Field, raw string) (interface{}, error) {
	fieldType := field.IndirectFieldType
	switch {
	case fieldType.Kind() == reflect.String:
		return reflect.ValueOf(raw).Convert(fieldType).Interface(), nil
	case fieldType.Kind() == reflect.Slice && fieldType.Elem().Kind() == reflect.Uint8:
		doc := []byte(raw)
		if !json.Valid(doc) {
			doc, _ = json.Marshal(raw)
		}
		return reflect.ValueOf(doc).Convert(fieldType).Interface(), nil
	}

	target := reflect.New(fieldType)
	if err := json.Unmarshal([]byte(raw), target.Interface()); err != nil {
		if fieldType.Kind() == reflect.Interface {
			return raw, nil
		}
		return nil, fmt.Errorf("invalid structured value for %s: %w", field.Name, err)
	}
	return target.Elem().Interface(), nil
}

// isEmpty reports whether v is an unset value: nil, a nil pointer, an empty string,
// a zero time or an invalid sql.Null value
func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case time.Time:
		return t.IsZero()
	case sql.NullString:
		return !t.Valid || t.String == ""
	case sql.NullTime:
		return !t.Valid || t.Time.IsZero()
	case sql.NullInt64:
		return !t.Valid
	case sql.NullInt32:
		return !t.Valid
	case sql.NullFloat64:
		return !t.Valid
	case sql.NullBool:
		return !t.Valid
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return isEmpty(rv.Elem().Interface())
	case reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// normalize folds an attribute name so that CompanyID, company_id and companyid match
func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

// nullable reports whether a column can hold NULL as seen from Go
func nullable(field *gschema.Field) bool {
	if field.NotNull || field.PrimaryKey {
		return false
	}
	if field.FieldType.Kind() == reflect.Ptr {
		return true
	}
	return strings.HasPrefix(field.FieldType.String(), "sql.Null")
}

// structured reports whether a column stores JSON
func structured(field *gschema.Field) bool {
	switch strings.ToLower(string(field.DataType)) {
	case "json", "jsonb":
		return true
	}
	return strings.EqualFold(field.TagSettings["SERIALIZER"], "json")
}
