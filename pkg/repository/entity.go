package repository

// Entity interface defines the minimal contract for repository entities
// GORM models implement it with value receivers so that both T and *T satisfy it
type Entity interface {
	// TableName returns the database table name for this entity
	// This should match GORM's table naming convention
	TableName() string

	// GetPrimaryKeyValue returns the actual value of the primary key
	// Used for cache keys and invalidation
	GetPrimaryKeyValue() interface{}
}

// IsPersisted reports whether e carries a non-zero primary key
func IsPersisted(e Entity) bool {
	switch v := e.GetPrimaryKeyValue().(type) {
	case nil:
		return false
	case uint64:
		return v != 0
	case uint:
		return v != 0
	case uint32:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	case int32:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
