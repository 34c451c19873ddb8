package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/redis"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
)

// cached wraps a lookup result so that misses can be cached too
type cached[T any] struct {
	Found  bool
	Entity T
}

// GenericRepository provides CRUD operations over one GORM model with optional caching.
// Reads are cache-first unless the context carries a transaction, in which case the
// cache is bypassed so uncommitted rows never leak into it. Every write invalidates
// the cached reads of the table.
type GenericRepository[T Entity] struct {
	dbManager  *db.Manager
	redis      *redis.Manager
	entityType reflect.Type
	tableName  string
	primaryKey string
	dbName     string // Database identity for cache key isolation
}

// NewGenericRepository creates a new generic repository with GORM and Redis integration
func NewGenericRepository[T Entity](dbManager *db.Manager, redisManager *redis.Manager) *GenericRepository[T] {
	entityType := reflect.TypeOf((*T)(nil)).Elem()

	var zero T
	tableName := zero.TableName()
	if tableName == "" {
		panic(fmt.Sprintf("entity type %v returned empty TableName(), Entity interface not properly implemented", entityType))
	}

	primaryKey := "id"
	if pk := extractPrimaryKeyNameFromDB(dbManager.DB(), entityType); pk != "" {
		primaryKey = pk
	}

	return &GenericRepository[T]{
		dbManager:  dbManager,
		redis:      redisManager,
		entityType: entityType,
		tableName:  tableName,
		primaryKey: primaryKey,
		dbName:     databaseIdentity(dbManager),
	}
}

// TableName returns the table served by the repository
func (r *GenericRepository[T]) TableName() string {
	return r.tableName
}

// conn returns the connection for ctx, honoring a carried transaction
func (r *GenericRepository[T]) conn(ctx context.Context) *gorm.DB {
	return r.dbManager.Conn(ctx)
}

// withQueryTimeout wraps a context with the configured query timeout
func (r *GenericRepository[T]) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.dbManager != nil && r.dbManager.Config() != nil {
		timeout := r.dbManager.Config().QueryTimeout
		if timeout > 0 {
			return context.WithTimeout(ctx, timeout)
		}
	}
	return ctx, func() {}
}

// cacheable reports whether reads for ctx may use the cache
func (r *GenericRepository[T]) cacheable(ctx context.Context) bool {
	return r.redis.Enabled() && !r.dbManager.InTransaction(ctx)
}

// ============================================================================
// READ OPERATIONS - Cache-First Implementation
// ============================================================================

// FindByID finds a record by ID. A missing record is reported as nil, nil.
func (r *GenericRepository[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}

	return r.lookup(ctx, r.generateCacheKey("find_by_id", fmt.Sprintf("%v", id)), func(conn *gorm.DB, entity *T) error {
		return conn.Where(r.primaryKey+" = ?", id).First(entity).Error
	})
}

// First finds the first record matching conditions. A miss is reported as nil, nil.
func (r *GenericRepository[T]) First(ctx context.Context, query interface{}, args ...interface{}) (*T, error) {
	cacheKey := ""
	if q, ok := query.(string); ok {
		cacheKey = r.generateCacheKeyFromQuery("first", q, args...)
	}

	return r.lookup(ctx, cacheKey, func(conn *gorm.DB, entity *T) error {
		return conn.Where(query, args...).Order(r.primaryKey).First(entity).Error
	})
}

// lookup runs a single-row query through the cache; an empty cacheKey disables caching
func (r *GenericRepository[T]) lookup(ctx context.Context, cacheKey string, query func(*gorm.DB, *T) error) (*T, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}

	useCache := cacheKey != "" && r.cacheable(ctx)
	if useCache {
		var hit cached[T]
		if err := r.redis.GetValue(ctx, cacheKey, &hit); err == nil {
			if !hit.Found {
				return nil, nil
			}
			return &hit.Entity, nil
		}
		// Cache errors fall through to the database (best-effort cache)
	}

	var entity T
	err := query(r.conn(ctx), &entity)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}
	found := err == nil

	if useCache {
		ttl := r.redis.Config().DefaultTTL
		if !found {
			ttl = r.redis.Config().NullCacheTTL
		}
		if ttl > 0 {
			_ = r.redis.SetValue(ctx, cacheKey, cached[T]{Found: found, Entity: entity}, ttl)
		}
	}

	if !found {
		return nil, nil
	}
	return &entity, nil
}

// FindWhere finds records with conditions, ordered by primary key
func (r *GenericRepository[T]) FindWhere(ctx context.Context, query interface{}, args ...interface{}) ([]T, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	var entities []T
	if err := r.conn(ctx).Where(query, args...).Order(r.primaryKey).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return entities, nil
}

// Count counts records matching conditions; a nil query counts the whole table
func (r *GenericRepository[T]) Count(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	var (
		count  int64
		entity T
	)
	tx := r.conn(ctx).Model(&entity)
	if query != nil {
		tx = tx.Where(query, args...)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}

// ============================================================================
// WRITE OPERATIONS - Cache Invalidation Implementation
// ============================================================================

// Create creates a new record with automatic cache invalidation
func (r *GenericRepository[T]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := r.conn(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	r.invalidate(ctx)
	return nil
}

// Update saves all fields of a record with cache invalidation
func (r *GenericRepository[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := r.conn(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	r.invalidate(ctx)
	return nil
}

// Delete deletes a record by ID with cache invalidation
// A missing record is not an error
func (r *GenericRepository[T]) Delete(ctx context.Context, id interface{}) error {
	if id == nil {
		return fmt.Errorf("id cannot be nil")
	}
	_, err := r.DeleteWhere(ctx, r.primaryKey+" = ?", id)
	return err
}

// DeleteWhere deletes every record matching conditions and reports how many went
func (r *GenericRepository[T]) DeleteWhere(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	var entity T
	result := r.conn(ctx).Where(query, args...).Delete(&entity)
	if result.Error != nil {
		return 0, fmt.Errorf("database error: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.invalidate(ctx)
	}
	return result.RowsAffected, nil
}

// CreateBatch inserts records in chunks of batchSize with cache invalidation
func (r *GenericRepository[T]) CreateBatch(ctx context.Context, entities []*T, batchSize int) error {
	if len(entities) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = len(entities)
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	if err := r.conn(ctx).CreateInBatches(entities, batchSize).Error; err != nil {
		return fmt.Errorf("batch create error: %w", err)
	}

	r.invalidate(ctx)
	return nil
}

// UpdateBatch writes existing records with one UPDATE each, in transactions of
// batchSize records. Only columns are rewritten when given, every column
// otherwise. Records missing from the table are not inserted.
func (r *GenericRepository[T]) UpdateBatch(ctx context.Context, entities []*T, batchSize int, columns ...string) error {
	if len(entities) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = len(entities)
	}

	ctx, cancel := r.withQueryTimeout(ctx)
	defer cancel()

	for start := 0; start < len(entities); start += batchSize {
		chunk := entities[start:min(start+batchSize, len(entities))]
		err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
			for _, entity := range chunk {
				q := tx.Model(entity)
				if len(columns) > 0 {
					q = q.Select(columns)
				} else {
					q = q.Select("*")
				}
				if err := q.Updates(entity).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			r.invalidate(ctx)
			return fmt.Errorf("batch update error: %w", err)
		}
	}

	r.invalidate(ctx)
	return nil
}

// InvalidateCache invalidates all caches for this entity type in this database
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	if !r.redis.Enabled() {
		return nil
	}
	return r.redis.InvalidatePattern(ctx, r.redis.Key(r.dbName, r.tableName, "*"))
}

// invalidate drops cached reads after a write (best effort)
func (r *GenericRepository[T]) invalidate(ctx context.Context) {
	_ = r.InvalidateCache(ctx)
}

// ============================================================================
// HELPER METHODS - Cache Key Generation
// ============================================================================

// generateCacheKey creates a cache key for simple operations with database isolation
func (r *GenericRepository[T]) generateCacheKey(operation, suffix string) string {
	if !r.redis.Enabled() {
		return ""
	}
	return r.redis.Key(r.dbName, r.tableName, operation, suffix)
}

// generateCacheKeyFromQuery creates a cache key from query and parameters with database isolation
func (r *GenericRepository[T]) generateCacheKeyFromQuery(operation string, query string, args ...interface{}) string {
	if !r.redis.Enabled() {
		return ""
	}
	return r.redis.HashKey(r.redis.Key(r.dbName, r.tableName, operation), query, args...)
}

// extractPrimaryKeyNameFromDB tries to obtain the primary key column name using GORM schema
// Returns empty string if it cannot be determined
func extractPrimaryKeyNameFromDB(gormDB *gorm.DB, entityType reflect.Type) string {
	if gormDB == nil || entityType == nil {
		return ""
	}

	var model interface{}
	if entityType.Kind() == reflect.Ptr {
		model = reflect.New(entityType.Elem()).Interface()
	} else {
		model = reflect.New(entityType).Interface()
	}

	stmt := &gorm.Statement{DB: gormDB}
	if err := stmt.Parse(model); err != nil || stmt.Schema == nil {
		return ""
	}

	if f := stmt.Schema.PrioritizedPrimaryField; f != nil {
		return f.DBName
	}
	if len(stmt.Schema.PrimaryFields) > 0 {
		return stmt.Schema.PrimaryFields[0].DBName
	}

	return ""
}

// databaseIdentity derives a short, glob-safe identity of the connected database
func databaseIdentity(manager *db.Manager) string {
	cfg := manager.Config()
	if cfg == nil {
		return "default_db"
	}
	identity := cfg.DriverName() + "|" + cfg.Host + "|" + strconv.Itoa(cfg.Port) + "|" + cfg.Database
	return strconv.FormatUint(xxhash.Sum64String(identity), 16)
}
