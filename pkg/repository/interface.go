package repository

import (
	"context"
)

// Repository defines the generic repository interface
type Repository[T Entity] interface {
	// Queries (Read Operations - Cache-First outside transactions)
	FindByID(ctx context.Context, id interface{}) (*T, error)
	First(ctx context.Context, query interface{}, args ...interface{}) (*T, error)
	FindWhere(ctx context.Context, query interface{}, args ...interface{}) ([]T, error)
	Count(ctx context.Context, query interface{}, args ...interface{}) (int64, error)

	// Commands (Write Operations - Cache Invalidation)
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id interface{}) error
	DeleteWhere(ctx context.Context, query interface{}, args ...interface{}) (int64, error)

	// Batch Operations
	CreateBatch(ctx context.Context, entities []*T, batchSize int) error
	UpdateBatch(ctx context.Context, entities []*T, batchSize int, columns ...string) error

	// Cache Management
	InvalidateCache(ctx context.Context) error
}
