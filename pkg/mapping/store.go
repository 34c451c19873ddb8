package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/redis"
	"github.com/ammar0144/sync4go/pkg/repository"
)

// ErrMappingNotFound is returned when no linked mapping exists for a triple
var ErrMappingNotFound = errors.New("external key mapping not found")

// IsMappingNotFound checks if error is a missing mapping
func IsMappingNotFound(err error) bool {
	return errors.Is(err, ErrMappingNotFound)
}

// Store reads and writes external key mappings. Lookups go through the
// repository cache; mappings staged in the context take precedence over stored ones.
type Store struct {
	repo *repository.GenericRepository[ExternalKeyMapping]
}

// NewStore creates a mapping store; cache may be nil
func NewStore(manager *db.Manager, cache *redis.Manager) *Store {
	return &Store{repo: repository.NewGenericRepository[ExternalKeyMapping](manager, cache)}
}

// Init builds an unsaved mapping for the triple
func (s *Store) Init(systemID uint64, key, contentType string) *ExternalKeyMapping {
	return &ExternalKeyMapping{ExternalSystemID: systemID, ExternalKey: key, ContentType: contentType}
}

// Get loads the mapping for the triple or fails with ErrMappingNotFound
func (s *Store) Get(ctx context.Context, systemID uint64, key, contentType string) (*ExternalKeyMapping, error) {
	if staged := stagingFrom(ctx).get(Ref{SystemID: systemID, Key: key, ContentType: contentType}); staged != nil {
		return staged, nil
	}
	m, err := s.repo.First(ctx,
		"external_system_id = ? AND external_key = ? AND content_type = ?",
		systemID, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping %s/%s: %w", contentType, key, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: system %d key %q type %s", ErrMappingNotFound, systemID, key, contentType)
	}
	return m, nil
}

// GetOrInit loads the mapping for the triple, or builds an unsaved one.
// The boolean reports whether the mapping already existed.
func (s *Store) GetOrInit(ctx context.Context, systemID uint64, key, contentType string) (*ExternalKeyMapping, bool, error) {
	m, err := s.Get(ctx, systemID, key, contentType)
	switch {
	case err == nil:
		return m, true, nil
	case IsMappingNotFound(err):
		return s.Init(systemID, key, contentType), false, nil
	default:
		return nil, false, err
	}
}

// Resolve returns the object id linked to the triple
func (s *Store) Resolve(ctx context.Context, systemID uint64, key, contentType string) (uint64, error) {
	m, err := s.Get(ctx, systemID, key, contentType)
	if err != nil {
		return 0, err
	}
	if !m.Linked() {
		return 0, fmt.Errorf("%w: system %d key %q type %s is not linked", ErrMappingNotFound, systemID, key, contentType)
	}
	return m.ObjectID, nil
}

// Save inserts or updates the mapping
func (s *Store) Save(ctx context.Context, m *ExternalKeyMapping) error {
	if m.Persisted() {
		return s.repo.Update(ctx, m)
	}
	return s.repo.Create(ctx, m)
}

// Delete removes every mapping for the triple and reports how many went
func (s *Store) Delete(ctx context.Context, systemID uint64, key, contentType string) (int64, error) {
	stagingFrom(ctx).remove(Ref{SystemID: systemID, Key: key, ContentType: contentType})
	return s.repo.DeleteWhere(ctx,
		"external_system_id = ? AND external_key = ? AND content_type = ?",
		systemID, key, contentType)
}

// ForObject lists every mapping, of any system, pointing at a record
func (s *Store) ForObject(ctx context.Context, contentType string, objectID uint64) ([]ExternalKeyMapping, error) {
	return s.repo.FindWhere(ctx, "content_type = ? AND object_id = ?", contentType, objectID)
}

// DeleteForObject removes every mapping pointing at a record
func (s *Store) DeleteForObject(ctx context.Context, contentType string, objectID uint64) (int64, error) {
	if objectID == 0 {
		return 0, nil
	}
	return s.repo.DeleteWhere(ctx, "content_type = ? AND object_id = ?", contentType, objectID)
}

// DeleteForObjects is DeleteForObject over many records
func (s *Store) DeleteForObjects(ctx context.Context, contentType string, objectIDs []uint64) (int64, error) {
	if len(objectIDs) == 0 {
		return 0, nil
	}
	return s.repo.DeleteWhere(ctx, "content_type = ? AND object_id IN ?", contentType, objectIDs)
}

// BulkSave writes mappings in batches: unsaved ones are inserted, stored ones get
// their object id rewritten
func (s *Store) BulkSave(ctx context.Context, mappings []*ExternalKeyMapping, batchSize int) error {
	var fresh, stored []*ExternalKeyMapping
	for _, m := range mappings {
		if m.Persisted() {
			stored = append(stored, m)
		} else {
			fresh = append(fresh, m)
		}
	}
	if err := s.repo.CreateBatch(ctx, fresh, batchSize); err != nil {
		return err
	}
	if err := s.repo.UpdateBatch(ctx, stored, batchSize, "object_id"); err != nil {
		return err
	}
	for _, m := range mappings {
		stagingFrom(ctx).remove(m.Ref())
	}
	return nil
}

// Count counts the mappings of a content type, all types when empty
func (s *Store) Count(ctx context.Context, contentType string) (int64, error) {
	if contentType == "" {
		return s.repo.Count(ctx, nil)
	}
	return s.repo.Count(ctx, "content_type = ?", contentType)
}
