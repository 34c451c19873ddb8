// Package store persists registered models through GORM on behalf of sync actions.
// Every call goes through the connection carried in the context so that it joins
// an open transaction.
package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// AssociationOp is a mutation of a relation's member set
type AssociationOp uint8

const (
	// Append adds targets to the relation
	Append AssociationOp = iota
	// Remove unlinks targets from the relation
	Remove
	// Replace makes the targets the only members of the relation
	Replace
)

func (op AssociationOp) String() string {
	switch op {
	case Remove:
		return "remove"
	case Replace:
		return "replace"
	default:
		return "append"
	}
}

// Store is the record store used by model actions
type Store struct {
	manager *db.Manager

	mu         sync.Mutex
	suppressed map[string]int
}

// New creates a record store over manager
func New(manager *db.Manager) *Store {
	return &Store{
		manager:    manager,
		suppressed: make(map[string]int),
	}
}

// Manager returns the underlying database manager
func (s *Store) Manager() *db.Manager {
	return s.manager
}

// Transaction runs fn in a transaction, nested calls use savepoints
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.manager.Transaction(ctx, fn)
}

// conn returns the connection for m, skipping hooks while notifications for it
// are suppressed
func (s *Store) conn(ctx context.Context, m *schema.Model) *gorm.DB {
	conn := s.manager.Conn(ctx)
	if s.Suppressed(m) {
		conn = conn.Session(&gorm.Session{SkipHooks: true})
	}
	return conn
}

// bulk returns a hook free connection for multi-row statements
func (s *Store) bulk(ctx context.Context) *gorm.DB {
	return s.manager.Conn(ctx).Session(&gorm.Session{SkipHooks: true})
}

// ============================================================================
// NOTIFICATIONS
// ============================================================================

// SuppressNotifications disables per-record hooks (BeforeSave, AfterDelete, ...)
// for m until the returned release function is called. Suppression is counted so
// overlapping scopes release correctly.
func (s *Store) SuppressNotifications(m *schema.Model) (release func()) {
	s.mu.Lock()
	s.suppressed[m.Table()]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.suppressed[m.Table()]--; s.suppressed[m.Table()] <= 0 {
				delete(s.suppressed, m.Table())
			}
		})
	}
}

// Suppressed reports whether hooks for m are currently disabled
func (s *Store) Suppressed(m *schema.Model) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[m.Table()] > 0
}

// ============================================================================
// LOOKUPS
// ============================================================================

// Where renders a predicate over attribute names into SQL over validated column
// names, converting raw string values into the columns' types
func (s *Store) Where(ctx context.Context, m *schema.Model, predicate *db.ConditionGroup) (string, []interface{}, error) {
	if predicate == nil || predicate.IsEmpty() {
		return "", nil, fmt.Errorf("%w: empty predicate on %s", ErrUnknownField, m.Name())
	}
	quoter := s.manager.Conn(ctx).Statement
	mapped, err := predicate.MapFields(func(cond db.Condition) (db.Condition, error) {
		attr, ok := m.Attribute(cond.Field)
		if !ok || attr.Column() == "" {
			return cond, fmt.Errorf("%w: %s has no column %q", ErrUnknownField, m.Name(), cond.Field)
		}
		cond.Field = quoter.Quote(attr.Column())
		if raw, ok := cond.Value.(string); ok {
			value, err := attr.Convert(raw)
			if err != nil {
				return cond, fmt.Errorf("%w %q for %s.%s: %v", ErrInvalidValue, raw, m.Name(), attr.Name, err)
			}
			cond.Value = value
		}
		return cond, nil
	})
	if err != nil {
		return "", nil, err
	}
	sql, args := mapped.ToSQL()
	return sql, args, nil
}

// Find returns the single record of m matching predicate. It fails with
// ErrNotFound or ErrMultipleFound when there is not exactly one.
func (s *Store) Find(ctx context.Context, m *schema.Model, predicate *db.ConditionGroup) (interface{}, error) {
	sql, args, err := s.Where(ctx, m, predicate)
	if err != nil {
		return nil, err
	}
	return s.first(ctx, m, sql, args...)
}

// FindBy is Find over an AND of equalities, given as attribute name to raw value
func (s *Store) FindBy(ctx context.Context, m *schema.Model, values map[string]string) (interface{}, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	predicate := db.NewConditionGroup(db.And)
	for _, name := range names {
		predicate.Where(name, db.Equal, values[name])
	}
	return s.Find(ctx, m, predicate)
}

// FindByID loads the record of m with primary key id
func (s *Store) FindByID(ctx context.Context, m *schema.Model, id uint64) (interface{}, error) {
	pk := s.manager.Conn(ctx).Statement.Quote(m.PrimaryKey().DBName)
	return s.first(ctx, m, pk+" = ?", id)
}

func (s *Store) first(ctx context.Context, m *schema.Model, query string, args ...interface{}) (interface{}, error) {
	results := reflect.New(reflect.SliceOf(reflect.PointerTo(m.Type())))
	err := s.manager.Conn(ctx).
		Where(query, args...).
		Order(clause.OrderByColumn{Column: clause.Column{Name: m.PrimaryKey().DBName}}).
		Limit(2).
		Find(results.Interface()).Error
	if err != nil {
		return nil, Translate(err)
	}

	found := results.Elem()
	switch found.Len() {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found.Index(0).Interface(), nil
	default:
		return nil, fmt.Errorf("%w: %s where %s", ErrMultipleFound, m.Name(), query)
	}
}

// ============================================================================
// SINGLE RECORD WRITES
// ============================================================================

// Create inserts obj; related records are never written implicitly
func (s *Store) Create(ctx context.Context, m *schema.Model, obj interface{}) error {
	return Translate(s.conn(ctx, m).Omit(clause.Associations).Create(obj).Error)
}

// Save inserts or updates obj depending on its primary key
func (s *Store) Save(ctx context.Context, m *schema.Model, obj interface{}) error {
	return Translate(s.conn(ctx, m).Omit(clause.Associations).Save(obj).Error)
}

// Delete removes obj by primary key
func (s *Store) Delete(ctx context.Context, m *schema.Model, obj interface{}) error {
	if m.ID(ctx, obj) == 0 {
		return fmt.Errorf("%w: %s has no primary key", ErrNotFound, m.Name())
	}
	return Translate(s.conn(ctx, m).Omit(clause.Associations).Delete(obj).Error)
}

// ============================================================================
// BULK WRITES
// ============================================================================

// typed copies objs into a []*T of m's type so GORM can batch them
func typed(m *schema.Model, objs []interface{}) interface{} {
	slice := m.NewSlice(len(objs))
	for _, obj := range objs {
		slice = reflect.Append(slice, reflect.ValueOf(obj))
	}
	return slice.Interface()
}

// BulkCreate inserts objs in batches of batchSize without firing hooks.
// Generated primary keys are written back into objs.
func (s *Store) BulkCreate(ctx context.Context, m *schema.Model, objs []interface{}, batchSize int) error {
	if len(objs) == 0 {
		return nil
	}
	err := s.bulk(ctx).Omit(clause.Associations).CreateInBatches(typed(m, objs), batchSize).Error
	return Translate(err)
}

// BulkUpdate writes columns of objs without firing hooks, one UPDATE per record
// in transactions of batchSize records. Records deleted in the meantime stay
// deleted. An empty column list updates every column.
func (s *Store) BulkUpdate(ctx context.Context, m *schema.Model, objs []interface{}, columns []string, batchSize int) error {
	if len(objs) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = len(objs)
	}
	for start := 0; start < len(objs); start += batchSize {
		chunk := objs[start:min(start+batchSize, len(objs))]
		err := s.manager.Transaction(ctx, func(ctx context.Context) error {
			for _, obj := range chunk {
				q := s.bulk(ctx).Model(obj).Omit(clause.Associations)
				if len(columns) > 0 {
					q = q.Select(columns)
				} else {
					q = q.Select("*")
				}
				if err := q.Updates(obj).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Translate(err)
		}
	}
	return nil
}

// BulkDelete removes the records of m with the given primary keys
func (s *Store) BulkDelete(ctx context.Context, m *schema.Model, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	pk := s.manager.Conn(ctx).Statement.Quote(m.PrimaryKey().DBName)
	result := s.bulk(ctx).Where(pk+" IN ?", ids).Delete(m.New())
	return result.RowsAffected, Translate(result.Error)
}

// ============================================================================
// RELATIONS
// ============================================================================

// Associate applies op with targets to the relation named relation on owner.
// Owner must be persisted.
func (s *Store) Associate(ctx context.Context, m *schema.Model, owner interface{}, relation string, op AssociationOp, targets ...interface{}) error {
	if m.ID(ctx, owner) == 0 {
		return fmt.Errorf("cannot %s %s.%s on an unsaved record", op, m.Name(), relation)
	}
	association := s.conn(ctx, m).Model(owner).Association(relation)
	if association.Error != nil {
		return association.Error
	}

	var err error
	switch op {
	case Append:
		err = association.Append(targets...)
	case Remove:
		err = association.Delete(targets...)
	case Replace:
		err = association.Replace(targets...)
	}
	return Translate(err)
}

// CountRelated counts the members of the relation named relation on owner
func (s *Store) CountRelated(ctx context.Context, m *schema.Model, owner interface{}, relation string) (int64, error) {
	if m.ID(ctx, owner) == 0 {
		return 0, nil
	}
	association := s.manager.Conn(ctx).Model(owner).Association(relation)
	if association.Error != nil {
		return 0, association.Error
	}
	return association.Count(), association.Error
}

// ============================================================================
// SEQUENCES
// ============================================================================

// LockMaxID returns the highest primary key of m, locking the table on dialects
// that support it. Call it inside a transaction.
func (s *Store) LockMaxID(ctx context.Context, m *schema.Model) (uint64, error) {
	return s.manager.LockMaxID(ctx, m.Table(), m.PrimaryKey().DBName)
}

// ResetSequence moves the id sequence of m past its highest primary key
func (s *Store) ResetSequence(ctx context.Context, m *schema.Model) error {
	return s.manager.ResetSequence(ctx, m.Table(), m.PrimaryKey().DBName)
}
