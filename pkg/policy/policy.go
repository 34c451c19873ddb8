// Package policy decides how the action groups built for a feed are executed:
// row by row, in bulk batches, ordered by action type, inside a transaction, or
// as a hierarchy whose rows reference each other by external key.
package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// DefaultBatchSize is the number of records written per bulk statement
const DefaultBatchSize = 500

// Policy executes the action groups of one run
type Policy interface {
	Execute(ctx context.Context, groups []action.Group) error
	Stats() Stats
}

// Records is the record store used by policies
type Records interface {
	BulkCreate(ctx context.Context, m *schema.Model, objs []interface{}, batchSize int) error
	BulkUpdate(ctx context.Context, m *schema.Model, objs []interface{}, columns []string, batchSize int) error
	BulkDelete(ctx context.Context, m *schema.Model, ids []uint64) (int64, error)
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	SuppressNotifications(m *schema.Model) (release func())
	LockMaxID(ctx context.Context, m *schema.Model) (uint64, error)
	ResetSequence(ctx context.Context, m *schema.Model) error
}

// Mappings is the external key mapping store used by policies
type Mappings interface {
	BulkSave(ctx context.Context, mappings []*mapping.ExternalKeyMapping, batchSize int) error
	DeleteForObjects(ctx context.Context, contentType string, objectIDs []uint64) (int64, error)
}

// Env carries the collaborators of a policy
type Env struct {
	Records  Records
	Mappings Mappings
	Registry *schema.Registry
	Logger   *zap.Logger
}

// Options configure a policy
type Options struct {
	// UseBulk defers persistence and writes records in batches, without hooks
	UseBulk bool

	// BatchSize bounds buffered records per action type, DefaultBatchSize when 0
	BatchSize int

	// SuppressNotifications disables per-record hooks of the model for runs that
	// do not use bulk writes (bulk writes never fire them)
	SuppressNotifications bool
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Stats summarises a run
type Stats struct {
	// Attempted counts, per row, the distinct action types requested
	Attempted int
	// Executed counts actions that applied, including records written by flushes
	Executed int
	// Flushes counts bulk writes per action type
	Flushes map[action.Type]int
	// FailedFlushes counts bulk writes that were rolled back
	FailedFlushes int
}

// Skipped returns how many requested actions did not apply
func (s Stats) Skipped() int {
	if s.Executed > s.Attempted {
		return 0
	}
	return s.Attempted - s.Executed
}

func (s Stats) String() string {
	return fmt.Sprintf("attempted=%d executed=%d skipped=%d flushes=%v failed_flushes=%d",
		s.Attempted, s.Executed, s.Skipped(), s.Flushes, s.FailedFlushes)
}
