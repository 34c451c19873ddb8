// Package action turns one feed row into the record mutations it asks for and
// executes them against the record and mapping stores.
package action

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/selector"
	"github.com/ammar0144/sync4go/pkg/store"
)

// Type classifies actions for ordering and tallies
type Type string

const (
	TypeNone   Type = ""
	TypeCreate Type = "create"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
)

// ExecOptions tune a single execution
type ExecOptions struct {
	// Deferred leaves persistence of the returned record to the caller, which
	// writes it in bulk
	Deferred bool
}

// Action is one mutation against one record.
// Execute returns the affected record, or nil when the action did not apply.
// A returned error is fatal for the run; data problems are logged and reported as nil.
type Action interface {
	Type() Type
	Execute(ctx context.Context, opts ExecOptions) (interface{}, error)
	String() string
}

// Group is the ordered list of actions built for one row
type Group []Action

// Referenceable is implemented by actions maintaining an external key mapping
type Referenceable interface {
	Mapping() *mapping.ExternalKeyMapping
}

// Creator is implemented by create actions
type Creator interface {
	// AlreadyExisted reports whether the last execution found the record instead of building it
	AlreadyExisted() bool
}

// Modeled is implemented by actions working on a registered model
type Modeled interface {
	Model() *schema.Model
}

// FollowUp is a relation change that needs the record to be persisted first
type FollowUp func(ctx context.Context) error

// Deferrer is implemented by actions leaving follow-ups after a deferred execution
type Deferrer interface {
	FollowUps() []FollowUp
}

// Records is the record store used by actions
type Records interface {
	Find(ctx context.Context, m *schema.Model, predicate *db.ConditionGroup) (interface{}, error)
	FindBy(ctx context.Context, m *schema.Model, values map[string]string) (interface{}, error)
	FindByID(ctx context.Context, m *schema.Model, id uint64) (interface{}, error)
	Save(ctx context.Context, m *schema.Model, obj interface{}) error
	Delete(ctx context.Context, m *schema.Model, obj interface{}) error
	Associate(ctx context.Context, m *schema.Model, owner interface{}, relation string, op store.AssociationOp, targets ...interface{}) error
	CountRelated(ctx context.Context, m *schema.Model, owner interface{}, relation string) (int64, error)
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mappings is the external key mapping store used by actions
type Mappings interface {
	Init(systemID uint64, key, contentType string) *mapping.ExternalKeyMapping
	Get(ctx context.Context, systemID uint64, key, contentType string) (*mapping.ExternalKeyMapping, error)
	GetOrInit(ctx context.Context, systemID uint64, key, contentType string) (*mapping.ExternalKeyMapping, bool, error)
	Resolve(ctx context.Context, systemID uint64, key, contentType string) (uint64, error)
	Save(ctx context.Context, m *mapping.ExternalKeyMapping) error
	Delete(ctx context.Context, systemID uint64, key, contentType string) (int64, error)
	ForObject(ctx context.Context, contentType string, objectID uint64) ([]mapping.ExternalKeyMapping, error)
	DeleteForObject(ctx context.Context, contentType string, objectID uint64) (int64, error)
}

// Env carries the collaborators shared by the actions of a run
type Env struct {
	Records  Records
	Mappings Mappings
	Registry *schema.Registry
	Logger   *zap.Logger
}

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ============================================================================
// BASE ACTION
// ============================================================================

// ModelAction locates records but changes nothing; it is built for impotent requests
type ModelAction struct {
	kind     string
	env      *Env
	model    *schema.Model
	selector *selector.Selector
	fields   map[string]string
	system   *mapping.ExternalSystem

	relByExternalKey bool
	excluded         map[string]bool
}

// Type is empty: a model action never counts as a mutation
func (a *ModelAction) Type() Type {
	return TypeNone
}

// Execute does nothing
func (a *ModelAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	return nil, nil
}

func (a *ModelAction) String() string {
	kind := a.kind
	if kind == "" {
		kind = "ModelAction"
	}
	keys := make([]string, 0, len(a.fields))
	for k := range a.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+a.fields[k])
	}
	return fmt.Sprintf("%s - Model:%s - MatchFields:[%s] - Fields:{%s}",
		kind, a.model.Name(), a.selector.String(), strings.Join(pairs, ", "))
}

// Model returns the model the action works on
func (a *ModelAction) Model() *schema.Model {
	return a.model
}

// Fields returns the row's field directives
func (a *ModelAction) Fields() map[string]string {
	return a.fields
}

func (a *ModelAction) log() *zap.Logger {
	return a.env.logger()
}

// find locates the single record matched by the selector
func (a *ModelAction) find(ctx context.Context) (interface{}, error) {
	if a.selector.Empty() {
		return nil, fmt.Errorf("%w: no match fields", store.ErrNotFound)
	}
	predicate, err := a.selector.Resolve()
	if err != nil {
		return nil, err
	}
	return a.env.Records.Find(ctx, a.model, predicate)
}

func (a *ModelAction) systemID() uint64 {
	if a.system == nil {
		return 0
	}
	return a.system.ID
}

// mapsRelated reports whether values of relations into table are external keys
func (a *ModelAction) mapsRelated(table string) bool {
	return a.relByExternalKey && a.system != nil && table != "" && !a.excluded[table]
}

// persist saves obj inside a savepoint so that a constraint failure leaves an
// enclosing transaction usable, then applies the follow-ups
func (a *ModelAction) persist(ctx context.Context, obj interface{}, followUps []FollowUp, extra func(ctx context.Context) error) error {
	return a.env.Records.Transaction(ctx, func(ctx context.Context) error {
		if err := a.env.Records.Save(ctx, a.model, obj); err != nil {
			return err
		}
		if extra != nil {
			if err := extra(ctx); err != nil {
				return err
			}
		}
		return runFollowUps(ctx, followUps)
	})
}

// link points m at obj, saving the mapping when it changed
func (a *ModelAction) link(ctx context.Context, m *mapping.ExternalKeyMapping, obj interface{}) error {
	id := a.model.ID(ctx, obj)
	if m.Persisted() && m.ObjectID == id {
		return nil
	}
	previous := m.ObjectID
	m.ObjectID = id
	if err := a.env.Mappings.Save(ctx, m); err != nil {
		m.ObjectID = previous
		return err
	}
	return nil
}

func runFollowUps(ctx context.Context, followUps []FollowUp) error {
	for _, f := range followUps {
		if err := f(ctx); err != nil {
			return err
		}
	}
	return nil
}

// recover turns a recoverable error into a logged no-op
func (a *ModelAction) recover(err error, msg string) (interface{}, error) {
	if !recoverable(err) {
		return nil, err
	}
	a.log().Warn(msg, zap.String("action", a.String()), zap.Error(err))
	return nil, nil
}
