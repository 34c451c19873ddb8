package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// TreePolicy is a bulk policy for self-referencing feeds, where a row may point
// at a parent created by an earlier row of the same batch. Ids of new records are
// allocated up front from the table maximum and their mappings are staged, so
// later rows resolve them by external key before anything is written.
//
// The whole run is one transaction holding an exclusive lock on the table; the
// id sequence is moved past the allocated ids before commit. Only one tree run
// per table may be active at a time.
type TreePolicy struct {
	*BasicPolicy

	nextID  uint64
	staging *mapping.Staging
}

// NewTreePolicy creates a tree policy writing records of model. Bulk mode is
// always on and failed flushes abort the run.
func NewTreePolicy(model *schema.Model, env Env, opts Options) *TreePolicy {
	opts.UseBulk = true
	p := &TreePolicy{BasicPolicy: NewBasicPolicy(model, env, opts)}
	p.strict = true
	p.prepare = p.allocate
	return p
}

// Execute runs the groups inside a transaction with pre-allocated ids
func (p *TreePolicy) Execute(ctx context.Context, groups []action.Group) error {
	return p.records.Transaction(ctx, func(ctx context.Context) error {
		ctx, p.staging = mapping.WithStaging(ctx)
		defer func() { p.staging = nil }()

		maxID, err := p.records.LockMaxID(ctx, p.model)
		if err != nil {
			return err
		}
		p.nextID = maxID
		p.log.Debug("allocating ids", zap.Uint64("after", maxID))

		if err := p.execute(ctx, [][]action.Group{groups}); err != nil {
			return err
		}
		if err := p.records.ResetSequence(ctx, p.model); err != nil {
			return fmt.Errorf("failed to reset id sequence of %s: %w", p.model.Table(), err)
		}
		return nil
	})
}

// allocate gives a deferred create its id and stages its mapping
func (p *TreePolicy) allocate(ctx context.Context, pend *pending) error {
	p.nextID++
	if err := p.model.SetID(ctx, pend.obj, p.nextID); err != nil {
		return fmt.Errorf("failed to assign id %d: %w", p.nextID, err)
	}
	if pend.mapping != nil {
		pend.mapping.ObjectID = p.nextID
		p.staging.Stage(pend.mapping, pend.obj)
	}
	return nil
}
