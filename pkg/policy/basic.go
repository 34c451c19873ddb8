package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// pending is a record executed in deferred mode and waiting for its flush
type pending struct {
	obj       interface{}
	mapping   *mapping.ExternalKeyMapping
	followUps []action.FollowUp
}

// BasicPolicy executes groups in order. In bulk mode records are buffered per
// action type. A full create buffer is written on its own; a full update or
// delete buffer writes every buffer in create, update, delete order, as does the
// end of the run.
type BasicPolicy struct {
	model    *schema.Model
	records  Records
	mappings Mappings
	registry *schema.Registry
	log      *zap.Logger
	opts     Options

	// strict makes failed flushes fatal instead of logging them
	strict bool
	// prepare runs on every deferred create before it is buffered
	prepare func(ctx context.Context, p *pending) error

	creates []pending
	keys    map[mapping.Ref]bool // mappings of buffered creates
	updates []pending
	deletes []interface{}

	header  []string
	restore func()
	stats   Stats
}

// NewBasicPolicy creates a policy writing records of model
func NewBasicPolicy(model *schema.Model, env Env, opts Options) *BasicPolicy {
	log := env.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &BasicPolicy{
		model:    model,
		records:  env.Records,
		mappings: env.Mappings,
		registry: env.Registry,
		log:      log.With(zap.String("model", model.Name())),
		opts:     opts,
		stats:    Stats{Flushes: make(map[action.Type]int)},
	}
}

// Stats returns the counters of the runs so far
func (p *BasicPolicy) Stats() Stats {
	return p.stats
}

// Execute runs every group, then flushes what bulk mode buffered
func (p *BasicPolicy) Execute(ctx context.Context, groups []action.Group) error {
	return p.execute(ctx, [][]action.Group{groups})
}

// execute runs the phases in order, flushing after each when in bulk mode
func (p *BasicPolicy) execute(ctx context.Context, phases [][]action.Group) error {
	if p.opts.SuppressNotifications && !p.opts.UseBulk {
		release := p.records.SuppressNotifications(p.model)
		defer release()
	}
	defer p.restoreAutoNow()

	for _, groups := range phases {
		for _, group := range groups {
			if err := p.executeGroup(ctx, group); err != nil {
				return err
			}
		}
		if p.opts.UseBulk {
			if err := p.Flush(ctx); err != nil {
				return err
			}
		}
	}

	if skipped := p.stats.Skipped(); skipped > 0 {
		p.log.Warn("actions were skipped",
			zap.Int("skipped", skipped), zap.Int("attempted", p.stats.Attempted), zap.Int("executed", p.stats.Executed))
	}
	return nil
}

func (p *BasicPolicy) executeGroup(ctx context.Context, group action.Group) error {
	types := make(map[action.Type]struct{}, len(group))
	for _, a := range group {
		if t := a.Type(); t != action.TypeNone {
			types[t] = struct{}{}
		}
		if a.Type() != action.TypeDelete && p.header == nil {
			p.disableAutoNow(a)
		}
		if err := p.executeAction(ctx, a); err != nil {
			return fmt.Errorf("failed to execute %s: %w", a, err)
		}
	}
	p.stats.Attempted += len(types)
	return nil
}

func (p *BasicPolicy) executeAction(ctx context.Context, a action.Action) error {
	obj, err := a.Execute(ctx, action.ExecOptions{Deferred: p.opts.UseBulk})
	if err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	if !p.opts.UseBulk {
		p.stats.Executed++
		return nil
	}

	switch a.Type() {
	case action.TypeCreate:
		if c, ok := a.(action.Creator); ok && c.AlreadyExisted() {
			p.stats.Executed++
			return nil
		}
		pend := p.pendingFor(a, obj)
		if pend.mapping != nil {
			ref := pend.mapping.Ref()
			if p.keys[ref] {
				p.log.Warn("external key already created in this batch, row skipped",
					zap.String("action", a.String()), zap.String("external_key", ref.Key))
				return nil
			}
			if p.keys == nil {
				p.keys = make(map[mapping.Ref]bool)
			}
			p.keys[ref] = true
		}
		if p.prepare != nil {
			if err := p.prepare(ctx, &pend); err != nil {
				return err
			}
		}
		p.creates = append(p.creates, pend)
		if len(p.creates) >= p.opts.batchSize() {
			return p.flushCreates(ctx)
		}
	case action.TypeUpdate:
		p.updates = append(p.updates, p.pendingFor(a, obj))
		if len(p.updates) >= p.opts.batchSize() {
			return p.Flush(ctx)
		}
	case action.TypeDelete:
		p.deletes = append(p.deletes, obj)
		if len(p.deletes) >= p.opts.batchSize() {
			return p.Flush(ctx)
		}
	default:
		p.stats.Executed++
	}
	return nil
}

func (p *BasicPolicy) pendingFor(a action.Action, obj interface{}) pending {
	pend := pending{obj: obj}
	if r, ok := a.(action.Referenceable); ok {
		pend.mapping = r.Mapping()
	}
	if d, ok := a.(action.Deferrer); ok {
		pend.followUps = d.FollowUps()
	}
	return pend
}

// ============================================================================
// AUTO TIMESTAMPS
// ============================================================================

// disableAutoNow takes the header from the first row writing fields and turns
// off automatic timestamps for the columns it names
func (p *BasicPolicy) disableAutoNow(a action.Action) {
	f, ok := a.(interface{ Fields() map[string]string })
	if !ok {
		return
	}
	p.header = headerColumns(f.Fields())
	p.restore = p.registry.DisableAutoNow(p.model, p.header)
}

func (p *BasicPolicy) restoreAutoNow() {
	if p.restore != nil {
		p.restore()
		p.restore = nil
	}
	p.header = nil
}

// headerColumns returns the attribute names addressed by a row, referential
// directives reduced to their relation
func headerColumns(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for name := range fields {
		if relation, _, ok := strings.Cut(name, action.ReferenceDelimiter); ok {
			name = relation
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ============================================================================
// FLUSHES
// ============================================================================

// Flush writes every buffered record in create, update, delete order
func (p *BasicPolicy) Flush(ctx context.Context) error {
	if err := p.flushCreates(ctx); err != nil {
		return err
	}
	if err := p.flushUpdates(ctx); err != nil {
		return err
	}
	return p.flushDeletes(ctx)
}

func (p *BasicPolicy) flushCreates(ctx context.Context) error {
	batch := p.creates
	p.creates, p.keys = nil, nil
	if len(batch) == 0 {
		return nil
	}
	p.stats.Flushes[action.TypeCreate]++

	err := p.records.Transaction(ctx, func(ctx context.Context) error {
		if err := p.records.BulkCreate(ctx, p.model, objects(batch), p.opts.batchSize()); err != nil {
			return err
		}
		var refs []*mapping.ExternalKeyMapping
		for _, pend := range batch {
			if pend.mapping != nil {
				pend.mapping.ObjectID = p.model.ID(ctx, pend.obj)
				refs = append(refs, pend.mapping)
			}
		}
		if err := p.mappings.BulkSave(ctx, refs, p.opts.batchSize()); err != nil {
			return err
		}
		return runFollowUps(ctx, batch)
	})
	return p.flushed(action.TypeCreate, len(batch), err)
}

func (p *BasicPolicy) flushUpdates(ctx context.Context) error {
	batch := p.updates
	p.updates = nil
	if len(batch) == 0 {
		return nil
	}
	p.stats.Flushes[action.TypeUpdate]++

	columns := p.model.Columns(p.header)
	err := p.records.Transaction(ctx, func(ctx context.Context) error {
		if len(columns) > 0 {
			if err := p.records.BulkUpdate(ctx, p.model, objects(batch), columns, p.opts.batchSize()); err != nil {
				return err
			}
		}
		return runFollowUps(ctx, batch)
	})
	return p.flushed(action.TypeUpdate, len(batch), err)
}

func (p *BasicPolicy) flushDeletes(ctx context.Context) error {
	batch := p.deletes
	p.deletes = nil
	if len(batch) == 0 {
		return nil
	}
	p.stats.Flushes[action.TypeDelete]++

	ids := make([]uint64, 0, len(batch))
	for _, obj := range batch {
		if id := p.model.ID(ctx, obj); id != 0 {
			ids = append(ids, id)
		}
	}
	err := p.records.Transaction(ctx, func(ctx context.Context) error {
		if _, err := p.records.BulkDelete(ctx, p.model, ids); err != nil {
			return err
		}
		_, err := p.mappings.DeleteForObjects(ctx, p.model.Table(), ids)
		return err
	})
	return p.flushed(action.TypeDelete, len(ids), err)
}

// flushed accounts for a bulk write. A failed write was rolled back: it is
// logged and its records count as skipped, unless the policy is strict or the
// context is done.
func (p *BasicPolicy) flushed(t action.Type, n int, err error) error {
	if err == nil {
		p.stats.Executed += n
		p.log.Debug("flushed records", zap.String("type", string(t)), zap.Int("count", n))
		return nil
	}
	p.stats.FailedFlushes++
	if p.strict || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to flush %d %s actions: %w", n, t, err)
	}
	p.log.Error("bulk write failed, records skipped",
		zap.String("type", string(t)), zap.Int("count", n), zap.Error(err))
	return nil
}

func objects(batch []pending) []interface{} {
	objs := make([]interface{}, len(batch))
	for i, pend := range batch {
		objs[i] = pend.obj
	}
	return objs
}

func runFollowUps(ctx context.Context, batch []pending) error {
	for _, pend := range batch {
		for _, f := range pend.followUps {
			if err := f(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
