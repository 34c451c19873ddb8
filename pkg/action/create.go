package action

import (
	"context"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/store"
)

// CreateAction builds a new record from the row unless the selector already
// matches one. Fields are always written onto the new record.
type CreateAction struct {
	ModelAction
	forceInit bool

	existed   bool
	followUps []FollowUp
}

func (a *CreateAction) Type() Type {
	return TypeCreate
}

// AlreadyExisted reports whether the last execution found the record instead of
// building it
func (a *CreateAction) AlreadyExisted() bool {
	return a.existed
}

// FollowUps returns the relation changes left by a deferred execution
func (a *CreateAction) FollowUps() []FollowUp {
	return a.followUps
}

func (a *CreateAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	return a.create(ctx, opts, nil)
}

// create runs the lookup-or-build cycle. link, when set, runs in the same
// savepoint as the record write, and on its own when the record already existed.
func (a *CreateAction) create(ctx context.Context, opts ExecOptions, link func(ctx context.Context, obj interface{}) error) (interface{}, error) {
	a.existed = false
	a.followUps = nil

	if !a.forceInit && !a.selector.Empty() {
		obj, err := a.find(ctx)
		switch {
		case err == nil:
			a.existed = true
			if link != nil {
				err := a.env.Records.Transaction(ctx, func(ctx context.Context) error {
					return link(ctx, obj)
				})
				if err != nil {
					return a.recover(err, "could not link existing record")
				}
			}
			return obj, nil
		case store.IsMultipleFound(err):
			a.log().Warn("multiple records match, not creating", zap.String("action", a.String()), zap.Error(err))
			return nil, nil
		case !store.IsNotFound(err):
			return a.recover(err, "could not look up record")
		}
	}

	obj := a.model.New()
	followUps, err := a.applyFields(ctx, obj, true)
	if err != nil {
		return a.recover(err, "could not apply fields")
	}
	if opts.Deferred {
		a.followUps = followUps
		return obj, nil
	}

	var extra func(ctx context.Context) error
	if link != nil {
		extra = func(ctx context.Context) error { return link(ctx, obj) }
	}
	if err := a.persist(ctx, obj, followUps, extra); err != nil {
		return a.recover(err, "could not create record")
	}
	return obj, nil
}

// CreateWithReferenceAction is a CreateAction that also keeps the external key
// mapping of the row pointed at the record. A record already linked by the
// mapping is returned as is.
type CreateWithReferenceAction struct {
	CreateAction
	key string

	mapping *mapping.ExternalKeyMapping
}

// Mapping returns the mapping handled by the last execution
func (a *CreateWithReferenceAction) Mapping() *mapping.ExternalKeyMapping {
	return a.mapping
}

func (a *CreateWithReferenceAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	a.existed = false
	a.followUps = nil

	if a.forceInit {
		a.mapping = a.env.Mappings.Init(a.systemID(), a.key, a.model.Table())
	} else {
		m, _, err := a.env.Mappings.GetOrInit(ctx, a.systemID(), a.key, a.model.Table())
		if err != nil {
			return nil, err
		}
		a.mapping = m
	}

	if obj, ok := mapping.Pending(ctx, a.mapping); ok {
		a.existed = true
		return obj, nil
	}
	if a.mapping.Linked() {
		obj, err := a.env.Records.FindByID(ctx, a.model, a.mapping.ObjectID)
		switch {
		case err == nil:
			a.existed = true
			return obj, nil
		case !store.IsNotFound(err):
			return nil, err
		}
		a.log().Debug("mapping points at a missing record",
			zap.String("action", a.String()), zap.Uint64("object_id", a.mapping.ObjectID))
	}

	m := a.mapping
	return a.create(ctx, opts, func(ctx context.Context, obj interface{}) error {
		return a.link(ctx, m, obj)
	})
}
