package action

import (
	"context"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/store"
)

// UpdateAction writes the row's fields onto the record matched by the selector.
// Without force only empty attributes and unset relations are written.
type UpdateAction struct {
	ModelAction
	force bool

	followUps []FollowUp
}

func (a *UpdateAction) Type() Type {
	return TypeUpdate
}

// FollowUps returns the relation changes left by a deferred execution
func (a *UpdateAction) FollowUps() []FollowUp {
	return a.followUps
}

func (a *UpdateAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	a.followUps = nil

	obj, err := a.find(ctx)
	switch {
	case store.IsNotFound(err):
		a.log().Debug("nothing to update", zap.String("action", a.String()))
		return nil, nil
	case store.IsMultipleFound(err):
		a.log().Warn("multiple records match, not updating", zap.String("action", a.String()), zap.Error(err))
		return nil, nil
	case err != nil:
		return a.recover(err, "could not look up record")
	}
	return a.update(ctx, obj, opts, nil)
}

func (a *UpdateAction) update(ctx context.Context, obj interface{}, opts ExecOptions, extra func(ctx context.Context) error) (interface{}, error) {
	followUps, err := a.applyFields(ctx, obj, a.force)
	if err != nil {
		return a.recover(err, "could not apply fields")
	}
	if opts.Deferred {
		a.followUps = followUps
		if extra != nil {
			if err := a.env.Records.Transaction(ctx, extra); err != nil {
				return a.recover(err, "could not update mapping")
			}
		}
		return obj, nil
	}
	if err := a.persist(ctx, obj, followUps, extra); err != nil {
		return a.recover(err, "could not update record")
	}
	return obj, nil
}

// UpdateWithReferenceAction updates the record linked by the row's external key,
// falling back to the selector, and relinks the mapping to the updated record.
//
// When the mapping and the selector point at different records the matched one
// is deleted: the external key wins and the record it replaces is a duplicate.
type UpdateWithReferenceAction struct {
	UpdateAction
	key string

	mapping *mapping.ExternalKeyMapping
}

// Mapping returns the mapping handled by the last execution
func (a *UpdateWithReferenceAction) Mapping() *mapping.ExternalKeyMapping {
	return a.mapping
}

func (a *UpdateWithReferenceAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	a.followUps = nil

	m, _, err := a.env.Mappings.GetOrInit(ctx, a.systemID(), a.key, a.model.Table())
	if err != nil {
		return nil, err
	}
	a.mapping = m

	var linked interface{}
	if m.Linked() {
		linked, err = a.env.Records.FindByID(ctx, a.model, m.ObjectID)
		if err != nil && !store.IsNotFound(err) {
			return nil, err
		}
	}

	var matched interface{}
	if !a.selector.Empty() {
		matched, err = a.find(ctx)
		switch {
		case err == nil, store.IsNotFound(err):
		case store.IsMultipleFound(err):
			a.log().Warn("multiple records match", zap.String("action", a.String()), zap.Error(err))
			if linked == nil {
				return nil, nil
			}
		default:
			return a.recover(err, "could not look up record")
		}
	}

	if linked != nil && matched != nil {
		if id := a.model.ID(ctx, matched); id != a.model.ID(ctx, linked) {
			a.log().Warn("removing record superseded by the externally linked one",
				zap.String("action", a.String()), zap.Uint64("removed_id", id),
				zap.Uint64("linked_id", a.model.ID(ctx, linked)))
			err := a.env.Records.Transaction(ctx, func(ctx context.Context) error {
				if err := a.env.Records.Delete(ctx, a.model, matched); err != nil {
					return err
				}
				_, err := a.env.Mappings.DeleteForObject(ctx, a.model.Table(), id)
				return err
			})
			if err != nil {
				return a.recover(err, "could not remove superseded record")
			}
		}
	}

	obj := linked
	if obj == nil {
		obj = matched
	}
	if obj == nil {
		a.log().Debug("nothing to update", zap.String("action", a.String()))
		return nil, nil
	}

	return a.update(ctx, obj, opts, func(ctx context.Context) error {
		return a.link(ctx, m, obj)
	})
}
