package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/store"
)

// DeleteAction removes the record matched by the selector, or linked by the row's
// external key when there is no selector, together with every mapping pointing
// at it.
type DeleteAction struct {
	ModelAction
	key string
}

func (a *DeleteAction) Type() Type {
	return TypeDelete
}

func (a *DeleteAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	obj, err := a.locate(ctx)
	switch {
	case store.IsNotFound(err):
		a.log().Debug("nothing to delete", zap.String("action", a.String()))
		return nil, nil
	case store.IsMultipleFound(err):
		a.log().Warn("multiple records match, not deleting", zap.String("action", a.String()), zap.Error(err))
		return nil, nil
	case err != nil:
		return a.recover(err, "could not look up record")
	}
	if opts.Deferred {
		return obj, nil
	}
	return a.ExecuteOn(ctx, obj)
}

// ExecuteOn deletes obj and its mappings right away
func (a *DeleteAction) ExecuteOn(ctx context.Context, obj interface{}) (interface{}, error) {
	id := a.model.ID(ctx, obj)
	err := a.env.Records.Transaction(ctx, func(ctx context.Context) error {
		if err := a.env.Records.Delete(ctx, a.model, obj); err != nil {
			return err
		}
		_, err := a.env.Mappings.DeleteForObject(ctx, a.model.Table(), id)
		return err
	})
	if err != nil {
		return a.recover(err, "could not delete record")
	}
	return obj, nil
}

// locate finds the record through the selector, or through the row's mapping
func (a *DeleteAction) locate(ctx context.Context) (interface{}, error) {
	if !a.selector.Empty() {
		return a.find(ctx)
	}
	if a.system == nil || a.key == "" {
		return nil, fmt.Errorf("%w: no match fields and no external key", store.ErrNotFound)
	}
	id, err := a.env.Mappings.Resolve(ctx, a.systemID(), a.key, a.model.Table())
	if mapping.IsMappingNotFound(err) {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return a.env.Records.FindByID(ctx, a.model, id)
}

// DeleteIfOnlyReferenceAction runs its delete only when the record is linked by
// this row's external key and by no other external system. Records shared with
// other systems survive until the last of them lets go.
type DeleteIfOnlyReferenceAction struct {
	delete *DeleteAction
}

func (a *DeleteIfOnlyReferenceAction) Type() Type {
	return a.delete.Type()
}

func (a *DeleteIfOnlyReferenceAction) String() string {
	return fmt.Sprintf("DeleteIfOnlyReferenceAction - System:%s - Key:%s - %s",
		a.delete.system.Name, a.delete.key, a.delete.String())
}

func (a *DeleteIfOnlyReferenceAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	d := a.delete
	obj, err := d.locate(ctx)
	switch {
	case store.IsNotFound(err), store.IsMultipleFound(err):
		d.log().Debug("nothing to delete", zap.String("action", a.String()), zap.Error(err))
		return nil, nil
	case err != nil:
		return d.recover(err, "could not look up record")
	}

	mappings, err := d.env.Mappings.ForObject(ctx, d.model.Table(), d.model.ID(ctx, obj))
	if err != nil {
		return nil, err
	}
	own, shared := false, false
	for _, m := range mappings {
		switch {
		case m.ExternalSystemID != d.systemID():
			shared = true
		case m.ExternalKey == d.key:
			own = true
		}
	}
	if !own || shared {
		d.log().Debug("record is referenced elsewhere, keeping it",
			zap.String("action", a.String()), zap.Bool("own_reference", own), zap.Bool("shared", shared))
		return nil, nil
	}

	if opts.Deferred {
		return obj, nil
	}
	return d.ExecuteOn(ctx, obj)
}

// Model returns the model the wrapped delete works on
func (a *DeleteIfOnlyReferenceAction) Model() *schema.Model {
	return a.delete.model
}

// DeleteExternalReferenceAction removes the mapping of the row's external key.
// It always executes in place and reports nothing, deletions of the record
// itself are left to the action it accompanies.
type DeleteExternalReferenceAction struct {
	ModelAction
	key string
}

func (a *DeleteExternalReferenceAction) Type() Type {
	return TypeDelete
}

func (a *DeleteExternalReferenceAction) String() string {
	return fmt.Sprintf("DeleteExternalReferenceAction - Model:%s - System:%s - Key:%s",
		a.model.Name(), a.system.Name, a.key)
}

func (a *DeleteExternalReferenceAction) Execute(ctx context.Context, opts ExecOptions) (interface{}, error) {
	n, err := a.env.Mappings.Delete(ctx, a.systemID(), a.key, a.model.Table())
	if err != nil {
		return nil, err
	}
	a.log().Debug("removed external key mapping", zap.String("action", a.String()), zap.Int64("deleted", n))
	return nil, nil
}
