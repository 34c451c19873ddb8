package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/selector"
)

// FactoryOptions configure the actions a Factory builds
type FactoryOptions struct {
	// System rows are mapped against; without one no mapping is kept
	System *mapping.ExternalSystem

	// RelByExternalKey makes relation values external keys of related records
	RelByExternalKey bool

	// Excluded lists related tables whose values stay plain ids
	Excluded []string

	// ForceInitInstance skips lookups of existing records and mappings on create
	ForceInitInstance bool
}

// Factory builds the actions for the rows of one model.
//
// An unforced delete of an externally keyed row only removes the record when no
// other system links it, and every mappable delete also removes the row's own
// mapping. Creates and updates of mappable rows keep the mapping pointed at the
// record they touch.
type Factory struct {
	model    *schema.Model
	env      *Env
	opts     FactoryOptions
	excluded map[string]bool
}

// NewFactory creates a factory for model
func NewFactory(model *schema.Model, env *Env, opts FactoryOptions) (*Factory, error) {
	if model == nil {
		return nil, errors.New("model cannot be nil")
	}
	if env == nil || env.Records == nil || env.Mappings == nil || env.Registry == nil {
		return nil, errors.New("action environment is incomplete")
	}
	if opts.RelByExternalKey && opts.System == nil {
		return nil, fmt.Errorf("%w: relations by external key need an external system", ErrValidation)
	}

	excluded := make(map[string]bool, len(opts.Excluded))
	for _, name := range opts.Excluded {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if m, ok := env.Registry.Lookup(name); ok {
			name = m.Table()
		}
		excluded[name] = true
	}

	return &Factory{model: model, env: env, opts: opts, excluded: excluded}, nil
}

// Model returns the model actions are built for
func (f *Factory) Model() *schema.Model {
	return f.model
}

// IsExternallyMappable reports whether a mapping can be kept for key
func (f *Factory) IsExternallyMappable(key string) bool {
	return f.opts.System != nil && strings.TrimSpace(key) != ""
}

// Build returns the actions satisfying req for one row. Errors are validation
// failures of the row's match fields and wrap ErrValidation.
func (f *Factory) Build(req SyncActions, matchOn []string, key string, fields map[string]string) (Group, error) {
	sel, err := selector.New(matchOn, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for _, name := range sel.Fields() {
		attr, ok := f.model.Attribute(name)
		if !ok || attr.Column() == "" {
			return nil, fmt.Errorf("%w: %w: %s has no column %q", ErrValidation, selector.ErrInvalidMatch, f.model.Name(), name)
		}
	}

	base := func(kind string) ModelAction {
		return ModelAction{
			kind:             kind,
			env:              f.env,
			model:            f.model,
			selector:         sel,
			fields:           fields,
			system:           f.opts.System,
			relByExternalKey: f.opts.RelByExternalKey,
			excluded:         f.excluded,
		}
	}
	mappable := f.IsExternallyMappable(key)
	key = strings.TrimSpace(key)

	var group Group
	if req.Impotent() {
		a := base("ModelAction")
		group = append(group, &a)
	}

	if req.Delete() {
		del := &DeleteAction{ModelAction: base("DeleteAction"), key: key}
		if mappable {
			if req.Force() {
				group = append(group, del)
			} else {
				group = append(group, &DeleteIfOnlyReferenceAction{delete: del})
			}
			group = append(group, &DeleteExternalReferenceAction{ModelAction: base("DeleteExternalReferenceAction"), key: key})
		} else if req.Force() {
			group = append(group, del)
		}
	}

	if req.Create() {
		if mappable {
			group = append(group, &CreateWithReferenceAction{
				CreateAction: CreateAction{ModelAction: base("CreateWithReferenceAction"), forceInit: f.opts.ForceInitInstance},
				key:          key,
			})
		} else {
			group = append(group, &CreateAction{ModelAction: base("CreateAction"), forceInit: f.opts.ForceInitInstance})
		}
	}

	if req.Update() {
		if mappable {
			group = append(group, &UpdateWithReferenceAction{
				UpdateAction: UpdateAction{ModelAction: base("UpdateWithReferenceAction"), force: req.Force()},
				key:          key,
			})
		} else {
			group = append(group, &UpdateAction{ModelAction: base("UpdateAction"), force: req.Force()})
		}
	}

	return group, nil
}
