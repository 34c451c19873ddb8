package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	gschema "gorm.io/gorm/schema"

	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/store"
)

// ReferenceDelimiter separates a relation from the related field in referential
// directives such as company=>name
const ReferenceDelimiter = "=>"

// Set operations accepted as first character of many-valued sub-match keys
const (
	SetAdd     = '+'
	SetRemove  = '-'
	SetReplace = '='
)

// applyFields writes the row's directives into obj. Plain attributes are skipped
// when they already hold a value unless force is set. Relation changes that need
// obj to be persisted are returned as follow-ups.
//
// An error aborts the action: recoverable ones come from external key
// resolution, everything else from the stores.
func (a *ModelAction) applyFields(ctx context.Context, obj interface{}, force bool) ([]FollowUp, error) {
	plain := make([]string, 0, len(a.fields))
	referential := make(map[string]map[string]string)
	for name, value := range a.fields {
		if relation, sub, ok := strings.Cut(name, ReferenceDelimiter); ok {
			if value == "" {
				continue
			}
			if referential[relation] == nil {
				referential[relation] = make(map[string]string)
			}
			referential[relation][sub] = value
			continue
		}
		plain = append(plain, name)
	}
	sort.Strings(plain)

	type pending struct {
		attr *schema.Attribute
		raw  string
	}
	var generics []pending
	for _, name := range plain {
		attr, ok := a.model.Attribute(name)
		if !ok {
			a.log().Debug("ignoring unknown attribute", zap.String("attribute", name), zap.String("model", a.model.Name()))
			continue
		}
		if attr.Field == nil {
			a.log().Warn("attribute cannot be assigned a plain value",
				zap.String("attribute", name), zap.Stringer("kind", attr.Kind), zap.String("model", a.model.Name()))
			continue
		}
		if !force && !a.model.IsEmpty(ctx, obj, attr) {
			continue
		}
		if attr.GenericType != "" && a.relByExternalKey && a.system != nil {
			generics = append(generics, pending{attr: attr, raw: a.fields[name]})
			continue
		}
		if err := a.assign(ctx, obj, attr, a.fields[name]); err != nil {
			return nil, err
		}
	}

	for _, g := range generics {
		if err := a.assignGeneric(ctx, obj, g.attr, g.raw); err != nil {
			return nil, err
		}
	}

	relations := make([]string, 0, len(referential))
	for relation := range referential {
		relations = append(relations, relation)
	}
	sort.Strings(relations)

	var followUps []FollowUp
	for _, relation := range relations {
		followUp, err := a.applyReferential(ctx, obj, relation, referential[relation], force)
		if err != nil {
			if !recoverable(err) {
				return nil, err
			}
			a.log().Warn("skipping referential attribute",
				zap.String("attribute", relation), zap.String("model", a.model.Name()), zap.Error(err))
			continue
		}
		if followUp != nil {
			followUps = append(followUps, followUp)
		}
	}
	return followUps, nil
}

// assign converts raw and writes it into attr. Relations into mapped types treat
// raw as an external key of the related record.
func (a *ModelAction) assign(ctx context.Context, obj interface{}, attr *schema.Attribute, raw string) error {
	if raw == "" && attr.Nullable {
		return a.model.Set(ctx, obj, attr, nil)
	}
	if attr.IsRelation() && a.mapsRelated(attr.RelatedTable()) {
		id, err := a.env.Mappings.Resolve(ctx, a.systemID(), raw, attr.RelatedTable())
		if err != nil {
			a.log().Warn("external mapping issue", zap.String("action", a.String()), zap.String("external_key", raw), zap.Error(err))
			return err
		}
		return a.model.Set(ctx, obj, attr, id)
	}

	value, err := attr.Convert(raw)
	if err != nil {
		return fmt.Errorf("%w for %s.%s: %v", store.ErrInvalidValue, a.model.Name(), attr.Name, err)
	}
	return a.model.Set(ctx, obj, attr, value)
}

// assignGeneric resolves the id half of a generic reference through the mapping of
// the type named by its discriminator
func (a *ModelAction) assignGeneric(ctx context.Context, obj interface{}, attr *schema.Attribute, raw string) error {
	if raw == "" && attr.Nullable {
		return a.model.Set(ctx, obj, attr, nil)
	}
	typeAttr, ok := a.model.Attribute(attr.GenericType)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrGenericTypeUnknown, a.model.Name(), attr.GenericType)
	}
	contentType, _ := a.model.Get(ctx, obj, typeAttr).(string)
	if contentType == "" {
		if p, isPtr := a.model.Get(ctx, obj, typeAttr).(*string); isPtr && p != nil {
			contentType = *p
		}
	}
	if contentType == "" {
		return fmt.Errorf("%w: %s.%s for %s", ErrGenericTypeUnknown, a.model.Name(), attr.GenericType, attr.Name)
	}

	id, err := a.env.Mappings.Resolve(ctx, a.systemID(), raw, contentType)
	if err != nil {
		a.log().Warn("external mapping issue", zap.String("action", a.String()), zap.String("external_key", raw), zap.Error(err))
		return err
	}
	return a.model.Set(ctx, obj, attr, id)
}

// applyReferential links obj to the related record matched by subs
func (a *ModelAction) applyReferential(ctx context.Context, obj interface{}, relation string, subs map[string]string, force bool) (FollowUp, error) {
	attr, ok := a.model.Attribute(relation)
	if !ok || !attr.IsRelation() {
		return nil, fmt.Errorf("%w: %s has no relation %q", store.ErrUnknownField, a.model.Name(), relation)
	}
	related, ok := a.env.Registry.Model(attr.RelatedTable())
	if !ok {
		return nil, fmt.Errorf("%w: related model %s is not registered", store.ErrUnknownField, attr.RelatedTable())
	}
	relName := attr.Relation.Name

	if !force {
		current, err := a.hasRelated(ctx, obj, attr)
		if err != nil {
			return nil, err
		}
		if current {
			return nil, nil
		}
	}

	if attr.Relation.Type == gschema.Many2Many || (attr.ManyValued() && hasSetOperation(subs)) {
		op, exact, err := setOperation(subs, relation, a.model.Name())
		if err != nil {
			return nil, err
		}
		target, err := a.findRelated(ctx, related, exact, relation)
		if err != nil {
			return nil, err
		}
		return a.associate(obj, relName, op, target), nil
	}

	target, err := a.findRelated(ctx, related, subs, relation)
	if err != nil {
		return nil, err
	}
	switch {
	case attr.Relation.Type == gschema.BelongsTo:
		return nil, a.model.Set(ctx, obj, attr, related.ID(ctx, target))
	case attr.ManyValued():
		return a.associate(obj, relName, store.Append, target), nil
	default:
		return a.associate(obj, relName, store.Replace, target), nil
	}
}

func (a *ModelAction) associate(obj interface{}, relation string, op store.AssociationOp, target interface{}) FollowUp {
	return func(ctx context.Context) error {
		return a.env.Records.Associate(ctx, a.model, obj, relation, op, target)
	}
}

// hasRelated reports whether obj already links to something through attr
func (a *ModelAction) hasRelated(ctx context.Context, obj interface{}, attr *schema.Attribute) (bool, error) {
	if attr.Relation.Type == gschema.BelongsTo {
		return !a.model.IsEmpty(ctx, obj, attr), nil
	}
	n, err := a.env.Records.CountRelated(ctx, a.model, obj, attr.Relation.Name)
	return n > 0, err
}

func (a *ModelAction) findRelated(ctx context.Context, related *schema.Model, values map[string]string, relation string) (interface{}, error) {
	target, err := a.env.Records.FindBy(ctx, related, values)
	switch {
	case err == nil:
		return target, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("could not find %s with %v for %s.%s: %w", related.Name(), values, a.model.Name(), relation, err)
	case errors.Is(err, store.ErrMultipleFound):
		return nil, fmt.Errorf("found multiple %s with %v for %s.%s: %w", related.Name(), values, a.model.Name(), relation, err)
	}
	return nil, err
}

func hasSetOperation(subs map[string]string) bool {
	for key := range subs {
		if key == "" {
			return false
		}
		switch key[0] {
		case SetAdd, SetRemove, SetReplace:
		default:
			return false
		}
	}
	return true
}

// setOperation checks that every key carries the same set operation and strips it
func setOperation(subs map[string]string, field, model string) (store.AssociationOp, map[string]string, error) {
	keys := make([]string, 0, len(subs))
	for key := range subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var opChar byte
	exact := make(map[string]string, len(subs))
	for _, key := range keys {
		if key == "" {
			return 0, nil, &UnknownActionTypeError{Field: field, Model: model}
		}
		if opChar == 0 {
			opChar = key[0]
		} else if key[0] != opChar {
			return 0, nil, &DissimilarActionTypesError{First: opChar, Second: key[0], Field: field, Model: model}
		}
		exact[key[1:]] = subs[key]
	}

	switch opChar {
	case SetAdd:
		return store.Append, exact, nil
	case SetRemove:
		return store.Remove, exact, nil
	case SetReplace:
		return store.Replace, exact, nil
	}
	return 0, nil, &UnknownActionTypeError{Type: opChar, Field: field, Model: model}
}
