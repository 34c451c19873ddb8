package policy

import (
	"context"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// OrderedPolicy runs every create of the feed first, then every update, then
// every delete. A forced delete and a create of the same record therefore end
// with the record deleted whatever their position in the feed, and updates can
// refer to records created further down.
type OrderedPolicy struct {
	*BasicPolicy
}

// NewOrderedPolicy creates an ordered policy writing records of model
func NewOrderedPolicy(model *schema.Model, env Env, opts Options) *OrderedPolicy {
	return &OrderedPolicy{BasicPolicy: NewBasicPolicy(model, env, opts)}
}

// Execute runs the groups in three passes, flushing after each pass in bulk mode
func (p *OrderedPolicy) Execute(ctx context.Context, groups []action.Group) error {
	return p.execute(ctx, phases(groups))
}

// phases splits groups by action type, keeping row order within each type
func phases(groups []action.Group) [][]action.Group {
	order := []action.Type{action.TypeCreate, action.TypeUpdate, action.TypeDelete}
	out := make([][]action.Group, len(order))
	for _, group := range groups {
		for i, t := range order {
			var filtered action.Group
			for _, a := range group {
				if a.Type() == t {
					filtered = append(filtered, a)
				}
			}
			if len(filtered) > 0 {
				out[i] = append(out[i], filtered)
			}
		}
	}
	return out
}
