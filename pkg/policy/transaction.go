package policy

import (
	"context"

	"github.com/ammar0144/sync4go/pkg/action"
)

// Transactor opens transactions carried in the context
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactionPolicy runs another policy inside one transaction, so a run either
// applies completely or not at all
type TransactionPolicy struct {
	inner Policy
	tx    Transactor
}

// NewTransactionPolicy wraps inner
func NewTransactionPolicy(inner Policy, tx Transactor) *TransactionPolicy {
	return &TransactionPolicy{inner: inner, tx: tx}
}

func (p *TransactionPolicy) Execute(ctx context.Context, groups []action.Group) error {
	return p.tx.Transaction(ctx, func(ctx context.Context) error {
		return p.inner.Execute(ctx, groups)
	})
}

// Stats returns the inner policy's counters
func (p *TransactionPolicy) Stats() Stats {
	return p.inner.Stats()
}
