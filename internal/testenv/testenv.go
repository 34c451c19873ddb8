// Package testenv wires the record store, mapping store and schema registry over
// a temporary SQLite database for package tests that need the whole engine.
package testenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ammar0144/sync4go/internal/testutil"
	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/policy"
	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/store"
)

// Env is a migrated database with every store bound to it
type Env struct {
	Manager  *db.Manager
	Registry *schema.Registry
	Records  *store.Store
	Mappings *mapping.Store
	Systems  *mapping.Systems
	Logger   *zap.Logger
}

// New creates an Env with the fixture models registered
func New(t testing.TB) *Env {
	t.Helper()
	manager := testutil.NewDB(t)
	require.NoError(t, mapping.Migrate(context.Background(), manager))

	return &Env{
		Manager:  manager,
		Registry: testutil.NewRegistry(t, manager),
		Records:  store.New(manager),
		Mappings: mapping.NewStore(manager, nil),
		Systems:  mapping.NewSystems(manager, nil),
		Logger:   zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)),
	}
}

// Actions returns the collaborators handed to actions
func (e *Env) Actions() *action.Env {
	return &action.Env{
		Records:  e.Records,
		Mappings: e.Mappings,
		Registry: e.Registry,
		Logger:   e.Logger,
	}
}

// Policies returns the collaborators handed to policies
func (e *Env) Policies() policy.Env {
	return policy.Env{
		Records:  e.Records,
		Mappings: e.Mappings,
		Registry: e.Registry,
		Logger:   e.Logger,
	}
}

// System finds or creates the external system called name
func (e *Env) System(t testing.TB, name string) *mapping.ExternalSystem {
	t.Helper()
	sys, err := e.Systems.Find(context.Background(), name, true)
	require.NoError(t, err)
	return sys
}

// Model returns the registered model for table
func (e *Env) Model(t testing.TB, table string) *schema.Model {
	t.Helper()
	m, ok := e.Registry.Model(table)
	require.True(t, ok, "model %s is not registered", table)
	return m
}

// Factory builds an action factory for table
func (e *Env) Factory(t testing.TB, table string, opts action.FactoryOptions) *action.Factory {
	t.Helper()
	f, err := action.NewFactory(e.Model(t, table), e.Actions(), opts)
	require.NoError(t, err)
	return f
}

// Count counts the rows of table
func (e *Env) Count(t testing.TB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.Manager.DB().Table(table).Count(&n).Error)
	return n
}
