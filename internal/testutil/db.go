package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/schema"
)

// NewDB opens a SQLite database in a temporary directory and migrates the fixture
// models plus any extra models given
func NewDB(t testing.TB, extra ...interface{}) *db.Manager {
	t.Helper()
	manager, err := db.NewSQLiteManager(filepath.Join(t.TempDir(), "sync4go.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	models := append(Models(), extra...)
	require.NoError(t, manager.DB().AutoMigrate(models...))
	return manager
}

// NewRegistry registers the fixture models on a schema registry bound to manager
func NewRegistry(t testing.TB, manager *db.Manager) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(manager.DB())
	for _, m := range Models() {
		_, err := reg.Register(m)
		require.NoError(t, err)
	}
	return reg
}
