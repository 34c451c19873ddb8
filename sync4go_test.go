package sync4go_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ammar0144/sync4go"
	"github.com/ammar0144/sync4go/internal/testutil"
	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/config"
	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/feed"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/redis"
)

func newEngine(t *testing.T, cache *redis.Manager) (*sync4go.Engine, *db.Manager) {
	t.Helper()
	manager := testutil.NewDB(t)
	e := sync4go.New(manager, cache, zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)))
	require.NoError(t, e.Migrate(context.Background()))
	for _, m := range testutil.Models() {
		_, err := e.Register(m)
		require.NoError(t, err)
	}
	return e, manager
}

func newCache(t *testing.T) *redis.Manager {
	t.Helper()
	srv := miniredis.RunT(t)
	cfg := redis.DefaultConfig()
	cfg.Enabled = true
	return redis.NewManagerWithClient(cfg, goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
}

func writeFeed(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func count(t *testing.T, manager *db.Manager, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, manager.DB().Table(table).Count(&n).Error)
	return n
}

func TestEngine_SyncFile(t *testing.T) {
	e, manager := newEngine(t, nil)
	ctx := context.Background()
	opts := sync4go.SyncOptions{System: "crm", Model: "people", CreateExternalSystem: true}

	people := writeFeed(t, "people.csv",
		"action_flags,match_on,external_key,email,name",
		"cu,email,P-1,ann@example.com,Ann",
		"cu,email,P-2,bob@example.com,Bob",
	)

	res, err := e.SyncFile(ctx, people, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 4, res.Stats.Attempted)
	assert.Equal(t, 0, res.Stats.Skipped())
	assert.EqualValues(t, 2, count(t, manager, "people"))
	assert.EqualValues(t, 2, count(t, manager, "external_key_mappings"))

	// replaying the feed changes nothing
	again, err := e.SyncFile(ctx, people, opts)
	require.NoError(t, err)
	assert.NotEqual(t, res.RunID, again.RunID)
	assert.EqualValues(t, 2, count(t, manager, "people"))
	assert.EqualValues(t, 2, count(t, manager, "external_key_mappings"))

	_, err = e.SyncFile(ctx, writeFeed(t, "delete.csv",
		"action_flags,external_key",
		"d,P-1",
	), opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count(t, manager, "people"))
	assert.EqualValues(t, 1, count(t, manager, "external_key_mappings"))

	var left testutil.Person
	require.NoError(t, manager.DB().First(&left).Error)
	assert.Equal(t, "bob@example.com", left.Email)
}

func TestEngine_SyncFile_BulkWithCache(t *testing.T) {
	e, manager := newEngine(t, newCache(t))
	ctx := context.Background()
	opts := sync4go.SyncOptions{
		System:               "crm",
		Model:                "Company",
		CreateExternalSystem: true,
		UseBulk:              true,
		BatchSize:            2,
	}

	companies := writeFeed(t, "companies.csv",
		"action_flags,match_on,external_key,name,country",
		"c,name,C-1,Acme,US",
		"c,name,C-2,Globex,DE",
		"c,name,C-3,Initech,US",
	)
	res, err := e.SyncFile(ctx, companies, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Executed)
	assert.Equal(t, 2, res.Stats.Flushes[action.TypeCreate])
	assert.EqualValues(t, 3, count(t, manager, "companies"))

	res, err = e.SyncFile(ctx, companies, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Executed, "existing records count as executed")
	assert.EqualValues(t, 3, count(t, manager, "companies"))
	assert.EqualValues(t, 3, count(t, manager, "external_key_mappings"))
}

func TestEngine_SyncFile_TreeFromWorkbook(t *testing.T) {
	e, manager := newEngine(t, nil)
	ctx := context.Background()

	wb := excelize.NewFile()
	for i, values := range [][]interface{}{
		{"action_flags", "external_key", "name", "parent_id"},
		{"c", "ROOT", "Root"},
		{"c", "CHILD", "Child", "ROOT"},
		{"c", "LEAF", "Leaf", "CHILD"},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &values))
	}
	path := filepath.Join(t.TempDir(), "categories.xlsx")
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	res, err := e.SyncFile(ctx, path, sync4go.SyncOptions{
		System:               "catalog",
		Model:                "categories",
		CreateExternalSystem: true,
		RelByExternalKey:     true,
		Tree:                 true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Executed)

	var cats []testutil.Category
	require.NoError(t, manager.DB().Order("id").Find(&cats).Error)
	require.Len(t, cats, 3)
	assert.Nil(t, cats[0].ParentID)
	require.NotNil(t, cats[1].ParentID)
	assert.Equal(t, cats[0].ID, *cats[1].ParentID)
	require.NotNil(t, cats[2].ParentID)
	assert.Equal(t, cats[1].ID, *cats[2].ParentID)
}

func TestEngine_Sync_RejectsMalformedFeedBeforeWriting(t *testing.T) {
	e, manager := newEngine(t, nil)

	r, err := feed.NewCSVReader(strings.NewReader(
		"action_flags,match_on,email\n" +
			"c,email,ann@example.com\n" +
			"c,phone,bob@example.com\n",
	))
	require.NoError(t, err)

	_, err = e.Sync(context.Background(), r, sync4go.SyncOptions{System: "crm", Model: "people", CreateExternalSystem: true})
	var rowErr *feed.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 3, rowErr.Line)
	assert.ErrorIs(t, err, action.ErrValidation)
	assert.EqualValues(t, 0, count(t, manager, "people"))
}

func TestEngine_Sync_Errors(t *testing.T) {
	e, _ := newEngine(t, nil)
	ctx := context.Background()
	path := writeFeed(t, "people.csv", "action_flags,email", "c,ann@example.com")

	_, err := e.SyncFile(ctx, path, sync4go.SyncOptions{System: "crm", Model: "invoices", CreateExternalSystem: true})
	assert.ErrorIs(t, err, sync4go.ErrUnknownModel)

	_, err = e.SyncFile(ctx, path, sync4go.SyncOptions{System: "erp", Model: "people"})
	assert.ErrorIs(t, err, mapping.ErrSystemNotFound)

	_, err = e.SyncFile(ctx, path, sync4go.SyncOptions{System: "crm", Model: "people", Tree: true, Ordered: true})
	assert.ErrorIs(t, err, action.ErrValidation)

	_, err = e.SyncFile(ctx, filepath.Join(t.TempDir(), "people.txt"), sync4go.SyncOptions{System: "crm", Model: "people"})
	assert.ErrorIs(t, err, feed.ErrUnsupportedFormat)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Database = db.Config{
		Driver:       db.DriverSQLite,
		Database:     filepath.Join(t.TempDir(), "sync.db"),
		MaxOpenConns: 1,
		Logging:      db.LoggingConfig{Level: "silent"},
	}

	e, err := sync4go.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Empty(t, e.Registry().Tables())

	_, err = sync4go.Open(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Default().Sync
	c.UseBulk = true
	c.RelByExternalKeyExcluded = []string{"tags"}

	opts := sync4go.OptionsFromConfig(c, "crm", "people")
	assert.Equal(t, "crm", opts.System)
	assert.Equal(t, "people", opts.Model)
	assert.True(t, opts.UseBulk)
	assert.True(t, opts.CreateExternalSystem)
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, []string{"tags"}, opts.RelByExternalKeyExcluded)
}
