// Package sync4go reconciles external data feeds with a relational database.
//
// Every row of a feed asks for records of one model to be created, updated or
// deleted. Rows may carry the key the external system knows a record by; the
// engine keeps a mapping from those keys to record ids so that feeds can be
// replayed and records can be related to each other by external key.
package sync4go

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/config"
	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/feed"
	"github.com/ammar0144/sync4go/pkg/logging"
	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/policy"
	"github.com/ammar0144/sync4go/pkg/redis"
	"github.com/ammar0144/sync4go/pkg/repository"
	"github.com/ammar0144/sync4go/pkg/schema"
	"github.com/ammar0144/sync4go/pkg/store"
)

// Config represents the configuration of an engine
type Config = config.Config

// Entity interface that all synchronised models must implement
type Entity = repository.Entity

// Stats are the counters of one run
type Stats = policy.Stats

// ErrUnknownModel is returned when a run names a model that was never registered
var ErrUnknownModel = errors.New("unknown model")

// Engine syncs feeds into one database
type Engine struct {
	manager  *db.Manager
	cache    *redis.Manager
	registry *schema.Registry
	records  *store.Store
	mappings *mapping.Store
	systems  *mapping.Systems
	logger   *zap.Logger
}

// New creates an engine over an open database. The cache may be nil; a nil
// logger discards everything.
func New(manager *db.Manager, cache *redis.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		manager:  manager,
		cache:    cache,
		registry: schema.NewRegistry(manager.DB()),
		records:  store.New(manager),
		mappings: mapping.NewStore(manager, cache),
		systems:  mapping.NewSystems(manager, cache),
		logger:   logger,
	}
}

// Open connects to the database and cache described by cfg and migrates the
// mapping tables
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	manager, err := db.NewManager(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := manager.Ping(ctx); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	var cache *redis.Manager
	if cfg.Redis.Enabled {
		cache, err = redis.NewManager(&cfg.Redis)
		if err != nil {
			manager.Close()
			return nil, err
		}
		if err := cache.Ping(ctx); err != nil {
			cache.Close()
			manager.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	e := New(manager, cache, logger)
	if err := e.Migrate(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Migrate creates the mapping tables
func (e *Engine) Migrate(ctx context.Context) error {
	if err := mapping.Migrate(ctx, e.manager); err != nil {
		return fmt.Errorf("failed to migrate mapping tables: %w", err)
	}
	return nil
}

// Register makes model available to runs under its table or struct name
func (e *Engine) Register(model interface{}, opts ...schema.Option) (*schema.Model, error) {
	return e.registry.Register(model, opts...)
}

// Manager returns the database the engine writes to
func (e *Engine) Manager() *db.Manager {
	return e.manager
}

// Registry returns the models registered so far
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Close releases the database and cache connections
func (e *Engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.manager.Close())
	return errors.Join(errs...)
}

// ==================== Runs ====================

// SyncOptions describe one run
type SyncOptions struct {
	// System is the name of the external system the feed comes from
	System string
	// Model is the table or struct name of the registered model rows apply to
	Model string

	CreateExternalSystem     bool
	AsTransaction            bool
	RelByExternalKey         bool
	RelByExternalKeyExcluded []string
	UseBulk                  bool
	ForceInitInstance        bool
	Ordered                  bool
	Tree                     bool
	SuppressNotifications    bool
	BatchSize                int
}

// OptionsFromConfig returns run options for system and model carrying the
// settings of c
func OptionsFromConfig(c config.SyncConfig, system, model string) SyncOptions {
	return SyncOptions{
		System:                   system,
		Model:                    model,
		CreateExternalSystem:     c.CreateExternalSystem,
		AsTransaction:            c.AsTransaction,
		RelByExternalKey:         c.RelByExternalKey,
		RelByExternalKeyExcluded: c.RelByExternalKeyExcluded,
		UseBulk:                  c.UseBulk,
		ForceInitInstance:        c.ForceInitInstance,
		Ordered:                  c.OrderedExecution,
		Tree:                     c.Tree,
		SuppressNotifications:    c.SuppressNotifications,
		BatchSize:                c.BatchSize,
	}
}

// Result reports a finished run
type Result struct {
	RunID    string
	Model    string
	Rows     int
	Stats    Stats
	Duration time.Duration
}

// SyncFile syncs the CSV or XLSX feed at path
func (e *Engine) SyncFile(ctx context.Context, path string, opts SyncOptions) (*Result, error) {
	r, err := feed.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return e.Sync(ctx, r, opts)
}

// Sync syncs the rows of r. Every row is decoded before the first one is
// applied, so a malformed row stops the run before any record is written.
// The reader is not closed.
func (e *Engine) Sync(ctx context.Context, r feed.Reader, opts SyncOptions) (*Result, error) {
	if opts.Tree && opts.Ordered {
		return nil, fmt.Errorf("%w: tree and ordered runs cannot be combined", action.ErrValidation)
	}

	system, err := e.systems.Find(ctx, opts.System, opts.CreateExternalSystem)
	if err != nil {
		return nil, err
	}
	model, ok := e.registry.Lookup(opts.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, opts.Model)
	}

	log, runID := logging.WithRun(e.logger, model.Name())
	started := time.Now()

	factory, err := action.NewFactory(model, &action.Env{
		Records:  e.records,
		Mappings: e.mappings,
		Registry: e.registry,
		Logger:   log,
	}, action.FactoryOptions{
		System:            system,
		RelByExternalKey:  opts.RelByExternalKey,
		Excluded:          opts.RelByExternalKeyExcluded,
		ForceInitInstance: opts.ForceInitInstance,
	})
	if err != nil {
		return nil, err
	}

	groups, err := feed.NewRowFactory(factory).ReadAll(r)
	if err != nil {
		return nil, err
	}
	log.Info("sync started",
		zap.String("system", system.Name),
		zap.Int("rows", len(groups)),
		zap.Bool("bulk", opts.UseBulk || opts.Tree),
	)

	var before redis.MetricsSnapshot
	if e.cache != nil {
		before = e.cache.GetMetrics()
	}

	p := e.policy(model, opts, log)
	if err := p.Execute(ctx, groups); err != nil {
		log.Error("sync failed", zap.Error(err), zap.Stringer("stats", p.Stats()))
		return nil, err
	}

	res := &Result{
		RunID:    runID,
		Model:    model.Name(),
		Rows:     len(groups),
		Stats:    p.Stats(),
		Duration: time.Since(started),
	}
	fields := []zap.Field{zap.Stringer("stats", res.Stats), zap.Duration("duration", res.Duration)}
	if e.cache != nil {
		fields = append(fields, zap.Object("cache", e.cache.GetMetrics().Since(before)))
	}
	log.Info("sync finished", fields...)
	return res, nil
}

// policy picks the policy of a run
func (e *Engine) policy(model *schema.Model, opts SyncOptions, log *zap.Logger) policy.Policy {
	env := policy.Env{
		Records:  e.records,
		Mappings: e.mappings,
		Registry: e.registry,
		Logger:   log,
	}
	popts := policy.Options{
		UseBulk:               opts.UseBulk,
		BatchSize:             opts.BatchSize,
		SuppressNotifications: opts.SuppressNotifications,
	}

	if opts.Tree {
		// already a single transaction
		return policy.NewTreePolicy(model, env, popts)
	}

	var p policy.Policy
	if opts.Ordered {
		p = policy.NewOrderedPolicy(model, env, popts)
	} else {
		p = policy.NewBasicPolicy(model, env, popts)
	}
	if opts.AsTransaction {
		p = policy.NewTransactionPolicy(p, e.records)
	}
	return p
}
