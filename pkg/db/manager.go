package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // database/sql driver used by the postgres dialector
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// txKey is the context key under which an open transaction is carried
type txKey struct{}

// NewSQLiteManager creates a database manager backed by a single SQLite file
func NewSQLiteManager(path string) (*Manager, error) {
	config := &Config{
		Driver:          DriverSQLite,
		Database:        path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		Logging:         LoggingConfig{Level: "silent"},
	}

	return NewManager(config)
}

// NewManager creates a new database manager instance with full configuration
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logLevel := getLogLevel(config.Logging.Level)
	gormConfig := &gorm.Config{
		SkipDefaultTransaction:                   config.SkipDefaultTransaction,
		DisableForeignKeyConstraintWhenMigrating: config.DisableForeignKeyConstraintWhenMigrating,
		PrepareStmt:                              config.PrepareStmt,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logLevel),
	}

	db, err := gorm.Open(dialector(config), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if config.DriverName() == DriverSQLite {
		// SQLite serializes writers; a second connection would block on the first transaction
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(config.MaxIdleConns, maxOpen))
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Manager{
		config: config,
		db:     db,
	}, nil
}

// dialector picks the GORM dialector for the configured driver
func dialector(config *Config) gorm.Dialector {
	switch config.DriverName() {
	case DriverPostgres:
		return postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        config.GetDSN(),
		})
	case DriverSQLite:
		return sqlite.Open(config.GetDSN())
	default:
		return mysql.Open(config.GetDSN())
	}
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Conn returns the transaction carried by ctx, or the base connection bound to ctx
func (m *Manager) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return m.db.WithContext(ctx)
}

// InTransaction reports whether ctx carries an open transaction
func (m *Manager) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// Transaction runs fn inside a transaction carried by the context passed to it.
// When ctx already carries a transaction, a savepoint is used so that a failure
// inside fn only rolls back fn's own work.
func (m *Manager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.Conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ============================================================================
// ID SEQUENCE HELPERS
// ============================================================================

// LockMaxID takes an exclusive lock on table and returns the current maximum of
// its primary key column. The lock lasts until the transaction carried by ctx ends,
// so callers must run it inside Transaction.
// SECURITY: table and pk must be validated identifiers (schema-derived).
func (m *Manager) LockMaxID(ctx context.Context, table, pk string) (uint64, error) {
	conn := m.Conn(ctx)
	qTable, qPK := conn.Statement.Quote(table), conn.Statement.Quote(pk)
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", qPK, qTable)

	switch conn.Dialector.Name() {
	case "postgres":
		if err := conn.Exec(fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", qTable)).Error; err != nil {
			return 0, fmt.Errorf("failed to lock table %s: %w", table, err)
		}
	case "mysql":
		query += " FOR UPDATE"
	}

	var maxID uint64
	if err := conn.Raw(query).Scan(&maxID).Error; err != nil {
		return 0, fmt.Errorf("failed to read max id of %s: %w", table, err)
	}
	return maxID, nil
}

// ResetSequence moves the id generator of table past the current maximum primary key.
// Rows inserted with explicit ids leave the generator behind, which would make the
// next generated id collide.
func (m *Manager) ResetSequence(ctx context.Context, table, pk string) error {
	return m.Transaction(ctx, func(ctx context.Context) error {
		maxID, err := m.LockMaxID(ctx, table, pk)
		if err != nil {
			return err
		}

		conn := m.Conn(ctx)
		qTable := conn.Statement.Quote(table)

		switch conn.Dialector.Name() {
		case "postgres":
			// setval(seq, 1, false) makes the next value 1 for an empty table
			return conn.Exec("SELECT setval(pg_get_serial_sequence(?, ?), ?, ?)",
				table, pk, max(maxID, 1), maxID > 0).Error
		case "mysql":
			return conn.Exec(fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", qTable, maxID+1)).Error
		case "sqlite":
			var count int64
			if err := conn.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").
				Scan(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				// rowid tables without AUTOINCREMENT always continue from MAX(rowid)
				return nil
			}
			return conn.Exec("UPDATE sqlite_sequence SET seq = ? WHERE name = ?", maxID, table).Error
		default:
			return fmt.Errorf("sequence reset not supported for dialect %s", conn.Dialector.Name())
		}
	})
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error // Default to error
	}
}
