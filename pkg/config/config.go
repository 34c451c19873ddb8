// Package config loads the settings of a sync run: database and cache
// connections, policy options and logging.
//
// Settings are read from an optional YAML file, then overridden by SYNC4GO_*
// environment variables. A .env file in the working directory is loaded into
// the environment first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/redis"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SYNC4GO_"

// Config is the complete configuration of a sync run
type Config struct {
	Database db.Config     `json:"database" yaml:"database"`
	Redis    redis.Config  `json:"redis" yaml:"redis"`
	Sync     SyncConfig    `json:"sync" yaml:"sync"`
	Logging  LoggingConfig `json:"logging" yaml:"logging"`
}

// SyncConfig selects the policy and the behaviour of the actions
type SyncConfig struct {
	BatchSize int  `json:"batch_size" yaml:"batch_size"`
	UseBulk   bool `json:"use_bulk" yaml:"use_bulk"`

	// Relation values are external keys of related records
	RelByExternalKey         bool     `json:"rel_by_external_key" yaml:"rel_by_external_key"`
	RelByExternalKeyExcluded []string `json:"rel_by_external_key_excluded" yaml:"rel_by_external_key_excluded"`

	// Skip lookups of existing records when the feed only holds new ones
	ForceInitInstance bool `json:"force_init_instance" yaml:"force_init_instance"`

	AsTransaction         bool `json:"as_transaction" yaml:"as_transaction"`
	OrderedExecution      bool `json:"ordered_execution" yaml:"ordered_execution"`
	Tree                  bool `json:"tree" yaml:"tree"`
	SuppressNotifications bool `json:"suppress_notifications" yaml:"suppress_notifications"`
	CreateExternalSystem  bool `json:"create_external_system" yaml:"create_external_system"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"` // debug, info, warn, error
	Development bool   `json:"development" yaml:"development"`
}

// Default returns the configuration used when nothing else is given
func Default() *Config {
	return &Config{
		Database: db.Config{
			Driver:          db.DriverMySQL,
			Host:            "localhost",
			Port:            3306,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			Charset:         "utf8mb4",
			Collation:       "utf8mb4_unicode_ci",
			TimeZone:        "UTC",
			Logging:         db.LoggingConfig{Level: "warn"},
		},
		Redis: *redis.DefaultConfig(),
		Sync: SyncConfig{
			BatchSize:            500,
			CreateExternalSystem: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from the YAML file at path, if any, and the
// environment
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync: batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Tree && c.Sync.OrderedExecution {
		return errors.New("sync: tree and ordered_execution cannot be combined")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// ==================== Environment ====================

func (c *Config) applyEnv() error {
	var err error
	str := func(key string, dst *string) {
		*dst = getEnv(key, *dst)
	}
	num := func(key string, dst *int) {
		if err == nil {
			*dst, err = getEnvInt(key, *dst)
		}
	}
	flag := func(key string, dst *bool) {
		if err == nil {
			*dst, err = getEnvBool(key, *dst)
		}
	}

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_NAME", &c.Database.Database)
	str("DB_USER", &c.Database.Username)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_LOG_LEVEL", &c.Database.Logging.Level)

	flag("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_HOST", &c.Redis.Host)
	num("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASSWORD", &c.Redis.Password)

	num("BATCH_SIZE", &c.Sync.BatchSize)
	flag("USE_BULK", &c.Sync.UseBulk)
	flag("AS_TRANSACTION", &c.Sync.AsTransaction)
	flag("SUPPRESS_NOTIFICATIONS", &c.Sync.SuppressNotifications)

	str("LOG_LEVEL", &c.Logging.Level)
	flag("LOG_DEVELOPMENT", &c.Logging.Development)

	if excluded, ok := os.LookupEnv(EnvPrefix + "REL_BY_EXTERNAL_KEY_EXCLUDED"); ok {
		c.Sync.RelByExternalKeyExcluded = splitList(excluded)
	}
	return err
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(EnvPrefix + key)
	if !exists {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(EnvPrefix + key)
	if !exists {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
