package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateSQLite(t *testing.T) {
	cfg := &Config{Driver: DriverSQLite, Database: "sync.db", MaxOpenConns: 1, MaxIdleConns: 1}
	require.NoError(t, cfg.Validate())

	cfg.Database = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateServer(t *testing.T) {
	base := func() *Config {
		return &Config{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			Database:     "sync",
			Username:     "sync",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"missing database", func(c *Config) { c.Database = "" }},
		{"missing username", func(c *Config) { c.Username = "" }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 20 }},
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"cert without key", func(c *Config) {
			c.SSL = SSLConfig{Enabled: true, CertFile: "client.pem"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_GetDSN(t *testing.T) {
	t.Run("mysql is the default driver", func(t *testing.T) {
		cfg := &Config{Host: "db", Port: 3306, Database: "sync", Username: "u", Password: "p"}
		assert.Equal(t, DriverMySQL, cfg.DriverName())
		dsn := cfg.GetDSN()
		assert.Contains(t, dsn, "u:p@tcp(db:3306)/sync")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("postgres", func(t *testing.T) {
		cfg := &Config{Driver: "Postgres", Host: "db", Port: 5432, Database: "sync", Username: "u", Password: "p"}
		assert.Equal(t,
			"host=db port=5432 user=u password=p dbname=sync sslmode=disable TimeZone=UTC",
			cfg.GetDSN())
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &Config{Driver: DriverSQLite, Database: "/tmp/sync.db"}
		assert.Equal(t, "/tmp/sync.db", cfg.GetDSN())
	})
}
