package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, key := range []string{
		"APP_CONFIG_FILE", "APP_ADDR", "APP_ENV", "LOG_LEVEL", "DB_DRIVER", "DATABASE_URL",
		"SQLITE_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_LOCK_TIMEOUT", "RUN_MIGRATIONS",
		"JWT_SECRET", "AUTHZ_MODE", "AUTHZ_MODEL_PATH", "AUTHZ_POLICY_PATH", "MAX_BODY_BYTES",
		"REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT", "METRICS_ENABLED", "WRITE_RATE_LIMIT", "WRITE_RATE_WINDOW",
		"AUTHZ_UNSAFE_ALLOW_DISABLED", "RECONCILE_INTERVAL", "RECONCILE_REPAIR",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 5*time.Second, cfg.DBLockTimeout)
	assert.Equal(t, "enforce", cfg.AuthzMode)
	assert.True(t, cfg.RunMigrations)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "payledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
db_driver: sqlite
db_lock_timeout: 2s
authz_mode: shadow
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("APP_ADDR", ":7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.DBLockTimeout)
	assert.Equal(t, "shadow", cfg.AuthzMode)
}

func TestDotenvFeedsEnvironment(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	// godotenv only fills variables that are unset
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	t.Cleanup(func() { _ = os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestBrokenConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.DatabaseURL = "postgres://localhost/payroll"
	valid.JWTSecret = "dev-secret"
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing database url": func(c *Config) { c.DatabaseURL = "" },
		"unknown driver":       func(c *Config) { c.DBDriver = "oracle" },
		"missing jwt secret":   func(c *Config) { c.JWTSecret = "" },
		"weak production key":  func(c *Config) { c.Environment = "production" },
		"min above max conns":  func(c *Config) { c.DBMinConns = 20 },
		"zero lock timeout":    func(c *Config) { c.DBLockTimeout = 0 },
		"tiny body limit":      func(c *Config) { c.MaxBodyBytes = 10 },
		"bad log level":        func(c *Config) { c.LogLevel = "loud" },
		"bad authz mode":       func(c *Config) { c.AuthzMode = "maybe" },
		"unguarded disable":    func(c *Config) { c.AuthzMode = "disabled" },
		"rate without window":  func(c *Config) { c.WriteRateWindow = 0 },
		"negative reconcile":   func(c *Config) { c.ReconcileEvery = -time.Second },
		"production in-memory": func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.DBDriver = DriverSQLite
		},
	}
	disabled := valid
	disabled.AuthzMode = "disabled"
	disabled.AuthzUnsafe = true
	require.NoError(t, disabled.Validate())

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
