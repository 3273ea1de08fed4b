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
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	Environment     string        `yaml:"env"`
	LogLevel        string        `yaml:"log_level"`
	DBDriver        string        `yaml:"db_driver"`
	DatabaseURL     string        `yaml:"database_url"`
	SQLitePath      string        `yaml:"sqlite_path"`
	DBMaxConns      int           `yaml:"db_max_conns"`
	DBMinConns      int           `yaml:"db_min_conns"`
	DBLockTimeout   time.Duration `yaml:"db_lock_timeout"`
	RunMigrations   bool          `yaml:"run_migrations"`
	JWTSecret       string        `yaml:"jwt_secret"`
	AuthzMode       string        `yaml:"authz_mode"`
	AuthzUnsafe     bool          `yaml:"-"`
	AuthzModelPath  string        `yaml:"authz_model_path"`
	AuthzPolicyPath string        `yaml:"authz_policy_path"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	WriteRateLimit  int           `yaml:"write_rate_limit"`
	WriteRateWindow time.Duration `yaml:"write_rate_window"`
	ReconcileEvery  time.Duration `yaml:"reconcile_interval"`
	ReconcileRepair bool          `yaml:"reconcile_repair"`
}

func Defaults() Config {
	return Config{
		Addr:            ":8080",
		Environment:     "development",
		LogLevel:        "info",
		DBDriver:        DriverPostgres,
		DBMaxConns:      10,
		DBMinConns:      2,
		DBLockTimeout:   5 * time.Second,
		RunMigrations:   true,
		AuthzMode:       "enforce",
		MaxBodyBytes:    1048576,
		RequestTimeout:  15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MetricsEnabled:  true,
		WriteRateLimit:  120,
		WriteRateWindow: time.Minute,
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file named by APP_CONFIG_FILE, and the environment. A .env file
// in the working directory, when present, feeds the environment without
// overriding variables that are already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("APP_ADDR", c.Addr)
	c.Environment = getEnv("APP_ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DBDriver = strings.ToLower(getEnv("DB_DRIVER", c.DBDriver))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.DBMaxConns = getEnvInt("DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = getEnvInt("DB_MIN_CONNS", c.DBMinConns)
	c.DBLockTimeout = getEnvDuration("DB_LOCK_TIMEOUT", c.DBLockTimeout)
	c.RunMigrations = getEnvBool("RUN_MIGRATIONS", c.RunMigrations)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.AuthzMode = strings.ToLower(getEnv("AUTHZ_MODE", c.AuthzMode))
	c.AuthzUnsafe = os.Getenv("AUTHZ_UNSAFE_ALLOW_DISABLED") == "1"
	c.AuthzModelPath = getEnv("AUTHZ_MODEL_PATH", c.AuthzModelPath)
	c.AuthzPolicyPath = getEnv("AUTHZ_POLICY_PATH", c.AuthzPolicyPath)
	c.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.WriteRateLimit = getEnvInt("WRITE_RATE_LIMIT", c.WriteRateLimit)
	c.WriteRateWindow = getEnvDuration("WRITE_RATE_WINDOW", c.WriteRateWindow)
	c.ReconcileEvery = getEnvDuration("RECONCILE_INTERVAL", c.ReconcileEvery)
	c.ReconcileRepair = getEnvBool("RECONCILE_REPAIR", c.ReconcileRepair)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is postgres")
		}
	case DriverSQLite:
		if c.Production() && strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH must be set in production; the in-memory database is for development only")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Production() && len(strings.TrimSpace(c.JWTSecret)) < 32 {
		return fmt.Errorf("JWT_SECRET must be set to at least 32 characters in production")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.DBLockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.WriteRateLimit > 0 && c.WriteRateWindow <= 0 {
		return fmt.Errorf("WRITE_RATE_WINDOW must be positive when WRITE_RATE_LIMIT is set")
	}
	if c.ReconcileEvery < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.AuthzMode {
	case "enforce", "shadow":
	case "disabled":
		if !c.AuthzUnsafe {
			return fmt.Errorf("AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
	default:
		return fmt.Errorf("AUTHZ_MODE must be enforce, shadow or disabled")
	}
	return nil
}
