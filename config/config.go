// Package config loads engine settings.
//
// Precedence, lowest to highest: built-in defaults, YAML file, .env file,
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Primary   PrimaryConfig   `yaml:"primary"`
	Cold      ColdConfig      `yaml:"cold"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type PrimaryConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
}

type ColdConfig struct {
	Driver       string `yaml:"driver"` // postgres | sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	// URL accepts redis://... or host:port. Empty means in-process locks.
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type SecurityConfig struct {
	BcryptCost     int `yaml:"bcrypt_cost"`
	PasswordLength int `yaml:"password_length"`
	CodeLength     int `yaml:"code_length"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Primary: PrimaryConfig{
			Path:            "comptes.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Cold: ColdConfig{
			Driver:       "sqlite",
			DSN:          "comptes_archive.db",
			MaxOpenConns: 10,
		},
		Redis: RedisConfig{
			LockTTL: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: time.Hour,
			Timeout:  10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			BcryptCost:     10,
			PasswordLength: 12,
			CodeLength:     8,
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env is fine.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.HTTP.Port = getEnvInt("HTTP_PORT", cfg.HTTP.Port)
	if cfg.HTTP.ShutdownTimeout, err = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout); err != nil {
		return err
	}

	cfg.Primary.Path = getEnvString("PRIMARY_DB_PATH", cfg.Primary.Path)
	cfg.Primary.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Primary.MaxOpenConns)
	cfg.Primary.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Primary.MaxIdleConns)
	if cfg.Primary.ConnMaxLifetime, err = getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.Primary.ConnMaxLifetime); err != nil {
		return err
	}
	if cfg.Primary.PingTimeout, err = getEnvDuration("DB_PING_TIMEOUT", cfg.Primary.PingTimeout); err != nil {
		return err
	}

	cfg.Cold.Driver = getEnvString("COLD_DB_DRIVER", cfg.Cold.Driver)
	cfg.Cold.DSN = getEnvString("COLD_DB_DSN", cfg.Cold.DSN)
	cfg.Cold.MaxOpenConns = getEnvInt("COLD_DB_MAX_OPEN_CONNS", cfg.Cold.MaxOpenConns)

	cfg.Redis.URL = getEnvString("REDIS_URL", cfg.Redis.URL)
	if cfg.Redis.LockTTL, err = getEnvDuration("REDIS_LOCK_TTL", cfg.Redis.LockTTL); err != nil {
		return err
	}

	cfg.Scheduler.Enabled = getEnvBool("SWEEP_ENABLED", cfg.Scheduler.Enabled)
	if cfg.Scheduler.Interval, err = getEnvDuration("SWEEP_INTERVAL", cfg.Scheduler.Interval); err != nil {
		return err
	}
	if cfg.Scheduler.Timeout, err = getEnvDuration("SWEEP_TIMEOUT", cfg.Scheduler.Timeout); err != nil {
		return err
	}

	cfg.Log.Level = getEnvString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = getEnvBool("LOG_DEVELOPMENT", cfg.Log.Development)

	cfg.Security.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Security.BcryptCost)
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.Primary.Path == "" {
		return errors.New("primary database path is required")
	}
	switch c.Cold.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported cold store driver %q", c.Cold.Driver)
	}
	if c.Cold.DSN == "" {
		return errors.New("cold store DSN is required")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost %d out of range", c.Security.BcryptCost)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
