// Package config loads grantflow configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	OxiDB      OxiDBConfig      `yaml:"oxidb"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Forms      FormsConfig      `yaml:"forms"`
	Drafts     DraftsConfig     `yaml:"drafts"`
	NATS       NATSConfig       `yaml:"nats"`
	Storage    StorageConfig    `yaml:"storage"`
	RouteState RouteStateConfig `yaml:"route_state"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type OxiDBConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	PoolSize  int           `yaml:"pool_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Keepalive time.Duration `yaml:"keepalive"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	AdminEmail string        `yaml:"admin_email"`
	AdminPass  string        `yaml:"admin_pass"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format   string `yaml:"format"`
	GelfAddr string `yaml:"gelf_addr"`
}

type FormsConfig struct {
	// Dir holds extra YAML form definitions; empty means built-in forms only.
	Dir           string        `yaml:"dir"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type DraftsConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	// URL empty disables event publishing.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type StorageConfig struct {
	Bucket            string `yaml:"bucket"`
	PublicBaseURL     string `yaml:"public_base_url"`
	MaxUploadBytes    int64  `yaml:"max_upload_bytes"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
}

type RouteStateConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		OxiDB: OxiDBConfig{
			Host:      "127.0.0.1",
			Port:      4444,
			PoolSize:  3,
			Timeout:   10 * time.Second,
			Keepalive: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			AdminEmail: "admin@grantflow.local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Forms: FormsConfig{
			WatchDebounce: 500 * time.Millisecond,
		},
		Drafts: DraftsConfig{
			Path: "grantflow-drafts.db",
		},
		NATS: NATSConfig{
			SubjectPrefix: "grantflow",
		},
		Storage: StorageConfig{
			Bucket:            "grantflow_files",
			PublicBaseURL:     "/api/v1/files",
			MaxUploadBytes:    12 << 20,
			UploadConcurrency: 4,
		},
		RouteState: RouteStateConfig{
			HistoryLimit: 50,
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("GRANTFLOW_ADDR", c.HTTP.Addr)
	c.OxiDB.Host = getEnv("OXIDB_HOST", c.OxiDB.Host)
	c.OxiDB.Port = getEnvInt("OXIDB_PORT", c.OxiDB.Port)
	c.OxiDB.PoolSize = getEnvInt("GRANTFLOW_POOL_SIZE", c.OxiDB.PoolSize)
	c.Auth.JWTSecret = getEnv("GRANTFLOW_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AdminEmail = getEnv("GRANTFLOW_ADMIN_EMAIL", c.Auth.AdminEmail)
	c.Auth.AdminPass = getEnv("GRANTFLOW_ADMIN_PASS", c.Auth.AdminPass)
	c.Logging.GelfAddr = getEnv("GRANTFLOW_GELF_ADDR", c.Logging.GelfAddr)
	c.Logging.Level = getEnv("GRANTFLOW_LOG_LEVEL", c.Logging.Level)
	c.NATS.URL = getEnv("GRANTFLOW_NATS_URL", c.NATS.URL)
	c.Forms.Dir = getEnv("GRANTFLOW_FORMS_DIR", c.Forms.Dir)
	c.Drafts.Path = getEnv("GRANTFLOW_DRAFTS_PATH", c.Drafts.Path)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.OxiDB.Host == "" || c.OxiDB.Port <= 0 {
		errs = append(errs, errors.New("oxidb.host and oxidb.port are required"))
	}
	if c.OxiDB.PoolSize <= 0 {
		errs = append(errs, errors.New("oxidb.pool_size must be positive"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters (GRANTFLOW_JWT_SECRET)"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Drafts.Path == "" {
		errs = append(errs, errors.New("drafts.path is required"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must be positive"))
	}
	if c.Storage.UploadConcurrency <= 0 {
		errs = append(errs, errors.New("storage.upload_concurrency must be positive"))
	}
	if c.RouteState.HistoryLimit <= 0 {
		errs = append(errs, errors.New("route_state.history_limit must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
