// Package config loads application configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, e.g.
// PUSHGARDEN_SERVER__PORT=9090 sets server.port. A double underscore
// separates sections so key names may contain single underscores.
const envPrefix = "PUSHGARDEN_"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Push     PushConfig     `koanf:"push"`
	Worker   WorkerConfig   `koanf:"worker"`
	CORS     CORSConfig     `koanf:"cors"`
}

// CORSConfig contains cross-origin settings for the browser-facing API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig contains settings for the bearer-token check on the
// interactive surface. Token issuance lives outside this service.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// PushConfig contains web push delivery settings. The VAPID key pair is
// required: without it no provider request can be signed, so absence is a
// fatal startup condition rather than a per-request error.
type PushConfig struct {
	VAPIDPublicKey  string        `koanf:"vapid_public_key"`
	VAPIDPrivateKey string        `koanf:"vapid_private_key"`
	Subscriber      string        `koanf:"subscriber"`
	TTL             int           `koanf:"ttl"`
	SendTimeout     time.Duration `koanf:"send_timeout"`
	CronSecret      string        `koanf:"cron_secret"`
}

// WorkerConfig contains queue processor settings. RetryDelay is the minimum
// age a previously attempted row must reach before it is claimed again; the
// default of zero keeps retries spaced only by the caller's trigger cadence.
type WorkerConfig struct {
	BatchSize        int           `koanf:"batch_size"`
	MaxAttempts      int           `koanf:"max_attempts"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	BatchConcurrency int           `koanf:"batch_concurrency"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Push: PushConfig{
			Subscriber:  "mailto:admin@example.com",
			TTL:         60,
			SendTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			BatchSize:        10,
			MaxAttempts:      3,
			RetryDelay:       0,
			BatchConcurrency: 10,
		},
	}
}

// Load reads configuration from the optional YAML file at path and the
// environment, layered over defaults. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Well-known unprefixed variables take precedence; these are the names
	// deployment platforms conventionally inject.
	for envVar, key := range map[string]string{
		"DATABASE_URL":      "database.url",
		"VAPID_PUBLIC_KEY":  "push.vapid_public_key",
		"VAPID_PRIVATE_KEY": "push.vapid_private_key",
		"CRON_SECRET":       "push.cron_secret",
		"JWT_SECRET":        "auth.jwt_secret",
	} {
		if v := os.Getenv(envVar); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("set %s: %w", key, err)
			}
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks fatal startup conditions.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Push.VAPIDPublicKey == "" {
		errs = append(errs, errors.New("push.vapid_public_key is required"))
	}
	if c.Push.VAPIDPrivateKey == "" {
		errs = append(errs, errors.New("push.vapid_private_key is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, errors.New("worker.batch_size must be positive"))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("worker.max_attempts must be positive"))
	}

	return errors.Join(errs...)
}
