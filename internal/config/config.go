/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/talkclock/internal/db"
	"github.com/friendsincode/talkclock/internal/eventbus"
	"github.com/friendsincode/talkclock/internal/link"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	MetricsBind   string
	JWTSigningKey string

	DBBackend db.Backend
	DBDSN     string

	// Decoder link
	LinkKind     string
	LinkDevice   string
	LinkBaudRate int
	LinkAddress  string

	// Optional YAML decoder profile; see Profile.
	ProfilePath string
	Profile     Profile

	HookTimeout time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event bridges
	NATSEnabled   bool
	NATSURL       string
	NATSToken     string
	NATSPrefix    string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("TALKCLOCK_ENV", "development"),
		HTTPBind:      getEnv("TALKCLOCK_HTTP_BIND", "127.0.0.1"),
		HTTPPort:      getEnvInt("TALKCLOCK_HTTP_PORT", 8380),
		MetricsBind:   getEnv("TALKCLOCK_METRICS_BIND", ""),
		JWTSigningKey: getEnv("TALKCLOCK_JWT_SIGNING_KEY", ""),

		DBBackend: db.Backend(getEnv("TALKCLOCK_DB_BACKEND", string(db.BackendSQLite))),
		DBDSN:     getEnv("TALKCLOCK_DB_DSN", "talkclock.db"),

		LinkKind:     getEnv("TALKCLOCK_LINK", link.KindSerial),
		LinkDevice:   getEnv("TALKCLOCK_SERIAL_DEVICE", "/dev/ttyAMA0"),
		LinkBaudRate: getEnvInt("TALKCLOCK_SERIAL_BAUD", 9600),
		LinkAddress:  getEnv("TALKCLOCK_LINK_ADDR", ""),

		ProfilePath: getEnv("TALKCLOCK_PROFILE", ""),
		HookTimeout: time.Duration(getEnvInt("TALKCLOCK_HOOK_TIMEOUT_MS", 2000)) * time.Millisecond,

		TracingEnabled:    getEnvBoolAny([]string{"TALKCLOCK_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TALKCLOCK_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TALKCLOCK_TRACING_SAMPLE_RATE"}, 1.0),

		NATSEnabled:   getEnvBoolAny([]string{"TALKCLOCK_NATS_ENABLED"}, false),
		NATSURL:       getEnvAny([]string{"TALKCLOCK_NATS_URL", "NATS_URL"}, "nats://127.0.0.1:4222"),
		NATSToken:     getEnvAny([]string{"TALKCLOCK_NATS_TOKEN", "NATS_TOKEN"}, ""),
		NATSPrefix:    getEnv("TALKCLOCK_NATS_PREFIX", "talkclock"),
		RedisEnabled:  getEnvBoolAny([]string{"TALKCLOCK_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"TALKCLOCK_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"TALKCLOCK_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"TALKCLOCK_REDIS_DB"}, 0),
		InstanceID:    getEnv("TALKCLOCK_INSTANCE_ID", ""),
	}

	switch cfg.DBBackend {
	case db.BackendSQLite, db.BackendPostgres, db.BackendMySQL:
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TALKCLOCK_DB_DSN must not be empty")
	}

	switch cfg.LinkKind {
	case link.KindSerial:
		if cfg.LinkDevice == "" {
			return nil, fmt.Errorf("TALKCLOCK_SERIAL_DEVICE must be provided for a serial link")
		}
		if cfg.LinkBaudRate <= 0 {
			return nil, fmt.Errorf("invalid TALKCLOCK_SERIAL_BAUD %d", cfg.LinkBaudRate)
		}
	case link.KindTCP:
		if cfg.LinkAddress == "" {
			return nil, fmt.Errorf("TALKCLOCK_LINK_ADDR must be provided for a tcp link")
		}
	default:
		return nil, fmt.Errorf("unsupported link %q", cfg.LinkKind)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("TALKCLOCK_JWT_SIGNING_KEY must be provided in production")
	}

	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		cfg.Profile = *p
	}
	if _, err := cfg.Player(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HTTPAddr is the control surface listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// Link returns the transport settings.
func (c *Config) Link() link.Config {
	return link.Config{
		Kind:        c.LinkKind,
		Device:      c.LinkDevice,
		BaudRate:    c.LinkBaudRate,
		Address:     c.LinkAddress,
		DialTimeout: 5 * time.Second,
	}
}

// Database returns the settings store connection settings.
func (c *Config) Database() db.Config {
	return db.Config{
		Backend: c.DBBackend,
		DSN:     c.DBDSN,
		Debug:   strings.EqualFold(c.Environment, "development") && getEnvBoolAny([]string{"TALKCLOCK_DB_DEBUG"}, false),
	}
}

// Tracer returns the tracing settings.
func (c *Config) Tracer(version string) telemetry.TracerConfig {
	return telemetry.TracerConfig{
		ServiceName:    "talkclock",
		ServiceVersion: version,
		OTLPEndpoint:   c.OTLPEndpoint,
		Enabled:        c.TracingEnabled,
		SampleRate:     c.TracingSampleRate,
	}
}

// NATS returns the NATS bridge settings.
func (c *Config) NATS() eventbus.NATSConfig {
	cfg := eventbus.DefaultNATSConfig()
	cfg.URL = c.NATSURL
	cfg.Token = c.NATSToken
	cfg.Prefix = c.NATSPrefix
	return cfg
}

// Redis returns the Redis bridge settings.
func (c *Config) Redis() eventbus.RedisConfig {
	cfg := eventbus.DefaultRedisConfig()
	cfg.Addr = c.RedisAddr
	cfg.Password = c.RedisPassword
	cfg.DB = c.RedisDB
	cfg.Prefix = c.NATSPrefix
	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
