package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Audit     AuditConfig     `koanf:"audit"`
	CORS      CORSConfig      `koanf:"cors"`
}

type AuthConfig struct {
	DevMode bool          `koanf:"devmode"`
	Dev     DevAuthConfig `koanf:"dev"`
	JWT     JWTConfig     `koanf:"jwt"`
}

// DevAuthConfig is the identity accepted for "Bearer dev" when DevMode is on.
type DevAuthConfig struct {
	UserID         string `koanf:"userid"`
	OrganizationID string `koanf:"organizationid"`
}

type JWTConfig struct {
	SigningKey         string `koanf:"signingkey"`
	Issuer             string `koanf:"issuer"`
	ExpiryHours        int    `koanf:"expiryhours"`
	RefreshExpiryHours int    `koanf:"refreshexpiryhours"`
}

type ServerConfig struct {
	Host                string `koanf:"host"`
	Port                int    `koanf:"port"`
	ShutdownTimeoutSecs int    `koanf:"shutdown_timeout_secs"`
}

type DatabaseConfig struct {
	URL                string `koanf:"url"`
	MaxConns           int    `koanf:"max_conns"`
	MinConns           int    `koanf:"min_conns"`
	StatementTimeoutMS int    `koanf:"statement_timeout_ms"`
	AutoMigrate        bool   `koanf:"auto_migrate"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"rps"`
	Burst             int     `koanf:"burst"`
	IdleTTLSecs       int     `koanf:"idle_ttl_secs"`
}

type AuditConfig struct {
	BufferSize       int `koanf:"buffer_size"`
	BatchSize        int `koanf:"batch_size"`
	FlushIntervalMS  int `koanf:"flush_interval_ms"`
	ListDefaultLimit int `koanf:"list_default_limit"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"server.shutdown_timeout_secs":  15,
		"database.max_conns":            25,
		"database.min_conns":            2,
		"database.statement_timeout_ms": 5000,
		"database.auto_migrate":         true,
		"log.level":                     "info",
		"log.format":                    "json",
		"auth.devmode":                  false,
		"auth.dev.userid":               "dev-user",
		"auth.dev.organizationid":       "dev-org",
		"auth.jwt.issuer":               "xtmate",
		"auth.jwt.expiryhours":          24,
		"auth.jwt.refreshexpiryhours":   168,
		"ratelimit.enabled":             true,
		"ratelimit.rps":                 20.0,
		"ratelimit.burst":               40,
		"ratelimit.idle_ttl_secs":       600,
		"audit.buffer_size":             1024,
		"audit.batch_size":              100,
		"audit.flush_interval_ms":       500,
		"audit.list_default_limit":      50,
		"cors.allowed_origins":          []string{"http://localhost:3000"},
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// XTMATE_SERVER_PORT -> server.port
	// XTMATE_DATABASE_AUTO_MIGRATE -> database.auto_migrate
	known := envKeys(k.Keys())
	_ = k.Load(env.Provider("XTMATE_", ".", func(s string) string {
		key := strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "XTMATE_")),
			"_", ".",
		)
		if original, ok := known[key]; ok {
			return original
		}
		return key
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKeys maps the all-dots spelling of each key to the key itself, so env
// variables can reach keys whose names contain underscores.
func envKeys(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ReplaceAll(key, "_", ".")] = key
	}
	return out
}

func (c *Config) validate() error {
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.rps must be positive when rate limiting is enabled, got %v", c.RateLimit.RequestsPerSecond)
	}
	return nil
}
