// Package config loads the sidecar configuration: a YAML file merged over
// defaults, then OPENLEASH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Tokens    TokensConfig    `yaml:"tokens" json:"tokens"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Nonce     NonceConfig     `yaml:"nonce" json:"nonce"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

type ServerConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"`
}

type AdminConfig struct {
	Mode             string `yaml:"mode" json:"mode"`
	Token            string `yaml:"token" json:"-"`
	AllowRemoteAdmin bool   `yaml:"allow_remote_admin" json:"allow_remote_admin"`
}

type SecurityConfig struct {
	NonceTTLSeconds      int `yaml:"nonce_ttl_seconds" json:"nonce_ttl_seconds"`
	ClockSkewSeconds     int `yaml:"clock_skew_seconds" json:"clock_skew_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
}

type TokensConfig struct {
	Format            string `yaml:"format" json:"format"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
	MaxTTLSeconds     int    `yaml:"max_ttl_seconds" json:"max_ttl_seconds"`
}

// StoreConfig selects the state database. An empty DSN with the sqlite
// driver means <data_dir>/openleash.db.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

type NonceConfig struct {
	Backend       string `yaml:"backend" json:"backend"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
}

// AuditConfig selects where audit events go: "file" (JSONL under data_dir),
// "store" (the state database) or "both".
type AuditConfig struct {
	Sink string `yaml:"sink" json:"sink"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Exporter     string `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Server:  ServerConfig{BindAddress: "127.0.0.1:8787"},
		Admin:   AdminConfig{Mode: "localhost_or_token"},
		Security: SecurityConfig{
			NonceTTLSeconds:      600,
			ClockSkewSeconds:     120,
			SweepIntervalSeconds: 60,
		},
		Tokens: TokensConfig{
			Format:            "paseto_v4_public",
			DefaultTTLSeconds: 120,
			MaxTTLSeconds:     3600,
		},
		Store:     StoreConfig{Driver: "sqlite"},
		Nonce:     NonceConfig{Backend: "memory", RedisAddr: "localhost:6379"},
		Audit:     AuditConfig{Sink: "file"},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Log:       LogConfig{Level: "INFO", Format: "json"},
		Telemetry: TelemetryConfig{
			Exporter:     "prometheus",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			ServiceName:  "openleash",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup("OPENLEASH_" + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup("OPENLEASH_" + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("OPENLEASH_%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup("OPENLEASH_" + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("OPENLEASH_%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	str("DATA_DIR", &c.DataDir)
	str("BIND_ADDRESS", &c.Server.BindAddress)
	str("ADMIN_MODE", &c.Admin.Mode)
	str("ADMIN_TOKEN", &c.Admin.Token)
	flag("ALLOW_REMOTE_ADMIN", &c.Admin.AllowRemoteAdmin)
	num("NONCE_TTL_SECONDS", &c.Security.NonceTTLSeconds)
	num("CLOCK_SKEW_SECONDS", &c.Security.ClockSkewSeconds)
	str("TOKEN_FORMAT", &c.Tokens.Format)
	num("TOKEN_DEFAULT_TTL_SECONDS", &c.Tokens.DefaultTTLSeconds)
	num("TOKEN_MAX_TTL_SECONDS", &c.Tokens.MaxTTLSeconds)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("NONCE_BACKEND", &c.Nonce.Backend)
	str("REDIS_ADDR", &c.Nonce.RedisAddr)
	str("REDIS_PASSWORD", &c.Nonce.RedisPassword)
	str("AUDIT_SINK", &c.Audit.Sink)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	flag("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	str("TELEMETRY_EXPORTER", &c.Telemetry.Exporter)
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string
	bad := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Server.BindAddress == "" {
		bad("server.bind_address is required")
	}
	switch c.Admin.Mode {
	case "localhost", "localhost_or_token":
	case "token":
		if c.Admin.Token == "" {
			bad("admin.token is required when admin.mode is token")
		}
	default:
		bad("admin.mode must be localhost, token or localhost_or_token")
	}
	if c.Security.NonceTTLSeconds <= 0 {
		bad("security.nonce_ttl_seconds must be positive")
	}
	if c.Security.ClockSkewSeconds <= 0 {
		bad("security.clock_skew_seconds must be positive")
	}
	if c.Security.SweepIntervalSeconds <= 0 {
		bad("security.sweep_interval_seconds must be positive")
	}
	switch c.Tokens.Format {
	case "paseto_v4_public", "jwt_eddsa":
	default:
		bad("tokens.format must be paseto_v4_public or jwt_eddsa")
	}
	if c.Tokens.DefaultTTLSeconds <= 0 {
		bad("tokens.default_ttl_seconds must be positive")
	}
	if c.Tokens.MaxTTLSeconds < c.Tokens.DefaultTTLSeconds {
		bad("tokens.max_ttl_seconds must be at least tokens.default_ttl_seconds")
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			bad("store.dsn is required for postgres")
		}
	default:
		bad("store.driver must be sqlite or postgres")
	}
	switch c.Nonce.Backend {
	case "memory":
	case "redis":
		if c.Nonce.RedisAddr == "" {
			bad("nonce.redis_addr is required for the redis backend")
		}
	default:
		bad("nonce.backend must be memory or redis")
	}
	switch c.Audit.Sink {
	case "file", "store", "both":
	default:
		bad("audit.sink must be file, store or both")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		bad("rate_limit values must not be negative")
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		bad("log.level must be DEBUG, INFO, WARN or ERROR")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		bad("log.format must be json or text")
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "prometheus":
		case "otlp":
			if c.Telemetry.OTLPEndpoint == "" {
				bad("telemetry.otlp_endpoint is required for the otlp exporter")
			}
		default:
			bad("telemetry.exporter must be prometheus or otlp")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StoreDSN resolves the state database DSN.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" || c.Store.Driver != "sqlite" {
		return c.Store.DSN
	}
	return filepath.Join(c.DataDir, "openleash.db")
}

// AuditLogPath is the JSONL audit log location.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "audit.log.jsonl")
}

// Sanitized is the config as exposed to admins: secrets replaced by flags.
func (c *Config) Sanitized() map[string]any {
	return map[string]any{
		"server": c.Server,
		"admin": map[string]any{
			"mode":               c.Admin.Mode,
			"token_set":          c.Admin.Token != "",
			"allow_remote_admin": c.Admin.AllowRemoteAdmin,
		},
		"security":   c.Security,
		"tokens":     c.Tokens,
		"store":      map[string]any{"driver": c.Store.Driver, "dsn_set": c.Store.DSN != ""},
		"nonce":      c.Nonce,
		"audit":      c.Audit,
		"rate_limit": c.RateLimit,
		"log":        c.Log,
		"telemetry":  c.Telemetry,
	}
}

// WriteDefault writes the default configuration to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	return Write(path, Default(), false)
}

// Write marshals cfg to path.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
