// Package config loads process configuration from defaults, an optional
// YAML file and TAXLEDGER_* environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TAXLEDGER_REDIS_ADDR.
const EnvPrefix = "TAXLEDGER"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Session SessionConfig `mapstructure:"session"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Crypto  CryptoConfig  `mapstructure:"crypto"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// RedisConfig points at the key-value store. An empty Addr selects the
// in-memory store, which is only suitable for a single process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	GuestToken string        `mapstructure:"guest_token"`
	CookieName string        `mapstructure:"cookie_name"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// CryptoConfig holds the base64 AES key and IV. Both empty means a random
// pair is generated at startup.
type CryptoConfig struct {
	Key string `mapstructure:"key"`
	IV  string `mapstructure:"iv"`
}

type OracleConfig struct {
	Model              string `mapstructure:"model"`
	APIVersion         string `mapstructure:"api_version"`
	ExtractionMaxToken int    `mapstructure:"extraction_max_tokens"`
	AnalysisMaxToken   int    `mapstructure:"analysis_max_tokens"`
}

// RulesConfig optionally points at a YAML file replacing the built-in
// keyword tables.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig enables the ingestion audit trail. Empty bucket and project
// disable the respective sink.
type ArchiveConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	ProjectID       string        `mapstructure:"project_id"`
	Dataset         string        `mapstructure:"dataset"`
	Table           string        `mapstructure:"table"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Enabled reports whether any archive sink is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" || a.ProjectID != ""
}

// Load reads configuration. path may be empty, in which case only defaults and
// environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.guest_token", "GUEST")
	v.SetDefault("session.cookie_name", "session_id")
	v.SetDefault("session.key_prefix", "ledger:")

	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.key_prefix", "analysis")

	v.SetDefault("crypto.key", "")
	v.SetDefault("crypto.iv", "")

	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.api_version", "v1")
	v.SetDefault("oracle.extraction_max_tokens", 2500)
	v.SetDefault("oracle.analysis_max_tokens", 2500)

	v.SetDefault("rules.path", "")

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.project_id", "")
	v.SetDefault("archive.dataset", "taxledger")
	v.SetDefault("archive.table", "ingestion_runs")
	v.SetDefault("archive.credentials_file", "")
	v.SetDefault("archive.queue_size", 100)
	v.SetDefault("archive.workers", 2)
	v.SetDefault("archive.publish_timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	if c.Session.GuestToken == "" {
		return fmt.Errorf("config: session.guest_token must not be empty")
	}
	if c.Session.KeyPrefix == "" {
		return fmt.Errorf("config: session.key_prefix must not be empty")
	}
	cachePrefix := c.Cache.KeyPrefix + ":"
	if strings.HasPrefix(c.Session.KeyPrefix, cachePrefix) || strings.HasPrefix(cachePrefix, c.Session.KeyPrefix) {
		return fmt.Errorf("config: session.key_prefix %q overlaps cache.key_prefix %q", c.Session.KeyPrefix, c.Cache.KeyPrefix)
	}
	if c.Oracle.ExtractionMaxToken <= 0 || c.Oracle.AnalysisMaxToken <= 0 {
		return fmt.Errorf("config: oracle token limits must be positive")
	}
	if (c.Crypto.Key == "") != (c.Crypto.IV == "") {
		return fmt.Errorf("config: crypto.key and crypto.iv must be set together")
	}
	if c.Crypto.Key != "" {
		key, err := base64.StdEncoding.DecodeString(c.Crypto.Key)
		if err != nil {
			return fmt.Errorf("config: crypto.key is not base64: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("config: crypto.key must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
		iv, err := base64.StdEncoding.DecodeString(c.Crypto.IV)
		if err != nil {
			return fmt.Errorf("config: crypto.iv is not base64: %w", err)
		}
		if len(iv) != 16 {
			return fmt.Errorf("config: crypto.iv must decode to 16 bytes, got %d", len(iv))
		}
	}
	if c.Archive.ProjectID != "" && (c.Archive.Dataset == "" || c.Archive.Table == "") {
		return fmt.Errorf("config: archive.dataset and archive.table are required with archive.project_id")
	}
	return nil
}
