package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "GUEST", cfg.Session.GuestToken)
	assert.Equal(t, "session_id", cfg.Session.CookieName)
	assert.Equal(t, "ledger:", cfg.Session.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Archive.PublishTimeout)
	assert.Equal(t, "gemini-2.5-flash", cfg.Oracle.Model)
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxledger.yaml")
	content := `
redis:
  addr: "localhost:6379"
session:
  ttl: 2h
cache:
  ttl: 30m
crypto:
  key: "AAAAAAAAAAAAAAAAAAAAAA=="
  iv: "AAAAAAAAAAAAAAAAAAAAAA=="
archive:
  bucket: "ledger-archive"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TAXLEDGER_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Archive.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero session ttl", mutate: func(c *Config) { c.Session.TTL = 0 }},
		{name: "negative cache ttl", mutate: func(c *Config) { c.Cache.TTL = -time.Second }},
		{name: "empty guest token", mutate: func(c *Config) { c.Session.GuestToken = "" }},
		{name: "key without iv", mutate: func(c *Config) { c.Crypto.Key = "AAAAAAAAAAAAAAAAAAAAAA==" }},
		{name: "short key", mutate: func(c *Config) {
			c.Crypto.Key = "AAAA"
			c.Crypto.IV = "AAAAAAAAAAAAAAAAAAAAAA=="
		}},
		{name: "bad iv length", mutate: func(c *Config) {
			c.Crypto.Key = "AAAAAAAAAAAAAAAAAAAAAA=="
			c.Crypto.IV = "AAAA"
		}},
		{name: "empty session key prefix", mutate: func(c *Config) { c.Session.KeyPrefix = "" }},
		{name: "session prefix inside cache namespace", mutate: func(c *Config) { c.Session.KeyPrefix = "analysis:" }},
		{name: "session prefix covering cache namespace", mutate: func(c *Config) { c.Session.KeyPrefix = "ana" }},
		{name: "project without table", mutate: func(c *Config) {
			c.Archive.ProjectID = "p"
			c.Archive.Table = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
