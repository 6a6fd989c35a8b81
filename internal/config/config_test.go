package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingDefaultFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Store.Backend)
	assert.Equal(t, "hymn-chat", cfg.Mongo.Database)
	assert.Equal(t, "gemini-2.5-pro", cfg.ActiveProvider().Model)
	assert.Equal(t, 10, cfg.BasicConfig.MaxUploadMB)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadResolvesRelativeSQLitePath(t *testing.T) {
	path := writeConfig(t, `{"store":{"backend":"sqlite3"},"databases":{"sqlite3":{"dsn":"data/chat.db"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/chat.db"), cfg.Databases.SQLite3.DSN)
}

func TestLoadKeepsMemoryDSN(t *testing.T) {
	path := writeConfig(t, `{"databases":{"sqlite3":{"dsn":":memory:"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Databases.SQLite3.DSN)
}

func TestLoadAppliesEnvKeys(t *testing.T) {
	path := writeConfig(t, `{
		"provider": "claude",
		"providers": {
			"claude": {"kind": "eino", "vendor": "claude", "model": "claude-sonnet-4-5"},
			"gpt": {"kind": "openai", "model": "gpt-4o", "api_key": "from-file"}
		}
	}`)
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-env")
	t.Setenv("OPENAI_API_KEY", "openai-env")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic-env", cfg.Providers["claude"].APIKey)
	assert.Equal(t, "from-file", cfg.Providers["gpt"].APIKey)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Store.Backend = "cassandra" },
		"firestore no project": func(c *Config) { c.Store.Backend = "firestore" },
		"unknown provider":     func(c *Config) { c.Provider = "missing" },
		"bad kind": func(c *Config) {
			c.Providers["gemini"] = ProviderConfig{Kind: "bard", Model: "x"}
		},
		"bad eino vendor": func(c *Config) {
			c.Providers["gemini"] = ProviderConfig{Kind: "eino", Vendor: "cohere", Model: "x"}
		},
		"no model": func(c *Config) {
			c.Providers["gemini"] = ProviderConfig{Kind: "gemini"}
		},
		"zero upload": func(c *Config) { c.BasicConfig.MaxUploadMB = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadWithOverridesBeforeValidation(t *testing.T) {
	// firestore without a project id is invalid on its own
	path := writeConfig(t, `{"store":{"backend":"firestore"}}`)

	_, err := Load(path)
	require.Error(t, err)

	cfg, err := LoadWith(path, Overrides{Store: "memory", Addr: ":9000"})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
}

func TestLoadWithProviderOverrideIsValidated(t *testing.T) {
	path := writeConfig(t, `{
		"provider": "broken",
		"providers": {
			"broken": {"kind": "gemini"},
			"gpt": {"kind": "openai", "model": "gpt-4o"}
		}
	}`)

	_, err := Load(path)
	require.Error(t, err)

	cfg, err := LoadWith(path, Overrides{Provider: "gpt"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.ActiveProvider().Model)

	_, err = LoadWith(path, Overrides{Provider: "missing"})
	assert.ErrorContains(t, err, `provider "missing"`)
}
