package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultPath = "config.json"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `json:"basic_config"`
	Store        StoreConfig               `json:"store"`
	Databases    DatabasesConfig           `json:"databases"`
	Mongo        MongoConfig               `json:"mongo"`
	Firestore    FirestoreConfig           `json:"firestore"`
	Redis        RedisConfig               `json:"redis"`
	Provider     string                    `json:"provider"`
	Providers    map[string]ProviderConfig `json:"providers"`
	SystemPrompt string                    `json:"system_prompt"`
	Log          LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	MaxUploadMB   int    `json:"max_upload_mb"`
}

type StoreConfig struct {
	Backend string `json:"backend"`
}

type DatabasesConfig struct {
	SQLite3 SQLiteConfig `json:"sqlite3"`
	MySQL   MySQLConfig  `json:"mysql"`
}

type SQLiteConfig struct {
	DSN string `json:"dsn"`
}

type MySQLConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type MongoConfig struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

type FirestoreConfig struct {
	ProjectID  string `json:"project_id"`
	Collection string `json:"collection"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ProviderConfig describes one model provider entry.
// Kind is one of gemini, openai or eino; Vendor only matters for eino.
type ProviderConfig struct {
	Kind           string `json:"kind"`
	Vendor         string `json:"vendor"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	WebSearch      bool   `json:"web_search"`
}

type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{ServerAddress: ":8000", MaxUploadMB: 10},
		Store:       StoreConfig{Backend: "sqlite3"},
		Databases: DatabasesConfig{
			SQLite3: SQLiteConfig{DSN: "inara.db"},
			MySQL:   MySQLConfig{Host: "127.0.0.1", Port: 3306, DBName: "inara", Params: "parseTime=true&charset=utf8mb4"},
		},
		Mongo:     MongoConfig{URI: "mongodb://localhost:27017", Database: "hymn-chat", Collection: "sessions"},
		Firestore: FirestoreConfig{Collection: "sessions"},
		Redis:     RedisConfig{Host: "127.0.0.1", Port: 6379, TTLSeconds: 300},
		Provider:  "gemini",
		Providers: map[string]ProviderConfig{
			"gemini": {Kind: "gemini", Model: "gemini-2.5-pro"},
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxAgeDays: 14},
	}
}

// Overrides are command line or environment values that replace file settings.
// Empty fields leave the file value in place.
type Overrides struct {
	Store    string
	Provider string
	Addr     string
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	return LoadWith(path, Overrides{})
}

// LoadWith reads configuration from path, applies the overrides, then validates.
func LoadWith(path string, o Overrides) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes the configuration at path (defaults to config.json) and overlays
// the environment, without validating. A missing default file yields Default();
// a missing explicit path is an error.
func Read(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if dsn := cfg.Databases.SQLite3.DSN; dsn != "" && !isMemoryDSN(dsn) && !filepath.IsAbs(dsn) && !strings.HasPrefix(dsn, "file:") {
			cfg.Databases.SQLite3.DSN = filepath.Join(filepath.Dir(absPath), dsn)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyOverrides replaces the store backend, provider and listen address.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Store != "" {
		c.Store.Backend = o.Store
	}
	if o.Provider != "" {
		c.Provider = o.Provider
	}
	if o.Addr != "" {
		c.BasicConfig.ServerAddress = o.Addr
	}
}

// ApplyEnv overlays the well-known provider and store variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	keys := map[string]string{
		"gemini": getenv("GOOGLE_API_KEY"),
		"openai": getenv("OPENAI_API_KEY"),
		"claude": getenv("ANTHROPIC_API_KEY"),
	}
	for name, p := range c.Providers {
		if p.APIKey != "" {
			continue
		}
		vendor := p.Kind
		if p.Kind == "eino" {
			vendor = p.Vendor
		}
		if key := keys[vendor]; key != "" {
			p.APIKey = key
			c.Providers[name] = p
		}
	}
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite3", "mysql", "mongo", "firestore", "memory":
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "firestore" && c.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore.project_id must be configured")
	}
	if c.Store.Backend == "sqlite3" && c.Databases.SQLite3.DSN == "" {
		return fmt.Errorf("databases.sqlite3.dsn must be configured")
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		return fmt.Errorf("basic_config.max_upload_mb must be positive")
	}
	p, ok := c.Providers[c.Provider]
	if !ok {
		return fmt.Errorf("provider %q is not defined in providers", c.Provider)
	}
	switch p.Kind {
	case "gemini", "openai":
	case "eino":
		switch p.Vendor {
		case "openai", "gemini", "claude":
		default:
			return fmt.Errorf("provider %q: unsupported eino vendor %q", c.Provider, p.Vendor)
		}
	default:
		return fmt.Errorf("provider %q: unsupported kind %q", c.Provider, p.Kind)
	}
	if p.Model == "" {
		return fmt.Errorf("provider %q: model must be configured", c.Provider)
	}
	return nil
}

// ActiveProvider returns the provider entry selected by Provider.
func (c *Config) ActiveProvider() ProviderConfig {
	return c.Providers[c.Provider]
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
