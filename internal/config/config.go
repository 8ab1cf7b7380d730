// Package config loads the store configuration from CHESSDB_* environment
// variables, optionally overlaid by a YAML file named in CHESSDB_CONFIG.
// File values win over the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Backend selects the storage engine.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

type Config struct {
	Backend Backend `yaml:"backend"`

	// PostgreSQL credentials. ConnStr wins when set; otherwise a
	// keyword/value DSN is assembled from the parts.
	ConnStr string `yaml:"conn_str"`
	Name    string `yaml:"name"`
	User    string `yaml:"user"`
	Pass    string `yaml:"pass"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`

	SQLitePath string `yaml:"sqlite_path"`
	RedisURL   string `yaml:"redis_url"`
}

var errNoCredentials = errors.New(
	"database credentials are not configured: set CHESSDB_CONN_STR, or CHESSDB_NAME with CHESSDB_USER and CHESSDB_PASS")

func Load() (*Config, error) {
	cfg := &Config{
		Backend: BackendPostgres,
		Host:    "localhost",
		Port:    "5432",
	}

	if v := strings.TrimSpace(os.Getenv("CHESSDB_BACKEND")); v != "" {
		cfg.Backend = Backend(strings.ToLower(v))
	}
	cfg.ConnStr = strings.TrimSpace(os.Getenv("CHESSDB_CONN_STR"))
	cfg.Name = strings.TrimSpace(os.Getenv("CHESSDB_NAME"))
	cfg.User = strings.TrimSpace(os.Getenv("CHESSDB_USER"))
	cfg.Pass = strings.TrimSpace(os.Getenv("CHESSDB_PASS"))
	if v := strings.TrimSpace(os.Getenv("CHESSDB_HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSDB_PORT")); v != "" {
		cfg.Port = v
	}
	cfg.SQLitePath = strings.TrimSpace(os.Getenv("CHESSDB_SQLITE_PATH"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if path := strings.TrimSpace(os.Getenv("CHESSDB_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays non-empty values from a YAML file.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var over Config
	if err := yaml.Unmarshal(raw, &over); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if over.Backend != "" {
		c.Backend = Backend(strings.ToLower(string(over.Backend)))
	}
	if over.ConnStr != "" {
		c.ConnStr = over.ConnStr
	}
	if over.Name != "" {
		c.Name = over.Name
	}
	if over.User != "" {
		c.User = over.User
	}
	if over.Pass != "" {
		c.Pass = over.Pass
	}
	if over.Host != "" {
		c.Host = over.Host
	}
	if over.Port != "" {
		c.Port = over.Port
	}
	if over.SQLitePath != "" {
		c.SQLitePath = over.SQLitePath
	}
	if over.RedisURL != "" {
		c.RedisURL = over.RedisURL
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.ConnStr == "" && (c.Name == "" || c.User == "" || c.Pass == "") {
			return errNoCredentials
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("CHESSDB_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() (string, error) {
	if c.ConnStr != "" {
		return c.ConnStr, nil
	}
	if c.Name == "" || c.User == "" || c.Pass == "" {
		return "", errNoCredentials
	}
	return fmt.Sprintf("dbname='%s' user='%s' password='%s' host='%s' port='%s'",
		c.Name, c.User, c.Pass, c.Host, c.Port), nil
}

// AdminDSN is the DSN for the server's maintenance database, used when
// creating the configured database itself.
func (c *Config) AdminDSN() (string, error) {
	if c.User == "" || c.Pass == "" {
		return "", errNoCredentials
	}
	return fmt.Sprintf("dbname='postgres' user='%s' password='%s' host='%s' port='%s'",
		c.User, c.Pass, c.Host, c.Port), nil
}
