package database

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds database configuration.
type Config struct {
	// URL takes precedence over the discrete fields when set.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Schema pins every connection to a tenant schema via search_path.
	// Empty means the default schema (public).
	Schema string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
// DATABASE_URL wins; DB_* keys are the fallback for local development.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "jarvis"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "jarvis"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// WithSchema returns a copy of the config pinned to a tenant schema.
func (c Config) WithSchema(schema string) Config {
	c.Schema = schema
	return c
}

// DSN builds a pgx-compatible connection string. When Schema is set, the
// search_path is applied at the connection level so no statement can land
// in the default schema.
func (c Config) DSN() string {
	if c.URL != "" {
		if c.Schema == "" {
			return c.URL
		}
		sep := "?"
		if strings.Contains(c.URL, "?") {
			sep = "&"
		}
		return c.URL + sep + "options=" + url.QueryEscape(searchPathOption(c.Schema))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if c.Schema != "" {
		dsn += fmt.Sprintf(" options='%s'", searchPathOption(c.Schema))
	}
	return dsn
}

func searchPathOption(schema string) string {
	return fmt.Sprintf("-csearch_path=%s,public", schema)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
