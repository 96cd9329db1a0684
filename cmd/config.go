package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/viper"
)

// PostgresConfig holds the target connection settings. A non-empty
// ConnectionString wins over the individual parts.
type PostgresConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Database         string `mapstructure:"database"`
	User             string `mapstructure:"user"`
	Password         string `mapstructure:"password"`
	ConnectionString string `mapstructure:"connection_string"`
	SSL              bool   `mapstructure:"ssl"`
	Schema           string `mapstructure:"schema"`
	MaxConnections   int    `mapstructure:"max_connections"`
}

// Config is the resolved tool configuration (Flag > Env > Config > Default).
type Config struct {
	SQLitePath string         `mapstructure:"-"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// LoadConfig materializes the viper state into a Config.
func LoadConfig() (*Config, error) {
	var pg PostgresConfig
	if err := viper.UnmarshalKey("postgres", &pg); err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	return &Config{
		SQLitePath: viper.GetString("sqlite.path"),
		Postgres:   pg,
	}, nil
}

// ValidateSource checks that the SQLite path is set and exists.
func (c *Config) ValidateSource() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required (--sqlite-path, SQLITE_PATH or config)")
	}
	if _, err := os.Stat(c.SQLitePath); err != nil {
		return fmt.Errorf("sqlite database not found: %w", err)
	}
	return nil
}

// ValidateTarget checks that enough is set to build a target DSN.
func (c *Config) ValidateTarget() error {
	if c.Postgres.ConnectionString != "" {
		return nil
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("postgres database is required (--pg-database, PG_DATABASE or config)")
	}
	return nil
}

// DSN builds the lib/pq connection URL.
func (c *Config) DSN() string {
	if c.Postgres.ConnectionString != "" {
		return c.Postgres.ConnectionString
	}
	sslmode := "disable"
	if c.Postgres.SSL {
		sslmode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.Database,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}
