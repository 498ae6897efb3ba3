package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/jamblive/jamblive/internal/engine"
	"github.com/jamblive/jamblive/internal/gateway"
	"github.com/jamblive/jamblive/internal/realtime"
	"github.com/jamblive/jamblive/internal/scorecard"
)

// Config is the optional YAML config file. Anything unset falls back to
// defaults; database and broker endpoints come from the environment.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Presence struct {
		GraceWindowSeconds  int `yaml:"grace_window_seconds"`
		WarmupWindowSeconds int `yaml:"warmup_window_seconds"`
	} `yaml:"presence"`
	Reconnect struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"reconnect"`
	TiePolicy string `yaml:"tie_policy"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDatabaseConfigFromEnv reads DB_* environment variables (with defaults).
func NewDatabaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "jamblive"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) serverConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	if c.Server.Addr != "" {
		cfg.Addr = c.Server.Addr
	}
	if len(c.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.Server.AllowedOrigins
	}
	return cfg
}

func (c *Config) channelConfig(dsn string) realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.DatabaseURL = dsn
	cfg.NatsURL = getEnv("NATS_URL", nats.DefaultURL)
	return cfg
}

func (c *Config) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if c.Presence.GraceWindowSeconds > 0 {
		cfg.Presence.GraceWindow = time.Duration(c.Presence.GraceWindowSeconds) * time.Second
	}
	if c.Presence.WarmupWindowSeconds > 0 {
		cfg.Presence.WarmupWindow = time.Duration(c.Presence.WarmupWindowSeconds) * time.Second
	}
	if c.Reconnect.MaxAttempts > 0 {
		cfg.Reconnect.MaxAttempts = c.Reconnect.MaxAttempts
	}
	if c.TiePolicy == "last_in_turn_order" {
		cfg.TiePolicy = scorecard.TieLastInTurnOrder
	}
	return cfg
}
