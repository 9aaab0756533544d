package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-file configuration. Credentials come from the
// environment, never from the file.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Gateway struct {
		PingIntervalSec int `yaml:"ping_interval_sec"`
		MissedPingLimit int `yaml:"missed_ping_limit"`
	} `yaml:"gateway"`

	Storage struct {
		Backend            string `yaml:"backend"` // "s3" or "memory"
		Bucket             string `yaml:"bucket"`
		Endpoint           string `yaml:"endpoint"`
		Region             string `yaml:"region"`
		PendingPrefix      string `yaml:"pending_prefix"`
		PublicPrefix       string `yaml:"public_prefix"`
		PublicBaseURL      string `yaml:"public_base_url"`
		PromoteAttempts    int    `yaml:"promote_attempts"`
		PromoteIntervalSec int    `yaml:"promote_interval_sec"`
	} `yaml:"storage"`

	Events struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`

	Ledger struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"ledger"`
}

// dbConfig holds Postgres connection settings for the token ledger.
// Read from DB_* environment variables, never from the config file.
type dbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func dbConfigFromEnv() dbConfig {
	return dbConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "modqueue"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// dsn returns the Postgres connection URL.
func (c dbConfig) dsn() string {
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
			// No config file: run on defaults and environment.
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}
