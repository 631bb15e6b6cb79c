package config

import (
	"encoding/hex"
	"fmt"
	"os"
)

// Config holds service configuration.
type Config struct {
	Port          string
	LogLevel      string
	Environment   string
	DatabaseURL   string
	RedisAddr     string
	PolicyPath    string
	ProfilesDir   string
	OTLPEndpoint  string
	SealMasterKey []byte
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	env := os.Getenv("VERITY_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://verity@localhost:5432/verity?sslmode=disable"
	}

	cfg := &Config{
		Port:         port,
		LogLevel:     logLevel,
		Environment:  env,
		DatabaseURL:  dbURL,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		PolicyPath:   os.Getenv("EVIDENCE_POLICY_PATH"),
		ProfilesDir:  os.Getenv("TENANT_PROFILES_DIR"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if raw := os.Getenv("SEAL_MASTER_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("SEAL_MASTER_KEY: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("SEAL_MASTER_KEY: want 32 bytes, got %d", len(key))
		}
		cfg.SealMasterKey = key
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
