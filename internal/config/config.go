package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	SSLMode       string
	RedisHost     string
	RedisPort     string
	NatsHost      string
	NatsPort      string
	ApiPort       string
	ApiEnabled    string
	SweepSeconds  int
	MaxAgeSeconds int
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if LEDGER_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start. Postgres, Redis, and NATS
// are all required.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("LEDGER_POSTGRES_USER"),
		DBPass:        os.Getenv("LEDGER_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("LEDGER_POSTGRES_HOST"),
		DBPort:        os.Getenv("LEDGER_POSTGRES_PORT"),
		DBName:        os.Getenv("LEDGER_POSTGRES_DB"),
		SSLMode:       os.Getenv("LEDGER_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("LEDGER_REDIS_HOST"),
		RedisPort:     os.Getenv("LEDGER_REDIS_PORT"),
		NatsHost:      os.Getenv("LEDGER_NATS_HOST"),
		NatsPort:      os.Getenv("LEDGER_NATS_PORT"),
		ApiPort:       os.Getenv("LEDGER_API_PORT"),
		ApiEnabled:    os.Getenv("LEDGER_API_ENABLED"),
		SweepSeconds:  getEnvInt("LEDGER_SWEEP_INTERVAL_SECONDS", 60),
		MaxAgeSeconds: getEnvInt("LEDGER_RESERVATION_MAX_AGE_SECONDS", 900),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: LEDGER_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: LEDGER_REDIS_HOST/PORT")
	}

	// Required: nats (the committed-batch bus)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: LEDGER_NATS_HOST/PORT")
	}

	if cfg.SweepSeconds <= 0 || cfg.MaxAgeSeconds <= 0 {
		return nil, fmt.Errorf("sweep interval and reservation max age must be positive")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if LEDGER_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("LEDGER_API_PORT is required when LEDGER_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (LEDGER_API_ENABLED != true)")
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

func (c *Config) ReservationMaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
