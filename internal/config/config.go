// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the cmd binaries need to wire the engine.
type Config struct {
	GoEnv            string
	BackendBaseURL   string
	ProviderBaseURL  string
	ProviderKey      string
	CustomerKey      string
	StoragePath      string
	TrackInterval    time.Duration
	PayPollInterval  time.Duration
	PayPollAttempts  int
	DevServerAddr    string
	SimulatePayments bool
}

// Load reads .env.<GO_ENV> first, then .env, then falls back to the process
// environment. Missing files are fine; deployed environments set variables
// directly.
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	cfg := &Config{
		GoEnv:            env,
		BackendBaseURL:   getEnv("BACKEND_BASE_URL", "http://localhost:8080"),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", "http://localhost:8080"),
		ProviderKey:      getEnv("PROVIDER_KEY", ""),
		CustomerKey:      getEnv("CUSTOMER_KEY", ""),
		StoragePath:      getEnv("STORAGE_PATH", "orders.db"),
		TrackInterval:    getEnvDuration("TRACK_INTERVAL", 5*time.Second),
		PayPollInterval:  getEnvDuration("PAY_POLL_INTERVAL", 3*time.Second),
		PayPollAttempts:  getEnvInt("PAY_POLL_ATTEMPTS", 20),
		DevServerAddr:    getEnv("DEV_SERVER_ADDR", ":8080"),
		SimulatePayments: getEnvBool("SIMULATE_PAYMENTS", env == "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values. The provider key is only required once
// payments stop being simulated.
func (c *Config) Validate() error {
	if !c.SimulatePayments && c.ProviderKey == "" {
		return fmt.Errorf("PROVIDER_KEY is required when SIMULATE_PAYMENTS is off")
	}
	return nil
}

// IsDevelopment reports whether the engine runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction reports whether the engine runs in production mode.
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Invalid %s=%q, using default %t", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
	}
	return defaultValue
}
