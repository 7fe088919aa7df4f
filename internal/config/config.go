// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds process configuration: infrastructure settings plus the
// target composition. Strategy parameters live in AutorebalanceConfig.
type Config struct {
	DataDir         string // Directory for the order journal (always absolute)
	LogLevel        string
	LogPretty       bool
	StatusPort      int // 0 disables the status server
	GatewayURL      string
	GatewayClientID int
	SessionLoop     bool // Run sessions only inside the trading window, forever
	NotifyDesktop   bool
	DevMode         bool // Uncompressed status responses
	Composition     *domain.Composition
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	compSpec := getEnv("COMPOSITION", "")
	if compSpec == "" {
		return nil, fmt.Errorf("%w: COMPOSITION is required", domain.ErrConfigInvalid)
	}
	comp, err := domain.ParseComposition(compSpec)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         absDataDir,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnvAsBool("LOG_PRETTY", true),
		StatusPort:      getEnvAsInt("STATUS_PORT", 8010),
		GatewayURL:      getEnv("GATEWAY_URL", "ws://127.0.0.1:7497/ws"),
		GatewayClientID: getEnvAsInt("GATEWAY_CLIENT_ID", 1337),
		SessionLoop:     getEnvAsBool("SESSION_LOOP", false),
		NotifyDesktop:   getEnvAsBool("NOTIFY_DESKTOP", false),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		Composition:     comp,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks infrastructure settings
func (c *Config) Validate() error {
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("%w: STATUS_PORT %d out of range", domain.ErrConfigInvalid, c.StatusPort)
	}
	if !strings.HasPrefix(c.GatewayURL, "ws://") && !strings.HasPrefix(c.GatewayURL, "wss://") {
		return fmt.Errorf("%w: GATEWAY_URL must be a ws:// or wss:// URL", domain.ErrConfigInvalid)
	}
	return nil
}

// JournalPath is the order journal database file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// Required keys have no defaults: absent or malformed is fatal.

func requireEnv(key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrConfigInvalid, key)
	}
	return value, nil
}

func requireFloat(key string) (float64, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, key, err)
	}
	return v, nil
}

func requireInt(key string) (int, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, key, err)
	}
	return v, nil
}

func requireBool(key string) (bool, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrConfigInvalid, key, err)
	}
	return v, nil
}

func requireSeconds(key string) (time.Duration, error) {
	v, err := requireFloat(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}
