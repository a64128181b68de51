// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultSystemPrompt is sent to the upstream provider when the operator
// has not configured one.
const DefaultSystemPrompt = "You are a concise assistant embedded in the operator's project dashboard. " +
	"Answer directly and keep formatting light."

// Settings holds all application configuration.
type Settings struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Chat     ChatConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// ChatConfig holds chat relay configuration.
type ChatConfig struct {
	SystemPrompt    string
	MaxMessageBytes int
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	Path string
}

// New creates settings, loading values from environment variables.
// Returns an error if environment variables contain invalid values.
func New() (Settings, error) {
	shutdownTimeout, err := getEnvDuration("ATELIER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Settings{}, err
	}

	maxMessageBytes, err := getEnvInt("ATELIER_MAX_MESSAGE_BYTES", 100_000)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		HTTP: HTTPConfig{
			Addr:            getEnvString("ATELIER_ADDR", "127.0.0.1:8484"),
			ShutdownTimeout: shutdownTimeout,
		},
		Database: DatabaseConfig{
			Path: getEnvString("ATELIER_DB_PATH", "atelier.db"),
		},
		Chat: ChatConfig{
			SystemPrompt:    getEnvString("ATELIER_SYSTEM_PROMPT", DefaultSystemPrompt),
			MaxMessageBytes: maxMessageBytes,
		},
	}, nil
}

// MustNew creates settings, panicking on invalid environment values.
// Use this only when configuration errors should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
