package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	ServerPort    int
	ServerHost    string
	TransportMode string
	LogLevel      string
	LogFile       string
	ToolsFile     string
	Toolset       string

	QueryTimeout      time.Duration
	ConnectionMaxIdle time.Duration
	CleanupInterval   time.Duration

	// SlowQueryThreshold marks statements as slow in the query metrics
	SlowQueryThreshold time.Duration
	// QueryMetrics turns statement timing on or off
	QueryMetrics bool
}

// LoadEnvFile loads variables from a .env file when one exists. Variables
// already present in the environment win.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	queryTimeout, err := time.ParseDuration(getEnv("QUERY_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUERY_TIMEOUT: %w", err)
	}
	maxIdle, err := time.ParseDuration(getEnv("CONNECTION_MAX_IDLE", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECTION_MAX_IDLE: %w", err)
	}
	cleanup, err := time.ParseDuration(getEnv("CONNECTION_CLEANUP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONNECTION_CLEANUP_INTERVAL: %w", err)
	}

	slow, err := time.ParseDuration(getEnv("SLOW_QUERY_THRESHOLD", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLOW_QUERY_THRESHOLD: %w", err)
	}
	metrics, err := strconv.ParseBool(getEnv("QUERY_METRICS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUERY_METRICS: %w", err)
	}

	return &Config{
		ServerPort:        port,
		ServerHost:        getEnv("SERVER_HOST", "0.0.0.0"),
		TransportMode:     getEnv("TRANSPORT_MODE", "stdio"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		ToolsFile:         getEnv("TOOLS_CONFIG", ""),
		Toolset:           getEnv("TOOLSET", ""),
		QueryTimeout:      queryTimeout,
		ConnectionMaxIdle: maxIdle,
		CleanupInterval:   cleanup,

		SlowQueryThreshold: slow,
		QueryMetrics:       metrics,
	}, nil
}

// Address returns host:port for the network transports.
func (c *Config) Address() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
