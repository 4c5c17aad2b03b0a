package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// envPrefix namespaces the rate limit variables.
const envPrefix = "AUTOFILL_RATE_LIMIT_"

// LoadConfig loads rate limiting configuration from environment variables.
func LoadConfig(getenv func(string) string) *Config {
	if !getEnvBool(getenv, "ENABLED", true) {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt(getenv, "DEFAULT_LIMIT", 600),
		DefaultWindow:   getEnvDuration(getenv, "DEFAULT_WINDOW", time.Minute),
		CleanupInterval: getEnvDuration(getenv, "CLEANUP_INTERVAL", 5*time.Minute),
		Whitelist:       parseIPList(getenv(envPrefix + "WHITELIST")),
		Blacklist:       parseIPList(getenv(envPrefix + "BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Runs drive the user's browser
		{Path: "/fill", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},

		// Calls that reach the platform API
		{Path: "/profile/refresh", Method: "POST", Limit: 10, Window: time.Minute, Burst: 2},

		// Local writes
		{Path: "/settings", Method: "PUT", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/review", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

func getEnvInt(getenv func(string) string, key string, defaultValue int) int {
	if value := getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(envPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses into a map.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
