// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config represents the agent configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or environment overrides.
type Config struct {
	// Platform
	PlatformURL string `json:"platform_url,omitempty" validate:"omitempty,url"` // Base URL of the job platform API
	APIToken    string `json:"api_token,omitempty"`                             // Bearer token for the platform API
	ProfileFile string `json:"profile_file,omitempty"`                          // Local profile JSON used instead of the platform

	// Browser
	CDPURL string `json:"cdp_url,omitempty" validate:"omitempty,url"` // DevTools endpoint of the user's running browser

	// Local state
	SettingsPath    string `json:"settings_path,omitempty"`    // YAML settings file
	CachePath       string `json:"cache_path,omitempty"`       // Encrypted profile cache (SQLite)
	CachePassphrase string `json:"cache_passphrase,omitempty"` // Passphrase for the profile cache key
	RefreshSchedule string `json:"refresh_schedule,omitempty"` // Cron spec for background profile refresh

	// Control server
	ListenAddr    string `json:"listen_addr,omitempty"`                                // Address of the local control server
	ControlSecret string `json:"control_secret,omitempty" validate:"omitempty,min=32"` // HS256 secret for control server tokens; empty disables auth

	// AI
	LLMProvider     string  `json:"llm_provider,omitempty" validate:"omitempty,oneof=gemini anthropic endpoint none"`
	LLMModel        string  `json:"llm_model,omitempty"`
	GeminiAPIKey    string  `json:"gemini_api_key,omitempty"`
	AnthropicAPIKey string  `json:"anthropic_api_key,omitempty"`
	MinAIConfidence float64 `json:"min_ai_confidence,omitempty" validate:"gte=0,lte=1"`
	AIBatchSize     int     `json:"ai_batch_size,omitempty" validate:"gte=0,lte=200"`

	// Logging
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	LogFile  string `json:"log_file,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	dir := defaultStateDir()
	return Config{
		CDPURL:          "http://127.0.0.1:9222",
		SettingsPath:    filepath.Join(dir, "settings.yaml"),
		CachePath:       filepath.Join(dir, "profile.db"),
		ListenAddr:      "127.0.0.1:8787",
		LLMProvider:     "endpoint",
		MinAIConfidence: 0.2,
		AIBatchSize:     25,
		LogLevel:        "info",
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "job-autofill")
	}
	return ".job-autofill"
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.PlatformURL != "" && c.ProfileFile != "" {
		return fmt.Errorf("config error: 'platform_url' and 'profile_file' are mutually exclusive")
	}

	if c.ProfileFile != "" {
		if _, err := os.Stat(c.ProfileFile); os.IsNotExist(err) {
			return fmt.Errorf("config error: profile file not found: %s", c.ProfileFile)
		}
	}

	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config error: 'gemini_api_key' is required for the gemini provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("config error: 'anthropic_api_key' is required for the anthropic provider")
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.PlatformURL, defaults.PlatformURL},
		{&result.APIToken, defaults.APIToken},
		{&result.ProfileFile, defaults.ProfileFile},
		{&result.CDPURL, defaults.CDPURL},
		{&result.SettingsPath, defaults.SettingsPath},
		{&result.CachePath, defaults.CachePath},
		{&result.CachePassphrase, defaults.CachePassphrase},
		{&result.RefreshSchedule, defaults.RefreshSchedule},
		{&result.ListenAddr, defaults.ListenAddr},
		{&result.ControlSecret, defaults.ControlSecret},
		{&result.LLMProvider, defaults.LLMProvider},
		{&result.LLMModel, defaults.LLMModel},
		{&result.GeminiAPIKey, defaults.GeminiAPIKey},
		{&result.AnthropicAPIKey, defaults.AnthropicAPIKey},
		{&result.LogLevel, defaults.LogLevel},
		{&result.LogFile, defaults.LogFile},
	} {
		if *f.dst == "" {
			*f.dst = f.src
		}
	}

	// Numeric fields: use default if zero
	if result.MinAIConfidence == 0 {
		result.MinAIConfidence = defaults.MinAIConfidence
	}
	if result.AIBatchSize == 0 {
		result.AIBatchSize = defaults.AIBatchSize
	}

	// Bool fields: true wins
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}

// envPrefix namespaces every environment override.
const envPrefix = "AUTOFILL_"

// ApplyEnv overrides fields from AUTOFILL_* environment variables.
// Well-known provider variables (GEMINI_API_KEY, ANTHROPIC_API_KEY) fill empty keys.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	for name, dst := range map[string]*string{
		"PLATFORM_URL":     &c.PlatformURL,
		"API_TOKEN":        &c.APIToken,
		"PROFILE_FILE":     &c.ProfileFile,
		"CDP_URL":          &c.CDPURL,
		"SETTINGS_PATH":    &c.SettingsPath,
		"CACHE_PATH":       &c.CachePath,
		"CACHE_PASSPHRASE": &c.CachePassphrase,
		"REFRESH_SCHEDULE": &c.RefreshSchedule,
		"LISTEN_ADDR":      &c.ListenAddr,
		"CONTROL_SECRET":   &c.ControlSecret,
		"LLM_PROVIDER":     &c.LLMProvider,
		"LLM_MODEL":        &c.LLMModel,
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_FILE":         &c.LogFile,
	} {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}

	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = getenv("GEMINI_API_KEY")
	}
	if c.AnthropicAPIKey == "" {
		c.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	}

	if v := getenv(envPrefix + "MIN_AI_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMIN_AI_CONFIDENCE: %w", envPrefix, err)
		}
		c.MinAIConfidence = f
	}
	if v := getenv(envPrefix + "AI_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sAI_BATCH_SIZE: %w", envPrefix, err)
		}
		c.AIBatchSize = n
	}
	if v := getenv(envPrefix + "VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE: %w", envPrefix, err)
		}
		c.Verbose = b
	}
	return nil
}

// Load resolves the effective configuration: file (optional), then environment, then defaults.
func Load(path string) (Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	return merged, nil
}
