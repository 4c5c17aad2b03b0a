package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"platform_url": "https://jobs.example.com",
		"api_token": "tok",
		"llm_provider": "anthropic",
		"anthropic_api_key": "sk-test",
		"min_ai_confidence": 0.35,
		"verbose": true
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://jobs.example.com", cfg.PlatformURL)
	assert.Equal(t, "tok", cfg.APIToken)
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.InDelta(t, 0.35, cfg.MinAIConfidence, 1e-9)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{ invalid json }`), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestValidate(t *testing.T) {
	profileFile := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(profileFile, []byte(`{}`), 0644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Defaults(), ""},
		{"mutually exclusive", Config{PlatformURL: "https://x.example", ProfileFile: profileFile}, "mutually exclusive"},
		{"missing profile file", Config{ProfileFile: "/nope/profile.json"}, "profile file not found"},
		{"bad url", Config{PlatformURL: "not a url"}, "PlatformURL"},
		{"confidence range", Config{MinAIConfidence: 1.5}, "MinAIConfidence"},
		{"unknown provider", Config{LLMProvider: "llama"}, "LLMProvider"},
		{"gemini without key", Config{LLMProvider: "gemini"}, "gemini_api_key"},
		{"anthropic without key", Config{LLMProvider: "anthropic"}, "anthropic_api_key"},
		{"bad log level", Config{LogLevel: "loud"}, "LogLevel"},
		{"short control secret", Config{ControlSecret: "hunter2"}, "ControlSecret"},
		{"local profile", Config{ProfileFile: profileFile}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{PlatformURL: "https://mine.example", AIBatchSize: 10}
	merged := cfg.MergeWithDefaults(Defaults())

	assert.Equal(t, "https://mine.example", merged.PlatformURL)
	assert.Equal(t, 10, merged.AIBatchSize)
	assert.Equal(t, "http://127.0.0.1:9222", merged.CDPURL)
	assert.InDelta(t, 0.2, merged.MinAIConfidence, 1e-9)
	assert.Equal(t, "info", merged.LogLevel)
	assert.Empty(t, cfg.CDPURL, "receiver must not be modified")
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := &Config{ListenAddr: ":9000"}
	merged := cfg.MergeWithDefaults(Config{})
	assert.Equal(t, ":9000", merged.ListenAddr)
	assert.Empty(t, merged.CDPURL)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AUTOFILL_PLATFORM_URL":      "https://env.example",
		"AUTOFILL_MIN_AI_CONFIDENCE": "0.5",
		"AUTOFILL_AI_BATCH_SIZE":     "12",
		"AUTOFILL_VERBOSE":           "true",
		"AUTOFILL_CONTROL_SECRET":    "0123456789abcdef0123456789abcdef",
		"GEMINI_API_KEY":             "g-key",
	}
	cfg := &Config{PlatformURL: "https://file.example", AnthropicAPIKey: "from-file"}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "https://env.example", cfg.PlatformURL)
	assert.InDelta(t, 0.5, cfg.MinAIConfidence, 1e-9)
	assert.Equal(t, 12, cfg.AIBatchSize)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "g-key", cfg.GeminiAPIKey)
	assert.Equal(t, "from-file", cfg.AnthropicAPIKey)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.ControlSecret)
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	for _, key := range []string{"AUTOFILL_MIN_AI_CONFIDENCE", "AUTOFILL_AI_BATCH_SIZE", "AUTOFILL_VERBOSE"} {
		t.Run(key, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.ApplyEnv(func(k string) string {
				if k == key {
					return "abc"
				}
				return ""
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"listen_addr": ":7000"}`), 0644))
	t.Setenv("AUTOFILL_LOG_LEVEL", "debug")

	cfg, err := Load(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25, cfg.AIBatchSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
