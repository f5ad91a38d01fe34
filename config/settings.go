// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/chronicle/llm"
)

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig
	Agent   AgentConfig
	Tools   ToolsConfig
	Session SessionConfig
	Storage StorageConfig
	Log     LogConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// AgentConfig holds tool loop configuration.
type AgentConfig struct {
	MaxMessages      int
	MaxParallelTools int
}

// ToolsConfig holds tool execution configuration.
type ToolsConfig struct {
	// Timeout bounds one tool attempt. Zero disables it.
	Timeout    time.Duration
	MaxRetries uint32
}

// SessionConfig holds session registry configuration.
type SessionConfig struct {
	MaxHistory int
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	s.LLM.Provider = pt.String()
	s.LLM.Model = envOr(pt.ModelEnvVar(), pt.DefaultModel())

	var e error
	s.LLM.MaxTokens, e = getEnvUint32("LLM_MAX_TOKENS", 4096)
	collect(e)
	s.LLM.Temperature, e = getEnvFloat64("LLM_TEMPERATURE", 0.7)
	collect(e)

	s.Agent.MaxMessages, e = getEnvInt("AGENT_MAX_MESSAGES", 50)
	collect(e)
	s.Agent.MaxParallelTools, e = getEnvInt("TOOL_MAX_PARALLEL", 0)
	collect(e)

	timeoutSecs, e := getEnvInt("TOOL_TIMEOUT_SECS", 120)
	collect(e)
	s.Tools.Timeout = time.Duration(timeoutSecs) * time.Second
	s.Tools.MaxRetries, e = getEnvUint32("TOOL_MAX_RETRIES", 1)
	collect(e)

	s.Session.MaxHistory, e = getEnvInt("SESSION_MAX_HISTORY", 20)
	collect(e)

	s.Storage.DBPath = DBPath()

	s.Log.Level = strings.ToLower(envOr("LOG_LEVEL", "info"))
	s.Log.Format = strings.ToLower(envOr("LOG_FORMAT", "text"))

	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate rejects bounds the runtime cannot honour.
func (s Settings) Validate() error {
	var problems []string
	if s.Agent.MaxMessages <= 0 {
		problems = append(problems, "AGENT_MAX_MESSAGES must be positive")
	}
	if s.Agent.MaxParallelTools < 0 {
		problems = append(problems, "TOOL_MAX_PARALLEL must not be negative")
	}
	if s.Tools.Timeout < 0 {
		problems = append(problems, "TOOL_TIMEOUT_SECS must not be negative")
	}
	if s.Session.MaxHistory <= 0 {
		problems = append(problems, "SESSION_MAX_HISTORY must be positive")
	}
	if s.Storage.DBPath == "" {
		problems = append(problems, "CHRONICLE_DB_PATH must not be empty")
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", s.Log.Level))
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT %q is not one of text, json", s.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(pt.EnvVar())
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", pt.EnvVar())
	}
	return key, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	return llm.ProviderNames()
}

// DBPath returns CHRONICLE_DB_PATH, or ~/.chronicle/chronicle.db when unset.
// Commands that read stored records use it without selecting a provider.
func DBPath() string {
	return envOr("CHRONICLE_DB_PATH", defaultDBPath())
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chronicle", "chronicle.db")
	}
	return filepath.Join(home, ".chronicle", "chronicle.db")
}

// Environment variable helpers with proper error handling

func envOr(key, defaultVal string) string {
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

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
