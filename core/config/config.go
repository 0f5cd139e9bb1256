// Package config loads process configuration from environment variables,
// following the same getEnv/getEnvInt pattern used throughout the teacher
// lineage's config loaders.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"agentcore/internal/llm"
)

// Config holds all agentd process configuration.
type Config struct {
	Env  string
	Port string

	Planner  llm.Config
	Search   llm.Config
	Research llm.Config
	Code     llm.Config
	Review   llm.Config
	Test     llm.Config
	Docs     llm.Config
	QA       llm.Config
	Init     llm.Config

	OTel OTelConfig

	RedisURL    string
	QueueStream string
	QueueGroup  string

	WorkingStateDir string
	SessionDir      string

	SandboxEnabled bool
	SandboxProfile string // "macos" or "linux"; empty autodetects from runtime.GOOS

	HookTimeoutSeconds int

	QualityGateMaxReviewIterations int

	// DebugDir, when non-empty, turns on per-run transcript and metrics
	// logging in the Agent Executor Loop and the Planner. Empty disables
	// both; off by default.
	DebugDir string
}

// OTelConfig configures the OpenTelemetry SDK wiring in common/otel.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether an OTLP endpoint was configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load loads configuration from environment variables, first attempting to
// populate the process environment from a .env file (silently ignored if
// absent — the same tolerant behavior godotenv.Load gives CLI tools).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("AGENTD_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		Planner:  agentLLMConfig("PLANNER"),
		Search:   agentLLMConfig("SEARCH"),
		Research: agentLLMConfig("RESEARCH"),
		Code:     agentLLMConfig("CODE"),
		Review:   agentLLMConfig("REVIEW"),
		Test:     agentLLMConfig("TEST"),
		Docs:     agentLLMConfig("DOCS"),
		QA:       agentLLMConfig("QA"),
		Init:     agentLLMConfig("INIT"),

		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "agentd"),
			ServiceVersion: getEnv("AGENTD_VERSION", "dev"),
		},

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueueStream: getEnv("QUEUE_STREAM", "agentd:turns"),
		QueueGroup:  getEnv("QUEUE_GROUP", "agentd-workers"),

		WorkingStateDir: getEnv("WORKING_STATE_DIR", ".agentd/state"),
		SessionDir:      getEnv("SESSION_DIR", ".agentd/sessions"),

		SandboxEnabled: getEnvBool("SANDBOX_ENABLED", true),
		SandboxProfile: getEnv("SANDBOX_PROFILE", ""),

		HookTimeoutSeconds: getEnvInt("HOOK_TIMEOUT_SECONDS", 30),

		QualityGateMaxReviewIterations: getEnvInt("QUALITY_GATE_MAX_REVIEW_ITERATIONS", 2),

		DebugDir: getEnv("DEBUG_DIR", ""),
	}
}

// agentLLMConfig reads PROVIDER/MODEL/API_KEY/BASE_URL env vars prefixed
// with the given agent-kind name, e.g. CODE_LLM_PROVIDER, CODE_LLM_MODEL.
func agentLLMConfig(prefix string) llm.Config {
	provider := llm.Provider(getEnv(prefix+"_LLM_PROVIDER", "openai"))
	return llm.Config{
		Provider: provider,
		APIKey:   getEnv(prefix+"_LLM_API_KEY", getEnv("LLM_API_KEY", "")),
		BaseURL:  getEnv(prefix+"_LLM_BASE_URL", ""),
		Model:    getEnv(prefix+"_LLM_MODEL", ""),
	}
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// requireEnv returns an error instead of a fallback when key is unset or
// empty. Load does not call it; every setting Load reads has a default.
func requireEnv(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return value, nil
}
