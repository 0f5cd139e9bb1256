// Package llm defines the AgentClient contract that the Agent Executor Loop
// and Planner drive, plus the OpenAI and Anthropic adapters that implement
// it. Conversation state is expressed in terms of domain.ChatMessage so the
// rest of the module never touches a provider SDK type directly.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"

	"agentcore/internal/domain"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Provider selects which adapter Config.Build constructs.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds the per-agent-kind LLM client configuration: which provider,
// which model, and how to reach it.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// Build constructs the AgentClient for this config's Provider.
func (cfg Config) Build() (AgentClient, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI, "":
		return NewAgentClient(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// AgentClient supports tool-calling conversations for agent loops.
type AgentClient interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
}

// AgentRequest contains the messages and tools for an agent turn.
type AgentRequest struct {
	Messages    []domain.ChatMessage
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
}

// Tool defines a function the LLM can call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema for parameters
}

// AgentResponse contains the LLM's response.
type AgentResponse struct {
	Content          string
	ToolCalls        []domain.ToolCall
	FinishReason     string // "stop", "tool_calls", "length"
	PromptTokens     int
	CompletionTokens int
}

// ParseToolArguments unmarshals tool arguments into the target struct.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchemaFrom generates a JSON schema from an instance value. Useful
// when the type is not known at compile time (e.g. a registry of tools
// built from heterogeneous param structs).
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// GenerateSchema generates a JSON schema for T.
func GenerateSchema[T any]() any {
	var v T
	return GenerateSchemaFrom(v)
}

// SanitizeName converts a free-text name to a valid OpenAI "name" field:
// ^[a-zA-Z0-9_-]{1,64}$. Invalid characters become underscores.
func SanitizeName(name string) string {
	sanitized := nameInvalidChars.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

// Temp builds a *float64 for AgentRequest.Temperature, since a literal
// address of a float constant isn't expressible inline.
func Temp(t float64) *float64 {
	return &t
}
