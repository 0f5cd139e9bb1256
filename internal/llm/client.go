package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"agentcore/internal/errtax"
)

// StructuredClient issues single-shot, schema-constrained completions — no
// tool-calling loop, just "give me back JSON matching this shape". The
// Planner, the Quality Gate's review/QA steps and the Conversation
// Compactor's summary step all go through AgentClient and extract or parse
// the reply themselves; none of them calls a StructuredClient.
type StructuredClient interface {
	Chat(ctx context.Context, req StructuredRequest, result any) (*StructuredResponse, error)
	Model() string
}

type StructuredRequest struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

type StructuredResponse struct {
	PromptTokens     int
	CompletionTokens int
}

type structuredClient struct {
	openai openai.Client
	model  string
}

// NewStructuredClient creates a StructuredClient backed by OpenAI's
// JSON-schema response format.
func NewStructuredClient(cfg Config) (StructuredClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &structuredClient{
		openai: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *structuredClient) Chat(ctx context.Context, req StructuredRequest, result any) (*StructuredResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        req.SchemaName,
		Description: openai.String("Structured response schema"),
		Schema:      req.Schema,
		Strict:      openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errtax.Classify(ctx, fmt.Errorf("openai structured chat: %w", err))
	}

	slog.DebugContext(ctx, "structured chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, errtax.Permanent_(fmt.Errorf("openai structured chat: no choices in response"))
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), result); err != nil {
		return nil, errtax.Permanent_(fmt.Errorf("unmarshal structured response: %w", err))
	}

	return &StructuredResponse{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *structuredClient) Model() string {
	return c.model
}
