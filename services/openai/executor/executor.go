// Package executor answers tool invocations with an OpenAI chat completion.
// It stands in for real business logic: the model is told what the tool does
// and returns a plausible JSON result for the given arguments.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"duplexkit/core"
)

// Config holds the configuration for the OpenAI executor
type Config struct {
	APIKey       string  `json:"-" yaml:"-"` // Read from OPENAI_API_KEY.
	BaseURL      string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model        string  `json:"model" yaml:"model"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature  float32 `json:"temperature" yaml:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4oMini,
		MaxTokens:   512,
		Temperature: 0.2,
	}
}

const defaultSystemPrompt = "You execute the tool described below. " +
	"Reply with a single JSON object holding the tool result and nothing else."

// Executor implements tools.Executor for one tool definition.
type Executor struct {
	client *openai.Client
	config Config
	def    core.ToolDef
	logger *core.Logger
}

func NewExecutor(config Config, def core.ToolDef, logger *core.Logger) (*Executor, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &Executor{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		def:    def,
		logger: logger.With(map[string]interface{}{"component": "executor", "tool": def.Name}),
	}, nil
}

func (e *Executor) Execute(ctx context.Context, call core.FunctionCall) (map[string]any, error) {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := sonic.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal arguments: %w", err)
	}
	schemaJSON, err := sonic.Marshal(e.def.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("openai: marshal schema: %w", err)
	}

	prompt := e.config.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	system := fmt.Sprintf("%s\n\nTool: %s\nDescription: %s\nParameters: %s",
		prompt, e.def.Name, e.def.Description, schemaJSON)

	req := openai.ChatCompletionRequest{
		Model:       e.config.Model,
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: string(argsJSON)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty completion")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	logger := e.logger
	if sl := core.SessionLoggerFromContext(ctx); sl != nil {
		logger = sl.With(map[string]interface{}{"component": "executor", "tool": e.def.Name})
	}
	logger.With(map[string]interface{}{"tool_id": call.ID, "tokens": resp.Usage.TotalTokens}).Debug("tool completion received")
	return parseResult(content), nil
}

// parseResult decodes a JSON object reply. Anything else is wrapped as
// {"output": text}.
func parseResult(content string) map[string]any {
	var result map[string]any
	if err := sonic.UnmarshalString(content, &result); err == nil && result != nil {
		return result
	}
	return map[string]any{"output": content}
}
