package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAIClient is a Provider backed by an OpenAI-compatible chat
// completions endpoint (OpenAI, OpenRouter, or any compatible proxy).
// Options.WebSearch is ignored: web search on the chat completions
// surface requires dedicated search models, so this client never
// grounds and always returns Response.Grounding nil.
type OpenAIClient struct {
	client       openai.Client
	defaultModel string
}

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey authenticates requests.
	APIKey string

	// BaseURL overrides the endpoint (empty for api.openai.com).
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The engine owns retry policy; don't stack SDK retries on top.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

// Generate implements Provider.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return c.GenerateConversation(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

// GenerateConversation implements Provider.
func (c *OpenAIClient) GenerateConversation(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.resolveModel(opts)),
		Messages: toOpenAIMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &Error{Message: "no choices in response"}
	}

	resp := &Response{Text: completion.Choices[0].Message.Content}
	if completion.Usage.TotalTokens > 0 {
		resp.Usage = &Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		}
	}

	return resp, nil
}

func (c *OpenAIClient) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.defaultModel
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// wrapAPIError converts SDK errors to *Error, preserving HTTP status
// codes so IsTransient can classify them.
func wrapAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			StatusCode: apiErr.StatusCode,
			Message:    fmt.Sprintf("chat completion failed: %v", err),
			Err:        err,
		}
	}
	return &Error{Message: err.Error(), Err: err}
}
