// Package llm talks to the text-generation service that writes the
// narrative part of a report.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrUnavailable means no generator is configured or it could not answer.
var ErrUnavailable = errors.New("text generator unavailable")

// DefaultSystemPrompt frames every request.
const DefaultSystemPrompt = "You are a senior engineer writing a concise, actionable code review from static analysis results."

// TextGenerator turns a prompt into text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and tunes the generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// MaxTokens caps the completion; zero leaves it to the server.
	MaxTokens    int
	SystemPrompt string
}

// New returns an OpenAI-compatible generator, or Disabled when no API key
// is configured.
func New(cfg Config, logger *zap.SugaredLogger) TextGenerator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.APIKey == "" {
		logger.Warnw("no API key configured, reports will not include a written assessment")
		return Disabled{}
	}
	return NewOpenAI(cfg, logger)
}

// OpenAI generates text with the chat completions API.
type OpenAI struct {
	client  *openai.Client
	model   string
	system  string
	maxTok  int
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewOpenAI creates a client. BaseURL points it at any compatible endpoint.
func NewOpenAI(cfg Config, logger *zap.SugaredLogger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		system:  system,
		maxTok:  cfg.MaxTokens,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if o.maxTok > 0 {
		req.MaxCompletionTokens = o.maxTok
	}

	o.logger.Debugw("requesting completion", "model", o.model, "prompt_bytes", len(prompt))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	o.logger.Debugw("completion received", "finish_reason", resp.Choices[0].FinishReason, "total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// Disabled is used when no generator is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: no API key configured", ErrUnavailable)
}
