package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the official OpenAI SDK adapter.
type OpenAIConfig struct {
	APIKey string
	APIURL string // optional override for compatible gateways
	Model  string

	Limits Limits
}

func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// OpenAIAdapter is the openai-go backed variant.
type OpenAIAdapter struct {
	config OpenAIConfig
	client openai.Client
}

func NewOpenAIAdapter(config OpenAIConfig) (*OpenAIAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openai backend configuration: %w", err)
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.APIURL != "" {
		opts = append(opts, option.WithBaseURL(config.APIURL))
	}

	return &OpenAIAdapter{
		config: config,
		client: openai.NewClient(opts...),
	}, nil
}

func (a *OpenAIAdapter) Name() string {
	return "openai"
}

func (a *OpenAIAdapter) Defaults() Limits {
	limits := a.config.Limits
	if limits.Concurrency <= 0 {
		limits.Concurrency = 8
	}
	if limits.RequestsPerMinute <= 0 {
		limits.RequestsPerMinute = 120
	}
	if limits.BatchSize <= 0 {
		limits.BatchSize = 20
	}
	return limits
}

func (a *OpenAIAdapter) Translate(ctx context.Context, batch []string, targetLang string, opts Options) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	formatted := make([]string, len(batch))
	for i, text := range batch {
		formatted[i] = strings.ReplaceAll(text, "\n", inlineBreak)
	}

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildPrompt(targetLang, opts.SourceLang)),
			openai.UserMessage(strings.Join(formatted, lineDelimiter)),
		},
		Model: a.config.Model,
	})
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindUnknown, Backend: a.Name(), Cause: fmt.Errorf("no choices in response")}
	}

	content := strings.ReplaceAll(resp.Choices[0].Message.Content, inlineBreak, "\n")
	lines := strings.Split(content, lineDelimiter)
	if len(lines) != len(batch) {
		return nil, &Error{
			Kind:    KindUnknown,
			Backend: a.Name(),
			Cause:   fmt.Errorf("%w: sent %d, received %d", ErrCountMismatch, len(batch), len(lines)),
		}
	}

	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines, nil
}

func (a *OpenAIAdapter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Kind: classifyStatus(apiErr.StatusCode), Backend: a.Name(), Cause: err}
	}
	return &Error{Kind: KindTransient, Backend: a.Name(), Cause: err}
}
