package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// lineDelimiter separates batched texts inside a single prompt; the model
// is instructed to keep it between output lines.
const lineDelimiter = "<<<LINE>>>"

// inlineBreak stands in for newlines inside a single text so the model
// does not confuse them with the batch delimiter.
const inlineBreak = "<<BR>>"

// ErrCountMismatch reports a batch response whose line count differs from
// the request. The scheduler reacts by splitting the batch.
var ErrCountMismatch = errors.New("translation count mismatch")

// ChatConfig configures the generic OpenAI-compatible chat adapter. It works
// against OpenRouter, DeepSeek, local gateways and anything else speaking
// the /chat/completions protocol.
type ChatConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
	SiteURL     string
	AppName     string

	Limits Limits
}

func (c *ChatConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// ChatAdapter is the generic chat-completion backend.
type ChatAdapter struct {
	config     ChatConfig
	httpClient *http.Client
}

// NewChatAdapter creates a chat backend from the given configuration.
func NewChatAdapter(config ChatConfig) (*ChatAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chat backend configuration: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 60
	}
	return &ChatAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

func (a *ChatAdapter) Name() string {
	return "chat"
}

func (a *ChatAdapter) Defaults() Limits {
	limits := a.config.Limits
	if limits.Concurrency <= 0 {
		limits.Concurrency = 4
	}
	if limits.RequestsPerMinute <= 0 {
		limits.RequestsPerMinute = 60
	}
	if limits.BatchSize <= 0 {
		limits.BatchSize = 20
	}
	return limits
}

func (a *ChatAdapter) Translate(ctx context.Context, batch []string, targetLang string, opts Options) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	formatted := make([]string, len(batch))
	for i, text := range batch {
		formatted[i] = strings.ReplaceAll(text, "\n", inlineBreak)
	}

	request := chatRequest{
		Model: a.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildPrompt(targetLang, opts.SourceLang)},
			{Role: "user", Content: strings.Join(formatted, lineDelimiter)},
		},
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	}

	response, err := a.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	content := strings.ReplaceAll(response, inlineBreak, "\n")
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

func (a *ChatAdapter) makeRequest(ctx context.Context, payload chatRequest) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(a.config.APIURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if a.config.SiteURL != "" {
		req.Header.Set("HTTP-Referer", a.config.SiteURL)
	}
	if a.config.AppName != "" {
		req.Header.Set("X-Title", a.config.AppName)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			err = fmt.Errorf("request timed out: %w", err)
		}
		return "", &Error{Kind: KindTransient, Backend: a.Name(), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransient, Backend: a.Name(), Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Backend: a.Name(),
			Cause:   fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 300)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: KindUnknown, Backend: a.Name(), Cause: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", &Error{Kind: KindUnknown, Backend: a.Name(), Cause: fmt.Errorf("API error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Kind: KindUnknown, Backend: a.Name(), Cause: fmt.Errorf("no choices in response")}
	}

	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindContentRejected
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

func buildPrompt(targetLang, sourceLang string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional game localization translator. ")
	if sourceLang != "" {
		prompt.WriteString("Translate the following game script lines from " + sourceLang + " to " + targetLang + ".\n\n")
	} else {
		prompt.WriteString("Translate the following game script lines into " + targetLang + ".\n\n")
	}

	prompt.WriteString("=== RULES ===\n")
	prompt.WriteString("1. Lines are separated by " + lineDelimiter + "; keep that separator between output lines\n")
	prompt.WriteString("2. Preserve " + inlineBreak + " inline break markers exactly\n")
	prompt.WriteString("3. Markers like 【PH000】 are placeholders; copy each one unchanged, exactly once\n")
	prompt.WriteString("4. Keep the tone and register of game dialogue\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the translated lines separated by " + lineDelimiter + ".\n")
	prompt.WriteString("The number of output lines must exactly match the number of input lines.\n")

	return prompt.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
