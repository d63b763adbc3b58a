// Package openai talks to OpenAI-compatible chat completion endpoints.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/httpjson"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL string
	Model   string
	// APIKey is used when a call carries no key of its own.
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Model() string { return c.model }

// RequiresAPIKey reports whether callers must bring their own key.
func (c *Client) RequiresAPIKey() bool { return c.apiKey == "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, completion domain.Completion) (string, error) {
	const op = "llm.openai.complete"
	key := strings.TrimSpace(completion.APIKey)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("api key is required"))
	}

	messages := make([]chatMessage, 0, 2)
	if completion.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: completion.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: completion.Prompt})
	payload := chatRequest{Model: c.model, Messages: messages}
	if completion.JSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	req := httpjson.Request{
		Service:   "openai",
		Operation: "chat",
		URL:       c.baseURL + "/chat/completions",
		Header:    http.Header{"Authorization": []string{"Bearer " + key}},
		Payload:   payload,
	}
	resp, err := resilience.Do(ctx, c.executor, op, func(callCtx context.Context) (chatResponse, error) {
		var out chatResponse
		err := httpjson.Post(callCtx, c.httpClient, req, &out)
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return "", httpjson.Normalize(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", op)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
