package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/httpjson"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

// Client is the local model provider. It never needs an API key.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) RequiresAPIKey() bool { return false }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func (c *Client) Complete(ctx context.Context, completion domain.Completion) (string, error) {
	const op = "llm.ollama.chat"
	messages := make([]chatMessage, 0, 2)
	if completion.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: completion.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: completion.Prompt})

	payload := chatRequest{Model: c.model, Messages: messages}
	if completion.JSON {
		payload.Format = "json"
	}
	req := httpjson.Request{
		Service:   "ollama",
		Operation: "chat",
		URL:       c.baseURL + "/api/chat",
		Payload:   payload,
	}

	response, err := resilience.Do(ctx, c.executor, op, func(callCtx context.Context) (chatResponse, error) {
		var out chatResponse
		err := httpjson.Post(callCtx, c.httpClient, req, &out)
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return "", httpjson.Normalize(op, err)
	}
	return strings.TrimSpace(response.Message.Content), nil
}
