// Package anthropic serves completions from Claude models through
// langchaingo.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcanthropic "github.com/tmc/langchaingo/llms/anthropic"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

// ModelFactory builds a langchaingo model for one API key.
type ModelFactory func(model, apiKey string) (llms.Model, error)

func defaultFactory(model, apiKey string) (llms.Model, error) {
	return lcanthropic.New(
		lcanthropic.WithModel(model),
		lcanthropic.WithToken(apiKey),
	)
}

type Client struct {
	model    string
	apiKey   string
	factory  ModelFactory
	executor *resilience.Executor
}

func New(model, apiKey string, executor *resilience.Executor) *Client {
	return NewWithFactory(model, apiKey, executor, defaultFactory)
}

func NewWithFactory(model, apiKey string, executor *resilience.Executor, factory ModelFactory) *Client {
	return &Client{model: model, apiKey: apiKey, factory: factory, executor: executor}
}

func (c *Client) Model() string { return c.model }

func (c *Client) RequiresAPIKey() bool { return c.apiKey == "" }

func (c *Client) Complete(ctx context.Context, completion domain.Completion) (string, error) {
	const op = "llm.anthropic.generate"
	key := strings.TrimSpace(completion.APIKey)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("api key is required"))
	}
	llm, err := c.factory(c.model, key)
	if err != nil {
		return "", fmt.Errorf("%s: create client: %w", op, err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if completion.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, completion.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, completion.Prompt))
	var opts []llms.CallOption
	if completion.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := resilience.Do(ctx, c.executor, op, func(callCtx context.Context) (*llms.ContentResponse, error) {
		return llm.GenerateContent(callCtx, messages, opts...)
	}, classify)
	if err != nil {
		if classify(err).Retryable || resilience.IsCircuitOpen(err) {
			return "", domain.WrapError(domain.ErrTemporary, op, err)
		}
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", op)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// classify retries network failures only; langchaingo reports provider
// status codes as opaque errors.
func classify(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
