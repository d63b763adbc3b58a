// Package vertex serves completions from Gemini models on Vertex AI. It
// authenticates with application default credentials.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

type Client struct {
	base      *genai.Client
	modelName string
	executor  *resilience.Executor
}

func New(ctx context.Context, projectID, region, model string, executor *resilience.Executor) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: project id and region are required")
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{base: base, modelName: model, executor: executor}, nil
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func (c *Client) Model() string { return c.modelName }

func (c *Client) RequiresAPIKey() bool { return false }

func (c *Client) Complete(ctx context.Context, completion domain.Completion) (string, error) {
	const op = "llm.vertex.generate"
	model := c.base.GenerativeModel(c.modelName)
	if completion.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(completion.System)},
		}
	}
	if completion.JSON {
		model.GenerationConfig = genai.GenerationConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0.0),
		}
	}

	resp, err := resilience.Do(ctx, c.executor, op, func(callCtx context.Context) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(callCtx, genai.Text(completion.Prompt))
	}, classify)
	if err != nil {
		return "", normalize(op, err)
	}
	text := extractText(resp)
	if text == "" {
		return "", fmt.Errorf("%s: empty response", op)
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func classify(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	switch statusCode(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func normalize(op string, err error) error {
	switch statusCode(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.WrapError(domain.ErrUnauthorized, op, err)
	}
	if classify(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}

func statusCode(err error) codes.Code {
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}
