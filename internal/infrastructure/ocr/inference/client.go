// Package inference calls a hosted vision OCR model that returns markdown
// with optional grounding boxes.
package inference

import (
	"context"
	"encoding/base64"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/httpjson"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/imaging"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
)

const EngineName = "inference"

type Config struct {
	URL       string
	Token     string
	Prompt    string
	BaseSize  int
	ImageSize int
	CropMode  bool
	Timeout   time.Duration
}

type inferenceRequest struct {
	Prompt    string `json:"prompt"`
	ImageB64  string `json:"image_base64"`
	BaseSize  int    `json:"base_size"`
	ImageSize int    `json:"image_size"`
	CropMode  bool   `json:"crop_mode"`
}

type inferenceResponse struct {
	Text string `json:"text"`
}

type Engine struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (e *Engine) Name() string { return EngineName }

// Recognize sends img as PNG. The language list is informational; the model
// detects script on its own.
func (e *Engine) Recognize(ctx context.Context, img image.Image, languages []string) (domain.Recognition, error) {
	const op = "ocr.inference"
	encoded, err := imaging.EncodePNG(img)
	if err != nil {
		return domain.Recognition{}, domain.WrapError(domain.ErrUnsupportedImage, op, err)
	}

	header := http.Header{}
	if e.cfg.Token != "" {
		header.Set("X-Internal-Token", e.cfg.Token)
	}
	req := httpjson.Request{
		Service:   "ocr",
		Operation: "infer",
		URL:       e.cfg.URL,
		Header:    header,
		Payload: inferenceRequest{
			Prompt:    e.cfg.Prompt,
			ImageB64:  base64.StdEncoding.EncodeToString(encoded),
			BaseSize:  e.cfg.BaseSize,
			ImageSize: e.cfg.ImageSize,
			CropMode:  e.cfg.CropMode,
		},
	}

	resp, err := resilience.Do(ctx, e.executor, op, func(callCtx context.Context) (inferenceResponse, error) {
		var out inferenceResponse
		err := httpjson.Post(callCtx, e.httpClient, req, &out)
		return out, err
	}, httpjson.Classify)
	if err != nil {
		return domain.Recognition{}, httpjson.Normalize(op, err)
	}

	b := img.Bounds()
	text, spans := parseGrounded(resp.Text, b.Dx(), b.Dy())
	return domain.Recognition{
		Engine:    EngineName,
		Language:  firstOr(languages, ""),
		Languages: languages,
		Text:      text,
		Spans:     spans,
	}, nil
}

func firstOr(values []string, fallback string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return fallback
}
