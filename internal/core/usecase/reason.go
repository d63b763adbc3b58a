package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

const (
	defaultLanguageHint   = "English/Hindi"
	defaultTargetLanguage = "English"
)

type promptData struct {
	Text           string
	Question       string
	TargetLanguage string
	LanguageHint   string
}

type ReasoningUseCase struct {
	llm       ports.LanguageModel
	system    string
	templates map[domain.ReasoningMode]*template.Template
	metrics   ports.PipelineMetrics
	logger    *slog.Logger
}

func NewReasoningUseCase(
	llm ports.LanguageModel,
	prompts domain.PromptSet,
	metrics ports.PipelineMetrics,
	logger *slog.Logger,
) (*ReasoningUseCase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sources := map[domain.ReasoningMode]string{
		domain.ModeStructure: prompts.Structure,
		domain.ModeTranslate: prompts.Translate,
		domain.ModeAnswer:    prompts.Answer,
	}
	templates := make(map[domain.ReasoningMode]*template.Template, len(sources))
	for mode, src := range sources {
		if strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("prompt template %q is empty", mode)
		}
		tpl, err := template.New(string(mode)).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", mode, err)
		}
		templates[mode] = tpl
	}
	return &ReasoningUseCase{
		llm:       llm,
		system:    strings.TrimSpace(prompts.System),
		templates: templates,
		metrics:   metricsOrNoop(metrics),
		logger:    logger,
	}, nil
}

func (uc *ReasoningUseCase) RequiresAPIKey() bool { return uc.llm.RequiresAPIKey() }

// Reason renders the mode's prompt and sends one completion. Only structure
// mode output is parsed; it is either a JSON object or a
// MalformedOutputError carrying the raw text.
func (uc *ReasoningUseCase) Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	const op = "reasoning.reason"
	mode, ok := domain.ParseReasoningMode(string(req.Mode))
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unknown mode %q", req.Mode))
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("document text is empty"))
	}
	if mode == domain.ModeAnswer && strings.TrimSpace(req.Question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("question is required"))
	}
	if uc.llm.RequiresAPIKey() && strings.TrimSpace(req.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("api key is required"))
	}

	prompt, err := uc.render(mode, req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := uc.llm.Complete(ctx, domain.Completion{
		System: uc.system,
		Prompt: prompt,
		JSON:   mode == domain.ModeStructure,
		APIKey: strings.TrimSpace(req.APIKey),
	})
	uc.metrics.ObserveStage("reasoning", uc.llm.Model(), time.Since(started), err)
	if err != nil {
		uc.metrics.ObserveReasoning(string(mode), err)
		return nil, fmt.Errorf("%s completion: %w", mode, err)
	}

	result := &domain.ReasoningResult{Mode: mode, Model: uc.llm.Model()}
	if mode != domain.ModeStructure {
		result.Text = strings.TrimSpace(raw)
		uc.metrics.ObserveReasoning(string(mode), nil)
		return result, nil
	}

	record, err := ParseStructuredRecord(raw)
	if err != nil {
		uc.metrics.IncStructureParseFailure()
		uc.metrics.ObserveReasoning(string(mode), err)
		uc.logger.Warn("structure_parse_failed", "model", uc.llm.Model(), "raw_bytes", len(raw), "error", err)
		return nil, err
	}
	uc.metrics.ObserveReasoning(string(mode), nil)
	result.Record = record
	return result, nil
}

func (uc *ReasoningUseCase) render(mode domain.ReasoningMode, req domain.ReasoningRequest) (string, error) {
	data := promptData{
		Text:           strings.TrimSpace(req.Text),
		Question:       strings.TrimSpace(req.Question),
		TargetLanguage: strings.TrimSpace(req.TargetLanguage),
		LanguageHint:   strings.TrimSpace(req.LanguageHint),
	}
	if data.TargetLanguage == "" {
		data.TargetLanguage = defaultTargetLanguage
	}
	if data.LanguageHint == "" {
		data.LanguageHint = defaultLanguageHint
	}
	var b strings.Builder
	if err := uc.templates[mode].Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", mode, err)
	}
	return b.String(), nil
}

// ParseStructuredRecord accepts a JSON object, optionally surrounded by
// prose or a code fence. Anything else is a MalformedOutputError.
func ParseStructuredRecord(raw string) (domain.StructuredRecord, error) {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end <= start {
		return nil, &domain.MalformedOutputError{Raw: raw, Err: fmt.Errorf("no json object in output")}
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &record); err != nil {
		return nil, &domain.MalformedOutputError{Raw: raw, Err: err}
	}
	return domain.StructuredRecord(record), nil
}
