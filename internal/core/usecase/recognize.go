package usecase

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

// RecognitionRouter picks an OCR engine for the selected language from the
// routing table.
type RecognitionRouter struct {
	routing         domain.OCRRouting
	engines         map[string]ports.OCREngine
	defaultLanguage string
	metrics         ports.PipelineMetrics
	logger          *slog.Logger
}

type RouterOption func(*RecognitionRouter)

func WithDefaultLanguage(lang string) RouterOption {
	return func(r *RecognitionRouter) {
		if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
			r.defaultLanguage = lang
		}
	}
}

func WithRouterMetrics(m ports.PipelineMetrics) RouterOption {
	return func(r *RecognitionRouter) { r.metrics = metricsOrNoop(m) }
}

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *RecognitionRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecognitionRouter fails when the table names an engine that is not
// registered.
func NewRecognitionRouter(routing domain.OCRRouting, engines []ports.OCREngine, opts ...RouterOption) (*RecognitionRouter, error) {
	r := &RecognitionRouter{
		routing:         routing,
		engines:         make(map[string]ports.OCREngine, len(engines)),
		defaultLanguage: "eng",
		metrics:         noopMetrics{},
		logger:          slog.Default(),
	}
	for _, engine := range engines {
		r.engines[strings.ToLower(engine.Name())] = engine
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, ok := r.engines[routing.DefaultEngine]; !ok {
		return nil, fmt.Errorf("routing: default engine %q is not registered", routing.DefaultEngine)
	}
	for lang, route := range routing.Languages {
		if _, ok := r.engines[route.Engine]; !ok {
			return nil, fmt.Errorf("routing: engine %q for language %q is not registered", route.Engine, lang)
		}
	}
	if fb := routing.EmptyTextFallback; fb != nil {
		if _, ok := r.engines[fb.Engine]; !ok {
			return nil, fmt.Errorf("routing: fallback engine %q is not registered", fb.Engine)
		}
	}
	return r, nil
}

// Route resolves the engine and engine language codes for a language.
func (r *RecognitionRouter) Route(language string) (string, domain.OCRRoute) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = r.defaultLanguage
	}
	if route, ok := r.routing.Languages[lang]; ok {
		return lang, route
	}
	return lang, domain.OCRRoute{Engine: r.routing.DefaultEngine, Codes: r.routing.DefaultCodes}
}

func (r *RecognitionRouter) Recognize(ctx context.Context, img image.Image, language string) (domain.Recognition, error) {
	lang, route := r.Route(language)
	result, err := r.run(ctx, route, img)
	if err != nil {
		return domain.Recognition{}, err
	}

	if fb := r.routing.EmptyTextFallback; fb != nil && fb.Engine != route.Engine && strings.TrimSpace(result.Text) == "" {
		codes := fb.Codes
		if len(codes) == 0 {
			codes = route.Codes
		}
		r.logger.Info("ocr_empty_text_fallback", "language", lang, "from", route.Engine, "to", fb.Engine)
		result, err = r.run(ctx, domain.OCRRoute{Engine: fb.Engine, Codes: codes}, img)
		if err != nil {
			return domain.Recognition{}, err
		}
	}

	result.Language = lang
	return result, nil
}

func (r *RecognitionRouter) run(ctx context.Context, route domain.OCRRoute, img image.Image) (domain.Recognition, error) {
	engine := r.engines[route.Engine]
	started := time.Now()
	result, err := engine.Recognize(ctx, img, route.Codes)
	r.metrics.ObserveStage("recognition", engine.Name(), time.Since(started), err)
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("%s recognize: %w", engine.Name(), err)
	}
	result.Engine = engine.Name()
	if len(result.Languages) == 0 {
		result.Languages = append([]string(nil), route.Codes...)
	}
	return result, nil
}
