package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/config"
	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
	"github.com/kirillkom/heritage-ocr/internal/core/usecase"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/imaging"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/llm/openai"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/llm/vertex"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/ocr/inference"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/queue/nats"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/resilience"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/session/memory"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/heritage-ocr/internal/observability/metrics"
)

const sessionSweepInterval = time.Minute

// App holds the services of one binary. Fields a binary does not need stay
// nil.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Metrics  *metrics.HTTPServerMetrics
	Executor *resilience.Executor
	Bus      *nats.Bus

	Ledger    *usecase.LedgerUseCase
	Reasoner  *usecase.ReasoningUseCase
	Digitizer *usecase.DigitizeUseCase
	Sessions  *usecase.SessionUseCase
	Exporter  *xlsx.Exporter
	Languages []string

	closers []func()
}

// New builds the full API service graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Metrics: metrics.NewHTTPServerMetrics("api")}
	app.Executor = newExecutor(cfg, logger, app.Metrics.ObserveBreakerState)

	if err := app.initLedger(ctx, true); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initReasoner(ctx); err != nil {
		app.Close()
		return nil, err
	}

	storage, err := app.openStorage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	routing, err := config.LoadRouting(cfg.OCRRoutingFile)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load ocr routing: %w", err)
	}
	engines := []ports.OCREngine{
		inference.New(inference.Config{
			URL:       cfg.OCRInferURL,
			Token:     cfg.OCRInferToken,
			Prompt:    cfg.OCRInferPrompt,
			BaseSize:  cfg.OCRInferBaseSize,
			ImageSize: cfg.OCRInferImageSize,
			CropMode:  cfg.OCRInferCropMode,
			Timeout:   cfg.OCRInferTimeout,
		}, app.Executor),
		tesseract.New(routing.DefaultCodes...),
	}
	recognizer, err := usecase.NewRecognitionRouter(routing, engines,
		usecase.WithDefaultLanguage(cfg.OCRDefaultLang),
		usecase.WithRouterMetrics(app.Metrics),
		usecase.WithRouterLogger(logger),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init ocr router: %w", err)
	}
	app.Languages = routingLanguages(routing.Languages, cfg.OCRDefaultLang)

	store := memory.New(cfg.SessionTTL)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go store.Run(sweepCtx, sessionSweepInterval)
	app.closers = append(app.closers, stopSweep)

	app.Digitizer = usecase.NewDigitizeUseCase(usecase.DigitizeDeps{
		Sessions:     store,
		Storage:      storage,
		Codec:        imaging.Codec{MaxPixels: imaging.DefaultMaxPixels},
		Preprocessor: imaging.NewPreprocessor(imaging.DefaultOptions()),
		Recognizer:   recognizer,
		Reasoner:     app.Reasoner,
		Ledger:       app.Ledger,
		Metrics:      app.Metrics,
		Logger:       logger,
		MaxBytes:     cfg.UploadMaxBytes,
	})
	app.Sessions = usecase.NewSessionUseCase(store, app.Reasoner, cfg.SessionMaxTurns, logger)
	app.Exporter = xlsx.New()

	logger.Info("bootstrap_complete",
		"llm_provider", cfg.LLMProvider,
		"storage_backend", cfg.StorageBackend,
		"ledger_backend", cfg.LedgerBackend,
		"nats_enabled", app.Bus != nil,
		"ocr_default_engine", routing.DefaultEngine,
	)
	return app, nil
}

// NewReasoning builds the reasoning and read-only ledger services used by
// the MCP server.
func NewReasoning(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	app.Executor = newExecutor(cfg, logger, nil)
	if err := app.initLedger(ctx, false); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initReasoner(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// NewAuditor builds the ledger and the NATS subscription used by the
// auditor. NATS is required.
func NewAuditor(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("auditor: NATS_URL is required")
	}
	app := &App{Config: cfg, Logger: logger}
	app.Executor = newExecutor(cfg, logger, nil)
	if err := app.initLedger(ctx, true); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) initLedger(ctx context.Context, withBus bool) error {
	repo, db, err := openLedgerRepository(ctx, a.Config)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	var publisher ports.EventPublisher = nats.NoopPublisher{}
	if withBus && a.Config.NATSURL != "" {
		bus, err := nats.Connect(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
			Executor: a.Executor,
			Logger:   a.Logger,
		})
		if err != nil {
			return fmt.Errorf("init message bus: %w", err)
		}
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
		publisher = bus
	}

	var pipelineMetrics ports.PipelineMetrics
	if a.Metrics != nil {
		pipelineMetrics = a.Metrics
	}
	a.Ledger = usecase.NewLedgerUseCase(repo, publisher, pipelineMetrics, a.Logger)
	return nil
}

func (a *App) initReasoner(ctx context.Context) error {
	llm, err := a.newLanguageModel(ctx)
	if err != nil {
		return err
	}
	prompts, err := config.LoadPrompts(a.Config.PromptsFile)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	var pipelineMetrics ports.PipelineMetrics
	if a.Metrics != nil {
		pipelineMetrics = a.Metrics
	}
	reasoner, err := usecase.NewReasoningUseCase(llm, prompts, pipelineMetrics, a.Logger)
	if err != nil {
		return fmt.Errorf("init reasoner: %w", err)
	}
	a.Reasoner = reasoner
	return nil
}

func (a *App) newLanguageModel(ctx context.Context) (ports.LanguageModel, error) {
	cfg := a.Config
	switch cfg.LLMProvider {
	case "openai":
		return openai.New(openai.Config{
			BaseURL: cfg.OpenAIURL,
			Model:   cfg.OpenAIModel,
			APIKey:  cfg.OpenAIAPIKey,
			Timeout: cfg.LLMTimeout,
		}, a.Executor), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, cfg.LLMTimeout, a.Executor), nil
	case "vertex":
		client, err := vertex.New(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.VertexModel, a.Executor)
		if err != nil {
			return nil, fmt.Errorf("init vertex: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client, nil
	case "anthropic":
		return anthropic.New(cfg.AnthropicModel, cfg.AnthropicKey, a.Executor), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (a *App) openStorage(ctx context.Context) (ports.ArtifactStorage, error) {
	switch a.Config.StorageBackend {
	case "localfs":
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init artifact storage: %w", err)
		}
		return storage, nil
	case "gcs":
		storage, err := gcs.New(ctx, a.Config.GCSBucket, "")
		if err != nil {
			return nil, fmt.Errorf("init artifact storage: %w", err)
		}
		a.closers = append(a.closers, func() { _ = storage.Close() })
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", a.Config.StorageBackend)
	}
}

type ledgerRepository interface {
	ports.LedgerRepository
	EnsureSchema(ctx context.Context) error
}

func openLedgerRepository(ctx context.Context, cfg config.Config) (ports.LedgerRepository, *sql.DB, error) {
	var (
		db   *sql.DB
		repo ledgerRepository
		err  error
	)
	switch cfg.LedgerBackend {
	case "sqlite":
		db, err = sqlite.OpenDB(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		repo = sqlite.NewLedgerRepository(db)
	case "postgres":
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		repo = postgres.NewLedgerRepository(db)
	default:
		return nil, nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return repo, db, nil
}

func newExecutor(cfg config.Config, logger *slog.Logger, observer resilience.StateObserver) *resilience.Executor {
	opts := []resilience.Option{resilience.WithLogger(logger)}
	if observer != nil {
		opts = append(opts, resilience.WithStateObserver(observer))
	}
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerMinRequests:  uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio: cfg.BreakerFailureRatio,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}, opts...)
}

// routingLanguages lists the selectable languages in a stable order with the
// default language first.
func routingLanguages(routes map[string]domain.OCRRoute, defaultLang string) []string {
	langs := make([]string, 0, len(routes)+1)
	for code := range routes {
		if code != defaultLang {
			langs = append(langs, code)
		}
	}
	slices.Sort(langs)
	if defaultLang != "" {
		langs = append([]string{defaultLang}, langs...)
	}
	return langs
}
