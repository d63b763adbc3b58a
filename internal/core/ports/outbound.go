package ports

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

// ArtifactStorage stores uploaded originals and derived images.
type ArtifactStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ImagePreprocessor enhances a decoded document image for recognition.
type ImagePreprocessor interface {
	Process(ctx context.Context, img image.Image) (domain.EnhancedImage, error)
}

// OCREngine recognizes text on a single image.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, languages []string) (domain.Recognition, error)
}

// TextRecognizer selects an OCR engine for a language and runs it.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image, language string) (domain.Recognition, error)
}

// LanguageModel sends one completion to a hosted or local LLM.
type LanguageModel interface {
	Model() string
	RequiresAPIKey() bool
	Complete(ctx context.Context, completion domain.Completion) (string, error)
}

// SessionStore keeps per-user interaction state in memory.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

// LedgerRepository persists the hash chain of registered records.
type LedgerRepository interface {
	Last(ctx context.Context) (*domain.LedgerEntry, error)
	FindByHash(ctx context.Context, hash string) (*domain.LedgerEntry, error)
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	List(ctx context.Context, limit, offset int) ([]domain.LedgerEntry, error)
}

// EventPublisher announces ledger changes to other processes.
type EventPublisher interface {
	PublishLedgerAppended(ctx context.Context, event domain.LedgerAppendedEvent) error
}

// EventSubscriber consumes ledger change announcements.
type EventSubscriber interface {
	SubscribeLedgerAppended(ctx context.Context, handler func(context.Context, domain.LedgerAppendedEvent) error) error
}

// RecordExporter renders a processed document into a downloadable file.
type RecordExporter interface {
	ContentType() string
	Export(w io.Writer, doc *domain.ProcessedDocument) error
}

// ImageCodec decodes uploaded bytes and encodes derived images.
type ImageCodec interface {
	Decode(data []byte) (domain.DecodedImage, error)
	EncodePNG(img image.Image) ([]byte, error)
}

// PipelineMetrics records pipeline outcomes. Implementations must be safe
// for concurrent use.
type PipelineMetrics interface {
	ObserveStage(stage, engine string, duration time.Duration, err error)
	ObserveReasoning(mode string, err error)
	IncStructureParseFailure()
	IncLedgerAppend(created bool)
}
