package ports

import (
	"context"
	"io"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

// DocumentDigitizer runs the ingestion, preprocessing, recognition and
// structuring pipeline for one upload.
type DocumentDigitizer interface {
	Digitize(ctx context.Context, req domain.DigitizeRequest) (*domain.ProcessedDocument, error)
	OpenArtifact(ctx context.Context, sessionID string, kind domain.ArtifactKind) (io.ReadCloser, string, error)
}

// DocumentReasoner runs one stateless reasoning call over recognized text.
type DocumentReasoner interface {
	Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error)
	// RequiresAPIKey reports whether calls fail without a caller key.
	RequiresAPIKey() bool
}

// SessionService manages interaction sessions and the chat over the
// session's processed document.
type SessionService interface {
	Open(ctx context.Context, apiKey string) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	SetAPIKey(ctx context.Context, id, apiKey string) error
	End(ctx context.Context, id string) error
	Translate(ctx context.Context, id, targetLanguage string) (*domain.ReasoningResult, error)
	Ask(ctx context.Context, id, question, targetLanguage string) (*domain.ChatTurn, error)
	History(ctx context.Context, id string) ([]domain.ChatTurn, error)
}

// LedgerService registers and verifies structured records.
type LedgerService interface {
	Register(ctx context.Context, record domain.StructuredRecord, metadata map[string]string) (*domain.LedgerEntry, error)
	Verify(ctx context.Context, record domain.StructuredRecord) (*domain.LedgerVerification, error)
	List(ctx context.Context, limit, offset int) ([]domain.LedgerEntry, error)
	CheckIntegrity(ctx context.Context) (*domain.LedgerIntegrity, error)
}
