package usecase

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

const pngContentType = "image/png"

type DigitizeUseCase struct {
	sessions     ports.SessionStore
	storage      ports.ArtifactStorage
	codec        ports.ImageCodec
	preprocessor ports.ImagePreprocessor
	recognizer   ports.TextRecognizer
	reasoner     ports.DocumentReasoner
	ledger       ports.LedgerService
	metrics      ports.PipelineMetrics
	logger       *slog.Logger
	maxBytes     int64
	now          func() time.Time
}

type DigitizeDeps struct {
	Sessions     ports.SessionStore
	Storage      ports.ArtifactStorage
	Codec        ports.ImageCodec
	Preprocessor ports.ImagePreprocessor
	Recognizer   ports.TextRecognizer
	Reasoner     ports.DocumentReasoner
	Ledger       ports.LedgerService
	Metrics      ports.PipelineMetrics
	Logger       *slog.Logger
	MaxBytes     int64
}

func NewDigitizeUseCase(deps DigitizeDeps) *DigitizeUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DigitizeUseCase{
		sessions:     deps.Sessions,
		storage:      deps.Storage,
		codec:        deps.Codec,
		preprocessor: deps.Preprocessor,
		recognizer:   deps.Recognizer,
		reasoner:     deps.Reasoner,
		ledger:       deps.Ledger,
		metrics:      metricsOrNoop(deps.Metrics),
		logger:       logger,
		maxBytes:     deps.MaxBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Digitize runs ingestion, preprocessing, recognition, structuring and
// ledger registration for one upload. The session's processed document is
// replaced only when every stage succeeds; chat turns are kept.
func (uc *DigitizeUseCase) Digitize(ctx context.Context, req domain.DigitizeRequest) (*domain.ProcessedDocument, error) {
	var stored []string
	processed, err := uc.digitize(ctx, req, &stored)
	if err != nil {
		uc.discardArtifacts(ctx, stored)
		return nil, err
	}
	return processed, nil
}

// discardArtifacts removes what a failed run stored. The session still
// points at the previous document, so nothing references these keys.
func (uc *DigitizeUseCase) discardArtifacts(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := uc.storage.Delete(ctx, key); err != nil {
			uc.logger.Warn("artifact_cleanup_failed", "key", key, "error", err)
		}
	}
}

func (uc *DigitizeUseCase) digitize(ctx context.Context, req domain.DigitizeRequest, stored *[]string) (*domain.ProcessedDocument, error) {
	const op = "digitize"
	session, err := uc.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !req.SkipReasoning && uc.reasoner.RequiresAPIKey() && !session.HasAPIKey() {
		return nil, domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("api key is required"))
	}

	data, err := uc.readUpload(req.Body)
	if err != nil {
		return nil, err
	}
	decoded, err := uc.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := decoded.Image.Bounds()
	doc := domain.Document{
		ID:        uuid.NewString(),
		Filename:  displayName(req.Filename),
		MimeType:  decoded.MimeType,
		Format:    decoded.Format,
		SizeBytes: int64(len(data)),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		CreatedAt: uc.now(),
	}
	log := uc.logger.With("session_id", session.ID, "document_id", doc.ID)
	originalKey := domain.ArtifactKey(doc.ID, domain.ArtifactOriginal)
	if err := uc.storage.Save(ctx, originalKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save original: %w", err)
	}
	*stored = append(*stored, originalKey)
	log.Info("pipeline_stage_done", "stage", "ingestion", "format", doc.Format, "width", doc.Width, "height", doc.Height)

	source := decoded.Image
	enhancement := domain.Enhancement{}
	if req.Preprocess {
		started := time.Now()
		enhanced, err := uc.preprocessor.Process(ctx, decoded.Image)
		uc.metrics.ObserveStage("preprocessing", "", time.Since(started), err)
		if err != nil {
			return nil, fmt.Errorf("preprocess: %w", err)
		}
		if err := uc.saveDerived(ctx, doc.ID, enhanced, stored); err != nil {
			return nil, err
		}
		source = enhanced.Enhanced
		enhancement = domain.Enhancement{SkewAngle: enhanced.SkewAngle, Preprocessed: true}
		log.Info("pipeline_stage_done", "stage", "preprocessing", "skew_angle", enhanced.SkewAngle,
			"duration_ms", time.Since(started).Milliseconds())
	}

	started := time.Now()
	recognition, err := uc.recognizer.Recognize(ctx, source, req.Language)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	log.Info("pipeline_stage_done", "stage", "recognition", "engine", recognition.Engine,
		"language", recognition.Language, "spans", len(recognition.Spans), "duration_ms", time.Since(started).Milliseconds())

	processed := &domain.ProcessedDocument{
		Document:    doc,
		Enhancement: enhancement,
		Recognition: recognition,
	}

	switch {
	case req.SkipReasoning:
	case strings.TrimSpace(recognition.Text) == "":
		log.Warn("structure_skipped_empty_text", "engine", recognition.Engine)
	default:
		started = time.Now()
		result, err := uc.reasoner.Reason(ctx, domain.ReasoningRequest{
			Mode:         domain.ModeStructure,
			Text:         recognition.Text,
			LanguageHint: recognition.Language,
			APIKey:       session.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("structure: %w", err)
		}
		processed.Record = result.Record
		log.Info("pipeline_stage_done", "stage", "reasoning", "model", result.Model,
			"fields", len(result.Record), "duration_ms", time.Since(started).Milliseconds())

		entry, err := uc.ledger.Register(ctx, result.Record, map[string]string{
			"source":      doc.Filename,
			"document_id": doc.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("register record: %w", err)
		}
		processed.Ledger = entry
	}
	processed.ProcessedAt = uc.now()

	if _, err := uc.sessions.Update(ctx, session.ID, func(s *domain.Session) error {
		s.Processed = processed
		return nil
	}); err != nil {
		return nil, err
	}
	return processed, nil
}

// OpenArtifact returns a stored image of the session's current document and
// its content type.
func (uc *DigitizeUseCase) OpenArtifact(ctx context.Context, sessionID string, kind domain.ArtifactKind) (io.ReadCloser, string, error) {
	const op = "digitize.open_artifact"
	session, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.Processed == nil {
		return nil, "", domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("no processed document"))
	}
	doc := session.Processed.Document
	contentType := pngContentType
	switch kind {
	case domain.ArtifactOriginal:
		contentType = doc.MimeType
	case domain.ArtifactEnhanced, domain.ArtifactBinary:
		if !session.Processed.Enhancement.Preprocessed {
			return nil, "", domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("document was not preprocessed"))
		}
	default:
		return nil, "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unknown artifact %q", kind))
	}
	rc, err := uc.storage.Open(ctx, domain.ArtifactKey(doc.ID, kind))
	if err != nil {
		return nil, "", err
	}
	return rc, contentType, nil
}

func (uc *DigitizeUseCase) readUpload(body io.Reader) ([]byte, error) {
	const op = "digitize.ingest"
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("empty upload"))
	}
	reader := body
	if uc.maxBytes > 0 {
		reader = io.LimitReader(body, uc.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("read upload: %w", err))
	}
	if uc.maxBytes > 0 && int64(len(data)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("upload exceeds %d bytes", uc.maxBytes))
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("empty upload"))
	}
	return data, nil
}

func (uc *DigitizeUseCase) saveDerived(ctx context.Context, docID string, enhanced domain.EnhancedImage, stored *[]string) error {
	derived := []struct {
		kind domain.ArtifactKind
		img  image.Image
	}{
		{domain.ArtifactEnhanced, enhanced.Enhanced},
		{domain.ArtifactBinary, enhanced.Binary},
	}
	for _, d := range derived {
		if d.img == nil {
			continue
		}
		encoded, err := uc.codec.EncodePNG(d.img)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.kind, err)
		}
		key := domain.ArtifactKey(docID, d.kind)
		if err := uc.storage.Save(ctx, key, bytes.NewReader(encoded)); err != nil {
			return fmt.Errorf("save %s: %w", d.kind, err)
		}
		*stored = append(*stored, key)
	}
	return nil
}

func displayName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return "document"
	}
	return base
}
