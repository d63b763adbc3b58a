package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

const defaultMaxTurns = 200

// SessionUseCase owns the per-user interaction context: API key, the last
// processed document and the ordered chat over it.
type SessionUseCase struct {
	store    ports.SessionStore
	reasoner ports.DocumentReasoner
	maxTurns int
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionUseCase(store ports.SessionStore, reasoner ports.DocumentReasoner, maxTurns int, logger *slog.Logger) *SessionUseCase {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionUseCase{
		store:    store,
		reasoner: reasoner,
		maxTurns: maxTurns,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *SessionUseCase) Open(ctx context.Context, apiKey string) (*domain.Session, error) {
	now := uc.now()
	session := &domain.Session{
		ID:         uuid.NewString(),
		APIKey:     strings.TrimSpace(apiKey),
		Turns:      []domain.ChatTurn{},
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := uc.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	uc.logger.Info("session_opened", "session_id", session.ID, "has_api_key", session.HasAPIKey())
	return session.Clone(), nil
}

func (uc *SessionUseCase) Get(ctx context.Context, id string) (*domain.Session, error) {
	return uc.store.Get(ctx, id)
}

func (uc *SessionUseCase) SetAPIKey(ctx context.Context, id, apiKey string) error {
	_, err := uc.store.Update(ctx, id, func(s *domain.Session) error {
		s.APIKey = strings.TrimSpace(apiKey)
		return nil
	})
	return err
}

// End discards the session with its key, document and chat history.
func (uc *SessionUseCase) End(ctx context.Context, id string) error {
	if err := uc.store.Delete(ctx, id); err != nil {
		return err
	}
	uc.logger.Info("session_ended", "session_id", id)
	return nil
}

// Translate translates the session's recognized text. It does not add chat
// turns.
func (uc *SessionUseCase) Translate(ctx context.Context, id, targetLanguage string) (*domain.ReasoningResult, error) {
	session, doc, err := uc.sessionWithDocument(ctx, id, "session.translate")
	if err != nil {
		return nil, err
	}
	return uc.reasoner.Reason(ctx, domain.ReasoningRequest{
		Mode:           domain.ModeTranslate,
		Text:           doc.Recognition.Text,
		TargetLanguage: targetLanguage,
		LanguageHint:   doc.Recognition.Language,
		APIKey:         session.APIKey,
	})
}

// Ask answers a question about the session's document and appends the
// question and answer as two turns. Nothing is appended when the call fails.
func (uc *SessionUseCase) Ask(ctx context.Context, id, question, targetLanguage string) (*domain.ChatTurn, error) {
	const op = "session.ask"
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("question is required"))
	}
	session, doc, err := uc.sessionWithDocument(ctx, id, op)
	if err != nil {
		return nil, err
	}

	asked := uc.now()
	result, err := uc.reasoner.Reason(ctx, domain.ReasoningRequest{
		Mode:           domain.ModeAnswer,
		Text:           doc.Recognition.Text,
		Question:       question,
		TargetLanguage: targetLanguage,
		LanguageHint:   doc.Recognition.Language,
		APIKey:         session.APIKey,
	})
	if err != nil {
		return nil, err
	}

	answer := domain.ChatTurn{Role: domain.RoleAssistant, Content: result.Text, CreatedAt: uc.now()}
	userTurn := domain.ChatTurn{Role: domain.RoleUser, Content: question, CreatedAt: asked}
	if err := uc.AppendTurns(ctx, id, userTurn, answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// AppendTurns adds turns in order and drops the oldest beyond the turn
// limit.
func (uc *SessionUseCase) AppendTurns(ctx context.Context, id string, turns ...domain.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	_, err := uc.store.Update(ctx, id, func(s *domain.Session) error {
		s.Turns = append(s.Turns, turns...)
		if over := len(s.Turns) - uc.maxTurns; over > 0 {
			s.Turns = append([]domain.ChatTurn(nil), s.Turns[over:]...)
		}
		return nil
	})
	return err
}

func (uc *SessionUseCase) History(ctx context.Context, id string) ([]domain.ChatTurn, error) {
	session, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Turns == nil {
		return []domain.ChatTurn{}, nil
	}
	return session.Turns, nil
}

func (uc *SessionUseCase) sessionWithDocument(ctx context.Context, id, op string) (*domain.Session, *domain.ProcessedDocument, error) {
	session, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if session.Processed == nil || strings.TrimSpace(session.Processed.Recognition.Text) == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("upload and process a document first"))
	}
	return session, session.Processed, nil
}
