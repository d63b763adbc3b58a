package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/config"
	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type sessionsFake struct {
	sessions map[string]*domain.Session
	err      error

	translateTarget string
	askQuestion     string
	askTarget       string
	apiKey          string
}

func newSessionsFake() *sessionsFake {
	return &sessionsFake{sessions: map[string]*domain.Session{}}
}

func (f *sessionsFake) Open(_ context.Context, apiKey string) (*domain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.Session{ID: "s-new", APIKey: apiKey, CreatedAt: now, LastSeenAt: now}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *sessionsFake) Get(_ context.Context, id string) (*domain.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "session.get", errors.New(id))
	}
	return s, nil
}

func (f *sessionsFake) SetAPIKey(ctx context.Context, id, apiKey string) error {
	s, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	s.APIKey = apiKey
	f.apiKey = apiKey
	return nil
}

func (f *sessionsFake) End(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.sessions, id)
	return nil
}

func (f *sessionsFake) Translate(ctx context.Context, id, target string) (*domain.ReasoningResult, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	f.translateTarget = target
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ReasoningResult{Mode: domain.ModeTranslate, Text: "translated"}, nil
}

func (f *sessionsFake) Ask(ctx context.Context, id, question, target string) (*domain.ChatTurn, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	f.askQuestion, f.askTarget = question, target
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatTurn{Role: domain.RoleAssistant, Content: "answer"}, nil
}

func (f *sessionsFake) History(ctx context.Context, id string) ([]domain.ChatTurn, error) {
	s, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Turns, nil
}

type digitizerFake struct {
	req      domain.DigitizeRequest
	body     string
	doc      *domain.ProcessedDocument
	err      error
	artifact string
}

func (f *digitizerFake) Digitize(_ context.Context, req domain.DigitizeRequest) (*domain.ProcessedDocument, error) {
	f.req = req
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		f.body = string(data)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *digitizerFake) OpenArtifact(_ context.Context, _ string, kind domain.ArtifactKind) (io.ReadCloser, string, error) {
	if f.artifact == "" {
		return nil, "", domain.WrapError(domain.ErrNotFound, "artifact", errors.New(string(kind)))
	}
	return io.NopCloser(strings.NewReader(f.artifact)), "image/png", nil
}

type reasonerFake struct {
	req        domain.ReasoningRequest
	result     *domain.ReasoningResult
	err        error
	requireKey bool
}

func (f *reasonerFake) Reason(_ context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *reasonerFake) RequiresAPIKey() bool { return f.requireKey }

type ledgerFake struct {
	limit, offset int
	verified      domain.StructuredRecord
	integrity     *domain.LedgerIntegrity
}

func (f *ledgerFake) Register(context.Context, domain.StructuredRecord, map[string]string) (*domain.LedgerEntry, error) {
	return nil, errors.New("not used")
}

func (f *ledgerFake) Verify(_ context.Context, record domain.StructuredRecord) (*domain.LedgerVerification, error) {
	f.verified = record
	return &domain.LedgerVerification{Verified: true, Hash: "abc", Entry: &domain.LedgerEntry{Index: 1, Hash: "abc"}}, nil
}

func (f *ledgerFake) List(_ context.Context, limit, offset int) ([]domain.LedgerEntry, error) {
	f.limit, f.offset = limit, offset
	return []domain.LedgerEntry{{Index: 1, Hash: "abc", PreviousHash: domain.GenesisHash}}, nil
}

func (f *ledgerFake) CheckIntegrity(context.Context) (*domain.LedgerIntegrity, error) {
	if f.integrity != nil {
		return f.integrity, nil
	}
	return &domain.LedgerIntegrity{Valid: true, Entries: 1}, nil
}

type exporterFake struct{}

func (exporterFake) ContentType() string { return "application/test-xlsx" }

func (exporterFake) Export(w io.Writer, doc *domain.ProcessedDocument) error {
	_, err := io.WriteString(w, "xlsx:"+doc.Document.ID)
	return err
}

type testEnv struct {
	sessions  *sessionsFake
	digitizer *digitizerFake
	reasoner  *reasonerFake
	ledger    *ledgerFake
}

func newTestEnv() *testEnv {
	return &testEnv{
		sessions:  newSessionsFake(),
		digitizer: &digitizerFake{},
		reasoner:  &reasonerFake{result: &domain.ReasoningResult{Mode: domain.ModeTranslate, Text: "ok"}},
		ledger:    &ledgerFake{},
	}
}

func (e *testEnv) handler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, Services{
		Sessions:  e.sessions,
		Digitizer: e.digitizer,
		Reasoner:  e.reasoner,
		Ledger:    e.ledger,
		Exporter:  exporterFake{},
		Languages: []string{"eng", "hin", "san"},
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	return newTestEnv().handler(t, cfg)
}
