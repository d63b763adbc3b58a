package usecase

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type llmFake struct {
	mu          sync.Mutex
	model       string
	requiresKey bool
	reply       string
	err         error
	calls       []domain.Completion
}

func (f *llmFake) Model() string        { return f.model }
func (f *llmFake) RequiresAPIKey() bool { return f.requiresKey }
func (f *llmFake) Complete(_ context.Context, c domain.Completion) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type engineFake struct {
	name      string
	text      string
	err       error
	calls     int
	languages []string
}

func (f *engineFake) Name() string { return f.name }
func (f *engineFake) Recognize(_ context.Context, _ image.Image, languages []string) (domain.Recognition, error) {
	f.calls++
	f.languages = languages
	if f.err != nil {
		return domain.Recognition{}, f.err
	}
	return domain.Recognition{Text: f.text, Spans: []domain.TextSpan{{Text: f.text}}}, nil
}

type ledgerRepoFake struct {
	mu         sync.Mutex
	entries    []domain.LedgerEntry
	appendErr  error
	onConflict func(entry *domain.LedgerEntry)
}

func (f *ledgerRepoFake) Last(context.Context) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	last := f.entries[len(f.entries)-1]
	return &last, nil
}

func (f *ledgerRepoFake) FindByHash(_ context.Context, hash string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Hash == hash {
			found := e
			return &found, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "fake.find", fmt.Errorf("hash %s", hash))
}

func (f *ledgerRepoFake) Append(_ context.Context, entry *domain.LedgerEntry) error {
	f.mu.Lock()
	if f.appendErr != nil {
		err := f.appendErr
		hook := f.onConflict
		f.mu.Unlock()
		if hook != nil {
			hook(entry)
		}
		return err
	}
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *ledgerRepoFake) List(_ context.Context, limit, offset int) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.entries) {
		end = len(f.entries)
	}
	return append([]domain.LedgerEntry(nil), f.entries[offset:end]...), nil
}

type publisherFake struct {
	events []domain.LedgerAppendedEvent
	err    error
}

func (f *publisherFake) PublishLedgerAppended(_ context.Context, event domain.LedgerAppendedEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type sessionStoreFake struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newSessionStoreFake(sessions ...*domain.Session) *sessionStoreFake {
	f := &sessionStoreFake{sessions: map[string]*domain.Session{}}
	for _, s := range sessions {
		f.sessions[s.ID] = s.Clone()
	}
	return f
}

func (f *sessionStoreFake) Create(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s.Clone()
	return nil
}

func (f *sessionStoreFake) Get(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fake.session", fmt.Errorf("session %s", id))
	}
	return s.Clone(), nil
}

func (f *sessionStoreFake) Update(_ context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fake.session", fmt.Errorf("session %s", id))
	}
	next := s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	f.sessions[id] = next
	return next.Clone(), nil
}

func (f *sessionStoreFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "fake.session", fmt.Errorf("session %s", id))
	}
	delete(f.sessions, id)
	return nil
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newStorageFake() *storageFake { return &storageFake{objects: map[string][]byte{}} }

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fake.storage", fmt.Errorf("key %s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type codecFake struct{}

func (codecFake) Decode(data []byte) (domain.DecodedImage, error) {
	if len(data) == 0 {
		return domain.DecodedImage{}, domain.WrapError(domain.ErrInvalidInput, "fake.decode", fmt.Errorf("empty"))
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.DecodedImage{}, domain.WrapError(domain.ErrUnsupportedImage, "fake.decode", err)
	}
	return domain.DecodedImage{Image: img, Format: "png", MimeType: "image/png"}, nil
}

func (codecFake) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type preprocessorFake struct {
	calls int
	err   error
}

func (f *preprocessorFake) Process(_ context.Context, img image.Image) (domain.EnhancedImage, error) {
	f.calls++
	if f.err != nil {
		return domain.EnhancedImage{}, f.err
	}
	return domain.EnhancedImage{Enhanced: img, Binary: img, SkewAngle: 1.5}, nil
}

type recognizerFake struct {
	result domain.Recognition
	err    error
	calls  int
	lang   string
}

func (f *recognizerFake) Recognize(_ context.Context, _ image.Image, language string) (domain.Recognition, error) {
	f.calls++
	f.lang = language
	if f.err != nil {
		return domain.Recognition{}, f.err
	}
	return f.result, nil
}

type reasonerFake struct {
	requiresKey bool
	result      *domain.ReasoningResult
	err         error
	requests    []domain.ReasoningRequest
}

func (f *reasonerFake) RequiresAPIKey() bool { return f.requiresKey }
func (f *reasonerFake) Reason(_ context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type ledgerServiceFake struct {
	entry   *domain.LedgerEntry
	err     error
	records []domain.StructuredRecord
}

func (f *ledgerServiceFake) Register(_ context.Context, record domain.StructuredRecord, _ map[string]string) (*domain.LedgerEntry, error) {
	f.records = append(f.records, record)
	return f.entry, f.err
}
func (f *ledgerServiceFake) Verify(context.Context, domain.StructuredRecord) (*domain.LedgerVerification, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *ledgerServiceFake) List(context.Context, int, int) ([]domain.LedgerEntry, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *ledgerServiceFake) CheckIntegrity(context.Context) (*domain.LedgerIntegrity, error) {
	return nil, fmt.Errorf("not implemented")
}

func pngBytes(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetGray(1, 1, color.Gray{Y: 10})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}
