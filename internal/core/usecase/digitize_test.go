package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type digitizeFixture struct {
	sessions     *sessionStoreFake
	storage      *storageFake
	preprocessor *preprocessorFake
	recognizer   *recognizerFake
	reasoner     *reasonerFake
	ledger       *ledgerServiceFake
	uc           *DigitizeUseCase
}

func newDigitizeFixture(session *domain.Session) *digitizeFixture {
	f := &digitizeFixture{
		sessions:     newSessionStoreFake(session),
		storage:      newStorageFake(),
		preprocessor: &preprocessorFake{},
		recognizer: &recognizerFake{result: domain.Recognition{
			Engine: "inference", Language: "eng", Text: "Sale Deed",
		}},
		reasoner: &reasonerFake{requiresKey: true, result: &domain.ReasoningResult{
			Mode: domain.ModeStructure, Record: domain.StructuredRecord{"DocumentType": "Sale Deed"},
		}},
		ledger: &ledgerServiceFake{entry: &domain.LedgerEntry{Index: 1, Hash: "h1"}},
	}
	f.uc = NewDigitizeUseCase(DigitizeDeps{
		Sessions:     f.sessions,
		Storage:      f.storage,
		Codec:        codecFake{},
		Preprocessor: f.preprocessor,
		Recognizer:   f.recognizer,
		Reasoner:     f.reasoner,
		Ledger:       f.ledger,
		MaxBytes:     1 << 20,
	})
	return f
}

func sessionWithKey() *domain.Session {
	return &domain.Session{
		ID:     "s1",
		APIKey: "sk-test",
		Turns:  []domain.ChatTurn{{Role: domain.RoleUser, Content: "earlier"}},
	}
}

func TestDigitizeRunsAllStages(t *testing.T) {
	f := newDigitizeFixture(sessionWithKey())

	doc, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{
		SessionID:  "s1",
		Filename:   "../deed 1.png",
		Body:       bytes.NewReader(pngBytes(8, 6)),
		Language:   "hin",
		Preprocess: true,
	})
	if err != nil {
		t.Fatalf("Digitize() error = %v", err)
	}
	if doc.Document.Filename != "deed 1.png" || doc.Document.Width != 8 || doc.Document.Height != 6 {
		t.Fatalf("unexpected document %+v", doc.Document)
	}
	if !doc.Enhancement.Preprocessed || doc.Enhancement.SkewAngle != 1.5 {
		t.Fatalf("unexpected enhancement %+v", doc.Enhancement)
	}
	if f.recognizer.lang != "hin" {
		t.Fatalf("language not passed to recognizer: %q", f.recognizer.lang)
	}
	req := f.reasoner.requests[0]
	if req.Mode != domain.ModeStructure || req.Text != "Sale Deed" || req.APIKey != "sk-test" {
		t.Fatalf("unexpected reasoning request %+v", req)
	}
	if doc.Ledger == nil || doc.Ledger.Hash != "h1" {
		t.Fatalf("expected ledger entry, got %+v", doc.Ledger)
	}
	for _, kind := range []domain.ArtifactKind{domain.ArtifactOriginal, domain.ArtifactEnhanced, domain.ArtifactBinary} {
		if _, ok := f.storage.objects[domain.ArtifactKey(doc.Document.ID, kind)]; !ok {
			t.Fatalf("artifact %s not stored", kind)
		}
	}

	stored, _ := f.sessions.Get(context.Background(), "s1")
	if stored.Processed == nil || stored.Processed.Document.ID != doc.Document.ID {
		t.Fatalf("session not updated")
	}
	if len(stored.Turns) != 1 {
		t.Fatalf("chat history must survive reprocessing, got %d turns", len(stored.Turns))
	}
}

func TestDigitizeFailsBeforeReasoningOnBadUpload(t *testing.T) {
	cases := []struct {
		name string
		body io.Reader
		kind error
	}{
		{"empty", bytes.NewReader(nil), domain.ErrInvalidInput},
		{"nil body", nil, domain.ErrInvalidInput},
		{"not an image", strings.NewReader("%PDF-1.4"), domain.ErrUnsupportedImage},
		{"too large", bytes.NewReader(make([]byte, 2<<20)), domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDigitizeFixture(sessionWithKey())
			_, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "s1", Body: tc.body, Preprocess: true})
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if f.preprocessor.calls != 0 || f.recognizer.calls != 0 || len(f.reasoner.requests) != 0 {
				t.Fatalf("pipeline continued after bad upload")
			}
			if len(f.storage.objects) != 0 {
				t.Fatalf("bad upload stored")
			}
		})
	}
}

func TestDigitizeRequiresKeyBeforeIngest(t *testing.T) {
	f := newDigitizeFixture(&domain.Session{ID: "s1"})
	_, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "s1", Body: bytes.NewReader(pngBytes(4, 4))})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if f.recognizer.calls != 0 {
		t.Fatalf("recognition ran without a key")
	}

	doc, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{
		SessionID: "s1", Body: bytes.NewReader(pngBytes(4, 4)), SkipReasoning: true,
	})
	if err != nil {
		t.Fatalf("Digitize(skip reasoning) error = %v", err)
	}
	if doc.Record != nil || doc.Ledger != nil || len(f.reasoner.requests) != 0 {
		t.Fatalf("reasoning ran while skipped")
	}
}

func TestDigitizeWithoutPreprocessingUsesOriginal(t *testing.T) {
	f := newDigitizeFixture(sessionWithKey())
	doc, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "s1", Body: bytes.NewReader(pngBytes(4, 4))})
	if err != nil {
		t.Fatalf("Digitize() error = %v", err)
	}
	if f.preprocessor.calls != 0 || doc.Enhancement.Preprocessed {
		t.Fatalf("preprocessing ran while disabled")
	}
	if _, _, err := f.uc.OpenArtifact(context.Background(), "s1", domain.ArtifactEnhanced); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing enhanced artifact, got %v", err)
	}
	rc, contentType, err := f.uc.OpenArtifact(context.Background(), "s1", domain.ArtifactOriginal)
	if err != nil {
		t.Fatalf("OpenArtifact() error = %v", err)
	}
	defer rc.Close()
	if contentType != "image/png" {
		t.Fatalf("unexpected content type %q", contentType)
	}
}

func TestDigitizeSkipsStructuringOnEmptyText(t *testing.T) {
	f := newDigitizeFixture(sessionWithKey())
	f.recognizer.result.Text = " \n"
	doc, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "s1", Body: bytes.NewReader(pngBytes(4, 4))})
	if err != nil {
		t.Fatalf("Digitize() error = %v", err)
	}
	if doc.Record != nil || len(f.reasoner.requests) != 0 {
		t.Fatalf("structuring ran on empty text")
	}
}

func TestDigitizeFailureKeepsPreviousDocument(t *testing.T) {
	previous := &domain.ProcessedDocument{Document: domain.Document{ID: "old"}}
	session := sessionWithKey()
	session.Processed = previous
	f := newDigitizeFixture(session)
	f.reasoner.err = &domain.MalformedOutputError{Raw: "nope"}

	_, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "s1", Body: bytes.NewReader(pngBytes(4, 4))})
	if !errors.Is(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
	stored, _ := f.sessions.Get(context.Background(), "s1")
	if stored.Processed == nil || stored.Processed.Document.ID != "old" {
		t.Fatalf("failed run replaced the session document")
	}
	if len(f.ledger.records) != 0 {
		t.Fatalf("failed structure reached the ledger")
	}
}

func TestDigitizeUnknownSession(t *testing.T) {
	f := newDigitizeFixture(sessionWithKey())
	_, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{SessionID: "nope", Body: bytes.NewReader(pngBytes(4, 4))})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDigitizeFailureRemovesStoredArtifacts(t *testing.T) {
	cases := map[string]func(f *digitizeFixture){
		"recognition": func(f *digitizeFixture) { f.recognizer.err = domain.WrapError(domain.ErrTemporary, "ocr", errors.New("down")) },
		"structure":   func(f *digitizeFixture) { f.reasoner.err = &domain.MalformedOutputError{Raw: "nope"} },
		"ledger":      func(f *digitizeFixture) { f.ledger.err = errors.New("db gone") },
	}
	for stage, fail := range cases {
		t.Run(stage, func(t *testing.T) {
			f := newDigitizeFixture(sessionWithKey())
			fail(f)
			_, err := f.uc.Digitize(context.Background(), domain.DigitizeRequest{
				SessionID:  "s1",
				Body:       bytes.NewReader(pngBytes(4, 4)),
				Preprocess: true,
			})
			if err == nil {
				t.Fatalf("expected %s failure", stage)
			}
			if f.preprocessor.calls != 1 {
				t.Fatalf("preprocessing did not run")
			}
			if len(f.storage.objects) != 0 {
				t.Fatalf("artifacts left behind: %d", len(f.storage.objects))
			}
		})
	}
}
