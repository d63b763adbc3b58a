package usecase

import (
	"context"
	"errors"
	"image"
	"reflect"
	"testing"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

func testRouting() domain.OCRRouting {
	return domain.OCRRouting{
		DefaultEngine: "inference",
		DefaultCodes:  []string{"eng"},
		Languages: map[string]domain.OCRRoute{
			"hin": {Engine: "tesseract", Codes: []string{"hin", "eng"}},
			"san": {Engine: "tesseract", Codes: []string{"san"}},
		},
	}
}

func newTestRouter(t *testing.T, routing domain.OCRRouting, primary, secondary *engineFake) *RecognitionRouter {
	t.Helper()
	router, err := NewRecognitionRouter(routing, []ports.OCREngine{primary, secondary})
	if err != nil {
		t.Fatalf("NewRecognitionRouter() error = %v", err)
	}
	return router
}

func TestRouterSendsFallbackLanguagesToSecondary(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	cases := []struct {
		lang      string
		engine    string
		languages []string
	}{
		{"hin", "tesseract", []string{"hin", "eng"}},
		{"SAN", "tesseract", []string{"san"}},
		{"eng", "inference", []string{"eng"}},
		{"fra", "inference", []string{"eng"}},
		{"", "inference", []string{"eng"}},
	}
	for _, tc := range cases {
		t.Run(tc.lang, func(t *testing.T) {
			primary := &engineFake{name: "inference", text: "primary"}
			secondary := &engineFake{name: "tesseract", text: "secondary"}
			router := newTestRouter(t, testRouting(), primary, secondary)

			result, err := router.Recognize(context.Background(), img, tc.lang)
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if result.Engine != tc.engine {
				t.Fatalf("engine = %s, want %s", result.Engine, tc.engine)
			}
			used, other := primary, secondary
			if tc.engine == "tesseract" {
				used, other = secondary, primary
			}
			if used.calls != 1 || other.calls != 0 {
				t.Fatalf("unexpected calls: used=%d other=%d", used.calls, other.calls)
			}
			if !reflect.DeepEqual(used.languages, tc.languages) {
				t.Fatalf("languages = %v, want %v", used.languages, tc.languages)
			}
		})
	}
}

func TestRouterEmptyTextFallbackIsOptIn(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	primary := &engineFake{name: "inference", text: ""}
	secondary := &engineFake{name: "tesseract", text: "found"}
	router := newTestRouter(t, testRouting(), primary, secondary)

	result, err := router.Recognize(context.Background(), img, "eng")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Engine != "inference" || secondary.calls != 0 {
		t.Fatalf("fallback ran without being configured")
	}

	routing := testRouting()
	routing.EmptyTextFallback = &domain.OCRRoute{Engine: "tesseract", Codes: []string{"hin", "eng"}}
	primary = &engineFake{name: "inference", text: "  "}
	secondary = &engineFake{name: "tesseract", text: "found"}
	router = newTestRouter(t, routing, primary, secondary)

	result, err = router.Recognize(context.Background(), img, "eng")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Engine != "tesseract" || result.Text != "found" || result.Language != "eng" {
		t.Fatalf("unexpected fallback result %+v", result)
	}
}

func TestRouterPropagatesEngineError(t *testing.T) {
	failure := errors.New("ocr down")
	router := newTestRouter(t, testRouting(), &engineFake{name: "inference", err: failure}, &engineFake{name: "tesseract"})
	if _, err := router.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)), "eng"); !errors.Is(err, failure) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestNewRecognitionRouterRejectsUnknownEngines(t *testing.T) {
	routing := testRouting()
	if _, err := NewRecognitionRouter(routing, []ports.OCREngine{&engineFake{name: "inference"}}); err == nil {
		t.Fatalf("expected error for unregistered tesseract")
	}
	routing.DefaultEngine = "cloud"
	if _, err := NewRecognitionRouter(routing, []ports.OCREngine{&engineFake{name: "inference"}, &engineFake{name: "tesseract"}}); err == nil {
		t.Fatalf("expected error for unregistered default engine")
	}
}
