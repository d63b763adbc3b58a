package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

var testPrompts = domain.PromptSet{
	System:    "You are an archivist.",
	Structure: "Language: {{.LanguageHint}}\n'''{{.Text}}'''\nOutput strictly valid JSON.",
	Translate: "'''{{.Text}}'''\nTranslate into {{.TargetLanguage}}.",
	Answer:    "'''{{.Text}}'''\nQ: {{.Question}}\nLanguage: {{.TargetLanguage}}",
}

func newReasoner(t *testing.T, llm *llmFake) *ReasoningUseCase {
	t.Helper()
	uc, err := NewReasoningUseCase(llm, testPrompts, nil, nil)
	if err != nil {
		t.Fatalf("NewReasoningUseCase() error = %v", err)
	}
	return uc
}

func TestReasonStructureParsesJSON(t *testing.T) {
	llm := &llmFake{model: "m", reply: "Here you go:\n```json\n{\"DocumentType\":\"Sale Deed\",\"Date\":\"1952\"}\n```"}
	uc := newReasoner(t, llm)

	result, err := uc.Reason(context.Background(), domain.ReasoningRequest{Mode: domain.ModeStructure, Text: "Sale Deed 1952", LanguageHint: "hin"})
	if err != nil {
		t.Fatalf("Reason() error = %v", err)
	}
	if result.Record["DocumentType"] != "Sale Deed" || result.Model != "m" {
		t.Fatalf("unexpected result %+v", result)
	}
	call := llm.calls[0]
	if !call.JSON || call.System != testPrompts.System {
		t.Fatalf("unexpected completion %+v", call)
	}
	if !strings.Contains(call.Prompt, "Language: hin") || !strings.Contains(call.Prompt, "Sale Deed 1952") {
		t.Fatalf("prompt not rendered: %q", call.Prompt)
	}
}

func TestReasonStructureRejectsMalformedJSON(t *testing.T) {
	cases := []string{
		"I could not read the document.",
		`{"DocumentType": "Sale Deed",}`,
		`["not", "an", "object"]`,
	}
	for _, raw := range cases {
		uc := newReasoner(t, &llmFake{reply: raw})
		_, err := uc.Reason(context.Background(), domain.ReasoningRequest{Mode: domain.ModeStructure, Text: "x"})
		var malformed *domain.MalformedOutputError
		if !errors.As(err, &malformed) {
			t.Fatalf("%q: expected MalformedOutputError, got %v", raw, err)
		}
		if malformed.Raw != raw || !errors.Is(err, domain.ErrMalformedOutput) {
			t.Fatalf("%q: raw output not preserved: %+v", raw, malformed)
		}
	}
}

func TestReasonTranslateReturnsText(t *testing.T) {
	llm := &llmFake{reply: "  Sale deed of land.  "}
	uc := newReasoner(t, llm)

	result, err := uc.Reason(context.Background(), domain.ReasoningRequest{Mode: domain.ModeTranslate, Text: "bikri patra"})
	if err != nil {
		t.Fatalf("Reason() error = %v", err)
	}
	if result.Text != "Sale deed of land." || result.Record != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if llm.calls[0].JSON {
		t.Fatalf("translate must not request json")
	}
	if !strings.Contains(llm.calls[0].Prompt, "Translate into English.") {
		t.Fatalf("expected default target language, got %q", llm.calls[0].Prompt)
	}
}

func TestReasonAnswerDoesNotParseJSON(t *testing.T) {
	uc := newReasoner(t, &llmFake{reply: "{not json"})
	result, err := uc.Reason(context.Background(), domain.ReasoningRequest{
		Mode: domain.ModeAnswer, Text: "doc", Question: "Who owns it?", TargetLanguage: "Hindi",
	})
	if err != nil {
		t.Fatalf("Reason() error = %v", err)
	}
	if result.Text != "{not json" {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestReasonValidation(t *testing.T) {
	cases := []struct {
		name string
		llm  *llmFake
		req  domain.ReasoningRequest
		kind error
	}{
		{"unknown mode", &llmFake{}, domain.ReasoningRequest{Mode: "summarize", Text: "x"}, domain.ErrInvalidInput},
		{"empty text", &llmFake{}, domain.ReasoningRequest{Mode: domain.ModeStructure, Text: "  "}, domain.ErrInvalidInput},
		{"answer without question", &llmFake{}, domain.ReasoningRequest{Mode: domain.ModeAnswer, Text: "x"}, domain.ErrInvalidInput},
		{"missing key", &llmFake{requiresKey: true}, domain.ReasoningRequest{Mode: domain.ModeTranslate, Text: "x"}, domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := newReasoner(t, tc.llm)
			if _, err := uc.Reason(context.Background(), tc.req); !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if len(tc.llm.calls) != 0 {
				t.Fatalf("llm must not be called")
			}
		})
	}
}

func TestReasonPropagatesProviderError(t *testing.T) {
	failure := domain.WrapError(domain.ErrTemporary, "llm", errors.New("503"))
	uc := newReasoner(t, &llmFake{err: failure})
	if _, err := uc.Reason(context.Background(), domain.ReasoningRequest{Mode: domain.ModeTranslate, Text: "x"}); !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestNewReasoningUseCaseRejectsBadTemplates(t *testing.T) {
	bad := testPrompts
	bad.Answer = "{{.Question"
	if _, err := NewReasoningUseCase(&llmFake{}, bad, nil, nil); err == nil {
		t.Fatalf("expected parse error")
	}
	bad = testPrompts
	bad.Translate = ""
	if _, err := NewReasoningUseCase(&llmFake{}, bad, nil, nil); err == nil {
		t.Fatalf("expected empty template error")
	}
}
