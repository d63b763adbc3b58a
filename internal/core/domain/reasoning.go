package domain

import "strings"

type ReasoningMode string

const (
	ModeStructure ReasoningMode = "structure"
	ModeTranslate ReasoningMode = "translate"
	ModeAnswer    ReasoningMode = "answer"
)

func ParseReasoningMode(raw string) (ReasoningMode, bool) {
	switch ReasoningMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeStructure:
		return ModeStructure, true
	case ModeTranslate:
		return ModeTranslate, true
	case ModeAnswer:
		return ModeAnswer, true
	default:
		return "", false
	}
}

type ReasoningRequest struct {
	Mode           ReasoningMode `json:"mode"`
	Text           string        `json:"text"`
	Question       string        `json:"question,omitempty"`
	TargetLanguage string        `json:"target_language,omitempty"`
	LanguageHint   string        `json:"language_hint,omitempty"`
	APIKey         string        `json:"-"`
}

type ReasoningResult struct {
	Mode   ReasoningMode    `json:"mode"`
	Text   string           `json:"text,omitempty"`
	Record StructuredRecord `json:"record,omitempty"`
	Model  string           `json:"model,omitempty"`
}

// Completion is a single provider-agnostic LLM call.
type Completion struct {
	System string
	Prompt string
	JSON   bool
	APIKey string
}

// PromptSet holds the text/template sources used to build reasoning prompts.
type PromptSet struct {
	System    string `yaml:"system"`
	Structure string `yaml:"structure"`
	Translate string `yaml:"translate"`
	Answer    string `yaml:"answer"`
}
