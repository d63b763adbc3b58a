package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

//go:embed routing.yaml
var defaultRouting []byte

//go:embed prompts.yaml
var defaultPrompts []byte

// LoadRouting reads the OCR routing table from path, or the built-in table
// when path is empty. Language keys are normalized to lower case.
func LoadRouting(path string) (domain.OCRRouting, error) {
	raw, err := readOrDefault(path, defaultRouting)
	if err != nil {
		return domain.OCRRouting{}, err
	}
	var routing domain.OCRRouting
	if err := yaml.Unmarshal(raw, &routing); err != nil {
		return domain.OCRRouting{}, fmt.Errorf("parse routing %q: %w", path, err)
	}
	return normalizeRouting(routing)
}

func normalizeRouting(routing domain.OCRRouting) (domain.OCRRouting, error) {
	routing.DefaultEngine = strings.ToLower(strings.TrimSpace(routing.DefaultEngine))
	if routing.DefaultEngine == "" {
		return domain.OCRRouting{}, fmt.Errorf("routing: default_engine is required")
	}
	languages := make(map[string]domain.OCRRoute, len(routing.Languages))
	for code, route := range routing.Languages {
		key := strings.ToLower(strings.TrimSpace(code))
		route.Engine = strings.ToLower(strings.TrimSpace(route.Engine))
		if key == "" || route.Engine == "" {
			return domain.OCRRouting{}, fmt.Errorf("routing: language %q needs an engine", code)
		}
		if _, dup := languages[key]; dup {
			return domain.OCRRouting{}, fmt.Errorf("routing: language %q listed twice", key)
		}
		languages[key] = route
	}
	routing.Languages = languages
	if fb := routing.EmptyTextFallback; fb != nil {
		fb.Engine = strings.ToLower(strings.TrimSpace(fb.Engine))
		if fb.Engine == "" {
			routing.EmptyTextFallback = nil
		}
	}
	return routing, nil
}

// LoadPrompts reads the reasoning prompt templates from path, or the built-in
// set when path is empty. Templates missing from the file keep their
// built-in values.
func LoadPrompts(path string) (domain.PromptSet, error) {
	var prompts domain.PromptSet
	if err := yaml.Unmarshal(defaultPrompts, &prompts); err != nil {
		return domain.PromptSet{}, fmt.Errorf("parse built-in prompts: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return prompts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PromptSet{}, fmt.Errorf("read prompts %q: %w", path, err)
	}
	var override domain.PromptSet
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return domain.PromptSet{}, fmt.Errorf("parse prompts %q: %w", path, err)
	}
	if override.System != "" {
		prompts.System = override.System
	}
	if override.Structure != "" {
		prompts.Structure = override.Structure
	}
	if override.Translate != "" {
		prompts.Translate = override.Translate
	}
	if override.Answer != "" {
		prompts.Answer = override.Answer
	}
	return prompts, nil
}

func readOrDefault(path string, fallback []byte) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return raw, nil
}
