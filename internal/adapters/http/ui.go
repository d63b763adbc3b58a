package httpadapter

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"slices"
)

//go:embed ui.html
var uiTemplate string

// uiPage is the single-page operator console. It is rendered once at startup
// because its inputs are static configuration.
type uiPage struct {
	body []byte
}

type uiData struct {
	Languages       []string
	DefaultLanguage string
	ServerKey       bool
}

func newUIPage(languages []string, defaultLanguage string, serverKey bool) (*uiPage, error) {
	tmpl, err := template.New("ui").Parse(uiTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse ui template: %w", err)
	}
	langs := slices.Clone(languages)
	if defaultLanguage != "" && !slices.Contains(langs, defaultLanguage) {
		langs = append([]string{defaultLanguage}, langs...)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, uiData{Languages: langs, DefaultLanguage: defaultLanguage, ServerKey: serverKey}); err != nil {
		return nil, fmt.Errorf("render ui template: %w", err)
	}
	return &uiPage{body: buf.Bytes()}, nil
}

func (p *uiPage) serve(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.body)
}
