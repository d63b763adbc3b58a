package domain

// OCRRoute names the engine and the engine-specific language codes used for
// one selected language.
type OCRRoute struct {
	Engine string   `yaml:"engine" json:"engine"`
	Codes  []string `yaml:"codes" json:"codes,omitempty"`
}

// OCRRouting maps selected languages to OCR engines. Languages absent from
// the table go to DefaultEngine.
type OCRRouting struct {
	DefaultEngine     string              `yaml:"default_engine" json:"default_engine"`
	DefaultCodes      []string            `yaml:"default_codes" json:"default_codes,omitempty"`
	Languages         map[string]OCRRoute `yaml:"languages" json:"languages"`
	EmptyTextFallback *OCRRoute           `yaml:"empty_text_fallback" json:"empty_text_fallback,omitempty"`
}
