package domain

import (
	"image"
	"io"
	"time"
)

type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Format    string    `json:"format"`
	SizeBytes int64     `json:"size_bytes"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// Region is a pixel rectangle with the origin in the upper-left corner.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

type TextSpan struct {
	Text       string  `json:"text"`
	Label      string  `json:"label,omitempty"`
	Bounds     Region  `json:"bounds"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Recognition struct {
	Engine    string     `json:"engine"`
	Language  string     `json:"language"`
	Languages []string   `json:"languages,omitempty"`
	Text      string     `json:"text"`
	Spans     []TextSpan `json:"spans"`
}

type Enhancement struct {
	SkewAngle    float64 `json:"skew_angle"`
	Preprocessed bool    `json:"preprocessed"`
}

// StructuredRecord is the key/value extraction produced by the structure
// reasoning mode. Its shape is decided by the model.
type StructuredRecord map[string]any

type ProcessedDocument struct {
	Document    Document         `json:"document"`
	Enhancement Enhancement      `json:"enhancement"`
	Recognition Recognition      `json:"recognition"`
	Record      StructuredRecord `json:"record,omitempty"`
	Ledger      *LedgerEntry     `json:"ledger,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// EnhancedImage is the output of the preprocessing stage. Enhanced and Binary
// always have the bounds of the input image.
type EnhancedImage struct {
	Enhanced  image.Image
	Binary    image.Image
	SkewAngle float64
}

// DigitizeRequest carries one uploaded document through the pipeline.
type DigitizeRequest struct {
	SessionID     string
	Filename      string
	MimeType      string
	Body          io.Reader
	Language      string
	Preprocess    bool
	SkipReasoning bool
}

// DecodedImage is an uploaded image after format detection.
type DecodedImage struct {
	Image    image.Image
	Format   string
	MimeType string
}

type ArtifactKind string

const (
	ArtifactOriginal ArtifactKind = "original"
	ArtifactEnhanced ArtifactKind = "enhanced"
	ArtifactBinary   ArtifactKind = "binary"
)

func ParseArtifactKind(raw string) (ArtifactKind, bool) {
	switch ArtifactKind(raw) {
	case ArtifactOriginal, ArtifactEnhanced, ArtifactBinary:
		return ArtifactKind(raw), true
	}
	return "", false
}

// ArtifactKey is the storage key of one stored image of a document.
func ArtifactKey(documentID string, kind ArtifactKind) string {
	return documentID + "/" + string(kind)
}
