// Package tesseract runs the local Tesseract engine through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/infrastructure/imaging"
)

const EngineName = "tesseract"

// Engine creates one gosseract client per call, so it is safe for
// concurrent use.
type Engine struct {
	clientFactory func() *gosseract.Client
	defaultLangs  []string
}

func New(defaultLangs ...string) *Engine {
	if len(defaultLangs) == 0 {
		defaultLangs = []string{"eng"}
	}
	return &Engine{clientFactory: gosseract.NewClient, defaultLangs: defaultLangs}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Recognize(ctx context.Context, img image.Image, languages []string) (domain.Recognition, error) {
	const op = "ocr.tesseract"
	if err := ctx.Err(); err != nil {
		return domain.Recognition{}, err
	}
	if len(languages) == 0 {
		languages = e.defaultLangs
	}

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return domain.Recognition{}, domain.WrapError(domain.ErrUnsupportedImage, op, err)
	}

	c := e.clientFactory()
	defer c.Close()
	if err := c.SetImageFromBytes(data); err != nil {
		return domain.Recognition{}, fmt.Errorf("%s: set image: %w", op, err)
	}
	if err := c.SetLanguage(languages...); err != nil {
		return domain.Recognition{}, fmt.Errorf("%s: set languages: %w", op, err)
	}
	text, err := c.Text()
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("%s: recognize text: %w", op, err)
	}

	return domain.Recognition{
		Engine:    EngineName,
		Language:  languages[0],
		Languages: languages,
		Text:      strings.TrimSpace(text),
		Spans:     wordSpans(c),
	}, nil
}

func wordSpans(c *gosseract.Client) []domain.TextSpan {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return []domain.TextSpan{}
	}
	spans := make([]domain.TextSpan, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		spans = append(spans, domain.TextSpan{
			Text: word,
			Bounds: domain.Region{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
			Confidence: b.Confidence / 100.0,
		})
	}
	return spans
}
