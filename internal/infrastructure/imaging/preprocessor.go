// Package imaging decodes uploaded scans and runs the fixed enhancement
// sequence used before recognition. Filters run on OpenCV through gocv.
package imaging

import (
	"context"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type Options struct {
	ClipLimit float64
	TileGrid  int
	// Non-local means filter strength and window sizes.
	DenoiseStrength float32
	TemplateWindow  int
	SearchWindow    int
	// Estimated angles larger than this are treated as misdetections.
	IgnoreSkewAbove float64
	BlockSize       int
	ThresholdC      float32
}

func DefaultOptions() Options {
	return Options{
		ClipLimit:       2.0,
		TileGrid:        8,
		DenoiseStrength: 10,
		TemplateWindow:  7,
		SearchWindow:    21,
		IgnoreSkewAbove: 45,
		BlockSize:       11,
		ThresholdC:      2,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.ClipLimit <= 0 {
		o.ClipLimit = def.ClipLimit
	}
	if o.TileGrid <= 0 {
		o.TileGrid = def.TileGrid
	}
	if o.DenoiseStrength <= 0 {
		o.DenoiseStrength = def.DenoiseStrength
	}
	if o.TemplateWindow <= 0 {
		o.TemplateWindow = def.TemplateWindow
	}
	if o.SearchWindow <= 0 {
		o.SearchWindow = def.SearchWindow
	}
	if o.IgnoreSkewAbove <= 0 {
		o.IgnoreSkewAbove = def.IgnoreSkewAbove
	}
	if o.BlockSize < 3 {
		o.BlockSize = def.BlockSize
	}
	if o.BlockSize%2 == 0 {
		o.BlockSize++
	}
	return o
}

type Preprocessor struct {
	opts Options
}

func NewPreprocessor(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts.normalize()}
}

// Process runs contrast enhancement, denoising and rotation correction in
// that order. The enhanced and binary images have the input's bounds.
func (p *Preprocessor) Process(ctx context.Context, img image.Image) (domain.EnhancedImage, error) {
	const op = "imaging.process"
	if img == nil {
		return domain.EnhancedImage{}, domain.WrapError(domain.ErrUnsupportedImage, op, fmt.Errorf("nil image"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return domain.EnhancedImage{}, domain.WrapError(domain.ErrUnsupportedImage, op, fmt.Errorf("image has no pixels"))
	}

	src, err := grayMat(toGray(img))
	if err != nil {
		return domain.EnhancedImage{}, domain.WrapError(domain.ErrUnsupportedImage, op, err)
	}
	defer src.Close()

	enhanced := enhanceContrast(src, p.opts.ClipLimit, p.opts.TileGrid)
	defer enhanced.Close()
	if err := ctx.Err(); err != nil {
		return domain.EnhancedImage{}, err
	}

	denoised := denoise(enhanced, p.opts.DenoiseStrength, p.opts.TemplateWindow, p.opts.SearchWindow)
	defer denoised.Close()
	if err := ctx.Err(); err != nil {
		return domain.EnhancedImage{}, err
	}

	angle := estimateSkew(denoised)
	if math.Abs(angle) > p.opts.IgnoreSkewAbove || negligible(angle) {
		angle = 0
	}
	straight := denoised
	if angle != 0 {
		straight = rotate(denoised, angle)
		defer straight.Close()
	}
	if err := ctx.Err(); err != nil {
		return domain.EnhancedImage{}, err
	}

	binary := binarize(straight, p.opts.BlockSize, p.opts.ThresholdC)
	defer binary.Close()

	out := domain.EnhancedImage{SkewAngle: angle}
	if out.Enhanced, err = matGray(straight, b); err != nil {
		return domain.EnhancedImage{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.Binary, err = matGray(binary, b); err != nil {
		return domain.EnhancedImage{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
