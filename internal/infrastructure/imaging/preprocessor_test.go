package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

func TestProcessPreservesDimensions(t *testing.T) {
	p := NewPreprocessor(DefaultOptions())
	sizes := []image.Rectangle{
		image.Rect(0, 0, 1, 1),
		image.Rect(0, 0, 3, 7),
		image.Rect(0, 0, 64, 40),
		image.Rect(10, 20, 91, 77),
	}
	for _, rect := range sizes {
		src := image.NewRGBA(rect)
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				src.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
			}
		}
		out, err := p.Process(context.Background(), src)
		if err != nil {
			t.Fatalf("process %v: %v", rect, err)
		}
		for name, img := range map[string]image.Image{"enhanced": out.Enhanced, "binary": out.Binary} {
			got := img.Bounds()
			if got.Dx() != rect.Dx() || got.Dy() != rect.Dy() {
				t.Fatalf("%s for %v has size %dx%d", name, rect, got.Dx(), got.Dy())
			}
		}
	}
}

func TestProcessRejectsEmptyImage(t *testing.T) {
	p := NewPreprocessor(Options{})
	_, err := p.Process(context.Background(), image.NewGray(image.Rect(0, 0, 0, 5)))
	if !errors.Is(err, domain.ErrUnsupportedImage) {
		t.Fatalf("expected unsupported image, got %v", err)
	}
}

func TestProcessHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPreprocessor(DefaultOptions())
	if _, err := p.Process(ctx, stripes(60, 60, false)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestProcessLevelsSkewedPage(t *testing.T) {
	for _, dark := range []bool{false, true} {
		page := mustMat(t, stripes(240, 240, dark))
		skewed := rotate(page, 6)
		page.Close()

		if angle := estimateSkew(skewed); math.Abs(angle+6) > 1 {
			t.Fatalf("dark=%v: expected correction near -6, got %.2f", dark, angle)
		}
		img, err := matGray(skewed, image.Rect(0, 0, 240, 240))
		skewed.Close()
		if err != nil {
			t.Fatalf("matGray() error = %v", err)
		}

		out, err := NewPreprocessor(DefaultOptions()).Process(context.Background(), img)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if math.Abs(out.SkewAngle+6) > 1 {
			t.Fatalf("dark=%v: reported skew %.2f", dark, out.SkewAngle)
		}
		straight := mustMat(t, out.Enhanced.(*image.Gray))
		residual := estimateSkew(straight)
		straight.Close()
		if math.Abs(residual) > 1 {
			t.Fatalf("dark=%v: page still skewed by %.2f", dark, residual)
		}
	}
}

func TestEstimateSkewLevelPage(t *testing.T) {
	page := mustMat(t, stripes(200, 160, false))
	defer page.Close()
	if angle := estimateSkew(page); math.Abs(angle) > 0.5 {
		t.Fatalf("expected level page, got %.2f", angle)
	}
}

func TestEstimateSkewBlankPage(t *testing.T) {
	page := mustMat(t, uniform(50, 50, 255))
	defer page.Close()
	if angle := estimateSkew(page); angle != 0 {
		t.Fatalf("expected zero angle for blank page, got %.2f", angle)
	}
}

func TestLevelAngle(t *testing.T) {
	cases := map[float64]float64{
		0:   0,
		90:  0,
		6:   6,
		84:  -6,
		-84: 6,
		-6:  -6,
		-90: 0,
	}
	for in, want := range cases {
		if got := levelAngle(in); math.Abs(got-want) > 1e-9 {
			t.Fatalf("levelAngle(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRotateReplicatesBorder(t *testing.T) {
	src := mustMat(t, uniform(20, 20, 200))
	defer src.Close()
	out := rotate(src, 10)
	defer out.Close()
	if out.Rows() != 20 || out.Cols() != 20 {
		t.Fatalf("unexpected size %dx%d", out.Cols(), out.Rows())
	}
	for _, v := range out.ToBytes() {
		if v < 190 {
			t.Fatalf("expected replicated border, found level %d", v)
		}
	}
}

func TestDenoiseSuppressesSaltNoise(t *testing.T) {
	g := uniform(32, 32, 100)
	g.SetGray(16, 16, color.Gray{Y: 255})
	src := mustMat(t, g)
	defer src.Close()
	out := denoise(src, 10, 7, 21)
	defer out.Close()
	got, err := matGray(out, g.Rect)
	if err != nil {
		t.Fatalf("matGray() error = %v", err)
	}
	if v := got.GrayAt(16, 16).Y; v >= 200 {
		t.Fatalf("expected noise suppressed, got %d", v)
	}
}

func TestEnhanceContrastStretchesLowContrast(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(100)
			if x >= 32 {
				v = 108
			}
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
	src := mustMat(t, g)
	defer src.Close()
	out := enhanceContrast(src, 2.0, 1)
	defer out.Close()
	lo, hi := levelRange(out.ToBytes())
	if hi-lo <= 8 {
		t.Fatalf("expected contrast above input range 8, got %d", hi-lo)
	}
}

func TestBinarizeUniformIsWhite(t *testing.T) {
	src := mustMat(t, uniform(15, 15, 80))
	defer src.Close()
	out := binarize(src, 11, 2)
	defer out.Close()
	for _, v := range out.ToBytes() {
		if v != 255 {
			t.Fatalf("expected white output, got %d", v)
		}
	}
}

func TestMatGrayKeepsBounds(t *testing.T) {
	src := mustMat(t, stripes(12, 9, false))
	defer src.Close()
	bounds := image.Rect(5, 7, 17, 16)
	g, err := matGray(src, bounds)
	if err != nil {
		t.Fatalf("matGray() error = %v", err)
	}
	if g.Bounds() != bounds {
		t.Fatalf("bounds = %v, want %v", g.Bounds(), bounds)
	}
	if g.GrayAt(5, 7) != stripes(12, 9, false).GrayAt(0, 0) {
		t.Fatalf("pixel origin moved")
	}
}

func TestMedianLevel(t *testing.T) {
	if got := medianLevel([]byte{10, 200, 30}); got != 30 {
		t.Fatalf("medianLevel() = %d, want 30", got)
	}
}

func TestDecodeFormats(t *testing.T) {
	src := stripes(16, 12, false)
	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
	}
	for format, encode := range encoders {
		var buf bytes.Buffer
		if err := encode(&buf); err != nil {
			t.Fatalf("encode %s: %v", format, err)
		}
		decoded, err := Decode(buf.Bytes(), 0)
		if err != nil {
			t.Fatalf("decode %s: %v", format, err)
		}
		if decoded.Format != format || decoded.MimeType != "image/"+format {
			t.Fatalf("unexpected format %q mime %q", decoded.Format, decoded.MimeType)
		}
		if decoded.Image.Bounds().Dx() != 16 || decoded.Image.Bounds().Dy() != 12 {
			t.Fatalf("unexpected bounds %v", decoded.Image.Bounds())
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	if _, err := Decode(nil, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty upload, got %v", err)
	}
	if _, err := Decode([]byte("not an image at all"), 0); !errors.Is(err, domain.ErrUnsupportedImage) {
		t.Fatalf("expected unsupported image, got %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, stripes(20, 20, false)); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(buf.Bytes(), 100); !errors.Is(err, domain.ErrUnsupportedImage) {
		t.Fatalf("expected pixel limit rejection, got %v", err)
	}
}

// stripes draws horizontal text-like bars on a page.
func stripes(w, h int, dark bool) *image.Gray {
	bg, fg := uint8(245), uint8(20)
	if dark {
		bg, fg = fg, bg
	}
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := bg
			inMargin := x < w/8 || x >= w-w/8 || y < h/8 || y >= h-h/8
			if !inMargin && (y/4)%3 == 0 {
				v = fg
			}
			g.Pix[y*g.Stride+x] = v
		}
	}
	return g
}

func uniform(w, h int, level uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = level
	}
	return g
}

func mustMat(t *testing.T, g *image.Gray) gocv.Mat {
	t.Helper()
	m, err := grayMat(g)
	if err != nil {
		t.Fatalf("grayMat() error = %v", err)
	}
	return m
}

func levelRange(pix []byte) (int, int) {
	lo, hi := 255, 0
	for _, v := range pix {
		lo = min(lo, int(v))
		hi = max(hi, int(v))
	}
	return lo, hi
}
