package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

// DefaultMaxPixels caps decoded image area so a crafted header cannot force
// a huge allocation.
const DefaultMaxPixels = 80_000_000

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
	"webp": "image/webp",
}

type Decoded = domain.DecodedImage

// Codec decodes uploads and encodes derived images for storage.
type Codec struct {
	MaxPixels int
}

func (c Codec) Decode(data []byte) (Decoded, error) { return Decode(data, c.MaxPixels) }

func (c Codec) EncodePNG(img image.Image) ([]byte, error) { return EncodePNG(img) }

// Decode detects the format from the bytes and decodes the first frame.
// Empty input is invalid; anything that is not a supported image is reported
// as unsupported.
func Decode(data []byte, maxPixels int) (Decoded, error) {
	const op = "imaging.decode"
	if len(data) == 0 {
		return Decoded{}, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("empty upload"))
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, domain.WrapError(domain.ErrUnsupportedImage, op, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Decoded{}, domain.WrapError(domain.ErrUnsupportedImage, op, fmt.Errorf("image has no pixels"))
	}
	if cfg.Width*cfg.Height > maxPixels {
		return Decoded{}, domain.WrapError(domain.ErrUnsupportedImage, op,
			fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, domain.WrapError(domain.ErrUnsupportedImage, op, err)
	}
	return Decoded{Image: img, Format: format, MimeType: mimeByFormat[format]}, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
