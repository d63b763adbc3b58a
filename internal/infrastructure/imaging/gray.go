package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// toGray converts img to an 8-bit grayscale image anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// grayMat copies g into a single-channel OpenCV matrix. The caller closes it.
func grayMat(g *image.Gray) (gocv.Mat, error) {
	if g.Stride != g.Rect.Dx() {
		g = toGray(g)
	}
	m, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("gray to mat: %w", err)
	}
	return m, nil
}

// matGray copies a single-channel matrix back into a Go image placed at
// bounds.Min.
func matGray(m gocv.Mat, bounds image.Rectangle) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		g = toGray(img)
	}
	g.Rect = image.Rectangle{Min: bounds.Min, Max: bounds.Min.Add(g.Rect.Size())}
	return g, nil
}

func medianLevel(pix []byte) uint8 {
	var hist [256]int
	for _, v := range pix {
		hist[v]++
	}
	half := (len(pix) + 1) / 2
	acc := 0
	for level, n := range hist {
		acc += n
		if acc >= half {
			return uint8(level)
		}
	}
	return 255
}
