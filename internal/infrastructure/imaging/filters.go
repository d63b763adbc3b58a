package imaging

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// minTextPixels is the fewest foreground pixels a skew estimate is based on.
const minTextPixels = 10

func enhanceContrast(src gocv.Mat, clipLimit float64, tiles int) gocv.Mat {
	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Pt(tiles, tiles))
	defer clahe.Close()
	dst := gocv.NewMat()
	clahe.Apply(src, &dst)
	return dst
}

func denoise(src gocv.Mat, strength float32, templateWindow, searchWindow int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.FastNlMeansDenoisingWithParams(src, &dst, strength, templateWindow, searchWindow)
	return dst
}

// estimateSkew returns the counter-clockwise rotation in degrees that levels
// the text block, found from the minimum-area rectangle around foreground
// pixels. Pages with a dark background keep light pixels as foreground.
func estimateSkew(src gocv.Mat) float64 {
	typ := gocv.ThresholdBinaryInv
	if medianLevel(src.ToBytes()) < 127 {
		typ = gocv.ThresholdBinary
	}
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(src, &mask, 0, 255, typ|gocv.ThresholdOtsu)
	if gocv.CountNonZero(mask) < minTextPixels {
		return 0
	}

	points := gocv.NewMat()
	defer points.Close()
	gocv.FindNonZero(mask, &points)
	pv := gocv.NewPointVectorFromMat(points)
	defer pv.Close()

	return levelAngle(gocv.MinAreaRect(pv).Angle)
}

// levelAngle folds a rectangle angle into (-45, 45]. OpenCV releases differ
// on whether they report it in [-90, 0) or (0, 90].
func levelAngle(angle float64) float64 {
	for angle > 45 {
		angle -= 90
	}
	for angle <= -45 {
		angle += 90
	}
	return angle
}

// rotate turns src counter-clockwise by angle degrees about its center,
// keeping the size and replicating the border into uncovered corners.
func rotate(src gocv.Mat, angle float64) gocv.Mat {
	center := image.Pt(src.Cols()/2, src.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer m.Close()
	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(src.Cols(), src.Rows()),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return dst
}

func binarize(src gocv.Mat, blockSize int, c float32) gocv.Mat {
	dst := gocv.NewMat()
	gocv.AdaptiveThreshold(src, &dst, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, blockSize, c)
	return dst
}

func negligible(angle float64) bool { return math.Abs(angle) < 0.05 }
