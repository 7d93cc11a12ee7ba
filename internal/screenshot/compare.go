// Package screenshot scores captured frames against reference images
// and renders visual diffs for failed comparisons.
package screenshot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the minimum similarity score treated as a pass
// when a scenario does not set its own.
const DefaultThreshold = 0.95

// diffChannelDelta is the per-channel difference beyond which a pixel
// counts as changed in the rendered diff.
const diffChannelDelta = 30

// windowSize is the block edge used for the similarity computation.
const windowSize = 8

// Stabilization constants for the similarity formula, using the usual
// K1=0.01, K2=0.03 against an 8-bit dynamic range.
var (
	c1 = math.Pow(0.01*255, 2)
	c2 = math.Pow(0.03*255, 2)
)

// Comparator scores screenshots by structural similarity.
type Comparator struct {
	log *logrus.Logger
}

// NewComparator creates a comparator.
func NewComparator(log *logrus.Logger) *Comparator {
	return &Comparator{log: log}
}

// Compare scores actual against reference and reports whether the
// score meets threshold. When the two images differ in size the
// reference is resized to the actual's dimensions first.
func (c *Comparator) Compare(actualPath, referencePath string, threshold float64) (bool, float64, error) {
	actual, err := loadImage(actualPath)
	if err != nil {
		return false, 0, err
	}
	reference, err := loadImage(referencePath)
	if err != nil {
		return false, 0, err
	}
	reference = matchSize(reference, actual)

	score := similarity(grayscale(actual), grayscale(reference), actual.Bounds().Dx(), actual.Bounds().Dy())
	passed := score >= threshold
	c.log.WithFields(logrus.Fields{
		"score":     fmt.Sprintf("%.4f", score),
		"threshold": threshold,
		"passed":    passed,
	}).Debug("compared screenshots")
	return passed, score, nil
}

// RenderDiff writes a copy of actual with every changed pixel painted
// red. A pixel counts as changed when any channel differs from the
// reference by more than diffChannelDelta.
func (c *Comparator) RenderDiff(actualPath, referencePath, outputPath string) error {
	actual, err := loadImage(actualPath)
	if err != nil {
		return err
	}
	reference, err := loadImage(referencePath)
	if err != nil {
		return err
	}
	reference = matchSize(reference, actual)

	bounds := actual.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, actual, bounds.Min, draw.Src)

	red := color.RGBA{R: 255, A: 255}
	refRGBA := toRGBA(reference)
	actRGBA := toRGBA(actual)
	changed := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := actRGBA.RGBAAt(x, y)
			r := refRGBA.RGBAAt(x, y)
			if absDiff(a.R, r.R) > diffChannelDelta ||
				absDiff(a.G, r.G) > diffChannelDelta ||
				absDiff(a.B, r.B) > diffChannelDelta {
				out.SetRGBA(x, y, red)
				changed++
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create diff directory: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create diff image: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, out); err != nil {
		return fmt.Errorf("encode diff image: %w", err)
	}

	c.log.WithFields(logrus.Fields{"path": outputPath, "pixels": changed}).Info("diff image written")
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// matchSize resizes img to target's dimensions when they differ.
func matchSize(img, target image.Image) image.Image {
	tb := target.Bounds()
	if img.Bounds().Dx() == tb.Dx() && img.Bounds().Dy() == tb.Dy() {
		return img
	}
	return resize.Resize(uint(tb.Dx()), uint(tb.Dy()), img, resize.Bilinear)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

func absDiff(a, b uint8) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// grayscale flattens an image to per-pixel luminance values.
func grayscale(img image.Image) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float64, w*h)
	rgba := toRGBA(img)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := rgba.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			out[y*w+x] = 0.299*float64(px.R) + 0.587*float64(px.G) + 0.114*float64(px.B)
		}
	}
	return out
}

// similarity computes the mean structural similarity over non
// overlapping windows. Images smaller than a window are scored as a
// single window.
func similarity(a, b []float64, w, h int) float64 {
	step := windowSize
	if w < step || h < step {
		return windowSimilarity(a, b, w, h, 0, 0, w, h)
	}

	var total float64
	var count int
	for y := 0; y+step <= h; y += step {
		for x := 0; x+step <= w; x += step {
			total += windowSimilarity(a, b, w, h, x, y, step, step)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func windowSimilarity(a, b []float64, w, h, x0, y0, ww, wh int) float64 {
	n := float64(ww * wh)

	var sumA, sumB float64
	for y := y0; y < y0+wh; y++ {
		for x := x0; x < x0+ww; x++ {
			sumA += a[y*w+x]
			sumB += b[y*w+x]
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := y0; y < y0+wh; y++ {
		for x := x0; x < x0+ww; x++ {
			da := a[y*w+x] - muA
			db := b[y*w+x] - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n

	return ((2*muA*muB + c1) * (2*cov + c2)) /
		((muA*muA + muB*muB + c1) * (varA + varB + c2))
}
