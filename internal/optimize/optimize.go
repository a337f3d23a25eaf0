package optimize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // register PNG decoding for uploaded pages
	"log/slog"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/jo-hoe/mangaocr/internal/config"
)

// Optimizer normalizes page images before OCR and classifies blank pages.
// It is stateless; both operations are pure filters over a file path.
type Optimizer struct {
	log            *slog.Logger
	maxHeight      int
	jpegQuality    int
	blankThreshold float64
}

// New creates an Optimizer from configuration.
func New(log *slog.Logger, cfg config.OptimizeConfig) *Optimizer {
	return &Optimizer{
		log:            log,
		maxHeight:      cfg.MaxImageHeight,
		jpegQuality:    cfg.JPEGQuality,
		blankThreshold: cfg.BlankVarianceThreshold,
	}
}

// Normalize rewrites the image at path as an RGB JPEG: transparent sources
// are flattened onto a white background, pages taller than the configured
// maximum are downscaled preserving aspect ratio, and the result is
// re-encoded at the configured quality. Optimization is best-effort; on any
// failure the file is left untouched and the error is only logged.
func (o *Optimizer) Normalize(path string) {
	if err := o.normalize(path); err != nil {
		o.log.Warn("image optimization failed, using original", "path", path, "err", err)
	}
}

func (o *Optimizer) normalize(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from our own volume layout
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	// Flatten any color model onto a white RGB canvas so alpha never reaches
	// the JPEG encoder.
	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(flat, flat.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(flat, flat.Bounds(), img, bounds.Min, xdraw.Over)

	out := flat
	if h := bounds.Dy(); o.maxHeight > 0 && h > o.maxHeight {
		newH := o.maxHeight
		newW := bounds.Dx() * newH / h
		if newW < 1 {
			newW = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, newW, newH))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), flat, flat.Bounds(), xdraw.Over, nil)
		out = scaled
		o.log.Debug("page resized", "path", path, "from_height", h, "to_height", newH)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: o.jpegQuality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// IsBlank reports whether the grayscale pixel variance of the image falls
// below the configured threshold. Errors are treated as "not blank" since
// skipping real content is worse than over-processing an empty page.
func (o *Optimizer) IsBlank(path string) bool {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from our own volume layout
	if err != nil {
		o.log.Warn("blank detection failed", "path", path, "err", err)
		return false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		o.log.Warn("blank detection failed", "path", path, "err", err)
		return false
	}
	variance := grayVariance(img)
	o.log.Debug("blank check", "path", path, "variance", variance)
	return variance < o.blankThreshold
}

// grayVariance computes the variance of 8-bit grayscale pixel values using
// a single-pass sum of squares.
func grayVariance(img image.Image) float64 {
	bounds := img.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			v := float64(g.Y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
