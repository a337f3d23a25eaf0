package optimize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jo-hoe/mangaocr/internal/config"
)

func testOptimizer() *Optimizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, config.OptimizeConfig{
		MaxImageHeight:         100,
		JPEGQuality:            85,
		BlankVarianceThreshold: 100,
	})
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

// checkerboard yields maximal pixel variance so blank detection never fires.
func checkerboard(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestNormalize_DownscalesTallPages(t *testing.T) {
	opt := testOptimizer()
	path := filepath.Join(t.TempDir(), "page_000.jpg")
	writePNG(t, path, checkerboard(80, 400))

	opt.Normalize(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read optimized: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode optimized: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("optimized format = %q, want jpeg", format)
	}
	if cfg.Height != 100 {
		t.Fatalf("height = %d, want 100", cfg.Height)
	}
	if cfg.Width != 20 {
		t.Fatalf("width = %d, want aspect-preserved 20", cfg.Width)
	}
}

func TestNormalize_KeepsSmallPagesAtSize(t *testing.T) {
	opt := testOptimizer()
	path := filepath.Join(t.TempDir(), "page_000.jpg")
	writePNG(t, path, checkerboard(60, 80))

	opt.Normalize(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read optimized: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode optimized: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("optimized format = %q, want jpeg", format)
	}
	if cfg.Width != 60 || cfg.Height != 80 {
		t.Fatalf("dimensions changed: %dx%d", cfg.Width, cfg.Height)
	}
}

func TestNormalize_FlattensTransparencyOntoWhite(t *testing.T) {
	opt := testOptimizer()
	path := filepath.Join(t.TempDir(), "page_000.jpg")
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	// fully transparent source
	writePNG(t, path, img)

	opt.Normalize(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read optimized: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode optimized: %v", err)
	}
	g := color.GrayModel.Convert(decoded.At(5, 5)).(color.Gray)
	if g.Y < 240 {
		t.Fatalf("transparent pixels should flatten to white, got gray %d", g.Y)
	}
}

func TestNormalize_LeavesUnreadableFileUntouched(t *testing.T) {
	opt := testOptimizer()
	path := filepath.Join(t.TempDir(), "page_000.jpg")
	original := []byte("not an image")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	opt.Normalize(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Fatalf("undecodable file should be left untouched")
	}
}

func TestIsBlank(t *testing.T) {
	opt := testOptimizer()
	dir := t.TempDir()

	blank := filepath.Join(dir, "blank.png")
	uniform := image.NewGray(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			uniform.SetGray(x, y, color.Gray{Y: 250})
		}
	}
	writePNG(t, blank, uniform)
	if !opt.IsBlank(blank) {
		t.Fatalf("uniform page should be blank")
	}

	content := filepath.Join(dir, "content.png")
	writePNG(t, content, checkerboard(50, 50))
	if opt.IsBlank(content) {
		t.Fatalf("high-variance page should not be blank")
	}

	// missing and undecodable files count as content
	if opt.IsBlank(filepath.Join(dir, "missing.png")) {
		t.Fatalf("missing file should not be blank")
	}
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}
	if opt.IsBlank(bad) {
		t.Fatalf("undecodable file should not be blank")
	}
}
