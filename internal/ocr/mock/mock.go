package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/jo-hoe/mangaocr/internal/config"
	"github.com/jo-hoe/mangaocr/internal/ocr"
)

// Engine simulates text detection, producing a fixed number of synthetic
// blocks per page after a configurable delay. Selected via the "mock"
// provider so the service runs without a native Tesseract installation.
type Engine struct {
	delay         time.Duration
	blocksPerPage int
}

// New creates a mock engine from its settings.
func New(settings config.MockSettings) *Engine {
	return &Engine{delay: settings.Delay, blocksPerPage: settings.BlocksPerPage}
}

func (e *Engine) Name() string { return "mock" }

// Process emits synthetic results, honoring batch ordering and the per-page
// completion callback.
func (e *Engine) Process(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
	results := make([]ocr.PageResult, 0, len(pages))
	for i := range pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
		blocks := make([]ocr.TextBlock, 0, e.blocksPerPage)
		for b := 0; b < e.blocksPerPage; b++ {
			blocks = append(blocks, ocr.TextBlock{
				Text:     fmt.Sprintf("mock text %d on page %d", b, i),
				BBox:     [4]float64{10, float64(20 * (b + 1)), 110, float64(20*(b+1) + 15)},
				Vertical: false,
			})
		}
		results = append(results, ocr.PageResult{PageIndex: i, TextBlocks: blocks, Success: true})
		if done != nil {
			done()
		}
	}
	return results, nil
}
