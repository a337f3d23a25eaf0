package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/jo-hoe/mangaocr/internal/ocr"
)

// Engine implements ocr.Engine using the gosseract client as the text
// detection provider. One client is created per page; a mutex serializes
// Process calls so concurrent jobs never run OCR compute simultaneously on
// the shared engine.
type Engine struct {
	mu            sync.Mutex
	languages     []string
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine with the given language hints and
// verifies that the native library is usable by opening a probe client.
func New(languages []string) (*Engine, error) {
	e := &Engine{
		languages:     append([]string(nil), languages...),
		clientFactory: gosseract.NewClient,
	}
	probe := e.clientFactory()
	defer probe.Close()
	if len(e.languages) > 0 {
		if err := probe.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("tesseract language setup: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) Name() string { return "tesseract" }

// Process runs recognition over the ordered batch, calling done after each
// page. Any page failure fails the whole batch.
func (e *Engine) Process(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]ocr.PageResult, 0, len(pages))
	for i, path := range pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		blocks, err := e.recognizePage(path)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		results = append(results, ocr.PageResult{PageIndex: i, TextBlocks: blocks, Success: true})
		if done != nil {
			done()
		}
	}
	return results, nil
}

func (e *Engine) recognizePage(path string) ([]ocr.TextBlock, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImage(path); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		return nil, fmt.Errorf("bounding boxes: %w", err)
	}
	blocks := make([]ocr.TextBlock, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		bbox := [4]float64{
			float64(b.Box.Min.X),
			float64(b.Box.Min.Y),
			float64(b.Box.Max.X),
			float64(b.Box.Max.Y),
		}
		blocks = append(blocks, ocr.TextBlock{
			Text:     text,
			BBox:     bbox,
			Vertical: isVertical(b.Box.Dx(), b.Box.Dy()),
		})
	}
	return blocks, nil
}

// isVertical flags columnar text. Manga dialogue runs top-to-bottom, which
// shows up as blocks substantially taller than wide.
func isVertical(w, h int) bool {
	return w > 0 && h > 2*w
}
