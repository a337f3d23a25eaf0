package ocr

import "context"

// TextBlock is one extracted OCR result unit.
type TextBlock struct {
	Text     string     `json:"text"`
	BBox     [4]float64 `json:"bbox"` // [x0, y0, x1, y1] in page pixel coordinates
	Vertical bool       `json:"vertical"`
}

// PageResult holds the extracted content of a single page.
type PageResult struct {
	PageIndex  int         `json:"page_index"`
	TextBlocks []TextBlock `json:"text_blocks"`
	Success    bool        `json:"success"`
}

// Engine is the external text-detection capability. Process runs extraction
// across the whole ordered batch as one logical unit, calling done after each
// page completes so callers can observe incremental progress. Implementations
// must return one PageResult per input page; a failure anywhere fails the
// entire batch.
type Engine interface {
	Name() string
	Process(ctx context.Context, pages []string, done func()) ([]PageResult, error)
}
