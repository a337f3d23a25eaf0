package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/mangaocr/internal/ocr"
)

// fakeEngine steps through pages on demand so tests control when progress
// updates become visible to the monitor loop.
type fakeEngine struct {
	name     string
	perPage  time.Duration
	err      error
	reversed bool
	blocks   func(page int) []ocr.TextBlock

	mu    sync.Mutex
	calls int
}

func (e *fakeEngine) Name() string {
	if e.name == "" {
		return "fake"
	}
	return e.name
}

func (e *fakeEngine) Process(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	results := make([]ocr.PageResult, 0, len(pages))
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.perPage > 0 {
			time.Sleep(e.perPage)
		}
		var blocks []ocr.TextBlock
		if e.blocks != nil {
			blocks = e.blocks(i)
		}
		results = append(results, ocr.PageResult{PageIndex: i, TextBlocks: blocks, Success: true})
		if done != nil {
			done()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.reversed {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	return results, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVolumeRun_ReportsMonotonicCappedProgress(t *testing.T) {
	vol := NewVolume(discardLogger(), time.Millisecond)
	engine := &fakeEngine{perPage: 5 * time.Millisecond}
	pages := []string{"p0", "p1", "p2", "p3"}

	var mu sync.Mutex
	var reports [][2]int
	results, err := vol.Run(context.Background(), engine, pages, func(progress, currentPage int) {
		mu.Lock()
		reports = append(reports, [2]int{progress, currentPage})
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != len(pages) {
		t.Fatalf("want %d results, got %d", len(pages), len(results))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 {
		t.Fatalf("expected at least one progress report")
	}
	last := 0
	for _, r := range reports {
		if r[0] <= last {
			t.Fatalf("progress not strictly increasing: %v", reports)
		}
		if r[0] > 89 {
			t.Fatalf("progress %d exceeds the in-flight cap", r[0])
		}
		last = r[0]
	}
}

func TestVolumeRun_ReordersEngineResults(t *testing.T) {
	vol := NewVolume(discardLogger(), time.Millisecond)
	engine := &fakeEngine{reversed: true}
	results, err := vol.Run(context.Background(), engine, []string{"p0", "p1", "p2"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, r := range results {
		if r.PageIndex != i {
			t.Fatalf("results not restored to submission order: %+v", results)
		}
	}
}

func TestVolumeRun_EngineErrorFailsBatch(t *testing.T) {
	vol := NewVolume(discardLogger(), time.Millisecond)
	boom := errors.New("ocr failed")
	engine := &fakeEngine{err: boom}
	if _, err := vol.Run(context.Background(), engine, []string{"p0"}, nil); !errors.Is(err, boom) {
		t.Fatalf("want engine error, got %v", err)
	}
}

func TestVolumeRun_RejectsEmptyAndMalformedBatches(t *testing.T) {
	vol := NewVolume(discardLogger(), time.Millisecond)

	if _, err := vol.Run(context.Background(), &fakeEngine{}, nil, nil); err == nil {
		t.Fatalf("empty batch should fail")
	}

	// engine drops a page
	short := engineFunc(func(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
		return []ocr.PageResult{{PageIndex: 0}}, nil
	})
	if _, err := vol.Run(context.Background(), short, []string{"p0", "p1"}, nil); err == nil {
		t.Fatalf("missing result should fail")
	}

	// engine repeats a page
	dup := engineFunc(func(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
		return []ocr.PageResult{{PageIndex: 0}, {PageIndex: 0}}, nil
	})
	if _, err := vol.Run(context.Background(), dup, []string{"p0", "p1"}, nil); err == nil {
		t.Fatalf("duplicate index should fail")
	}
}

type engineFunc func(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error)

func (f engineFunc) Name() string { return "func" }

func (f engineFunc) Process(ctx context.Context, pages []string, done func()) ([]ocr.PageResult, error) {
	return f(ctx, pages, done)
}
