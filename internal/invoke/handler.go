package invoke

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for payload validation
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/mangaocr/internal/common"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/optimize"
	"github.com/jo-hoe/mangaocr/internal/processor"
	"github.com/jo-hoe/mangaocr/internal/storage"
)

// Event is the envelope of one synchronous invocation.
type Event struct {
	Input Input `json:"input"`
}

// Input describes the requested operation. Image payloads are base64
// encoded, optionally with a data-URL prefix.
type Input struct {
	Type      string   `json:"type"`
	Image     string   `json:"image,omitempty"`
	PageIndex int      `json:"page_index,omitempty"`
	Images    []string `json:"images,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// Response is the loose payload contract of the invocation face: success
// fields or {error, code}, never both.
type Response map[string]any

// Handler is the synchronous request/response face. It runs the full
// pipeline inline and returns results without creating job records; it is
// meant for short, bounded workloads where polling is not worth the latency
// win.
type Handler struct {
	Log       *slog.Logger
	Optimizer *optimize.Optimizer
	Cache     *ocr.Cache
	Volume    *processor.Volume
}

// Handle dispatches one event. Errors never escape: every failure is
// returned as a structured {error, code} payload.
func (h *Handler) Handle(ctx context.Context, event Event) Response {
	switch event.Input.Type {
	case common.InvokeTypeHealth:
		return h.health()
	case common.InvokeTypeProcessSingle:
		return h.processSingle(ctx, event.Input)
	case common.InvokeTypeProcessBatch:
		return h.processBatch(ctx, event.Input)
	default:
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("unknown request type: %s", event.Input.Type))
	}
}

func (h *Handler) health() Response {
	stats := h.Cache.Stats()
	status := "healthy"
	engine := stats.Engine
	if !stats.Loaded {
		engine = "not_loaded"
	}
	return Response{
		"status": status,
		"engine": engine,
	}
}

func (h *Handler) processSingle(ctx context.Context, in Input) Response {
	if in.Image == "" {
		return errorResponse(http.StatusBadRequest, "no image data provided")
	}
	data, err := decodeImagePayload(in.Image)
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error())
	}

	results, errResp := h.run(ctx, [][]byte{data})
	if errResp != nil {
		return errResp
	}
	page := results[0]
	page.PageIndex = in.PageIndex
	return Response{
		"status": "success",
		"result": page,
	}
}

func (h *Handler) processBatch(ctx context.Context, in Input) Response {
	if len(in.Images) == 0 {
		return errorResponse(http.StatusBadRequest, "no images provided")
	}
	title := in.Title
	if title == "" {
		title = "Manga"
	}
	payloads := make([][]byte, 0, len(in.Images))
	for i, img := range in.Images {
		data, err := decodeImagePayload(img)
		if err != nil {
			return errorResponse(http.StatusBadRequest, fmt.Sprintf("image %d: %s", i, err.Error()))
		}
		payloads = append(payloads, data)
	}

	results, errResp := h.run(ctx, payloads)
	if errResp != nil {
		return errResp
	}
	return Response{
		"status": "success",
		"title":  title,
		"pages":  results,
	}
}

// run writes the decoded pages to a temporary volume, normalizes them, and
// executes the OCR batch. Payloads are validated before the engine is
// touched.
func (h *Handler) run(ctx context.Context, payloads [][]byte) ([]ocr.PageResult, Response) {
	dir, err := os.MkdirTemp("", "mangaocr-invoke-*")
	if err != nil {
		return nil, errorResponse(http.StatusInternalServerError, "create temp dir: "+err.Error())
	}
	defer func() { _ = os.RemoveAll(dir) }()

	pages := make([]string, 0, len(payloads))
	for i, data := range payloads {
		path := filepath.Join(dir, storage.PageFilename(i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, errorResponse(http.StatusInternalServerError, "write page: "+err.Error())
		}
		h.Optimizer.Normalize(path)
		pages = append(pages, path)
	}

	engine, err := h.Cache.Acquire(ctx)
	if err != nil {
		h.Log.Error("engine acquisition failed", "err", err)
		return nil, errorDetailResponse(http.StatusInternalServerError, err)
	}
	results, err := h.Volume.Run(ctx, engine, pages, nil)
	if err != nil {
		h.Log.Error("batch processing failed", "err", err)
		return nil, errorDetailResponse(http.StatusInternalServerError, err)
	}
	return results, nil
}

// decodeImagePayload decodes a base64 image (data-URL prefix tolerated) and
// verifies it contains a decodable image before any engine work happens.
func decodeImagePayload(payload string) ([]byte, error) {
	if idx := strings.Index(payload, ","); idx >= 0 && strings.Contains(payload[:idx], ";base64") {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("payload is not a decodable image")
	}
	return data, nil
}

func errorResponse(code int, msg string) Response {
	return Response{"error": msg, "code": code}
}

// errorDetailResponse carries the expanded cause chain alongside the short
// message, mirroring the diagnostic detail stored on failed jobs.
func errorDetailResponse(code int, err error) Response {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return Response{"error": err.Error(), "traceback": strings.Join(lines, "\n"), "code": code}
}
