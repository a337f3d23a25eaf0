package processor

import (
	"strings"

	"github.com/jo-hoe/mangaocr/internal/common"
	"github.com/jo-hoe/mangaocr/internal/ocr"
	"github.com/jo-hoe/mangaocr/internal/storage"
)

// ResultPage is one page entry of the persisted artifact.
type ResultPage struct {
	Index   int             `json:"index"`
	ImgPath string          `json:"img_path"`
	Blocks  []ocr.TextBlock `json:"blocks"`
}

// Result is the persisted artifact schema, one record per completed job.
// Page order and block order within a page match submission order.
type Result struct {
	Version string       `json:"version"`
	Title   string       `json:"title"`
	Pages   []ResultPage `json:"pages"`
}

// BuildResult assembles the artifact from ordered page results.
func BuildResult(title string, results []ocr.PageResult) Result {
	pages := make([]ResultPage, 0, len(results))
	for _, r := range results {
		blocks := r.TextBlocks
		if blocks == nil {
			blocks = []ocr.TextBlock{}
		}
		pages = append(pages, ResultPage{
			Index:   r.PageIndex,
			ImgPath: common.VolumeDirName + "/" + storage.PageFilename(r.PageIndex),
			Blocks:  blocks,
		})
	}
	return Result{Version: common.ResultVersion, Title: title, Pages: pages}
}

// SafeTitle converts a display title into a filename-safe base name.
func SafeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Manga"
	}
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"\x00", "_",
	)
	safe := replacer.Replace(title)
	safe = strings.Trim(safe, ". ")
	if safe == "" {
		return "Manga"
	}
	return safe
}
