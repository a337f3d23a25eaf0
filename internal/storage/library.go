package storage

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/mangaocr/internal/common"
)

// Library lays out per-job directories on disk:
//
//	<base>/outputs/<job>/volume/page_000.jpg      uploaded (and normalized) pages
//	<base>/outputs/<job>/<title>.mokuro           result artifact
//
// Pages are written straight into their final location so no copy is needed
// between intake and processing.
type Library struct {
	baseDir string
}

var allowedImageMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageJPG:  ".jpg",
}

// NewLibrary creates a library rooted at baseDir/outputs.
func NewLibrary(baseDir string) (*Library, error) {
	root := filepath.Join(baseDir, common.OutputsDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure outputs dir: %w", err)
	}
	return &Library{baseDir: root}, nil
}

// JobDir returns the output directory for a job.
func (l *Library) JobDir(jobID string) string {
	return filepath.Join(l.baseDir, jobID)
}

// VolumeDir returns the page directory for a job.
func (l *Library) VolumeDir(jobID string) string {
	return filepath.Join(l.JobDir(jobID), common.VolumeDirName)
}

// SavePage validates and stores one uploaded page image under the job's
// volume directory as page_%03d.jpg, preserving submission order by index.
func (l *Library) SavePage(jobID string, index int, fileHeader *multipart.FileHeader, maxBytes int64) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("no file provided")
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	// Some clients set application/octet-stream for uploads; treat it as unknown and fall back to extension.
	if mimeType == "" || strings.EqualFold(strings.TrimSpace(mimeType), common.ContentTypeBinary) {
		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		mimeType = mime.TypeByExtension(ext)
	}
	if !isAllowedImageMime(mimeType) {
		return "", fmt.Errorf("unsupported content type: %s", mimeType)
	}

	volDir := l.VolumeDir(jobID)
	if err := os.MkdirAll(volDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure volume dir: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dstPath := filepath.Join(volDir, PageFilename(index))
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create page file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	// Read one byte past the limit so truncation is detectable and the
	// oversized page is rejected rather than stored corrupt.
	limited := io.LimitReader(src, maxBytes+1)
	n, err := io.Copy(dst, limited)
	if err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if n > maxBytes {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("page exceeds upload limit of %d bytes", maxBytes)
	}
	return dstPath, nil
}

// WriteResult persists the finalized artifact under the job directory and
// returns its absolute path.
func (l *Library) WriteResult(jobID, filename string, data []byte) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	dir := l.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure job dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

// RemoveJob deletes every artifact belonging to the job.
func (l *Library) RemoveJob(jobID string) error {
	return os.RemoveAll(l.JobDir(jobID))
}

// PageFilename returns the canonical page file name for a 0-based index.
func PageFilename(index int) string {
	return fmt.Sprintf("page_%03d.jpg", index)
}

// sanitizeFilename rejects names that would escape the job directory.
func sanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.Contains(cleaned, "/") {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	return cleaned, nil
}

func isAllowedImageMime(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	_, ok := allowedImageMimes[mt]
	return ok
}
