package report

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/a11ycrawl/internal/model"
)

const (
	// timestampLayout is the file name timestamp, e.g. 20250102-150405.
	timestampLayout = "20060102-150405"

	// maxNameAttempts bounds the numeric suffixes tried when a report of
	// the same label was saved within the same second.
	maxNameAttempts = 100
)

// FileStore saves reports as JSON files under a directory.
type FileStore struct {
	dir      string
	markdown bool
	now      func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithMarkdown also writes a Markdown summary next to each JSON file.
func WithMarkdown(enabled bool) FileStoreOption {
	return func(s *FileStore) {
		s.markdown = enabled
	}
}

// WithFileClock overrides the time used in file names.
func WithFileClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore returns a store writing to dir. The directory is created on
// the first save.
func NewFileStore(dir string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persist writes report as <label>-<timestamp>.json and returns its path.
func (s *FileStore) Persist(_ context.Context, report *model.CrawlReport) (string, error) {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f, path, err := s.create(FileName(report.TestName, s.now()))
	if err != nil {
		return "", err
	}
	_, werr := NewJSONWriter(f, WithPrettyPrint()).Write(report)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}

	if s.markdown {
		if err := writeMarkdown(strings.TrimSuffix(path, ".json")+".md", report); err != nil {
			return path, err
		}
	}
	return path, nil
}

// create opens a new file for name, adding -2, -3... when it exists.
func (s *FileStore) create(name string) (*os.File, string, error) {
	base := strings.TrimSuffix(name, ".json")
	for i := 1; i <= maxNameAttempts; i++ {
		candidate := name
		if i > 1 {
			candidate = base + "-" + strconv.Itoa(i) + ".json"
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) //nolint:gosec // path is built from the report directory
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create report file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create report file: too many reports named %s", name)
}

func writeMarkdown(path string, report *model.CrawlReport) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path is derived from the JSON report path
	if err != nil {
		return fmt.Errorf("failed to create markdown report: %w", err)
	}
	_, werr := NewMarkdownWriter(f).Write(report)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("failed to write markdown report %s: %w", path, err)
	}
	return nil
}

// FileName returns "<sanitized-label>-<YYYYMMDD-HHMMSS>.json".
func FileName(label string, t time.Time) string {
	return SanitizeLabel(label) + "-" + t.Format(timestampLayout) + ".json"
}

// SanitizeLabel lowercases label and keeps [a-z0-9-_]. Other runs of
// characters become a single '-'. An empty result is "crawl".
func SanitizeLabel(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "crawl"
	}
	return out
}
