package report

import (
	"io"

	"github.com/nao1215/a11ycrawl/internal/model"
)

// Writer renders a crawl report. JSONWriter, MarkdownWriter and
// SimpleWriter implement it; the CLI picks one per output target.
type Writer interface {
	// Write renders report and returns the number of bytes written.
	Write(report *model.CrawlReport) (int, error)
}

// baseWriter holds the destination shared by every writer.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
