package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nao1215/a11ycrawl/internal/model"
)

// SimpleWriter outputs the human-readable crawl summary. Styling adapts to
// the output: plain text when it is not a terminal.
type SimpleWriter struct {
	baseWriter

	// verbose lists every failed URL.
	verbose bool

	title   lipgloss.Style
	warn    lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	divider string
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	r := lipgloss.NewRenderer(output)
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		title:      r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		warn:       r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		key:        r.NewStyle().Foreground(lipgloss.Color("8")),
		value:      r.NewStyle().Bold(true),
	}
	w.divider = r.NewStyle().Foreground(lipgloss.Color("8")).Render(strings.Repeat("─", 60))
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary of report.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writeErrors(&sb, report)
	w.writeArtifacts(&sb, report)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	if report.Stopped {
		sb.WriteString(w.warn.Render("Crawl stopped (partial results): " + report.TestName))
	} else {
		sb.WriteString(w.title.Render("Crawl complete: " + report.TestName))
	}
	sb.WriteString("\n")
	sb.WriteString(w.divider)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.CrawlReport) {
	s := report.Summary
	w.line(sb, "Root URL", report.RootURL)
	w.line(sb, "Pages discovered", fmt.Sprintf("%d (%s)", s.DiscoveredPages, sourceBreakdown(report)))
	w.line(sb, "Max depth reached", strconv.Itoa(s.MaxDepthReached))
	w.line(sb, "Errors", strconv.Itoa(s.Errors))
	w.line(sb, "Success rate", fmt.Sprintf("%s (%d/%d)", formatRate(report.SuccessRate()), s.SuccessfulRequests, s.TotalRequests))
	if s.SkippedByRobots > 0 {
		w.line(sb, "Skipped by robots", strconv.Itoa(s.SkippedByRobots))
	}
	w.line(sb, "Authentication", authText(report))
	w.line(sb, "Duration", crawlDuration(report))
}

func (w *SimpleWriter) writeErrors(sb *strings.Builder, report *model.CrawlReport) {
	if !w.verbose || len(report.Errors) == 0 {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(w.warn.Render("Failed URLs"))
	sb.WriteString("\n")
	for _, e := range report.Errors {
		fmt.Fprintf(sb, "  ✗ %s: %s\n", e.URL, e.Error)
	}
}

func (w *SimpleWriter) writeArtifacts(sb *strings.Builder, report *model.CrawlReport) {
	for _, a := range report.Artifacts {
		w.line(sb, "Saved to", a)
	}
	sb.WriteString(w.divider)
	sb.WriteString("\n")
}

func (w *SimpleWriter) line(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "  %s %s\n", w.key.Render(fmt.Sprintf("%-18s", key)), w.value.Render(value))
}

// sourceBreakdown renders "traversal 3, sitemap 1, interactive 0".
func sourceBreakdown(report *model.CrawlReport) string {
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, fmt.Sprintf("%s %d", src, report.CountBySource(src)))
	}
	return strings.Join(parts, ", ")
}

func crawlDuration(report *model.CrawlReport) string {
	if report.EndTime.IsZero() || report.EndTime.Before(report.StartTime) {
		return "-"
	}
	return report.EndTime.Sub(report.StartTime).Round(time.Millisecond).String()
}
