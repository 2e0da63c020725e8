package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/a11ycrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter

	// maxPages bounds the rows of the pages table. Zero means no limit.
	maxPages int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMaxPageRows limits the pages table to n rows.
func WithMaxPageRows(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.maxPages = n
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writePages(md, report)
	w.writeErrors(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with crawl information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Crawl Report: " + report.TestName)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Root URL", "`" + report.RootURL + "`"},
			{"Crawl ID", "`" + report.CrawlID + "`"},
			{"Started", report.StartTime.Format("2006-01-02 15:04:05 MST")},
			{"Duration", crawlDuration(report)},
			{"Authentication", authText(report)},
			{"Status", w.getStatusText(report)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) getStatusText(report *model.CrawlReport) string {
	if report.Stopped {
		return "⚠️ Stopped (partial results)"
	}
	return "✅ Complete"
}

// writeSummary writes the counters, the source distribution and an alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Summary")
	md.PlainText("")

	s := report.Summary
	rows := [][]string{
		{"Total Requests", strconv.Itoa(s.TotalRequests)},
		{"Successful Requests", strconv.Itoa(s.SuccessfulRequests)},
		{"Success Rate", formatRate(report.SuccessRate())},
		{"Discovered Pages", strconv.Itoa(s.DiscoveredPages)},
		{"Max Depth Reached", strconv.Itoa(s.MaxDepthReached)},
		{"Errors", strconv.Itoa(s.Errors)},
	}
	if s.SkippedByRobots > 0 {
		rows = append(rows, []string{"Skipped by robots.txt", strconv.Itoa(s.SkippedByRobots)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(report.Pages) > 0 {
		w.writePieChart(md, report)
	}
	w.writeAlert(md, report)
}

// writePieChart writes a mermaid pie chart of pages by discovery source.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.CrawlReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Pages by Source"),
		piechart.WithShowData(true),
	)
	for _, src := range sources {
		if n := report.CountBySource(src); n > 0 {
			chart.LabelAndIntValue(sourceLabel(src), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes one alert for the most important caveat of the crawl.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.CrawlReport) {
	switch {
	case report.Options.UseAuth && report.Authentication.Completeness == model.AuthCompletenessNone:
		md.Cautionf("Authentication was requested but the crawl ran anonymously. Protected pages are missing.")
	case report.Stopped:
		md.Warningf("The crawl was stopped before the frontier was exhausted. Results are partial.")
	case report.Authentication.Completeness == model.AuthCompletenessPartial:
		md.Importantf("Authentication was partial. Some pages were fetched anonymously.")
	case report.Summary.Errors > 0:
		md.Note(fmt.Sprintf("%d page(s) could not be fetched. See the errors below.", report.Summary.Errors))
	default:
		md.Tip("Every visited page was fetched successfully.")
	}
	md.PlainText("")
}

// writePages writes the discovered pages table.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Pages")
	md.PlainText("")

	if len(report.Pages) == 0 {
		md.PlainText("No pages discovered.")
		md.PlainText("")
		return
	}

	pages := report.Pages
	if w.maxPages > 0 && len(pages) > w.maxPages {
		pages = pages[:w.maxPages]
	}
	rows := make([][]string, len(pages))
	for i, p := range pages {
		status := "-"
		if p.StatusCode != 0 {
			status = strconv.Itoa(p.StatusCode)
		}
		title := p.Title
		if title == "" {
			title = "-"
		}
		rows[i] = []string{
			cell(p.URL),
			sourceLabel(p.Source),
			strconv.Itoa(p.Depth),
			status,
			cell(truncateString(title, 60)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Source", "Depth", "Status", "Title"},
		Rows:   rows,
	})
	md.PlainText("")

	if hidden := len(report.Pages) - len(pages); hidden > 0 {
		md.PlainTextf("*%d more page(s) are listed in the JSON report.*", hidden)
		md.PlainText("")
	}
}

// writeErrors writes the failed fetches.
func (w *MarkdownWriter) writeErrors(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Errors")
	md.PlainText("")

	if len(report.Errors) == 0 {
		md.PlainText("No errors.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Errors))
	for i, e := range report.Errors {
		rows[i] = []string{cell(e.URL), cell(truncateString(e.Error, 80))}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [a11ycrawl](https://github.com/nao1215/a11ycrawl)*")
}

var sources = []model.Source{model.SourceTraversal, model.SourceSitemap, model.SourceInteractive}

var titleCaser = cases.Title(language.English)

// sourceLabel returns a display name such as "Traversal".
func sourceLabel(src model.Source) string {
	return titleCaser.String(string(src))
}

func authText(report *model.CrawlReport) string {
	a := report.Authentication
	if a.Type == "" || a.Type == "none" {
		return "none"
	}
	return fmt.Sprintf("%s (%s)", a.Type, a.Completeness)
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate*100, 'f', 1, 64) + "%"
}

// cell escapes table separators.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
