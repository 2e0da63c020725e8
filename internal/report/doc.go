// Package report renders crawl reports.
//
// This package contains writers for different output formats:
//   - JSONWriter: the report artifact consumed by audit tooling
//   - MarkdownWriter: a shareable crawl summary
//   - SimpleWriter: the terminal summary printed after a crawl
//
// FileStore persists a finished report as a timestamped JSON file, with an
// optional Markdown sibling, and is used by the crawler as a Persister.
package report
