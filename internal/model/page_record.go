package model

import "time"

// Source identifies which discovery path produced a PageRecord.
type Source string

const (
	// SourceTraversal marks pages fetched by the breadth-first traversal.
	SourceTraversal Source = "traversal"

	// SourceSitemap marks pages listed in a sitemap but never fetched by traversal.
	SourceSitemap Source = "sitemap"

	// SourceInteractive marks routes surfaced by driving a real browser.
	SourceInteractive Source = "interactive"
)

// String returns the wire value of the source.
func (s Source) String() string {
	return string(s)
}

// PageRecord describes one unique page in the crawl result.
// At most one PageRecord exists per canonical URL in a merged report.
type PageRecord struct {
	// URL is the canonical (fragment-stripped) URL for traversal records,
	// or the raw discovered URL for sitemap and interactive records.
	URL string `json:"url"`

	// Title is the text of the <title> element, empty when unknown.
	Title string `json:"title"`

	// Depth is the BFS depth at which the page was first discovered.
	Depth int `json:"depth"`

	// ParentURL is the page whose links led here. Empty for the root
	// and for sitemap records.
	ParentURL string `json:"parentUrl,omitempty"`

	// StatusCode is the HTTP status observed for the final response.
	// Zero for records that were discovered without a fetch.
	StatusCode int `json:"statusCode,omitempty"`

	// ContentType is the response Content-Type header.
	ContentType string `json:"contentType,omitempty"`

	// WordCount is the number of whitespace-separated words in the body text.
	WordCount int `json:"wordCount"`

	// LastModified is the Last-Modified header, or the sitemap <lastmod>.
	LastModified string `json:"lastModified,omitempty"`

	// DiscoveredAt is when the record was created.
	DiscoveredAt time.Time `json:"discoveredAt"`

	// Source is the discovery path that produced this record.
	Source Source `json:"source"`
}

// ErrorRecord is a per-page failure captured during the crawl.
// Error records are never removed once appended.
type ErrorRecord struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorRecord builds an ErrorRecord stamped with the current time.
func NewErrorRecord(url string, err error) ErrorRecord {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ErrorRecord{URL: url, Error: msg, Timestamp: time.Now()}
}

// FrontierEntry is a URL waiting in the traversal queue.
type FrontierEntry struct {
	URL       string
	Depth     int
	ParentURL string
}
