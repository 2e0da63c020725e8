package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so that options serialize as "1s" rather
// than as an integer count of nanoseconds.
type Duration struct {
	time.Duration
}

// DurationOf converts a time.Duration.
func DurationOf(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalJSON emits the duration in time.Duration.String form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("duration should be a string: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Options is the effective crawl configuration recorded in the report.
type Options struct {
	MaxDepth             int      `json:"maxDepth"`
	MaxPages             int      `json:"maxPages"`
	Delay                Duration `json:"delay"`
	Timeout              Duration `json:"timeout"`
	Interactive          bool     `json:"interactive"`
	InteractivePages     int      `json:"interactivePages"`
	InteractiveMaxRoutes int      `json:"interactiveMaxRoutes"`
	Headless             bool     `json:"headless"`
	UseAuth              bool     `json:"useAuth"`
	AuthType             string   `json:"authType,omitempty"`
	RespectRobots        bool     `json:"respectRobots"`
}

// AuthCompleteness states how much of the site the crawl could reach with
// credentials. It is an explicit field instead of something inferred from logs.
type AuthCompleteness string

const (
	// AuthCompletenessFull means a verified session was active for the whole crawl.
	AuthCompletenessFull AuthCompleteness = "full"

	// AuthCompletenessPartial means authentication was best-effort (SSO) or
	// at least one request fell back to anonymous access.
	AuthCompletenessPartial AuthCompleteness = "partial"

	// AuthCompletenessNone means the crawl ran anonymously.
	AuthCompletenessNone AuthCompleteness = "none"
)

// AuthSummary describes the authentication outcome of a crawl.
type AuthSummary struct {
	Type         string           `json:"type"`
	State        string           `json:"state"`
	Completeness AuthCompleteness `json:"completeness"`
}

// Summary holds the crawl counters.
type Summary struct {
	TotalRequests      int `json:"totalRequests"`
	SuccessfulRequests int `json:"successfulRequests"`
	DiscoveredPages    int `json:"discoveredPages"`
	Errors             int `json:"errors"`
	MaxDepthReached    int `json:"maxDepthReached"`

	// SkippedByRobots counts links not followed because robots.txt
	// disallows them. Skipped links are not errors.
	SkippedByRobots int `json:"skippedByRobots,omitempty"`
}

// CrawlReport is the artifact produced at the end of every crawl.
type CrawlReport struct {
	CrawlID        string        `json:"crawlId"`
	TestName       string        `json:"testName"`
	RootURL        string        `json:"rootUrl"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	Stopped        bool          `json:"stopped,omitempty"`
	Options        Options       `json:"options"`
	Summary        Summary       `json:"summary"`
	Authentication AuthSummary   `json:"authentication"`
	Pages          []PageRecord  `json:"pages"`
	Errors         []ErrorRecord `json:"errors"`

	// Artifacts are the locations the report was persisted to.
	Artifacts []string `json:"-"`
}

// NewCrawlReport creates an empty report for the given root URL.
// Pages and Errors are non-nil so that they serialize as [] rather than null.
func NewCrawlReport(crawlID, testName, rootURL string) *CrawlReport {
	return &CrawlReport{
		CrawlID:   crawlID,
		TestName:  testName,
		RootURL:   rootURL,
		StartTime: time.Now(),
		Authentication: AuthSummary{
			Type:         "none",
			State:        "none",
			Completeness: AuthCompletenessNone,
		},
		Pages:  make([]PageRecord, 0),
		Errors: make([]ErrorRecord, 0),
	}
}

// SuccessRate returns successful requests over total requests in [0,1].
func (r *CrawlReport) SuccessRate() float64 {
	if r.Summary.TotalRequests == 0 {
		return 0
	}
	return float64(r.Summary.SuccessfulRequests) / float64(r.Summary.TotalRequests)
}

// CountBySource returns how many pages came from the given source.
func (r *CrawlReport) CountBySource(src Source) int {
	n := 0
	for _, p := range r.Pages {
		if p.Source == src {
			n++
		}
	}
	return n
}

// Page returns the record for url, or nil.
func (r *CrawlReport) Page(url string) *PageRecord {
	for i := range r.Pages {
		if r.Pages[i].URL == url {
			return &r.Pages[i]
		}
	}
	return nil
}
