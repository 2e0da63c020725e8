package progress

import "time"

// Phase is a stage of a crawl.
type Phase string

// Crawl phases, in execution order.
const (
	PhaseSitemap     Phase = "sitemap"
	PhaseAuth        Phase = "auth"
	PhaseTraversal   Phase = "traversal"
	PhaseInteractive Phase = "interactive"
	PhaseMerge       Phase = "merge"
)

// Kind is the type of an event.
type Kind string

// Event kinds.
const (
	KindPhaseStart     Kind = "phase_start"
	KindPhaseEnd       Kind = "phase_end"
	KindFetchStart     Kind = "fetch_start"
	KindFetchOK        Kind = "fetch_ok"
	KindFetchError     Kind = "fetch_error"
	KindPageDiscovered Kind = "page_discovered"
	KindAuthState      Kind = "auth_state"
	KindStopped        Kind = "stopped"
)

// Counters is a snapshot of the crawl counters at the time of an event.
type Counters struct {
	Requests   int `json:"requests"`
	Successes  int `json:"successes"`
	Visited    int `json:"visited"`
	Queued     int `json:"queued"`
	Discovered int `json:"discovered"`
	Errors     int `json:"errors"`
}

// Event is one progress notification.
type Event struct {
	Time    time.Time `json:"time"`
	CrawlID string    `json:"crawlId"`
	Phase   Phase     `json:"phase"`
	Kind    Kind      `json:"kind"`
	URL     string    `json:"url,omitempty"`
	Depth   int       `json:"depth,omitempty"`

	// Source is set on page_discovered events.
	Source string `json:"source,omitempty"`

	// Elapsed is set on phase_end events.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	Message  string   `json:"message,omitempty"`
	Counters Counters `json:"counters"`
}

// Sink receives events.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards events.
var Nop Sink = SinkFunc(func(Event) {})
