package robots

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/nao1215/a11ycrawl/internal/fetcher"
)

// Agent evaluates the robots.txt of a single crawl root.
type Agent struct {
	fetcher   fetcher.Fetcher
	userAgent string
	respect   bool
	logger    *slog.Logger

	once  sync.Once
	rules *robotstxt.RobotsData
}

// Option configures an Agent.
type Option func(*Agent)

// WithRespect enables Disallow filtering in Allowed.
func WithRespect(respect bool) Option {
	return func(a *Agent) {
		a.respect = respect
	}
}

// WithUserAgent selects the robots.txt group to evaluate.
func WithUserAgent(ua string) Option {
	return func(a *Agent) {
		a.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// NewAgent creates an agent fetching through f.
func NewAgent(f fetcher.Fetcher, opts ...Option) *Agent {
	a := &Agent{
		fetcher: f,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load fetches and parses <root>/robots.txt. Only the first call does any
// work. A missing or broken robots.txt allows everything.
func (a *Agent) Load(ctx context.Context, root *url.URL) {
	a.once.Do(func() {
		robotsURL := root.Scheme + "://" + root.Host + "/robots.txt"
		resp, err := a.fetcher.Fetch(ctx, robotsURL)
		if err != nil && (resp == nil || !errors.Is(err, fetcher.ErrHTTPStatus)) {
			a.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
			return
		}
		if resp.StatusCode < http.StatusBadRequest && strings.Contains(resp.ContentType, "html") {
			// SPA catch-all routes answer every path with the app shell.
			a.logger.Debug("robots.txt is not plain text", "url", robotsURL, "content_type", resp.ContentType)
			return
		}
		data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
		if err != nil {
			a.logger.Debug("robots.txt parse failed", "url", robotsURL, "error", err)
			return
		}
		a.rules = data
	})
}

// Sitemaps returns the Sitemap declarations of the loaded robots.txt.
func (a *Agent) Sitemaps() []string {
	if a.rules == nil {
		return nil
	}
	out := make([]string, 0, len(a.rules.Sitemaps))
	for _, s := range a.rules.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Allowed reports whether target may be crawled. It always returns true when
// respect is off or no robots.txt was loaded.
func (a *Agent) Allowed(target *url.URL) bool {
	if !a.respect || a.rules == nil || target == nil {
		return true
	}
	group := a.rules.FindGroup(a.userAgent)
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}
