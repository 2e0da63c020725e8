package crawler

import (
	"log/slog"
	"time"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/discovery"
	"github.com/nao1215/a11ycrawl/internal/explorer"
	"github.com/nao1215/a11ycrawl/internal/fetcher"
	"github.com/nao1215/a11ycrawl/internal/progress"
)

// Default limits of an Orchestrator.
const (
	DefaultMaxDepth             = 3
	DefaultMaxPages             = 100
	DefaultDelay                = 1 * time.Second
	DefaultTimeout              = 30 * time.Second
	DefaultInteractivePages     = 5
	DefaultInteractiveMaxRoutes = 10
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxDepth sets the maximum link depth.
// 0 = only the root page, 1 = the root page plus the pages it links to, etc.
func WithMaxDepth(depth int) Option {
	return func(o *Orchestrator) {
		o.maxDepth = depth
	}
}

// WithMaxPages bounds the number of URLs visited by traversal.
func WithMaxPages(n int) Option {
	return func(o *Orchestrator) {
		o.maxPages = n
	}
}

// WithDelay sets the pause between consecutive fetches.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.delay = d
	}
}

// WithTimeout sets the per-page fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithInteractive enables interactive discovery over up to pages traversed
// pages, fetching at most maxRoutes of the routes it finds.
func WithInteractive(enabled bool, pages, maxRoutes int) Option {
	return func(o *Orchestrator) {
		o.interactive = enabled
		o.interactivePages = pages
		o.interactiveMaxRoutes = maxRoutes
	}
}

// WithHeadless selects headless browsers.
func WithHeadless(headless bool) Option {
	return func(o *Orchestrator) {
		o.headless = headless
	}
}

// WithAuth enables the AUTH phase. r resolves the config of each root;
// stored live sessions are read from r.Store.
func WithAuth(r *auth.Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

// WithManagerOptions passes extra options to the auth manager.
func WithManagerOptions(opts ...auth.ManagerOption) Option {
	return func(o *Orchestrator) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// WithLauncher sets the browser used for authentication and interactive
// discovery. Without one, both degrade: browser-based auth fails and
// interactive discovery is skipped.
func WithLauncher(l browser.Launcher) Option {
	return func(o *Orchestrator) {
		o.launcher = l
	}
}

// WithFetcher replaces the anonymous fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithFetcherOptions configures the anonymous HTTP fetcher and the
// fetchers built for header-based auth.
func WithFetcherOptions(opts ...fetcher.Option) Option {
	return func(o *Orchestrator) {
		o.fetcherOpts = append(o.fetcherOpts, opts...)
	}
}

// WithRespectRobots skips links disallowed by robots.txt.
func WithRespectRobots(respect bool) Option {
	return func(o *Orchestrator) {
		o.respectRobots = respect
	}
}

// WithUserAgent sets the robots.txt group evaluated by WithRespectRobots.
func WithUserAgent(ua string) Option {
	return func(o *Orchestrator) {
		o.userAgent = ua
	}
}

// WithIgnorePatterns sets URL path patterns to skip.
// Patterns use glob syntax (e.g., "/admin/*", "*.pdf", "/logout*").
func WithIgnorePatterns(patterns []string) Option {
	return func(o *Orchestrator) {
		o.ignorePatterns = patterns
	}
}

// WithFollowPatterns restricts traversal to matching URL paths.
// Empty slice means all URLs are allowed (default behavior).
func WithFollowPatterns(patterns []string) Option {
	return func(o *Orchestrator) {
		o.followPatterns = patterns
	}
}

// WithEngine sets the link discovery engine.
func WithEngine(e *discovery.Engine) Option {
	return func(o *Orchestrator) {
		o.engine = e
	}
}

// WithExplorer sets the interactive explorer.
func WithExplorer(e *explorer.Explorer) Option {
	return func(o *Orchestrator) {
		o.explorer = e
	}
}

// WithSink sets the progress sink.
func WithSink(s progress.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithPersisters stores every finished report with each p.
func WithPersisters(p ...Persister) Option {
	return func(o *Orchestrator) {
		o.persisters = append(o.persisters, p...)
	}
}

// WithIDGenerator replaces the crawl ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}
